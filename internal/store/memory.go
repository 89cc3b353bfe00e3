package store

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"asisaid.cn/coda/internal/common/errors"
)

// MemoryStore keeps documents in an in-process B-tree ordered by insertion
// sequence. Contents are lost on Close.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   *btree.Map[uint64, Document]
	seq    uint64
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: btree.NewMap[uint64, Document](0),
	}
}

// Find returns every matching document in insertion order.
func (s *MemoryStore) Find(ctx context.Context, q Query) ([]Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrConnection
	}

	var out []Document
	s.docs.Scan(func(_ uint64, doc Document) bool {
		if m.Matches(doc) {
			out = append(out, doc.Clone())
		}
		return true
	})
	return out, nil
}

// FindOne returns the first matching document.
func (s *MemoryStore) FindOne(ctx context.Context, q Query) (Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrConnection
	}

	_, doc, ok := s.firstLocked(m)
	if !ok {
		return nil, errors.ErrNotFound
	}
	return doc.Clone(), nil
}

// firstLocked scans for the first match. s.mu must be held.
func (s *MemoryStore) firstLocked(m *Matcher) (uint64, Document, bool) {
	var (
		key   uint64
		found Document
	)
	s.docs.Scan(func(k uint64, doc Document) bool {
		if m.Matches(doc) {
			key, found = k, doc
			return false
		}
		return true
	})
	return key, found, found != nil
}

// Insert adds a document.
func (s *MemoryStore) Insert(ctx context.Context, doc Document) error {
	normalized, err := normalizeDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrConnection
	}

	s.seq++
	s.docs.Set(s.seq, normalized)
	return nil
}

// Update replaces the first matching document, keeping its position.
func (s *MemoryStore) Update(ctx context.Context, q Query, doc Document) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}
	normalized, err := normalizeDocument(doc)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.ErrConnection
	}

	key, _, ok := s.firstLocked(m)
	if !ok {
		return 0, nil
	}
	s.docs.Set(key, normalized)
	return 1, nil
}

// DeleteMany removes every matching document.
func (s *MemoryStore) DeleteMany(ctx context.Context, q Query) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.ErrConnection
	}

	var keys []uint64
	s.docs.Scan(func(k uint64, doc Document) bool {
		if m.Matches(doc) {
			keys = append(keys, k)
		}
		return true
	})
	for _, k := range keys {
		s.docs.Delete(k)
	}
	return int64(len(keys)), nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrConnection
	}
	return nil
}

// Close drops all documents.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docs = btree.NewMap[uint64, Document](0)
	return nil
}
