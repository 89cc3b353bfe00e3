package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/logger"
)

// prefixDoc namespaces document records: docs:<uuidv7> -> JSON document.
// Version 7 UUIDs sort by creation time, so key order is insertion order.
const prefixDoc = "docs:"

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.L().Debug("BadgerDB opened")

	return &BadgerStore{db: db}, nil
}

// scan walks documents in key order until fn returns false.
func (s *BadgerStore) scan(txn *badger.Txn, fn func(key []byte, doc Document) (bool, error)) error {
	prefix := []byte(prefixDoc)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var doc Document
		err := item.Value(func(val []byte) error {
			var err error
			doc, err = decodeDocument(val)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
		}
		more, err := fn(item.KeyCopy(nil), doc)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Find returns every matching document in insertion order.
func (s *BadgerStore) Find(ctx context.Context, q Query) ([]Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	var out []Document
	err = s.db.View(func(txn *badger.Txn) error {
		return s.scan(txn, func(_ []byte, doc Document) (bool, error) {
			if m.Matches(doc) {
				out = append(out, doc)
			}
			return ctx.Err() == nil, ctx.Err()
		})
	})
	if err != nil {
		return nil, errors.Wrap("BadgerStore.Find", err)
	}
	return out, nil
}

// FindOne returns the first matching document.
func (s *BadgerStore) FindOne(ctx context.Context, q Query) (Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	var found Document
	err = s.db.View(func(txn *badger.Txn) error {
		return s.scan(txn, func(_ []byte, doc Document) (bool, error) {
			if m.Matches(doc) {
				found = doc
				return false, nil
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, errors.Wrap("BadgerStore.FindOne", err)
	}
	if found == nil {
		return nil, errors.ErrNotFound
	}
	return found, nil
}

// Insert adds a document under a fresh key.
func (s *BadgerStore) Insert(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.E("BadgerStore.Insert", errors.ErrInvalidMetadata, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate document id: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixDoc+id.String()), data)
	})
}

// Update replaces the first matching document in place.
func (s *BadgerStore) Update(ctx context.Context, q Query, doc Document) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.E("BadgerStore.Update", errors.ErrInvalidMetadata, err)
	}

	var updated int64
	err = s.db.Update(func(txn *badger.Txn) error {
		var key []byte
		err := s.scan(txn, func(k []byte, existing Document) (bool, error) {
			if m.Matches(existing) {
				key = k
				return false, nil
			}
			return true, nil
		})
		if err != nil || key == nil {
			return err
		}
		updated = 1
		return txn.Set(key, data)
	})
	if err != nil {
		return 0, errors.Wrap("BadgerStore.Update", err)
	}
	return updated, nil
}

// DeleteMany removes every matching document in one transaction.
func (s *BadgerStore) DeleteMany(ctx context.Context, q Query) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}

	var deleted int64
	err = s.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		err := s.scan(txn, func(k []byte, doc Document) (bool, error) {
			if m.Matches(doc) {
				keys = append(keys, k)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, errors.Wrap("BadgerStore.DeleteMany", err)
	}
	return deleted, nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.ErrConnection
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
