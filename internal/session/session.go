// Package session synchronizes tag entities with the document store.
//
// A Session owns one lazily opened store connection. Every stored document
// carries a string "path" field plus the file's metadata; Find rehydrates
// documents into Files, Add upserts Files by path and Delete removes them.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"asisaid.cn/coda/internal/common/config"
	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/logger"
	"asisaid.cn/coda/internal/store"
	"asisaid.cn/coda/internal/tags"
)

// Opener creates the underlying store.
type Opener func(ctx context.Context, cfg config.StoreConfig) (store.Store, error)

// AddResult reports what Add did for one member.
type AddResult struct {
	Path     string `json:"path"`
	Inserted bool   `json:"inserted"`
	Updated  int64  `json:"updated"`
}

// Session is a handle on the document store.
type Session struct {
	cfg    config.StoreConfig
	opener Opener
	log    *zap.Logger

	once    sync.Once
	store   store.Store
	openErr error
}

// New creates a session for cfg. The store is not contacted until first use.
func New(cfg config.StoreConfig) *Session {
	return NewWithOpener(cfg, store.Open)
}

// NewWithOpener creates a session that opens its store through opener.
func NewWithOpener(cfg config.StoreConfig, opener Opener) *Session {
	return &Session{
		cfg:    cfg,
		opener: opener,
		log:    logger.WithComponent("session"),
	}
}

// NewWithStore wraps an already open store.
func NewWithStore(cfg config.StoreConfig, s store.Store) *Session {
	return NewWithOpener(cfg, func(context.Context, config.StoreConfig) (store.Store, error) {
		return s, nil
	})
}

// conn opens the store once. A failed open is remembered and returned on
// every later call.
func (s *Session) conn(ctx context.Context) (store.Store, error) {
	s.once.Do(func() {
		st, err := s.opener(ctx, s.cfg)
		if err != nil {
			s.openErr = errors.E("session.open", errors.ErrConnection, err, s.cfg.Backend)
			s.log.Error("Failed to open store",
				zap.String("backend", s.cfg.Backend),
				zap.Error(err))
			return
		}
		s.store = st
		s.log.Debug("Store opened", zap.String("backend", s.cfg.Backend), zap.String("dbname", s.cfg.DBName))
	})
	return s.store, s.openErr
}

// Find returns the files whose documents match q, in store order. When
// nothing matches it returns (nil, nil).
func (s *Session) Find(ctx context.Context, q store.Query) (*tags.Collection, error) {
	const op = "Session.Find"

	st, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := st.Find(ctx, q)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	files := make([]*tags.File, 0, len(docs))
	for _, doc := range docs {
		f, err := rehydrate(op, doc)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return tags.NewCollection(files, nil)
}

// FindOne returns the first file whose document matches q, or (nil, nil).
func (s *Session) FindOne(ctx context.Context, q store.Query) (*tags.File, error) {
	const op = "Session.FindOne"

	st, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := st.FindOne(ctx, q)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return rehydrate(op, doc)
}

// rehydrate splits a document into its path and metadata. Documents reach
// us as maps, so the metadata keys come back in sorted order.
func rehydrate(op string, doc store.Document) (*tags.File, error) {
	path, ok := doc.Path()
	if !ok || path == "" {
		return nil, errors.E(op, errors.ErrInvariantViolation, nil, "document without a string path")
	}
	rest := doc.Clone()
	delete(rest, tags.PathKey)

	md, err := tags.MetadataFrom(rest)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return tags.Rehydrate(path, md), nil
}

// ResolveMetadata looks up the stored metadata for path.
func (s *Session) ResolveMetadata(ctx context.Context, path string) (*tags.Metadata, bool, error) {
	f, err := s.FindOne(ctx, store.Query{tags.PathKey: path})
	if err != nil {
		return nil, false, err
	}
	if f == nil {
		return nil, false, nil
	}
	return f.Metadata(), true, nil
}

// Add upserts every member of e by path. Each member's metadata is resolved
// first so that a file created without tags keeps what the store holds. An
// existing document is replaced in full: stored keys absent from the new
// metadata are dropped. Members are written one at a time; a failure leaves
// earlier members written.
func (s *Session) Add(ctx context.Context, e tags.Entity) ([]AddResult, error) {
	const op = "Session.Add"

	members, err := s.members(op, e)
	if err != nil {
		return nil, err
	}
	st, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]AddResult, 0, len(members))
	for _, f := range members {
		md, err := f.Resolve(ctx, s)
		if err != nil {
			return results, errors.Wrap(op, err)
		}

		doc := store.Document(md.Map())
		doc[tags.PathKey] = f.Path()
		query := store.Query{tags.PathKey: f.Path()}

		_, err = st.FindOne(ctx, query)
		switch {
		case errors.IsNotFound(err):
			if err := st.Insert(ctx, doc); err != nil {
				return results, errors.Wrap(op, err)
			}
			results = append(results, AddResult{Path: f.Path(), Inserted: true})
		case err != nil:
			return results, errors.Wrap(op, err)
		default:
			n, err := st.Update(ctx, query, doc)
			if err != nil {
				return results, errors.Wrap(op, err)
			}
			results = append(results, AddResult{Path: f.Path(), Updated: n})
		}
	}

	s.log.Debug("Added entities", zap.Int("count", len(results)))
	return results, nil
}

// Delete removes every document whose path equals a member's path and
// returns the per-member deleted counts.
func (s *Session) Delete(ctx context.Context, e tags.Entity) ([]int64, error) {
	const op = "Session.Delete"

	members, err := s.members(op, e)
	if err != nil {
		return nil, err
	}
	st, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	counts := make([]int64, 0, len(members))
	for _, f := range members {
		n, err := st.DeleteMany(ctx, store.Query{tags.PathKey: f.Path()})
		if err != nil {
			return counts, errors.Wrap(op, err)
		}
		counts = append(counts, n)
	}

	s.log.Debug("Deleted entities", zap.Int("count", len(counts)))
	return counts, nil
}

// members checks that writes are allowed and e is usable.
func (s *Session) members(op string, e tags.Entity) ([]*tags.File, error) {
	if !s.cfg.Write {
		return nil, errors.E(op, errors.ErrReadOnly, nil, s.cfg.DBName)
	}
	if isNil(e) {
		return nil, errors.E(op, errors.ErrUnsupportedOperand, nil, "nil entity")
	}
	members := e.Members()
	for _, f := range members {
		if f == nil {
			return nil, errors.E(op, errors.ErrUnsupportedOperand, nil, "nil member")
		}
	}
	return members, nil
}

func isNil(e tags.Entity) bool {
	switch v := e.(type) {
	case nil:
		return true
	case *tags.File:
		return v == nil
	case *tags.Collection:
		return v == nil
	}
	return false
}

// Ping checks the store connection.
func (s *Session) Ping(ctx context.Context) error {
	st, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return st.Ping(ctx)
}

// Options returns the connection options.
func (s *Session) Options() map[string]any {
	return s.cfg.Options()
}

// Writable reports whether Add and Delete are allowed.
func (s *Session) Writable() bool {
	return s.cfg.Write
}

// Close releases the store if it was opened.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
