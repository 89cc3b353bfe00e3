// Package store defines the document store contract used by coda and its
// drivers.
//
// A store holds one JSON-like document per tracked file. Documents carry a
// "path" field plus arbitrary metadata fields. Queries are MongoDB-style
// predicate documents: the mongo driver sends them to the server, the
// embedded drivers evaluate them with Match.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"asisaid.cn/coda/internal/common/config"
	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/jsonutil"
)

// Document is a stored record.
type Document map[string]any

// Query is a predicate document, passed through to the driver verbatim.
type Query map[string]any

// Path returns the document's path field if it is a string.
func (d Document) Path() (string, bool) {
	p, ok := d["path"].(string)
	return p, ok
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Store is the document store contract.
type Store interface {
	// Find returns every document matching q, in insertion order.
	Find(ctx context.Context, q Query) ([]Document, error)

	// FindOne returns the first matching document or ErrNotFound.
	FindOne(ctx context.Context, q Query) (Document, error)

	// Insert adds a document.
	Insert(ctx context.Context, doc Document) error

	// Update replaces the first document matching q with doc and returns the
	// number of documents replaced (0 or 1).
	Update(ctx context.Context, q Query, doc Document) (int64, error)

	// DeleteMany removes every matching document and returns the count.
	DeleteMany(ctx context.Context, q Query) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Open creates the driver selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(filepath.Join(cfg.DataDir, cfg.DBName))
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.DataDir, cfg.DBName+".db"))
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Addr:        cfg.Addr(),
			Password:    cfg.Password,
			Namespace:   cfg.DBName,
			DialTimeout: cfg.DialTimeout,
		})
	case "mongo":
		return NewMongoStore(ctx, MongoConfig{
			URI:         cfg.MongoURI(),
			Database:    cfg.DBName,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// normalizeDocument round-trips a document through JSON so drivers store and
// compare the same shapes regardless of the caller's Go types.
func normalizeDocument(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.E("store.normalize", errors.ErrInvalidMetadata, err)
	}
	return decodeDocument(raw)
}

// decodeDocument keeps integers exact: they come back as int64 (or
// json.Number past the int64 range), never as float64.
func decodeDocument(raw []byte) (Document, error) {
	out, err := jsonutil.DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}
