package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/logger"
)

// SQLiteStore keeps documents as JSON rows in a single table. Rows are read
// in seq order, which is insertion order. Queries on a single path value use
// the path index; anything else scans and matches in process.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath. dbPath may be ":memory:".
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.L().Debug("SQLite store opened")

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq  INTEGER PRIMARY KEY AUTOINCREMENT,
		id   TEXT NOT NULL UNIQUE,
		path TEXT,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqliteRow struct {
	seq int64
	doc Document
}

// pathOnly returns the path when q is exactly {"path": "<string>"}.
func pathOnly(q Query) (string, bool) {
	if len(q) != 1 {
		return "", false
	}
	p, ok := q["path"].(string)
	return p, ok
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// candidates loads rows that may match q, in seq order.
func (s *SQLiteStore) candidates(ctx context.Context, db queryer, q Query) ([]sqliteRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if p, ok := pathOnly(q); ok {
		rows, err = db.QueryContext(ctx, "SELECT seq, body FROM documents WHERE path = ? ORDER BY seq", p)
	} else {
		rows, err = db.QueryContext(ctx, "SELECT seq, body FROM documents ORDER BY seq")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqliteRow
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, err
		}
		doc, err := decodeDocument([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, sqliteRow{seq: seq, doc: doc})
	}
	return out, rows.Err()
}

// Find returns every matching document in insertion order.
func (s *SQLiteStore) Find(ctx context.Context, q Query) ([]Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.candidates(ctx, s.db, q)
	if err != nil {
		return nil, errors.Wrap("SQLiteStore.Find", err)
	}
	var out []Document
	for _, r := range rows {
		if m.Matches(r.doc) {
			out = append(out, r.doc)
		}
	}
	return out, nil
}

// FindOne returns the first matching document.
func (s *SQLiteStore) FindOne(ctx context.Context, q Query) (Document, error) {
	docs, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.ErrNotFound
	}
	return docs[0], nil
}

// Insert adds a document.
func (s *SQLiteStore) Insert(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.E("SQLiteStore.Insert", errors.ErrInvalidMetadata, err)
	}
	path, _ := doc.Path()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, path, body) VALUES (?, ?, ?)",
		uuid.NewString(), nullable(path), string(data))
	if err != nil {
		return errors.Wrap("SQLiteStore.Insert", err)
	}
	return nil
}

// Update replaces the first matching document, keeping its seq.
func (s *SQLiteStore) Update(ctx context.Context, q Query, doc Document) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.E("SQLiteStore.Update", errors.ErrInvalidMetadata, err)
	}
	path, _ := doc.Path()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap("SQLiteStore.Update", err)
	}
	defer tx.Rollback()

	rows, err := s.candidates(ctx, tx, q)
	if err != nil {
		return 0, errors.Wrap("SQLiteStore.Update", err)
	}
	for _, r := range rows {
		if !m.Matches(r.doc) {
			continue
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE documents SET path = ?, body = ? WHERE seq = ?",
			nullable(path), string(data), r.seq)
		if err != nil {
			return 0, errors.Wrap("SQLiteStore.Update", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, errors.Wrap("SQLiteStore.Update", err)
		}
		return 1, nil
	}
	return 0, nil
}

// DeleteMany removes every matching document.
func (s *SQLiteStore) DeleteMany(ctx context.Context, q Query) (int64, error) {
	m, err := Compile(q)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap("SQLiteStore.DeleteMany", err)
	}
	defer tx.Rollback()

	rows, err := s.candidates(ctx, tx, q)
	if err != nil {
		return 0, errors.Wrap("SQLiteStore.DeleteMany", err)
	}
	var deleted int64
	for _, r := range rows {
		if !m.Matches(r.doc) {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE seq = ?", r.seq); err != nil {
			return 0, errors.Wrap("SQLiteStore.DeleteMany", err)
		}
		deleted++
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap("SQLiteStore.DeleteMany", err)
	}
	return deleted, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.E("SQLiteStore.Ping", errors.ErrConnection, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
