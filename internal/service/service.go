// Package service implements the tag operations shared by the CLI and the
// HTTP API.
package service

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/logger"
	"asisaid.cn/coda/internal/session"
	"asisaid.cn/coda/internal/store"
	"asisaid.cn/coda/internal/tags"
)

// TagService handles tag operations against one session.
type TagService struct {
	session *session.Session
	logger  *zap.Logger
}

// NewTagService creates a new TagService.
func NewTagService(s *session.Session) *TagService {
	return &TagService{
		session: s,
		logger:  logger.WithComponent("TagService"),
	}
}

// StatusResponse describes the store connection.
type StatusResponse struct {
	Options   map[string]any `json:"options"`
	Connected bool           `json:"connected"`
	Error     string         `json:"error,omitempty"`
	Tracked   int            `json:"tracked"`
}

// Status reports the connection options and whether the store answers.
// A failed connection is reported in the response, not as an error.
func (s *TagService) Status(ctx context.Context) *StatusResponse {
	resp := &StatusResponse{Options: s.session.Options()}

	if err := s.session.Ping(ctx); err != nil {
		resp.Error = err.Error()
		return resp
	}
	// A throwaway query proves reads work end to end.
	if _, err := s.session.FindOne(ctx, store.Query{"thisisatest": "thisisnotatest"}); err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Connected = true

	c, err := s.session.Find(ctx, nil)
	if err == nil && c != nil {
		resp.Tracked = c.Len()
	}
	return resp
}

// Query passes q to the store. The result is nil when nothing matches.
func (s *TagService) Query(ctx context.Context, q store.Query) (*tags.Collection, error) {
	return s.session.Find(ctx, q)
}

// QueryOne returns the first match of q, or nil.
func (s *TagService) QueryOne(ctx context.Context, q store.Query) (*tags.File, error) {
	return s.session.FindOne(ctx, q)
}

// List returns the tracked files under dir. The result is nil when none are
// tracked.
func (s *TagService) List(ctx context.Context, dir string) (*tags.Collection, error) {
	root, err := canonical(dir)
	if err != nil {
		return nil, errors.E("TagService.List", errors.ErrValidation, err, dir)
	}
	pattern := "^" + regexp.QuoteMeta(root)
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		pattern += "(/|$)"
	}
	return s.session.Find(ctx, store.Query{
		tags.PathKey: map[string]any{"$regex": pattern},
	})
}

// Describe returns the tracked file at path with its stored metadata.
func (s *TagService) Describe(ctx context.Context, path string) (*tags.File, error) {
	const op = "TagService.Describe"

	p, err := canonical(path)
	if err != nil {
		return nil, errors.E(op, errors.ErrValidation, err, path)
	}
	f, err := s.session.FindOne(ctx, store.Query{tags.PathKey: p})
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.E(op, errors.ErrNotFound, nil, p)
	}
	return f, nil
}

// Find returns the files whose key equals value, or nil.
func (s *TagService) Find(ctx context.Context, key string, value any) (*tags.Collection, error) {
	if key == "" {
		return nil, errors.E("TagService.Find", errors.ErrValidation, nil, "empty key")
	}
	return s.session.Find(ctx, store.Query{key: value})
}

// Track starts tracking paths. Directories expand to every regular file
// beneath them. md, when given, is assigned to every file.
func (s *TagService) Track(ctx context.Context, paths []string, md map[string]any) ([]session.AddResult, error) {
	const op = "TagService.Track"

	c, err := tags.Expand(paths)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(md) > 0 {
		if err := s.resolveMembers(ctx, c); err != nil {
			return nil, errors.Wrap(op, err)
		}
		if err := c.AddMetadata(md); err != nil {
			return nil, errors.Wrap(op, err)
		}
	}

	results, err := s.session.Add(ctx, c)
	if err != nil {
		return results, err
	}
	s.logger.Info("tracked files", zap.Int("count", len(results)))
	return results, nil
}

// Untrack stops tracking paths. Paths missing from disk are still removed
// from the store.
func (s *TagService) Untrack(ctx context.Context, paths []string) ([]int64, error) {
	const op = "TagService.Untrack"

	var files tags.FileList
	var present []string
	for _, p := range paths {
		if _, err := os.Lstat(p); err == nil {
			present = append(present, p)
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.E(op, errors.ErrValidation, err, p)
		}
		files = append(files, tags.Rehydrate(abs, nil))
	}
	if len(present) > 0 {
		c, err := tags.Expand(present)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		files = append(c.Files(), files...)
	}

	counts, err := s.session.Delete(ctx, files)
	if err != nil {
		return counts, err
	}
	s.logger.Info("untracked files", zap.Int("count", len(counts)))
	return counts, nil
}

// Tag sets key to value on every file under paths and stores the result.
// Existing tags of each file are loaded first and kept.
func (s *TagService) Tag(ctx context.Context, paths []string, key string, value any) ([]session.AddResult, error) {
	const op = "TagService.Tag"

	c, err := tags.Expand(paths)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if err := s.resolveMembers(ctx, c); err != nil {
		return nil, errors.Wrap(op, err)
	}
	if err := c.Set(key, value); err != nil {
		return nil, errors.Wrap(op, err)
	}

	results, err := s.session.Add(ctx, c)
	if err != nil {
		return results, err
	}
	s.logger.Info("tagged files",
		zap.String("key", key),
		zap.Int("count", len(results)),
	)
	return results, nil
}

// Untag removes key from every file under paths and stores the result.
func (s *TagService) Untag(ctx context.Context, paths []string, key string) ([]session.AddResult, error) {
	const op = "TagService.Untag"

	c, err := tags.Expand(paths)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if err := s.resolveMembers(ctx, c); err != nil {
		return nil, errors.Wrap(op, err)
	}
	c.RemoveMetadata(key)

	results, err := s.session.Add(ctx, c)
	if err != nil {
		return results, err
	}
	s.logger.Info("untagged files",
		zap.String("key", key),
		zap.Int("count", len(results)),
	)
	return results, nil
}

// resolveMembers loads stored metadata into every member before it is
// modified in memory.
func (s *TagService) resolveMembers(ctx context.Context, c *tags.Collection) error {
	for f := range c.All() {
		if _, err := f.Resolve(ctx, s.session); err != nil {
			return err
		}
	}
	return nil
}

// canonical returns the absolute path, with symlinks resolved when the path
// exists.
func canonical(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
