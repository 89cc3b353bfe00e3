package tags

import (
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/logger"
)

// Discover builds a collection from every regular file beneath dir,
// recursively, in lexical walk order. Symlinks are not followed. dir itself
// must be readable; a subdirectory that cannot be read is logged and skipped.
// md becomes the collection's explicit shared metadata when non-empty.
func Discover(dir string, md map[string]any) (*Collection, error) {
	const op = "tags.Discover"

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.E(op, errors.ErrValidation, err, dir)
	}
	if !info.IsDir() {
		return nil, errors.E(op, errors.ErrValidation, nil, dir+" is not a directory")
	}
	root, err := canonicalPath(dir)
	if err != nil {
		return nil, errors.E(op, errors.ErrValidation, err, dir)
	}

	var files []*File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root || d == nil || !d.IsDir() {
				return err
			}
			logger.WithComponent("tags").Warn("Skipping unreadable directory",
				zap.String("path", path),
				zap.Error(err))
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := NewFile(path, nil)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(files) == 0 {
		return nil, errors.E(op, errors.ErrDiscovery, nil, root)
	}

	container, err := MetadataFrom(md)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return newCollection(files, container), nil
}

// Expand turns a mix of file and directory paths into one collection: files
// are added directly, directories through Discover. Order follows the
// arguments and duplicates are dropped.
func Expand(paths []string) (*Collection, error) {
	const op = "tags.Expand"

	var files []*File
	seen := make(map[string]struct{})
	add := func(f *File) {
		if _, ok := seen[f.path]; ok {
			return
		}
		seen[f.path] = struct{}{}
		files = append(files, f)
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.E(op, errors.ErrValidation, err, p)
		}
		if info.IsDir() {
			c, err := Discover(p, nil)
			if err != nil {
				return nil, err
			}
			for _, f := range c.files {
				add(f)
			}
			continue
		}
		f, err := NewFile(p, nil)
		if err != nil {
			return nil, err
		}
		add(f)
	}

	return NewCollection(files, nil)
}
