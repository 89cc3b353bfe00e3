package tags

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"asisaid.cn/coda/internal/common/errors"
)

// ResolveState tracks whether an entity's metadata has been filled from the
// store.
type ResolveState int

const (
	Unresolved       ResolveState = iota // No lookup performed yet
	ResolvedEmpty                        // Lookup done, nothing stored
	ResolvedWithData                     // Lookup done or metadata supplied
)

// String returns a readable state name.
func (s ResolveState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case ResolvedEmpty:
		return "resolved-empty"
	case ResolvedWithData:
		return "resolved"
	default:
		return "unknown"
	}
}

// Resolver looks up the stored metadata of a path.
type Resolver interface {
	// ResolveMetadata returns the metadata stored for path. found is false
	// when the store holds no document for it.
	ResolveMetadata(ctx context.Context, path string) (md *Metadata, found bool, err error)
}

// Entity is anything that can be expanded into member files: a File, a
// Collection or a FileList.
type Entity interface {
	Members() []*File
}

// File is a tracked filesystem path plus its metadata. Identity is the path.
type File struct {
	path     string
	metadata *Metadata
	state    ResolveState
}

// NewFile validates that path exists and is not a directory, canonicalizes it
// and attaches the initial metadata.
func NewFile(path string, md map[string]any) (*File, error) {
	const op = "tags.NewFile"

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.E(op, errors.ErrValidation, err, path)
	}
	if info.IsDir() {
		return nil, errors.E(op, errors.ErrValidation, nil, path+" is a directory; use a Collection")
	}

	canonical, err := canonicalPath(path)
	if err != nil {
		return nil, errors.E(op, errors.ErrValidation, err, path)
	}

	container, err := MetadataFrom(md)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	return &File{path: canonical, metadata: container}, nil
}

// Rehydrate builds a File from a stored document without touching the
// filesystem. The store is authoritative for paths it returns, so the path
// may no longer exist on disk.
func Rehydrate(path string, md *Metadata) *File {
	f := &File{path: filepath.Clean(path), metadata: md.Clone(), state: ResolvedEmpty}
	if f.metadata.Len() > 0 {
		f.state = ResolvedWithData
	}
	return f
}

// Path returns the canonical absolute path.
func (f *File) Path() string { return f.path }

// Name returns the final path segment.
func (f *File) Name() string { return filepath.Base(f.path) }

// Location returns the parent directory.
func (f *File) Location() string { return filepath.Dir(f.path) }

// Extension returns the text after the last dot in the name, or "" when the
// name has none.
func (f *File) Extension() string {
	name := f.Name()
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}

// String returns the path.
func (f *File) String() string { return f.path }

// Contains reports whether sub occurs in the file name.
func (f *File) Contains(sub string) bool {
	return strings.Contains(f.Name(), sub)
}

// State returns the resolution state.
func (f *File) State() ResolveState { return f.state }

// Metadata returns the live in-memory container without consulting the store.
func (f *File) Metadata() *Metadata { return f.metadata }

// Resolve fills an empty, unresolved container from the store. At most one
// lookup is made; later calls return the cached container. A non-empty
// container is never replaced. With a nil resolver the in-memory container is
// returned as is.
func (f *File) Resolve(ctx context.Context, r Resolver) (*Metadata, error) {
	if f.state != Unresolved {
		return f.metadata, nil
	}
	if f.metadata.Len() > 0 {
		f.state = ResolvedWithData
		return f.metadata, nil
	}
	if r == nil {
		return f.metadata, nil
	}

	md, found, err := r.ResolveMetadata(ctx, f.path)
	if err != nil {
		return nil, errors.Wrap("File.Resolve", err)
	}
	if found && md.Len() > 0 {
		f.metadata = md.Clone()
		f.state = ResolvedWithData
	} else {
		f.state = ResolvedEmpty
	}
	return f.metadata, nil
}

// Get returns a metadata value or ErrKeyNotFound.
func (f *File) Get(key string) (any, error) {
	return f.metadata.Get(key)
}

// Set assigns a metadata value.
func (f *File) Set(key string, value any) error {
	if err := f.metadata.Set(key, value); err != nil {
		return err
	}
	if f.state == ResolvedEmpty {
		f.state = ResolvedWithData
	}
	return nil
}

// Unset removes a metadata key and reports whether it was present.
func (f *File) Unset(key string) bool {
	return f.metadata.Delete(key)
}

// Equal compares paths only; metadata is not part of identity.
func (f *File) Equal(other *File) bool {
	return other != nil && f.path == other.path
}

// Less orders files by path.
func (f *File) Less(other *File) bool {
	return f.path < other.path
}

// Compare returns -1, 0 or +1 by path, for use with slices.SortFunc.
func (f *File) Compare(other *File) int {
	return strings.Compare(f.path, other.path)
}

// Members implements Entity.
func (f *File) Members() []*File {
	return []*File{f}
}

// Combine returns a collection of f and other, with a single member when they
// are the same path.
func (f *File) Combine(other *File) *Collection {
	if other == nil || f.Equal(other) {
		return newCollection([]*File{f}, nil)
	}
	return newCollection([]*File{f, other}, nil)
}

// CombineCollection returns a new collection with f prepended to c, or a copy
// of c when f is already a member.
func (f *File) CombineCollection(c *Collection) *Collection {
	if c == nil {
		return newCollection([]*File{f}, nil)
	}
	if c.Contains(f) {
		return c.clone()
	}
	files := make([]*File, 0, c.Len()+1)
	files = append(files, f)
	files = append(files, c.files...)
	return newCollection(files, nil)
}

// FileList adapts a plain slice of files to Entity.
type FileList []*File

// Members implements Entity.
func (l FileList) Members() []*File { return l }

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
