package tags

import (
	"context"
	"iter"
	"slices"
	"strconv"
	"strings"

	"asisaid.cn/coda/internal/common/errors"
)

// Collection is an ordered group of files with optional shared metadata.
//
// A non-empty shared container is authoritative. An empty one is derived on
// Resolve as the intersection of every member's metadata.
//
// Equal compares member path sets. Less compares member counts only, so two
// different collections of the same size are neither less nor greater than
// each other.
type Collection struct {
	files    []*File
	metadata *Metadata
	explicit bool // metadata was supplied or assigned, not derived
	state    ResolveState
}

// NewCollection builds a collection from an explicit member list. The list is
// used as given, duplicates included. An empty list is an error.
func NewCollection(files []*File, md map[string]any) (*Collection, error) {
	const op = "tags.NewCollection"

	if len(files) == 0 {
		return nil, errors.E(op, errors.ErrEmptyCollection, nil)
	}
	for i, f := range files {
		if f == nil {
			return nil, errors.E(op, errors.ErrUnsupportedOperand, nil, "nil file at index "+strconv.Itoa(i))
		}
	}

	container, err := MetadataFrom(md)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return newCollection(slices.Clone(files), container), nil
}

// newCollection is used by the collection algebra, which may legitimately
// produce zero members.
func newCollection(files []*File, md *Metadata) *Collection {
	if md == nil {
		md = NewMetadata()
	}
	return &Collection{files: files, metadata: md, explicit: md.Len() > 0}
}

func (c *Collection) clone() *Collection {
	out := newCollection(slices.Clone(c.files), c.metadata.Clone())
	out.explicit = c.explicit
	out.state = c.state
	return out
}

// Len returns the number of members.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.files)
}

// At returns the i-th member. It panics when i is out of range.
func (c *Collection) At(i int) *File { return c.files[i] }

// Slice returns members [i, j) as a new collection without shared metadata.
// It panics when the bounds are out of range, like a slice expression.
func (c *Collection) Slice(i, j int) *Collection {
	return newCollection(slices.Clone(c.files[i:j]), nil)
}

// Files returns a copy of the member list.
func (c *Collection) Files() []*File { return slices.Clone(c.files) }

// Members implements Entity.
func (c *Collection) Members() []*File { return c.Files() }

// Paths returns member paths in order.
func (c *Collection) Paths() []string {
	paths := make([]string, len(c.files))
	for i, f := range c.files {
		paths[i] = f.path
	}
	return paths
}

// All iterates members in stored order. The sequence can be ranged over any
// number of times.
func (c *Collection) All() iter.Seq[*File] {
	return func(yield func(*File) bool) {
		for _, f := range c.files {
			if !yield(f) {
				return
			}
		}
	}
}

// Contains reports whether a member has f's path.
func (c *Collection) Contains(f *File) bool {
	if f == nil {
		return false
	}
	return slices.ContainsFunc(c.files, f.Equal)
}

// State returns the resolution state of the shared metadata.
func (c *Collection) State() ResolveState { return c.state }

// Metadata returns the live shared container without deriving it.
func (c *Collection) Metadata() *Metadata { return c.metadata }

// Resolve returns the shared metadata. When none was supplied it is computed
// once as the left-fold intersection of every member's resolved metadata and
// cached. A collection with no members has no defined metadata and returns
// ErrEmptyCollection.
func (c *Collection) Resolve(ctx context.Context, r Resolver) (*Metadata, error) {
	const op = "Collection.Resolve"

	if c.state != Unresolved || c.metadata.Len() > 0 {
		return c.metadata, nil
	}
	if len(c.files) == 0 {
		return nil, errors.E(op, errors.ErrEmptyCollection, nil)
	}

	first, err := c.files[0].Resolve(ctx, r)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	result := first.Clone()
	for _, f := range c.files[1:] {
		md, err := f.Resolve(ctx, r)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		result = result.Intersect(md)
	}

	c.metadata = result
	if result.Len() > 0 {
		c.state = ResolvedWithData
	} else {
		c.state = ResolvedEmpty
	}
	return c.metadata, nil
}

// Get returns a value from the shared container.
func (c *Collection) Get(key string) (any, error) {
	return c.metadata.Get(key)
}

// Set is AddMetadata for a single pair.
func (c *Collection) Set(key string, value any) error {
	return c.AddMetadata(map[string]any{key: value})
}

// AddMetadata assigns every pair to every member and then to the shared
// container. It is not transactional: when a value is rejected, members
// visited before the failure keep their new values.
func (c *Collection) AddMetadata(md map[string]any) error {
	const op = "Collection.AddMetadata"

	keys := sortedKeys(md)
	for _, f := range c.files {
		for _, k := range keys {
			if err := f.Set(k, md[k]); err != nil {
				return errors.Wrap(op, err)
			}
		}
	}
	for _, k := range keys {
		if err := c.metadata.Set(k, md[k]); err != nil {
			return errors.Wrap(op, err)
		}
	}
	if len(keys) > 0 {
		c.explicit = true
	}
	return nil
}

// RemoveMetadata deletes key from every member and from the shared container.
func (c *Collection) RemoveMetadata(key string) {
	for _, f := range c.files {
		f.Unset(key)
	}
	c.metadata.Delete(key)
}

// Filter returns the members for which keep is true, as a new collection.
func (c *Collection) Filter(keep func(*File) bool) *Collection {
	var files []*File
	for _, f := range c.files {
		if keep(f) {
			files = append(files, f)
		}
	}
	return newCollection(files, nil)
}

// FilterErr is Filter with a fallible predicate. The first predicate error is
// returned unchanged.
func (c *Collection) FilterErr(keep func(*File) (bool, error)) (*Collection, error) {
	var files []*File
	for _, f := range c.files {
		ok, err := keep(f)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, f)
		}
	}
	return newCollection(files, nil), nil
}

// Union returns c's members followed by other's members whose path is not yet
// present. c's explicit shared metadata is carried over; derived metadata is
// not, since it no longer describes the new member set.
func (c *Collection) Union(other *Collection) *Collection {
	var extra []*File
	if other != nil {
		extra = other.files
	}
	return c.union(extra)
}

// AddFile is Union with a single file.
func (c *Collection) AddFile(f *File) *Collection {
	if f == nil {
		return c.union(nil)
	}
	return c.union([]*File{f})
}

func (c *Collection) union(extra []*File) *Collection {
	seen := make(map[string]struct{}, len(c.files)+len(extra))
	files := make([]*File, 0, len(c.files)+len(extra))
	for _, f := range c.files {
		seen[f.path] = struct{}{}
		files = append(files, f)
	}
	for _, f := range extra {
		if _, ok := seen[f.path]; ok {
			continue
		}
		seen[f.path] = struct{}{}
		files = append(files, f)
	}
	var md *Metadata
	if c.explicit {
		md = c.metadata.Clone()
	}
	return newCollection(files, md)
}

// Difference returns c's members whose path does not appear in other.
func (c *Collection) Difference(other *Collection) *Collection {
	if other == nil {
		return c.difference(nil)
	}
	return c.difference(other.files)
}

// RemoveFile is Difference with a single file.
func (c *Collection) RemoveFile(f *File) *Collection {
	if f == nil {
		return c.difference(nil)
	}
	return c.difference([]*File{f})
}

func (c *Collection) difference(remove []*File) *Collection {
	drop := make(map[string]struct{}, len(remove))
	for _, f := range remove {
		drop[f.path] = struct{}{}
	}
	var files []*File
	for _, f := range c.files {
		if _, ok := drop[f.path]; !ok {
			files = append(files, f)
		}
	}
	return newCollection(files, nil)
}

// Equal compares the sorted member paths of both collections.
func (c *Collection) Equal(other *Collection) bool {
	if other == nil {
		return false
	}
	a, b := c.Paths(), other.Paths()
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// Less compares member counts only. A nil operand is never less or greater.
func (c *Collection) Less(other *Collection) bool {
	if c == nil || other == nil {
		return false
	}
	return c.Len() < other.Len()
}

// String lists member paths.
func (c *Collection) String() string {
	return "[" + strings.Join(c.Paths(), ",\n ") + "]"
}
