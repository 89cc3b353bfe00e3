package tags

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"asisaid.cn/coda/internal/common/errors"
)

// fakeResolver serves metadata from a map and counts lookups.
type fakeResolver struct {
	docs  map[string]map[string]any
	calls int
	err   error
}

func (r *fakeResolver) ResolveMetadata(ctx context.Context, path string) (*Metadata, bool, error) {
	r.calls++
	if r.err != nil {
		return nil, false, r.err
	}
	doc, ok := r.docs[path]
	if !ok {
		return nil, false, nil
	}
	md, err := MetadataFrom(doc)
	return md, true, err
}

// writeFiles creates the named files under dir and returns their paths.
func writeFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		paths = append(paths, p)
	}
	return paths
}

func mustFile(t *testing.T, path string, md map[string]any) *File {
	t.Helper()
	f, err := NewFile(path, md)
	if err != nil {
		t.Fatalf("NewFile(%s) failed: %v", path, err)
	}
	return f
}

func TestNewFile(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeFiles(t, tmpDir, "data.tar.gz", "README")

	t.Run("attributes", func(t *testing.T) {
		f := mustFile(t, paths[0], map[string]any{"type": "test"})

		if f.Name() != "data.tar.gz" {
			t.Errorf("Name() = %v, want data.tar.gz", f.Name())
		}
		if f.Extension() != "gz" {
			t.Errorf("Extension() = %v, want gz", f.Extension())
		}
		if !filepath.IsAbs(f.Path()) {
			t.Errorf("Path() = %v, want absolute", f.Path())
		}
		if filepath.Base(f.Location()) != filepath.Base(tmpDir) {
			t.Errorf("Location() = %v, want %v", f.Location(), tmpDir)
		}
		if v, _ := f.Get("type"); v != "test" {
			t.Errorf("Get(type) = %v, want test", v)
		}
		if !f.Contains("tar") {
			t.Error("Contains(tar) should be true")
		}
	})

	t.Run("no extension", func(t *testing.T) {
		f := mustFile(t, paths[1], nil)
		if f.Extension() != "" {
			t.Errorf("Extension() = %q, want empty", f.Extension())
		}
	})

	t.Run("nonexistent path", func(t *testing.T) {
		_, err := NewFile(filepath.Join(tmpDir, "missing.txt"), nil)
		if !errors.IsValidation(err) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := NewFile(tmpDir, nil)
		if !errors.IsValidation(err) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("relative path and symlink canonicalized", func(t *testing.T) {
		link := filepath.Join(tmpDir, "link")
		if err := os.Symlink(paths[1], link); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
		viaLink := mustFile(t, link, nil)
		direct := mustFile(t, paths[1], nil)
		if !viaLink.Equal(direct) {
			t.Errorf("symlinked path %v should equal %v", viaLink.Path(), direct.Path())
		}
	})
}

func TestFile_Identity(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeFiles(t, tmpDir, "a.txt", "b.txt")

	a1 := mustFile(t, paths[0], map[string]any{"x": 1})
	a2 := mustFile(t, paths[0], map[string]any{"x": 2})
	b := mustFile(t, paths[1], nil)

	if !a1.Equal(a2) {
		t.Error("files with same path should be equal regardless of metadata")
	}
	if a1.Equal(b) {
		t.Error("files with different paths should differ")
	}
	if !a1.Less(b) || b.Less(a1) {
		t.Error("a.txt should sort before b.txt")
	}
	if a1.Compare(b) != -1 || a1.Compare(a2) != 0 {
		t.Error("Compare should order by path")
	}
}

func TestFile_Resolve(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeFiles(t, tmpDir, "stored.txt", "unknown.txt", "local.txt")
	ctx := context.Background()

	t.Run("store hit replaces empty container once", func(t *testing.T) {
		f := mustFile(t, paths[0], nil)
		r := &fakeResolver{docs: map[string]map[string]any{f.Path(): {"type": "test"}}}

		if f.State() != Unresolved {
			t.Fatalf("State() = %v, want unresolved", f.State())
		}
		md, err := f.Resolve(ctx, r)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if v, _ := md.Get("type"); v != "test" {
			t.Errorf("type = %v, want test", v)
		}
		if f.State() != ResolvedWithData {
			t.Errorf("State() = %v, want resolved", f.State())
		}

		_, _ = f.Resolve(ctx, r)
		if r.calls != 1 {
			t.Errorf("resolver calls = %v, want 1", r.calls)
		}
	})

	t.Run("store miss is cached", func(t *testing.T) {
		f := mustFile(t, paths[1], nil)
		r := &fakeResolver{}

		md, err := f.Resolve(ctx, r)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if md.Len() != 0 {
			t.Errorf("Len() = %v, want 0", md.Len())
		}
		if f.State() != ResolvedEmpty {
			t.Errorf("State() = %v, want resolved-empty", f.State())
		}
		_, _ = f.Resolve(ctx, r)
		if r.calls != 1 {
			t.Errorf("resolver calls = %v, want 1", r.calls)
		}
	})

	t.Run("in-memory metadata wins", func(t *testing.T) {
		f := mustFile(t, paths[2], map[string]any{"type": "local"})
		r := &fakeResolver{docs: map[string]map[string]any{f.Path(): {"type": "stored"}}}

		md, _ := f.Resolve(ctx, r)
		if v, _ := md.Get("type"); v != "local" {
			t.Errorf("type = %v, want local", v)
		}
		if r.calls != 0 {
			t.Errorf("resolver calls = %v, want 0", r.calls)
		}
	})

	t.Run("resolver error leaves file unresolved", func(t *testing.T) {
		f := mustFile(t, paths[1], nil)
		r := &fakeResolver{err: errors.ErrConnection}

		if _, err := f.Resolve(ctx, r); !errors.IsConnection(err) {
			t.Errorf("error = %v, want ErrConnection", err)
		}
		if f.State() != Unresolved {
			t.Errorf("State() = %v, want unresolved", f.State())
		}
	})
}

func TestRehydrate(t *testing.T) {
	md := mustMetadata(t, map[string]any{"type": "test"})
	f := Rehydrate("/no/such/file.txt", md)

	if f.Path() != "/no/such/file.txt" {
		t.Errorf("Path() = %v", f.Path())
	}
	if f.State() != ResolvedWithData {
		t.Errorf("State() = %v, want resolved", f.State())
	}
	_ = md.Set("other", 1)
	if f.Metadata().Len() != 1 {
		t.Error("rehydrated file should own a copy of the metadata")
	}

	empty := Rehydrate("/no/such/other.txt", nil)
	if empty.State() != ResolvedEmpty {
		t.Errorf("State() = %v, want resolved-empty", empty.State())
	}
}

func TestFile_Combine(t *testing.T) {
	tmpDir := t.TempDir()
	paths := writeFiles(t, tmpDir, "one.txt", "two.txt", "three.txt")
	one := mustFile(t, paths[0], nil)
	two := mustFile(t, paths[1], nil)
	three := mustFile(t, paths[2], nil)

	t.Run("distinct files", func(t *testing.T) {
		c := one.Combine(two)
		got := c.Paths()
		if len(got) != 2 || got[0] != one.Path() || got[1] != two.Path() {
			t.Errorf("Paths() = %v, want [one two]", got)
		}
	})

	t.Run("self", func(t *testing.T) {
		c := one.Combine(one)
		if c.Len() != 1 {
			t.Errorf("Len() = %v, want 1", c.Len())
		}
	})

	t.Run("prepend to collection", func(t *testing.T) {
		c := three.CombineCollection(one.Combine(two))
		got := c.Paths()
		if len(got) != 3 || got[0] != three.Path() {
			t.Errorf("Paths() = %v, want three first", got)
		}
	})

	t.Run("already a member", func(t *testing.T) {
		base := one.Combine(two)
		c := one.CombineCollection(base)
		if c.Len() != 2 {
			t.Errorf("Len() = %v, want 2", c.Len())
		}
		if c == base {
			t.Error("CombineCollection should return a new collection")
		}
	})
}

func TestFile_SetAndUnset(t *testing.T) {
	tmpDir := t.TempDir()
	f := mustFile(t, writeFiles(t, tmpDir, "f.txt")[0], nil)

	if err := f.Set("path", "x"); !errors.IsValidation(err) {
		t.Errorf("Set(path) error = %v, want ErrValidation", err)
	}
	if err := f.Set("group", "testing"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !f.Unset("group") {
		t.Error("Unset should report the key was present")
	}
	if _, err := f.Get("group"); !errors.IsKeyNotFound(err) {
		t.Errorf("Get after Unset error = %v, want ErrKeyNotFound", err)
	}
}
