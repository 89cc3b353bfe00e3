package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes one coda invocation against a sqlite store in dataDir.
func run(t *testing.T, dataDir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--backend", "sqlite", "--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func setupFiles(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "run1"), 0o755))
	for _, name := range []string{"run1/a.csv", "run1/b.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	return dir, t.TempDir()
}

func lines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "coda", cmd.Use)

	expected := []string{"version", "status", "list", "find", "add", "delete", "tag", "untag", "serve"}
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range expected {
		assert.Contains(t, names, name)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "coda 1.0.0-test")
}

func TestTagFindList(t *testing.T) {
	dir, data := setupFiles(t)
	a := filepath.Join(dir, "run1", "a.csv")
	b := filepath.Join(dir, "run1", "b.csv")

	_, _, err := run(t, data, "add", dir)
	require.NoError(t, err)

	_, _, err = run(t, data, "tag", "type", "csv", filepath.Join(dir, "run1"))
	require.NoError(t, err)

	out, _, err := run(t, data, "find", "type", "csv")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, lines(out))

	out, _, err = run(t, data, "list", filepath.Join(dir, "run1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, lines(out))

	out, _, err = run(t, data, "list", a)
	require.NoError(t, err)
	assert.Contains(t, out, a)
	assert.Contains(t, out, `"type": "csv"`)

	out, _, err = run(t, data, "list", filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "No metadata found for notes.txt\n", out)

	_, _, err = run(t, data, "untag", "type", a)
	require.NoError(t, err)
	out, _, err = run(t, data, "find", "type", "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{b}, lines(out))

	_, _, err = run(t, data, "delete", filepath.Join(dir, "run1"))
	require.NoError(t, err)
	out, _, err = run(t, data, "list", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, lines(out))
}

func TestFindNothing(t *testing.T) {
	_, data := setupFiles(t)

	out, _, err := run(t, data, "find", "type", "missing")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStatusCommand(t *testing.T) {
	_, data := setupFiles(t)

	_, stderr, err := run(t, data, "status")
	require.NoError(t, err)
	assert.Contains(t, stderr, "backend: sqlite")
	assert.Contains(t, stderr, "good to go!")
}

func TestReadOnly(t *testing.T) {
	dir, data := setupFiles(t)

	_, _, err := run(t, data, "--read-only", "add", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestCommandErrors(t *testing.T) {
	dir, data := setupFiles(t)

	_, _, err := run(t, data, "add", filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	_, _, err = run(t, data, "find", "onlykey")
	assert.Error(t, err)

	_, _, err = run(t, data, "--backend", "cassandra", "status")
	assert.Error(t, err)
}
