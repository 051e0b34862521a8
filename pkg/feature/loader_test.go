package feature

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeature(t *testing.T, path, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "Feature: " + name + "\n  Scenario: " + name + " scenario\n    Given step 1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_Expand(t *testing.T) {
	dir := t.TempDir()
	writeFeature(t, filepath.Join(dir, "a.feature"), "a")
	writeFeature(t, filepath.Join(dir, "nested", "b.feature"), "b")
	writeFeature(t, filepath.Join(dir, "nested", "deep", "c.feature"), "c")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	l := NewLoader()

	t.Run("directory is walked recursively", func(t *testing.T) {
		files, err := l.Expand([]string{dir})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "a.feature"),
			filepath.Join(dir, "nested", "b.feature"),
			filepath.Join(dir, "nested", "deep", "c.feature"),
		}, files)
	})

	t.Run("duplicates keep first occurrence", func(t *testing.T) {
		a := filepath.Join(dir, "a.feature")
		files, err := l.Expand([]string{a, dir, a})
		require.NoError(t, err)
		assert.Len(t, files, 3)
		assert.Equal(t, a, files[0])
	})

	t.Run("doublestar glob", func(t *testing.T) {
		files, err := l.Expand([]string{filepath.Join(dir, "nested", "**", "*.feature")})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(dir, "nested", "b.feature"),
			filepath.Join(dir, "nested", "deep", "c.feature"),
		}, files)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := l.Expand([]string{filepath.Join(dir, "missing.feature")})
		assert.Error(t, err)
	})

	t.Run("no matches", func(t *testing.T) {
		_, err := l.Expand([]string{filepath.Join(dir, "*.nothing")})
		assert.ErrorIs(t, err, ErrNoFeatures)
	})
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one", "two", "three", "four"} {
		writeFeature(t, filepath.Join(dir, name+".feature"), name)
	}

	l := NewLoader()
	l.Concurrency = 2
	features, err := l.Load(context.Background(), []string{
		filepath.Join(dir, "one.feature"),
		filepath.Join(dir, "two.feature"),
		filepath.Join(dir, "three.feature"),
		filepath.Join(dir, "four.feature"),
	})
	require.NoError(t, err)
	require.Len(t, features, 4)

	var names []string
	for _, f := range features {
		names = append(names, f.Name)
		require.Len(t, f.Scenarios, 1)
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, names)
}

func TestLoader_LoadParseError(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.feature")
	require.NoError(t, os.WriteFile(bad, []byte("this is not gherkin\n"), 0o644))

	_, err := NewLoader().Load(context.Background(), []string{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.feature")
}
