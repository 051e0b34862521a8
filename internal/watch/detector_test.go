package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFeature = "Feature: f\n  Scenario: s\n    Given pass\n"

func waitChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestDetector_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.feature")
	require.NoError(t, os.WriteFile(path, []byte(testFeature), 0644))

	d := NewDetector([]string{dir}, 100*time.Millisecond)
	changes := make(chan Change, 4)
	require.NoError(t, d.Start(context.Background(), changes))
	defer d.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(testFeature), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	c := waitChange(t, changes)
	assert.Equal(t, []string{path}, c.Paths)
	assert.False(t, c.Timestamp.IsZero())

	select {
	case extra := <-changes:
		t.Fatalf("unexpected second change: %v", extra.Paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDetector_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	d := NewDetector([]string{filepath.Join(dir, "**", "*.feature")}, 50*time.Millisecond)
	changes := make(chan Change, 4)
	require.NoError(t, d.Start(context.Background(), changes))
	defer d.Stop()

	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(nested, 0755))
	// Give the watcher time to pick the new directory up.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(nested, "b.feature")
	require.NoError(t, os.WriteFile(path, []byte(testFeature), 0644))

	c := waitChange(t, changes)
	assert.Contains(t, c.Paths, path)
}

func TestDetector_StopsWithContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.feature")
	require.NoError(t, os.WriteFile(path, []byte(testFeature), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDetector([]string{path}, 50*time.Millisecond)
	changes := make(chan Change, 1)
	require.NoError(t, d.Start(ctx, changes))
	cancel()

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return !d.running
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(testFeature), 0644))
	select {
	case c := <-changes:
		t.Fatalf("change after stop: %v", c.Paths)
	case <-time.After(200 * time.Millisecond):
	}
	assert.NoError(t, d.Stop())
}
