// Package watch re-triggers runs when feature files change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"conclave/pkg/feature"
	"conclave/pkg/logging"
)

// DefaultDebounce is how long the detector waits for further changes.
const DefaultDebounce = 500 * time.Millisecond

// Change is emitted once per burst of filesystem events.
type Change struct {
	// Paths holds every changed feature file of the burst, sorted.
	Paths     []string
	Timestamp time.Time
}

// Detector watches the directories behind a set of feature inputs. fsnotify
// is not recursive, so every directory below a root is watched individually
// and directories created later are added as they appear.
type Detector struct {
	mu sync.Mutex

	inputs    []string
	extension string
	debounce  time.Duration

	watcher *fsnotify.Watcher
	pending map[string]struct{}
	timer   *time.Timer
	stopCh  chan struct{}
	running bool
}

// NewDetector creates a detector for inputs (files, directories, or globs).
func NewDetector(inputs []string, debounce time.Duration) *Detector {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Detector{
		inputs:    inputs,
		extension: feature.FileExtension,
		debounce:  debounce,
		pending:   make(map[string]struct{}),
	}
}

// Start begins watching. Changes are sent on changes until ctx is done or
// Stop is called.
func (d *Detector) Start(ctx context.Context, changes chan<- Change) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	for _, root := range d.roots() {
		d.watchTree(root)
	}

	go d.processEvents(ctx, changes)

	logging.Info("Watch", "Watching %s for feature changes", strings.Join(d.inputs, ", "))
	return nil
}

// Stop stops the detector and drops any pending change.
func (d *Detector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.resetPending()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("Watch", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}
	return nil
}

// roots resolves inputs to the directories that have to be watched.
func (d *Detector) roots() []string {
	var roots []string
	for _, input := range d.inputs {
		if strings.ContainsAny(input, "*?[{") {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(input))
			roots = append(roots, filepath.FromSlash(base))
			continue
		}
		info, err := os.Stat(input)
		switch {
		case err != nil:
			logging.Warn("Watch", "Cannot watch %s: %v", input, err)
		case info.IsDir():
			roots = append(roots, input)
		default:
			roots = append(roots, filepath.Dir(input))
		}
	}
	return roots
}

func (d *Detector) watchTree(root string) {
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.watcher == nil {
			return filepath.SkipAll
		}
		if err := d.watcher.Add(path); err != nil {
			logging.Warn("Watch", "Failed to watch %s: %v", path, err)
			return nil
		}
		logging.Debug("Watch", "Watching directory: %s", path)
		return nil
	})
	if err != nil {
		logging.Warn("Watch", "Failed to walk %s: %v", root, err)
	}
}

func (d *Detector) processEvents(ctx context.Context, changes chan<- Change) {
	d.mu.Lock()
	watcher := d.watcher
	stopCh := d.stopCh
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return

		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watch", err, "Filesystem watcher error")
		}
	}
}

func (d *Detector) handleFsEvent(event fsnotify.Event, changes chan<- Change) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			d.watchTree(event.Name)
			return
		}
	}
	if !strings.EqualFold(filepath.Ext(event.Name), d.extension) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	d.debounceEvent(event.Name, changes)
}

// debounceEvent collapses a burst of events into a single Change.
func (d *Detector) debounceEvent(path string, changes chan<- Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		if !d.running || len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		change := Change{Timestamp: time.Now()}
		for p := range d.pending {
			change.Paths = append(change.Paths, p)
		}
		sort.Strings(change.Paths)
		d.pending = make(map[string]struct{})
		d.timer = nil
		d.mu.Unlock()

		select {
		case changes <- change:
			logging.Debug("Watch", "Emitted change for %d files", len(change.Paths))
		default:
			logging.Warn("Watch", "Change channel full, dropping change for %d files", len(change.Paths))
		}
	})
}

func (d *Detector) resetPending() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}
