package feature

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"conclave/pkg/logging"
)

// ErrNoFeatures is returned when the inputs expand to no feature files.
var ErrNoFeatures = errors.New("no feature files found")

// Loader expands inputs into feature files and parses them.
type Loader struct {
	// Extension is collected when walking directories.
	Extension string

	// Concurrency bounds the number of files parsed at once.
	Concurrency int
}

// NewLoader returns a loader for ".feature" files.
func NewLoader() *Loader {
	return &Loader{
		Extension:   FileExtension,
		Concurrency: runtime.NumCPU(),
	}
}

// Expand resolves files, directories and doublestar globs into a list of
// feature files. Directories are walked recursively. Duplicates are dropped,
// keeping the first occurrence.
func (l *Loader) Expand(inputs []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(path string) {
		key := filepath.Clean(path)
		if abs, err := filepath.Abs(key); err == nil {
			key = abs
		}
		if _, ok := seen[key]; ok {
			logging.Debug("Loader", "Skipping duplicate feature file %s", path)
			return
		}
		seen[key] = struct{}{}
		files = append(files, path)
	}

	for _, input := range inputs {
		if isGlob(input) {
			matches, err := doublestar.FilepathGlob(input)
			if err != nil {
				return nil, fmt.Errorf("invalid glob %q: %w", input, err)
			}
			sort.Strings(matches)
			for _, m := range matches {
				if err := l.expandPath(m, add); err != nil {
					return nil, err
				}
			}
			continue
		}

		if _, err := os.Stat(input); os.IsNotExist(err) {
			return nil, fmt.Errorf("feature path does not exist: %s", input)
		}
		if err := l.expandPath(input, add); err != nil {
			return nil, err
		}
	}

	if len(files) == 0 {
		return nil, ErrNoFeatures
	}
	return files, nil
}

func (l *Loader) expandPath(path string, add func(string)) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat feature path: %w", err)
	}
	if !info.IsDir() {
		add(path)
		return nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), l.Extension) {
			add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory %s: %w", path, err)
	}
	return nil
}

// Load expands inputs and parses every file. Files are parsed concurrently;
// the result keeps input order.
func (l *Loader) Load(ctx context.Context, inputs []string) ([]*Feature, error) {
	files, err := l.Expand(inputs)
	if err != nil {
		return nil, err
	}

	features := make([]*Feature, len(files))
	g, ctx := errgroup.WithContext(ctx)
	if l.Concurrency > 0 {
		g.SetLimit(l.Concurrency)
	}
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			logging.Debug("Loader", "Parsing feature file %s", file)
			f, err := ParseFile(file)
			if err != nil {
				return err
			}
			features[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logging.Debug("Loader", "Loaded %d feature files", len(features))
	return features, nil
}

func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
