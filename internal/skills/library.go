// Package skills loads skill reference documents (markdown SOPs) from disk for
// agent execution runs.
package skills

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 300 * time.Millisecond

var ErrOutsideLibrary = errors.New("skill reference escapes the skills directory")

type Doc struct {
	Ref     string
	Content string
}

// Library caches skill file contents. The cache is invalidated by Watch.
type Library struct {
	Dir      string
	Logger   *zap.Logger
	Debounce time.Duration

	mu    sync.RWMutex
	cache map[string]string
}

func New(dir string, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{Dir: dir, Logger: logger, Debounce: defaultDebounce, cache: map[string]string{}}
}

func (l *Library) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Path maps a reference like "core/model-opex-budget.md" to a file inside Dir.
func (l *Library) Path(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty skill reference")
	}
	if filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: %s", ErrOutsideLibrary, ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideLibrary, ref)
	}
	return filepath.Join(l.Dir, clean), nil
}

// Load returns the contents of every readable reference, in order. Missing or
// invalid references are reported in the second return value and skipped.
func (l *Library) Load(refs []string) ([]Doc, []string) {
	var docs []Doc
	var missing []string
	for _, ref := range refs {
		content, err := l.read(ref)
		if err != nil {
			l.logger().Warn("skill reference not loaded", zap.String("ref", ref), zap.Error(err))
			missing = append(missing, ref)
			continue
		}
		if strings.TrimSpace(content) == "" {
			missing = append(missing, ref)
			continue
		}
		docs = append(docs, Doc{Ref: ref, Content: content})
	}
	return docs, missing
}

func (l *Library) read(ref string) (string, error) {
	path, err := l.Path(ref)
	if err != nil {
		return "", err
	}
	l.mu.RLock()
	content, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return content, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	if l.cache == nil {
		l.cache = map[string]string{}
	}
	l.cache[path] = string(data)
	l.mu.Unlock()
	return string(data), nil
}

// List returns every markdown reference under Dir, slash separated and sorted.
func (l *Library) List() ([]string, error) {
	var refs []string
	err := filepath.WalkDir(l.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(l.Dir, path)
		if err != nil {
			return err
		}
		refs = append(refs, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(refs)
	return refs, err
}

func (l *Library) invalidate(paths map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for p := range paths {
		delete(l.cache, p)
	}
}

// Watch invalidates cached files when they change on disk. It blocks until
// ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := l.addTree(w, l.Dir); err != nil {
		return err
	}
	logger := l.logger().With(zap.String("dir", l.Dir))
	logger.Info("watching skills directory")

	debounce := l.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := map[string]struct{}{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := l.addTree(w, ev.Name); err != nil {
						logger.Warn("watch new skills subdirectory", zap.String("path", ev.Name), zap.Error(err))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("skills watcher error", zap.Error(err))
		case <-timer.C:
			l.invalidate(pending)
			logger.Debug("skill cache invalidated", zap.Int("files", len(pending)))
			pending = map[string]struct{}{}
		}
	}
}

func (l *Library) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
