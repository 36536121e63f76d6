package script

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads and optionally hot-reloads script definitions from YAML files.
type Loader struct {
	dir string

	mu      sync.RWMutex
	scripts map[string]*Definition
}

// NewLoader creates a new script loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:     dir,
		scripts: make(map[string]*Definition),
	}
}

// LoadAll loads all .yaml and .yml files from the configured directory. On
// error the previously loaded set stays in place.
func (l *Loader) LoadAll() (map[string]*Definition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read script dir %q: %w", l.dir, err)
	}

	result := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		d, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		if _, dup := result[d.Name]; dup {
			return nil, fmt.Errorf("load %q: script %q already defined", path, d.Name)
		}
		result[d.Name] = d
	}

	l.mu.Lock()
	l.scripts = result
	l.mu.Unlock()

	return result, nil
}

// Get returns a loaded script by name.
func (l *Loader) Get(name string) (*Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.scripts[name]
	return d, ok
}

// Names returns the names of all loaded scripts in order.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.scripts))
	for k := range l.scripts {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func loadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if d.Name == "" {
		d.Name = filepath.Base(path)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// WatchAndReload starts watching the script directory for changes and
// reloads. This blocks until the done channel is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if _, err := l.LoadAll(); err != nil {
					slog.Warn("script reload failed, keeping previous set",
						slog.String("dir", l.dir), slog.String("error", err.Error()))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
