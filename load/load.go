// Package load reads schema definitions from YAML or JSON files and builds
// entity graphs from them. Watch rebuilds the graph whenever the file
// changes on disk, for dev-loop schema editing.
package load

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/weftlabs/weft/graph"
)

// File reads the schema file at path and builds its graph. YAML and JSON
// are both accepted; JSON is a YAML subset.
func File(path string) (*graph.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load: reading %s: %w", path, err)
	}
	g, err := Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("load: %s: %w", path, err)
	}
	return g, nil
}

// Bytes builds a graph from raw YAML or JSON schema text.
func Bytes(raw []byte) (*graph.Graph, error) {
	var schema map[string]any
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return graph.Build(schema)
}

// A Watcher rebuilds a schema file's graph on every change.
type Watcher struct {
	fw     *fsnotify.Watcher
	path   string
	logger *slog.Logger
	done   chan struct{}
}

// A WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithLogger sets the watcher logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// Watch loads the schema at path and invokes onReload with the rebuilt
// graph (or the build error) after each write to the file. Watching the
// parent directory instead of the file itself survives the rename-replace
// dance editors do on save.
func Watch(path string, onReload func(*graph.Graph, error), opts ...WatchOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("load: watching %s: %w", path, err)
	}
	w := &Watcher{
		fw:     fw,
		path:   filepath.Clean(path),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("load: watching %s: %w", path, err)
	}
	go w.run(onReload)
	return w, nil
}

func (w *Watcher) run(onReload func(*graph.Graph, error)) {
	// Editors fire bursts of events per save; a short debounce collapses
	// them into one reload.
	const debounce = 50 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			onReload(File(w.path))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("schema watch error", "path", w.path, "error", err)
		}
	}
}

// Close stops watching. It is safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
