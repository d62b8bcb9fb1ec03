// Package watcher reports changes to loaded mesh files so their slots can be
// reloaded.
package watcher

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls back once per burst of writes to a watched file.
// Directories rather than files are registered with fsnotify so that editors
// replacing a file by rename are still seen.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	log       *log.Logger
	debounce  time.Duration
	mu        sync.Mutex
	callbacks map[string]func(string)
	timers    map[string]*time.Timer
	dirs      map[string]int
	closed    bool
	done      chan struct{}
}

// New creates a watcher and starts its event loop. A nil logger discards
// output.
func New(debounce time.Duration, logger *log.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	fw := &FileWatcher{
		watcher:   w,
		log:       logger,
		debounce:  debounce,
		callbacks: make(map[string]func(string)),
		timers:    make(map[string]*time.Timer),
		dirs:      make(map[string]int),
		done:      make(chan struct{}),
	}
	go fw.loop()
	return fw, nil
}

// Watch registers callback for file, replacing any earlier callback for it.
// callback receives the absolute path.
func (fw *FileWatcher) Watch(file string, callback func(string)) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", file, err)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return fmt.Errorf("watch %s: watcher closed", abs)
	}
	if _, ok := fw.callbacks[abs]; !ok {
		dir := filepath.Dir(abs)
		if fw.dirs[dir] == 0 {
			if err := fw.watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
		}
		fw.dirs[dir]++
	}
	fw.callbacks[abs] = callback
	fw.log.Debug("watching file", "path", abs)
	return nil
}

// Unwatch stops reporting changes to file. Unknown files are ignored.
func (fw *FileWatcher) Unwatch(file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", file, err)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.callbacks[abs]; !ok {
		return nil
	}
	delete(fw.callbacks, abs)
	if t, ok := fw.timers[abs]; ok {
		t.Stop()
		delete(fw.timers, abs)
	}
	dir := filepath.Dir(abs)
	fw.dirs[dir]--
	if fw.dirs[dir] <= 0 {
		delete(fw.dirs, dir)
		if !fw.closed {
			if err := fw.watcher.Remove(dir); err != nil {
				return fmt.Errorf("failed to unwatch %s: %w", dir, err)
			}
		}
	}
	return nil
}

// Watched returns the absolute paths currently watched.
func (fw *FileWatcher) Watched() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]string, 0, len(fw.callbacks))
	for p := range fw.callbacks {
		out = append(out, p)
	}
	return out
}

func (fw *FileWatcher) loop() {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fw.changed(event.Name)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn("watcher error", "err", err)
		}
	}
}

func (fw *FileWatcher) changed(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.callbacks[path]; !ok || fw.closed {
		return
	}
	if t, ok := fw.timers[path]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		if fw.timers[path] != timer {
			// superseded by a later change
			fw.mu.Unlock()
			return
		}
		delete(fw.timers, path)
		callback, still := fw.callbacks[path]
		closed := fw.closed
		fw.mu.Unlock()
		if still && !closed {
			fw.log.Debug("file changed", "path", path)
			callback(path)
		}
	})
	fw.timers[path] = timer
}

// Close stops the watcher and cancels pending callbacks.
func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	for p, t := range fw.timers {
		t.Stop()
		delete(fw.timers, p)
	}
	fw.mu.Unlock()

	err := fw.watcher.Close()
	<-fw.done
	return err
}
