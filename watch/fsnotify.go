package watch

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ignoredDirs are not watched. They are large and never hold sources.
var ignoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
}

// FSBackend watches directory trees with fsnotify. fsnotify is not
// recursive, so every directory under a root gets its own watch and new
// directories are added as they appear.
type FSBackend struct {
	Logger *log.Logger
}

// Watch implements Backend.
func (b *FSBackend) Watch(root string, events chan<- Event) (io.Closer, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := addTree(w, root); err != nil {
		w.Close()
		return nil, err
	}

	logger := b.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &fsHandle{w: w, done: make(chan struct{}), exited: make(chan struct{}), logger: logger}
	go h.forward(events)
	return h, nil
}

type fsHandle struct {
	w      *fsnotify.Watcher
	logger *log.Logger
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (h *fsHandle) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.w.Close()
		<-h.exited
	})
	return err
}

func (h *fsHandle) forward(events chan<- Event) {
	defer close(h.exited)
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !ignoredDirs[info.Name()] {
					if err := addTree(h.w, ev.Name); err != nil {
						h.logger.Printf("warning: watching new directory %s: %v", ev.Name, err)
					}
				}
			}
			select {
			case events <- Event{Op: ev.Op.String(), Name: ev.Name}:
			case <-h.done:
				return
			}
		case err, ok := <-h.w.Errors:
			if !ok {
				return
			}
			h.logger.Printf("warning: watcher error: %v", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish between listing and watching.
			if path != root && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
