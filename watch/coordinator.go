package watch

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Moshyfawn/tailwind-serve/artifact"
)

// DefaultQueueSize bounds the event channel between backends and the
// filter loop.
const DefaultQueueSize = 256

// Event is a raw filesystem event.
type Event struct {
	Op   string
	Name string
}

// Backend registers a recursive watch on root and delivers its events to
// events until the returned handle is closed.
type Backend interface {
	Watch(root string, events chan<- Event) (io.Closer, error)
}

// Registration is a live watch on one root.
type Registration struct {
	Root   string
	handle io.Closer
}

// Config configures a Coordinator.
type Config struct {
	Backend Backend
	// Quiet is the debounce period; DefaultQuiet when zero.
	Quiet time.Duration
	// OnChange is called once per quiet burst of qualifying events.
	OnChange  func()
	Logger    *log.Logger
	QueueSize int
}

// Coordinator arms watches for an artifact's source roots and turns
// qualifying events into debounced OnChange calls.
type Coordinator struct {
	backend   Backend
	logger    *log.Logger
	events    chan Event
	debouncer *Debouncer

	mu     sync.Mutex
	regs   map[string]*Registration
	exts   map[string]bool
	deps   map[string]bool
	closed bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator. No watches exist until Arm.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	c := &Coordinator{
		backend: cfg.Backend,
		logger:  cfg.Logger,
		events:  make(chan Event, cfg.QueueSize),
		regs:    make(map[string]*Registration),
		exts:    make(map[string]bool),
		deps:    make(map[string]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.debouncer = NewDebouncer(cfg.Quiet, cfg.OnChange)
	go c.filterLoop()
	return c
}

// Arm brings the watched roots and filters in line with a. New roots are
// registered first; if any registration fails the ones just added are
// released and the previous watches and filters stay in place. Only then
// are roots that are no longer needed released. Arm after Close does
// nothing.
func (c *Coordinator) Arm(a *artifact.Artifact) error {
	roots, err := Roots(a)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	var added []string
	for _, root := range roots {
		if _, ok := c.regs[root]; ok {
			continue
		}
		h, err := c.backend.Watch(root, c.events)
		if err != nil {
			for _, r := range added {
				c.regs[r].handle.Close()
				delete(c.regs, r)
			}
			return fmt.Errorf("watching %s: %w", root, err)
		}
		c.regs[root] = &Registration{Root: root, handle: h}
		added = append(added, root)
	}

	want := make(map[string]bool, len(roots))
	for _, root := range roots {
		want[root] = true
	}
	for root, reg := range c.regs {
		if want[root] {
			continue
		}
		if err := reg.handle.Close(); err != nil {
			c.logger.Printf("warning: releasing watch on %s: %v", root, err)
		}
		delete(c.regs, root)
		c.logger.Printf("stopped watching %s", root)
	}
	for _, root := range added {
		c.logger.Printf("watching %s", root)
	}

	exts := make(map[string]bool, len(a.Extensions))
	for _, ext := range a.Extensions {
		exts[ext] = true
	}
	deps := make(map[string]bool, len(a.Dependencies))
	for _, dep := range a.Dependencies {
		deps[filepath.Clean(dep)] = true
	}
	c.exts = exts
	c.deps = deps
	return nil
}

// Registrations returns the sorted watched roots.
func (c *Coordinator) Registrations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	roots := make([]string, 0, len(c.regs))
	for root := range c.regs {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Close releases every registration and stops debouncing. A change
// callback that is already running is waited for. It is safe to call more
// than once and on a coordinator that was never armed.
func (c *Coordinator) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for root, reg := range c.regs {
			if err := reg.handle.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("releasing watch on %s: %w", root, err)
			}
			delete(c.regs, root)
		}
		c.mu.Unlock()

		c.debouncer.Stop()
		<-c.debouncer.Done()
		close(c.stop)
		<-c.done
	})
	return firstErr
}

func (c *Coordinator) filterLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.events:
			if c.qualifies(ev) {
				c.debouncer.Notify()
			}
		}
	}
}

// qualifies reports whether ev should schedule a rebuild: it must name a
// file that is either a stylesheet dependency or has a relevant extension.
func (c *Coordinator) qualifies(ev Event) bool {
	if ev.Name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deps[filepath.Clean(ev.Name)] {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(ev.Name), ".")
	return ext != "" && c.exts[ext]
}

// Roots returns the distinct directories to watch for a: every included
// source root plus the directories of its dependencies. A root naming a
// single file is watched through its directory. Roots nested inside
// another root are dropped since watches are recursive.
func Roots(a *artifact.Artifact) ([]string, error) {
	var dirs []string
	for _, src := range a.SourceRoots {
		if src.Negated {
			continue
		}
		dir := src.Base
		if info, err := os.Stat(dir); err == nil && info.Mode().IsRegular() {
			dir = filepath.Dir(dir)
		}
		dirs = append(dirs, dir)
	}
	for _, dep := range a.Dependencies {
		dirs = append(dirs, filepath.Dir(dep))
	}

	abs := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		p, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", dir, err)
		}
		abs = append(abs, p)
	}
	sort.Strings(abs)

	var roots []string
	for _, dir := range abs {
		if len(roots) > 0 && within(roots[len(roots)-1], dir) {
			continue
		}
		roots = append(roots, dir)
	}
	return roots, nil
}

// within reports whether path is root or lies beneath it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
