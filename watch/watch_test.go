package watch

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Moshyfawn/tailwind-serve/artifact"
)

func TestDebouncerCollapsesBurst(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Notify()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	if got := fires.Load(); got != 1 {
		t.Errorf("expected 1 fire, got %d", got)
	}
}

func TestDebouncerSeparateBursts(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fires.Add(1) })
	defer d.Stop()

	d.Notify()
	time.Sleep(100 * time.Millisecond)
	d.Notify()
	time.Sleep(100 * time.Millisecond)

	if got := fires.Load(); got != 2 {
		t.Errorf("expected 2 fires, got %d", got)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var fires atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { fires.Add(1) })

	d.Notify()
	d.Stop()
	d.Stop()
	<-d.Done()
	time.Sleep(100 * time.Millisecond)

	if got := fires.Load(); got != 0 {
		t.Errorf("expected no fire after Stop, got %d", got)
	}
}

func TestDebouncerFiresDoNotOverlap(t *testing.T) {
	var running, overlaps atomic.Int32
	d := NewDebouncer(5*time.Millisecond, func() {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
	})
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Notify()
		time.Sleep(3 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if overlaps.Load() != 0 {
		t.Error("onFire calls overlapped")
	}
}

// fakeBackend records registrations and lets tests inject events.
type fakeBackend struct {
	mu      sync.Mutex
	events  chan<- Event
	active  map[string]bool
	watched []string
	closed  []string
	fail    map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{active: make(map[string]bool), fail: make(map[string]bool)}
}

func (b *fakeBackend) Watch(root string, events chan<- Event) (io.Closer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[root] {
		return nil, os.ErrNotExist
	}
	b.events = events
	b.active[root] = true
	b.watched = append(b.watched, root)
	return closerFunc(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.active, root)
		b.closed = append(b.closed, root)
		return nil
	}), nil
}

func (b *fakeBackend) send(ev Event) {
	b.mu.Lock()
	ch := b.events
	b.mu.Unlock()
	ch <- ev
}

func (b *fakeBackend) activeRoots() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var roots []string
	for r := range b.active {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testArtifact(dir string, exts ...string) *artifact.Artifact {
	return &artifact.Artifact{
		SourceRoots:  []artifact.SourceRoot{{Base: dir, Pattern: "**/*"}},
		Extensions:   exts,
		Dependencies: []string{filepath.Join(dir, "src", "styles.css")},
	}
}

func TestCoordinatorFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	var changes atomic.Int32
	c := NewCoordinator(Config{
		Backend:  backend,
		Quiet:    20 * time.Millisecond,
		OnChange: func() { changes.Add(1) },
		Logger:   quietLogger(),
	})
	defer c.Close()

	if err := c.Arm(testArtifact(dir, "html")); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "notes.txt")})
	backend.send(Event{Op: "WRITE", Name: ""})
	time.Sleep(80 * time.Millisecond)
	if got := changes.Load(); got != 0 {
		t.Fatalf("non-qualifying events caused %d changes", got)
	}

	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "index.html")})
	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "index.html")})
	backend.send(Event{Op: "CREATE", Name: filepath.Join(dir, "about.html")})
	time.Sleep(80 * time.Millisecond)
	if got := changes.Load(); got != 1 {
		t.Fatalf("expected one debounced change, got %d", got)
	}

	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "src", "styles.css")})
	time.Sleep(80 * time.Millisecond)
	if got := changes.Load(); got != 2 {
		t.Fatalf("dependency edit should schedule a change, got %d", got)
	}
}

func TestCoordinatorRearmDiff(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	backend := newFakeBackend()
	c := NewCoordinator(Config{Backend: backend, Logger: quietLogger()})
	defer c.Close()

	first := &artifact.Artifact{SourceRoots: []artifact.SourceRoot{{Base: a, Pattern: "**/*"}}}
	if err := c.Arm(first); err != nil {
		t.Fatal(err)
	}
	if err := c.Arm(first); err != nil {
		t.Fatal(err)
	}
	if len(backend.watched) != 1 {
		t.Errorf("re-arming with the same roots should not re-register, got %v", backend.watched)
	}

	second := &artifact.Artifact{SourceRoots: []artifact.SourceRoot{{Base: b, Pattern: "**/*"}}}
	if err := c.Arm(second); err != nil {
		t.Fatal(err)
	}
	if got := backend.activeRoots(); len(got) != 1 || got[0] != b {
		t.Errorf("expected only %s active, got %v", b, got)
	}
	if got := c.Registrations(); len(got) != 1 || got[0] != b {
		t.Errorf("unexpected registrations %v", got)
	}
}

func TestCoordinatorArmError(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	backend.fail[dir] = true
	c := NewCoordinator(Config{Backend: backend, Logger: quietLogger()})
	defer c.Close()

	err := c.Arm(&artifact.Artifact{SourceRoots: []artifact.SourceRoot{{Base: dir}}})
	if err == nil || !strings.Contains(err.Error(), dir) {
		t.Errorf("expected error naming %s, got %v", dir, err)
	}
}

func TestCoordinatorArmFailureKeepsWatches(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	bad := filepath.Join(base, "c")
	d := filepath.Join(base, "d")
	backend := newFakeBackend()
	backend.fail[bad] = true
	var changes atomic.Int32
	c := NewCoordinator(Config{
		Backend:  backend,
		Quiet:    20 * time.Millisecond,
		OnChange: func() { changes.Add(1) },
		Logger:   quietLogger(),
	})
	defer c.Close()

	first := &artifact.Artifact{
		SourceRoots: []artifact.SourceRoot{{Base: a, Pattern: "**/*"}},
		Extensions:  []string{"html"},
	}
	if err := c.Arm(first); err != nil {
		t.Fatal(err)
	}

	second := &artifact.Artifact{
		SourceRoots: []artifact.SourceRoot{
			{Base: b, Pattern: "**/*"},
			{Base: bad, Pattern: "**/*"},
			{Base: d, Pattern: "**/*"},
		},
		Extensions: []string{"tsx"},
	}
	err := c.Arm(second)
	if err == nil || !strings.Contains(err.Error(), bad) {
		t.Fatalf("expected error naming %s, got %v", bad, err)
	}
	if got := backend.activeRoots(); len(got) != 1 || got[0] != a {
		t.Errorf("failed Arm should leave only %s active, got %v", a, got)
	}
	if got := c.Registrations(); len(got) != 1 || got[0] != a {
		t.Errorf("unexpected registrations %v", got)
	}

	// The previous filters still apply.
	backend.send(Event{Op: "WRITE", Name: filepath.Join(a, "index.html")})
	time.Sleep(80 * time.Millisecond)
	if got := changes.Load(); got != 1 {
		t.Errorf("expected the old filter to qualify html, got %d changes", got)
	}

	// Once the failing root is dropped every other new root is registered.
	second.SourceRoots = []artifact.SourceRoot{{Base: b, Pattern: "**/*"}, {Base: d, Pattern: "**/*"}}
	if err := c.Arm(second); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if got := backend.activeRoots(); strings.Join(got, ",") != b+","+d {
		t.Errorf("expected %s and %s active, got %v", b, d, got)
	}
}

func TestCoordinatorCloseWaitsForChange(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	started := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	c := NewCoordinator(Config{
		Backend: backend,
		Quiet:   10 * time.Millisecond,
		OnChange: func() {
			once.Do(func() { close(started) })
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		},
		Logger: quietLogger(),
	})
	if err := c.Arm(testArtifact(dir, "html")); err != nil {
		t.Fatal(err)
	}

	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "index.html")})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("change never fired")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !finished.Load() {
		t.Error("Close returned while a change callback was still running")
	}
}

func TestCoordinatorClose(t *testing.T) {
	dir := t.TempDir()
	backend := newFakeBackend()
	var changes atomic.Int32
	c := NewCoordinator(Config{
		Backend:  backend,
		Quiet:    30 * time.Millisecond,
		OnChange: func() { changes.Add(1) },
		Logger:   quietLogger(),
	})
	if err := c.Arm(testArtifact(dir, "html")); err != nil {
		t.Fatal(err)
	}

	backend.send(Event{Op: "WRITE", Name: filepath.Join(dir, "index.html")})
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if got := changes.Load(); got != 0 {
		t.Errorf("pending change fired after Close: %d", got)
	}
	if roots := backend.activeRoots(); len(roots) != 0 {
		t.Errorf("registrations left open: %v", roots)
	}
	if err := c.Arm(testArtifact(dir, "html")); err != nil {
		t.Errorf("Arm after Close should be a no-op, got %v", err)
	}
	if roots := backend.activeRoots(); len(roots) != 0 {
		t.Errorf("Arm after Close registered %v", roots)
	}
}

func TestCloseNeverArmed(t *testing.T) {
	c := NewCoordinator(Config{Backend: newFakeBackend(), Logger: quietLogger()})
	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRoots(t *testing.T) {
	a := &artifact.Artifact{
		SourceRoots: []artifact.SourceRoot{
			{Base: "/p", Pattern: "**/*"},
			{Base: "/p/app", Pattern: "**/*.tsx"},
			{Base: "/shared", Pattern: "**/*"},
			{Base: "/p/legacy", Negated: true},
			{Base: "/pkg", Pattern: "**/*"},
		},
		Dependencies: []string{"/p/src/styles.css", "/styles/base.css"},
	}
	got, err := Roots(a)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/p", "/pkg", "/shared", "/styles"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Roots = %v, want %v", got, want)
	}
}

func TestRootsSingleFile(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "pages", "index.html")
	if err := os.MkdirAll(filepath.Dir(page), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(page, []byte("<p>"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Roots(&artifact.Artifact{
		SourceRoots:  []artifact.SourceRoot{{Base: page, Pattern: "**/*"}},
		Dependencies: []string{filepath.Join(dir, "src", "styles.css")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "pages"), filepath.Join(dir, "src")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Roots = %v, want %v", got, want)
	}
}

func TestFSBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0755); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	events := make(chan Event, 64)
	h, err := (&FSBackend{Logger: log.New(&logs, "", 0)}).Watch(dir, events)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer h.Close()

	target := filepath.Join(dir, "index.html")
	if err := os.WriteFile(target, []byte("<p>"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name == target {
				if err := h.Close(); err != nil {
					t.Errorf("Close failed: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestFSBackendNewDirectory(t *testing.T) {
	dir := t.TempDir()
	events := make(chan Event, 64)
	h, err := (&FSBackend{Logger: quietLogger()}).Watch(dir, events)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer h.Close()

	sub := filepath.Join(dir, "components")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(sub, "card.html")

	// The new directory is added asynchronously, so keep writing until an
	// event for the nested file arrives.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Name == target {
				return
			}
		case <-tick.C:
			if err := os.WriteFile(target, []byte("<div class=\"card\">"), 0644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for an event inside the new directory")
		}
	}
}

func TestFSBackendMissingRoot(t *testing.T) {
	_, err := (&FSBackend{}).Watch(filepath.Join(t.TempDir(), "missing"), make(chan Event))
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}
