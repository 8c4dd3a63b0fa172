// Package jit serves a just-in-time compiled stylesheet. A Server compiles
// once at startup, keeps the result fresh in development by watching its
// sources, and builds HTTP responses from whatever artifact is current.
package jit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Moshyfawn/tailwind-serve/artifact"
	"github.com/Moshyfawn/tailwind-serve/build"
	"github.com/Moshyfawn/tailwind-serve/config"
	"github.com/Moshyfawn/tailwind-serve/engine"
	"github.com/Moshyfawn/tailwind-serve/watch"
)

var (
	// ErrStartupCompile means the first compile failed; nothing is served.
	ErrStartupCompile = errors.New("startup compile failed")
	// ErrForcedRebuild means a requested rebuild failed; the current
	// artifact is unchanged.
	ErrForcedRebuild = errors.New("forced rebuild failed")
	// ErrWatchArming means watches could not be registered in development.
	ErrWatchArming = errors.New("arming watches failed")
)

// Cache-Control values by mode.
const (
	CacheDevelopment = "no-cache"
	CacheProduction  = "public, max-age=31536000, immutable"
)

// State is the lifecycle state of a Server.
type State int32

const (
	Starting State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Trigger says what caused a build attempt.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerWatch   Trigger = "watch"
	TriggerManual  Trigger = "manual"
)

// Event describes one build attempt. Artifact is nil when Err is set.
type Event struct {
	ID       string
	Trigger  Trigger
	Started  time.Time
	Duration time.Duration
	Artifact *artifact.Artifact
	Err      error
}

// Options configures a Server. Only Source and Base are required in
// practice; the collaborators default to the built-in engine and fsnotify.
type Options struct {
	Source string
	Base   string
	Mode   config.Mode
	// Quiet is the debounce period for background rebuilds.
	Quiet time.Duration

	Compiler     build.Compiler
	NewScanner   build.ScannerFactory
	WatchBackend watch.Backend

	Logger *log.Logger
	// OnBuild is called after every build attempt, on the goroutine that
	// performed it.
	OnBuild func(Event)
}

// Response is a ready-to-write stylesheet response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Server owns the current artifact and the machinery that keeps it fresh.
type Server struct {
	build   build.Options
	builder *build.Builder
	mode    config.Mode
	logger  *log.Logger
	onBuild func(Event)

	cell  *artifact.Cell
	coord *watch.Coordinator
	armMu sync.Mutex

	state        atomic.Int32
	shutdownOnce sync.Once
}

// New compiles the stylesheet and, in development, arms watches on the
// roots the compile reported. It fails if either step fails; there is no
// server without an artifact.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Compiler == nil {
		opts.Compiler = engine.NewCompiler()
	}
	if opts.NewScanner == nil {
		opts.NewScanner = func(sources []artifact.SourceRoot) build.Scanner {
			return engine.NewScanner(sources)
		}
	}
	if opts.WatchBackend == nil {
		opts.WatchBackend = &watch.FSBackend{Logger: opts.Logger}
	}

	resolved, err := build.Options{Source: opts.Source, Base: opts.Base}.Resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartupCompile, err)
	}

	s := &Server{
		build:   resolved,
		builder: &build.Builder{Compiler: opts.Compiler, NewScanner: opts.NewScanner},
		mode:    opts.Mode,
		logger:  opts.Logger,
		onBuild: opts.OnBuild,
	}
	s.state.Store(int32(Starting))

	a, builtAt, err := s.compile(ctx, TriggerStartup)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartupCompile, err)
	}
	s.cell = artifact.NewCell(a, builtAt)
	s.logger.Printf("built %s: %d candidates from %d files in %v", s.build.Source, a.CandidateCount, a.FileCount, a.Duration)

	if s.mode == config.Development {
		s.coord = watch.NewCoordinator(watch.Config{
			Backend:  opts.WatchBackend,
			Quiet:    opts.Quiet,
			OnChange: s.backgroundRebuild,
			Logger:   s.logger,
		})
		if err := s.coord.Arm(a); err != nil {
			s.coord.Close()
			return nil, fmt.Errorf("%w: %w", ErrWatchArming, err)
		}
	}

	s.state.Store(int32(Ready))
	return s, nil
}

// compile runs one build, makes a successful result current and reports
// the attempt through OnBuild. The cell is nil only during startup.
func (s *Server) compile(ctx context.Context, trigger Trigger) (*artifact.Artifact, time.Time, error) {
	started := time.Now()
	a, err := s.builder.Once(ctx, s.build)
	builtAt := time.Now()

	if err == nil && s.cell != nil {
		s.cell.Replace(a, builtAt)
	}

	if s.onBuild != nil {
		ev := Event{
			ID:       uuid.NewString(),
			Trigger:  trigger,
			Started:  started,
			Duration: builtAt.Sub(started),
			Artifact: a,
			Err:      err,
		}
		if a != nil {
			ev.ID = a.BuildID
		}
		s.onBuild(ev)
	}
	return a, builtAt, err
}

// backgroundRebuild runs on the debouncer goroutine. Failures are logged
// and the previous artifact stays current.
func (s *Server) backgroundRebuild() {
	if s.State() == Closed {
		return
	}
	a, _, err := s.compile(context.Background(), TriggerWatch)
	if err != nil {
		s.logger.Printf("warning: background rebuild failed, keeping last good build: %v", err)
		return
	}
	s.logger.Printf("rebuilt %s: %d candidates from %d files in %v", s.build.Source, a.CandidateCount, a.FileCount, a.Duration)
	s.rearm()
}

// rearm points the watches at the current artifact. Re-arms are serialized
// and always read the cell, so the watch set follows the artifact being
// served even when forced and background rebuilds finish out of order.
func (s *Server) rearm() {
	if s.coord == nil {
		return
	}
	s.armMu.Lock()
	defer s.armMu.Unlock()
	if err := s.coord.Arm(s.cell.Load().Artifact); err != nil {
		s.logger.Printf("warning: re-arming watches: %v", err)
	}
}

// CurrentContent returns the CSS of the current artifact.
func (s *Server) CurrentContent() string {
	return s.cell.Load().Artifact.Content
}

// Current returns the current artifact and its build time.
func (s *Server) Current() *artifact.Snapshot {
	return s.cell.Load()
}

// BuildResponse returns a 200 response for the current artifact with
// caching headers for the server's mode.
func (s *Server) BuildResponse() *Response {
	snap := s.cell.Load()

	h := make(http.Header)
	h.Set("Content-Type", "text/css; charset=utf-8")
	h.Set("Last-Modified", snap.LastModified.UTC().Format(http.TimeFormat))
	h.Set("ETag", ETag(snap.Artifact))
	if s.mode == config.Production {
		h.Set("Cache-Control", CacheProduction)
	} else {
		h.Set("Cache-Control", CacheDevelopment)
	}

	return &Response{
		Status: http.StatusOK,
		Header: h,
		Body:   []byte(snap.Artifact.Content),
	}
}

// ETag returns the strong entity tag for a.
func ETag(a *artifact.Artifact) string {
	d := a.Digest
	if len(d) > 32 {
		d = d[:32]
	}
	return `"` + d + `"`
}

// ForceRebuild compiles immediately, bypassing the debouncer, and makes
// the result current. It works in either mode and after Shutdown. On
// failure the current artifact is unchanged.
func (s *Server) ForceRebuild(ctx context.Context) (artifact.Summary, error) {
	a, err := s.Rebuild(ctx)
	if err != nil {
		return artifact.Summary{}, err
	}
	return a.Summary(), nil
}

// Rebuild is ForceRebuild returning the full artifact.
func (s *Server) Rebuild(ctx context.Context) (*artifact.Artifact, error) {
	a, _, err := s.compile(ctx, TriggerManual)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForcedRebuild, err)
	}
	if s.State() != Closed {
		s.rearm()
	}
	return a, nil
}

// Shutdown releases watch resources. The last artifact remains servable.
// Calling it more than once is harmless.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.state.Store(int32(Closed))
		if s.coord != nil {
			err = s.coord.Close()
		}
	})
	return err
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Mode returns the mode fixed at construction.
func (s *Server) Mode() config.Mode {
	return s.mode
}

// WatchedRoots returns the currently watched directories; none in
// production or after Shutdown.
func (s *Server) WatchedRoots() []string {
	if s.coord == nil {
		return nil
	}
	return s.coord.Registrations()
}

// Source returns the resolved stylesheet path.
func (s *Server) Source() string {
	return s.build.Source
}
