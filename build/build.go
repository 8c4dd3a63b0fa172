// Package build runs one full compile pass: read the stylesheet, compile it,
// scan its source roots for candidates and render the final CSS.
package build

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/Moshyfawn/tailwind-serve/artifact"
)

// DefaultSource is the stylesheet path used when none is configured.
const DefaultSource = "src/styles.css"

var ErrSourceNotFound = errors.New("stylesheet not found")

// CompileError is returned by a Compiler that rejects a stylesheet.
type CompileError struct {
	File   string
	Line   int
	Column int
	Reason string
}

func (e *CompileError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "<stylesheet>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, e.Line, e.Column)
	}
	return fmt.Sprintf("compile %s: %s", loc, e.Reason)
}

// CompileOptions is passed to the Compiler.
type CompileOptions struct {
	// Base is the project root; @source paths and automatic source
	// detection are relative to it.
	Base string
	// From is the stylesheet path; relative imports resolve against its
	// directory.
	From string
	// OnDependency is called for every auxiliary file the compiler reads.
	OnDependency func(path string)
}

// Compiler turns stylesheet text into a Compiled stylesheet.
type Compiler interface {
	Compile(stylesheet string, opts CompileOptions) (Compiled, error)
}

// Compiled is a parsed stylesheet ready to render for a candidate list.
type Compiled interface {
	Sources() []artifact.SourceRoot
	Build(candidates []string) string
}

// Scanner enumerates candidates from source roots.
type Scanner interface {
	Scan() ([]string, error)
	Files() []string
}

// ScannerFactory creates a Scanner over the given roots.
type ScannerFactory func(sources []artifact.SourceRoot) Scanner

// Options identifies the stylesheet to build.
type Options struct {
	Source string
	Base   string
}

// Resolve fills in defaults and returns absolute paths.
func (o Options) Resolve() (Options, error) {
	if o.Source == "" {
		o.Source = DefaultSource
	}
	if o.Base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return o, fmt.Errorf("resolving working directory: %w", err)
		}
		o.Base = wd
	}
	base, err := filepath.Abs(o.Base)
	if err != nil {
		return o, fmt.Errorf("resolving base: %w", err)
	}
	o.Base = base
	if !filepath.IsAbs(o.Source) {
		o.Source = filepath.Join(o.Base, o.Source)
	}
	o.Source = filepath.Clean(o.Source)
	return o, nil
}

// Builder performs compile passes with a fixed Compiler and Scanner.
type Builder struct {
	Compiler   Compiler
	NewScanner ScannerFactory
}

// Once runs a full compile pass. It has no side effects beyond file reads.
func (b *Builder) Once(ctx context.Context, opts Options) (*artifact.Artifact, error) {
	start := time.Now()

	opts, err := opts.Resolve()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(opts.Source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, opts.Source)
		}
		return nil, fmt.Errorf("reading stylesheet: %w", err)
	}

	deps := []string{opts.Source}
	seen := map[string]bool{opts.Source: true}

	compiled, err := b.Compiler.Compile(string(data), CompileOptions{
		Base: opts.Base,
		From: opts.Source,
		OnDependency: func(path string) {
			path = filepath.Clean(path)
			if !seen[path] {
				seen[path] = true
				deps = append(deps, path)
			}
		},
	})
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) && ce.File == "" {
			ce.File = opts.Source
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sources := compiled.Sources()
	sc := b.NewScanner(sources)
	candidates, err := sc.Scan()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	css := compiled.Build(candidates)
	files := sc.Files()

	return &artifact.Artifact{
		Content:        css,
		CandidateCount: len(candidates),
		FileCount:      len(files),
		SourceRoots:    sources,
		Extensions:     Extensions(files),
		Dependencies:   deps,
		Digest:         Digest(css),
		BuildID:        uuid.NewString(),
		Duration:       time.Since(start),
	}, nil
}

// Extensions returns the sorted distinct extensions of files, without the
// leading dot. Files with no extension are skipped.
func Extensions(files []string) []string {
	set := make(map[string]struct{})
	for _, f := range files {
		ext := strings.TrimPrefix(filepath.Ext(f), ".")
		if ext == "" {
			continue
		}
		set[ext] = struct{}{}
	}
	exts := make([]string, 0, len(set))
	for ext := range set {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Digest computes the BLAKE3 hash of css as a hex string.
func Digest(css string) string {
	sum := blake3.Sum256([]byte(css))
	return hex.EncodeToString(sum[:])
}
