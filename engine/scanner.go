package engine

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Moshyfawn/tailwind-serve/artifact"
	"github.com/Moshyfawn/tailwind-serve/build"
)

const maxCandidateLength = 128

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
}

// skipExts are files that never contain candidates.
var skipExts = map[string]bool{
	".css": true, ".scss": true, ".sass": true, ".less": true,
	".lock": true, ".sum": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".avif": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".webm": true, ".wav": true,
	".zip": true, ".gz": true, ".tar": true, ".pdf": true, ".exe": true, ".so": true, ".dylib": true,
	".db": true, ".sqlite": true,
}

var skipFiles = map[string]bool{
	".gitignore":        true,
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
}

// Scanner walks source roots and extracts utility candidates. It implements
// build.Scanner.
type Scanner struct {
	sources []artifact.SourceRoot
	files   []string
}

// NewScanner creates a Scanner over sources.
func NewScanner(sources []artifact.SourceRoot) *Scanner {
	return &Scanner{sources: sources}
}

// Files returns the files read by the last Scan, sorted.
func (s *Scanner) Files() []string {
	return s.files
}

// Scan walks every included root and returns the sorted distinct candidates.
func (s *Scanner) Scan() ([]string, error) {
	var include, exclude []artifact.SourceRoot
	for _, src := range s.sources {
		if src.Negated {
			exclude = append(exclude, src)
		} else {
			include = append(include, src)
		}
	}

	seen := make(map[string]bool)
	for _, src := range include {
		pattern := src.Pattern
		if pattern == "" {
			pattern = autoPattern
		}
		ignore, err := loadIgnore(src.Base)
		if err != nil {
			return nil, fmt.Errorf("reading ignore rules in %s: %w", src.Base, err)
		}
		err = filepath.WalkDir(src.Base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == src.Base {
				// A root naming a single file is scanned as is.
				if !d.IsDir() && !excluded(exclude, path) {
					seen[path] = true
				}
				return nil
			}
			rel, err := filepath.Rel(src.Base, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if skipDirs[d.Name()] || ignore.ignored(rel, true) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || skipFiles[d.Name()] || skipExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if ignore.ignored(rel, false) {
				return nil
			}
			if ok, _ := doublestar.Match(pattern, rel); !ok {
				return nil
			}
			if excluded(exclude, path) {
				return nil
			}
			seen[path] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", src.Base, err)
		}
	}

	s.files = make([]string, 0, len(seen))
	for path := range seen {
		s.files = append(s.files, path)
	}
	sort.Strings(s.files)

	candidates := make(map[string]struct{})
	for _, path := range s.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		Extract(data, candidates)
	}

	out := make([]string, 0, len(candidates))
	for c := range candidates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func excluded(exclude []artifact.SourceRoot, path string) bool {
	for _, src := range exclude {
		rel, err := filepath.Rel(src.Base, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		pattern := src.Pattern
		if pattern == "" {
			pattern = autoPattern
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return true
		}
	}
	return false
}

// Extract adds every class-like token in content to into.
func Extract(content []byte, into map[string]struct{}) {
	fields := bytes.FieldsFunc(content, func(r rune) bool {
		return !isCandidateRune(r)
	})
	for _, f := range fields {
		tok := strings.TrimRight(string(f), ".:/")
		if validCandidate(tok) {
			into[tok] = struct{}{}
		}
	}
}

func isCandidateRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '-', '_', ':', '/', '.', '[', ']', '#', '%':
		return true
	}
	return false
}

func validCandidate(tok string) bool {
	if tok == "" || len(tok) > maxCandidateLength {
		return false
	}
	c := tok[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
		return false
	}
	if strings.HasSuffix(tok, "-") {
		return false
	}
	return strings.Count(tok, "[") == strings.Count(tok, "]")
}

// NewBuilder returns a build.Builder wired to this package's Compiler and
// Scanner.
func NewBuilder() *build.Builder {
	return &build.Builder{
		Compiler: NewCompiler(),
		NewScanner: func(sources []artifact.SourceRoot) build.Scanner {
			return NewScanner(sources)
		},
	}
}
