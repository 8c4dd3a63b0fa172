// Package engine is a compact utility-first stylesheet compiler and source
// scanner. It understands the directive subset used by tailwind-style
// stylesheets (@import "tailwindcss", @source, @tailwind utilities and
// @theme) and renders utilities for the candidates found in source files.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/css/scanner"

	"github.com/Moshyfawn/tailwind-serve/artifact"
	"github.com/Moshyfawn/tailwind-serve/build"
)

const autoPattern = "**/*"

// Compiler implements build.Compiler.
type Compiler struct{}

// NewCompiler creates a Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// chunk is either literal CSS or the insertion point for utilities.
type chunk struct {
	text      string
	utilities bool
}

// Stylesheet is a compiled stylesheet. It implements build.Compiled.
type Stylesheet struct {
	chunks  []chunk
	sources []artifact.SourceRoot
	theme   *theme
}

// Compile parses stylesheet text, resolving imports and collecting sources.
func (c *Compiler) Compile(text string, opts build.CompileOptions) (build.Compiled, error) {
	p := &parser{
		opts:     opts,
		theme:    newTheme(),
		visiting: make(map[string]bool),
	}
	if opts.From != "" {
		p.visiting[filepath.Clean(opts.From)] = true
	}

	dir := opts.Base
	if opts.From != "" {
		dir = filepath.Dir(opts.From)
	}
	if err := p.parse(text, opts.From, dir); err != nil {
		return nil, err
	}

	sheet := &Stylesheet{
		chunks: p.chunks,
		theme:  p.theme,
	}
	if p.tailwind && !p.autoNone {
		root := opts.Base
		if p.autoRoot != "" {
			root = p.autoRoot
		}
		sheet.addSource(artifact.SourceRoot{Base: root, Pattern: autoPattern})
	}
	for _, s := range p.sources {
		sheet.addSource(s)
	}
	return sheet, nil
}

func (s *Stylesheet) addSource(src artifact.SourceRoot) {
	for _, existing := range s.sources {
		if existing == src {
			return
		}
	}
	s.sources = append(s.sources, src)
}

// Sources returns the source roots the stylesheet depends on, in
// declaration order with automatic detection first.
func (s *Stylesheet) Sources() []artifact.SourceRoot {
	out := make([]artifact.SourceRoot, len(s.sources))
	copy(out, s.sources)
	return out
}

// Build renders the stylesheet with utilities for the given candidates.
func (s *Stylesheet) Build(candidates []string) string {
	utilities := s.theme.render(candidates)

	var sb strings.Builder
	for _, ch := range s.chunks {
		if ch.utilities {
			sb.WriteString(utilities)
			continue
		}
		sb.WriteString(ch.text)
	}
	return sb.String()
}

type parser struct {
	opts     build.CompileOptions
	theme    *theme
	chunks   []chunk
	sources  []artifact.SourceRoot
	visiting map[string]bool

	tailwind    bool // utilities were requested
	placeholder bool // an explicit insertion point exists
	autoNone    bool
	autoRoot    string
}

func (p *parser) errorf(file string, tok *scanner.Token, format string, args ...interface{}) error {
	e := &build.CompileError{File: file, Reason: fmt.Sprintf(format, args...)}
	if tok != nil {
		e.Line = tok.Line
		e.Column = tok.Column
	}
	return e
}

func (p *parser) emit(text string) {
	if text == "" {
		return
	}
	if n := len(p.chunks); n > 0 && !p.chunks[n-1].utilities {
		p.chunks[n-1].text += text
		return
	}
	p.chunks = append(p.chunks, chunk{text: text})
}

func (p *parser) emitUtilities() {
	p.tailwind = true
	if p.placeholder {
		return
	}
	p.placeholder = true
	p.chunks = append(p.chunks, chunk{utilities: true})
}

// parse tokenizes text and handles top-level directives. file is used for
// error messages and dir for resolving relative imports.
func (p *parser) parse(text, file, dir string) error {
	s := scanner.New(text)
	depth := 0

	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			if depth > 0 {
				return p.errorf(file, tok, "unclosed block")
			}
			return nil
		case scanner.TokenError:
			return p.errorf(file, tok, "%s", tok.Value)
		case scanner.TokenChar:
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth < 0 {
					return p.errorf(file, tok, "unexpected }")
				}
			}
			p.emit(tok.Value)
		case scanner.TokenAtKeyword:
			if depth > 0 {
				p.emit(tok.Value)
				continue
			}
			if err := p.directive(s, tok, file, dir); err != nil {
				return err
			}
		default:
			p.emit(tok.Value)
		}
	}
}

// statement collects the tokens of an at-rule prelude up to the terminating
// ";" (or "{" when block is true). The terminator is not included.
func statement(s *scanner.Scanner, block bool) ([]*scanner.Token, *scanner.Token) {
	var prelude []*scanner.Token
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return prelude, tok
		case scanner.TokenChar:
			if tok.Value == ";" || (block && tok.Value == "{") {
				return prelude, tok
			}
		case scanner.TokenS, scanner.TokenComment:
			continue
		}
		prelude = append(prelude, tok)
	}
}

func raw(at *scanner.Token, prelude []*scanner.Token) string {
	parts := []string{at.Value}
	for _, t := range prelude {
		parts = append(parts, t.Value)
	}
	return strings.Join(parts, " ")
}

func (p *parser) directive(s *scanner.Scanner, at *scanner.Token, file, dir string) error {
	switch at.Value {
	case "@import":
		prelude, end := statement(s, false)
		if err := p.terminated(file, at, end); err != nil {
			return err
		}
		return p.importRule(at, prelude, file, dir)
	case "@source":
		prelude, end := statement(s, false)
		if err := p.terminated(file, at, end); err != nil {
			return err
		}
		return p.sourceRule(at, prelude, file)
	case "@tailwind":
		prelude, end := statement(s, false)
		if err := p.terminated(file, at, end); err != nil {
			return err
		}
		if len(prelude) != 1 || prelude[0].Value != "utilities" {
			return p.errorf(file, at, "unsupported @tailwind directive %q", raw(at, prelude))
		}
		p.emitUtilities()
		return nil
	case "@theme":
		prelude, end := statement(s, true)
		if end.Type == scanner.TokenError {
			return p.errorf(file, end, "%s", end.Value)
		}
		if end.Type == scanner.TokenEOF || end.Value != "{" {
			return p.errorf(file, at, "@theme requires a block")
		}
		if len(prelude) > 0 {
			return p.errorf(file, at, "unexpected @theme options")
		}
		body, err := p.block(s, file, at)
		if err != nil {
			return err
		}
		p.emit(p.theme.define(body))
		return nil
	default:
		p.emit(at.Value)
		return nil
	}
}

func (p *parser) terminated(file string, at, end *scanner.Token) error {
	switch end.Type {
	case scanner.TokenError:
		return p.errorf(file, end, "%s", end.Value)
	case scanner.TokenEOF:
		return p.errorf(file, at, "%s is missing a terminating ';'", at.Value)
	}
	return nil
}

// block returns the raw text of a block whose "{" was already consumed.
func (p *parser) block(s *scanner.Scanner, file string, at *scanner.Token) (string, error) {
	var sb strings.Builder
	depth := 1
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			return "", p.errorf(file, at, "unclosed %s block", at.Value)
		case scanner.TokenError:
			return "", p.errorf(file, tok, "%s", tok.Value)
		case scanner.TokenChar:
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth == 0 {
					return sb.String(), nil
				}
			}
		}
		sb.WriteString(tok.Value)
	}
}

func unquote(tok *scanner.Token) (string, bool) {
	if tok.Type != scanner.TokenString {
		return "", false
	}
	v, err := strconv.Unquote(tok.Value)
	if err != nil {
		// Single-quoted CSS strings are not valid Go literals.
		v = tok.Value[1 : len(tok.Value)-1]
	}
	return v, true
}

func (p *parser) importRule(at *scanner.Token, prelude []*scanner.Token, file, dir string) error {
	if len(prelude) == 0 {
		return p.errorf(file, at, "@import requires a target")
	}
	target, ok := unquote(prelude[0])
	if !ok {
		// url(...) and other forms are left for the browser.
		p.emit(raw(at, prelude) + ";")
		return nil
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "//") {
		p.emit(raw(at, prelude) + ";")
		return nil
	}

	switch target {
	case "tailwindcss", "tailwindcss/utilities":
		if err := p.importOptions(at, prelude[1:], file); err != nil {
			return err
		}
		p.emitUtilities()
		return nil
	case "tailwindcss/theme", "tailwindcss/preflight":
		return nil
	}

	if !isRelative(target) {
		return p.errorf(file, at, "cannot resolve import %q", target)
	}

	path := target
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)
	if p.visiting[path] {
		return p.errorf(file, at, "import cycle through %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p.errorf(file, at, "cannot resolve import %q: %v", target, err)
	}
	if p.opts.OnDependency != nil {
		p.opts.OnDependency(path)
	}

	p.visiting[path] = true
	defer delete(p.visiting, path)
	return p.parse(string(data), path, filepath.Dir(path))
}

func isRelative(target string) bool {
	return strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") ||
		strings.HasPrefix(target, "/") || strings.HasSuffix(target, ".css")
}

// importOptions handles the trailing source(...) option of a tailwindcss
// import.
func (p *parser) importOptions(at *scanner.Token, opts []*scanner.Token, file string) error {
	if len(opts) == 0 {
		return nil
	}
	if opts[0].Type != scanner.TokenFunction || opts[0].Value != "source(" || len(opts) != 3 || opts[2].Value != ")" {
		return p.errorf(file, at, "unsupported import options %q", raw(at, opts))
	}
	arg := opts[1]
	if arg.Type == scanner.TokenIdent && arg.Value == "none" {
		p.autoNone = true
		return nil
	}
	dir, ok := unquote(arg)
	if !ok {
		return p.errorf(file, at, "source() expects none or a path")
	}
	p.autoRoot = p.resolveSource(dir)
	return nil
}

func (p *parser) resolveSource(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(p.opts.Base, path)
}

func (p *parser) sourceRule(at *scanner.Token, prelude []*scanner.Token, file string) error {
	negated := false
	if len(prelude) > 0 && prelude[0].Type == scanner.TokenIdent && prelude[0].Value == "not" {
		negated = true
		prelude = prelude[1:]
	}
	if len(prelude) != 1 {
		return p.errorf(file, at, "@source expects a single quoted path")
	}
	target, ok := unquote(prelude[0])
	if !ok || target == "" {
		return p.errorf(file, at, "@source expects a single quoted path")
	}
	base, pattern := splitGlob(target)
	p.sources = append(p.sources, artifact.SourceRoot{
		Base:    p.resolveSource(base),
		Pattern: pattern,
		Negated: negated,
	})
	return nil
}

// splitGlob splits a path into its static directory prefix and the glob
// remainder. Paths with no glob characters match everything beneath them.
func splitGlob(target string) (base, pattern string) {
	target = filepath.ToSlash(target)
	parts := strings.Split(target, "/")
	for i, part := range parts {
		if strings.ContainsAny(part, "*?[{") {
			base = strings.Join(parts[:i], "/")
			if base == "" {
				base = "."
			}
			return filepath.FromSlash(base), strings.Join(parts[i:], "/")
		}
	}
	return filepath.FromSlash(target), autoPattern
}
