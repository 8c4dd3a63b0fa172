package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Moshyfawn/tailwind-serve/artifact"
	"github.com/Moshyfawn/tailwind-serve/build"
)

func compile(t *testing.T, base, text string) *Stylesheet {
	t.Helper()
	c, err := NewCompiler().Compile(text, build.CompileOptions{Base: base})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return c.(*Stylesheet)
}

func TestCompileSources(t *testing.T) {
	base := "/project"
	sheet := compile(t, base, `@import "tailwindcss";
@source "./";
@source "../shared/**/*.tsx";
@source not "./legacy";
`)

	want := []artifact.SourceRoot{
		{Base: "/project", Pattern: "**/*"},
		{Base: "/shared", Pattern: "**/*.tsx"},
		{Base: "/project/legacy", Pattern: "**/*", Negated: true},
	}
	got := sheet.Sources()
	if len(got) != len(want) {
		t.Fatalf("expected %d sources, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCompileSourceNone(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss" source(none);
@source "./app";`)

	got := sheet.Sources()
	if len(got) != 1 || got[0].Base != "/project/app" {
		t.Errorf("expected only the explicit source, got %+v", got)
	}
}

func TestCompileSourceRoot(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss" source("../web");`)

	got := sheet.Sources()
	if len(got) != 1 || got[0].Base != "/web" || got[0].Pattern != "**/*" {
		t.Errorf("unexpected sources %+v", got)
	}
}

func TestCompileWithoutTailwindHasNoAutoSource(t *testing.T) {
	sheet := compile(t, "/project", `body { margin: 0; }`)
	if len(sheet.Sources()) != 0 {
		t.Errorf("expected no sources, got %+v", sheet.Sources())
	}
	if got := sheet.Build([]string{"text-center"}); got != "body { margin: 0; }" {
		t.Errorf("plain CSS should pass through unchanged, got %q", got)
	}
}

func TestBuildUtilities(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";`)
	css := sheet.Build([]string{"text-center", "bg-black", "div", "class"})

	if !strings.Contains(css, ".text-center {\n  text-align: center;\n}\n") {
		t.Errorf("missing text-center rule in:\n%s", css)
	}
	if !strings.Contains(css, ".bg-black {\n  background-color: #000;\n}\n") {
		t.Errorf("missing bg-black rule in:\n%s", css)
	}
	if strings.Contains(css, ".div") || strings.Contains(css, ".class") {
		t.Errorf("unknown candidates should not produce rules:\n%s", css)
	}
}

func TestBuildDeterministic(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";`)
	a := sheet.Build([]string{"p-4", "md:p-8", "hover:bg-red-500", "text-center"})
	b := sheet.Build([]string{"text-center", "hover:bg-red-500", "md:p-8", "p-4", "p-4"})
	if a != b {
		t.Errorf("output depends on candidate order:\n%s\n---\n%s", a, b)
	}
}

func TestBuildUtilityValues(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";`)

	tests := []struct {
		candidate string
		want      string
	}{
		{"p-4", "padding: 1rem;"},
		{"px-0.5", "padding-inline: 0.125rem;"},
		{"m-px", "margin: 1px;"},
		{"mx-auto", "margin-inline: auto;"},
		{"w-1/2", "width: 50%;"},
		{"w-full", "width: 100%;"},
		{"h-[3px]", "height: 3px;"},
		{"text-lg", "font-size: 1.125rem;"},
		{"text-blue-500", "color: #3b82f6;"},
		{"bg-black/50", "background-color: color-mix(in srgb, #000 50%, transparent);"},
		{"bg-[#123456]", "background-color: #123456;"},
		{"border-red-500", "border-color: #ef4444;"},
		{"opacity-75", "opacity: 0.75;"},
		{"z-10", "z-index: 10;"},
		{"font-bold", "font-weight: 700;"},
	}
	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			css := sheet.Build([]string{tt.candidate})
			if !strings.Contains(css, tt.want) {
				t.Errorf("expected %q in:\n%s", tt.want, css)
			}
		})
	}
}

func TestBuildRejectsInvalidValues(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";`)
	for _, c := range []string{"p-foo", "p-0.3", "bg-nope", "opacity-200", "w-1/0", "wat:p-4"} {
		if css := sheet.Build([]string{c}); css != "" {
			t.Errorf("%s: expected no output, got:\n%s", c, css)
		}
	}
}

func TestBuildVariants(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";`)

	css := sheet.Build([]string{"hover:bg-black"})
	if !strings.Contains(css, `.hover\:bg-black:hover {`) {
		t.Errorf("unexpected hover output:\n%s", css)
	}

	css = sheet.Build([]string{"md:p-4"})
	want := "@media (min-width: 48rem) {\n  .md\\:p-4 {\n    padding: 1rem;\n  }\n}\n"
	if css != want {
		t.Errorf("unexpected breakpoint output:\n%s\nwant:\n%s", css, want)
	}

	css = sheet.Build([]string{"p-4", "md:p-4", "sm:p-4"})
	if !(strings.Index(css, ".p-4") < strings.Index(css, "40rem") && strings.Index(css, "40rem") < strings.Index(css, "48rem")) {
		t.Errorf("expected base, sm, md ordering:\n%s", css)
	}
}

func TestEscapeClass(t *testing.T) {
	tests := []struct{ in, want string }{
		{"text-center", "text-center"},
		{"w-1/2", `w-1\/2`},
		{"px-0.5", `px-0\.5`},
		{"2xl:p-4", `\32 xl\:p-4`},
		{"bg-[#fff]", `bg-\[\#fff\]`},
	}
	for _, tt := range tests {
		if got := escapeClass(tt.in); got != tt.want {
			t.Errorf("escapeClass(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUtilitiesPlacement(t *testing.T) {
	sheet := compile(t, "/project", "body { margin: 0; }\n@tailwind utilities;\n.after { color: red; }\n")
	css := sheet.Build([]string{"block"})

	body := strings.Index(css, "body")
	block := strings.Index(css, ".block")
	after := strings.Index(css, ".after")
	if !(body < block && block < after) {
		t.Errorf("utilities not inserted at @tailwind utilities:\n%s", css)
	}
}

func TestTheme(t *testing.T) {
	sheet := compile(t, "/project", `@import "tailwindcss";
@theme {
  --color-brand: #ff6600;
  --font-display: "Inter", sans-serif;
}`)
	css := sheet.Build([]string{"bg-brand"})

	if !strings.Contains(css, ":root, :host {\n  --color-brand: #ff6600;\n") {
		t.Errorf("theme variables not emitted:\n%s", css)
	}
	if !strings.Contains(css, "background-color: var(--color-brand);") {
		t.Errorf("theme color not usable:\n%s", css)
	}
}

func TestRelativeImport(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "base.css"), []byte(".base { color: red; }"), 0644); err != nil {
		t.Fatal(err)
	}

	var deps []string
	c, err := NewCompiler().Compile(`@import "./base.css";`, build.CompileOptions{
		Base:         dir,
		From:         filepath.Join(dir, "src", "styles.css"),
		OnDependency: func(p string) { deps = append(deps, p) },
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if css := c.Build(nil); css != ".base { color: red; }" {
		t.Errorf("import not inlined, got %q", css)
	}
	if len(deps) != 1 || deps[0] != filepath.Join(dir, "src", "base.css") {
		t.Errorf("unexpected dependencies %v", deps)
	}
}

func TestRemoteImportPassesThrough(t *testing.T) {
	sheet := compile(t, "/project", `@import url(https://example.com/font.css);`)
	if css := sheet.Build(nil); !strings.Contains(css, "@import url(https://example.com/font.css);") {
		t.Errorf("remote import not preserved: %q", css)
	}
}

func TestCompileErrors(t *testing.T) {
	dir := t.TempDir()
	cyclic := filepath.Join(dir, "a.css")
	if err := os.WriteFile(cyclic, []byte(`@import "./a.css";`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		text string
	}{
		{"unknown package", `@import "does-not-exist";`},
		{"missing file", `@import "./missing.css";`},
		{"import cycle", `@import "./a.css";`},
		{"unclosed block", `.a { color: red;`},
		{"unexpected brace", `.a { color: red; } }`},
		{"unclosed string", `@import "tailwindcss`},
		{"unclosed comment", `/* nope`},
		{"unterminated directive", `@source "./"`},
		{"bad source", `@source foo;`},
		{"bad tailwind", `@tailwind base;`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompiler().Compile(tt.text, build.CompileOptions{Base: dir, From: filepath.Join(dir, "styles.css")})
			var ce *build.CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CompileError, got %v", err)
			}
		})
	}
}
