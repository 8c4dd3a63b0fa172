package engine

import (
	"sort"
	"strings"
)

// breakpoints in variant order.
var breakpoints = []struct {
	name  string
	width string
}{
	{"sm", "40rem"},
	{"md", "48rem"},
	{"lg", "64rem"},
	{"xl", "80rem"},
	{"2xl", "96rem"},
}

var shades = []string{"50", "100", "200", "300", "400", "500", "600", "700", "800", "900", "950"}

var families = map[string][]string{
	"gray":   {"#f9fafb", "#f3f4f6", "#e5e7eb", "#d1d5db", "#9ca3af", "#6b7280", "#4b5563", "#374151", "#1f2937", "#111827", "#030712"},
	"red":    {"#fef2f2", "#fee2e2", "#fecaca", "#fca5a5", "#f87171", "#ef4444", "#dc2626", "#b91c1c", "#991b1b", "#7f1d1d", "#450a0a"},
	"yellow": {"#fefce8", "#fef9c3", "#fef08a", "#fde047", "#facc15", "#eab308", "#ca8a04", "#a16207", "#854d0e", "#713f12", "#422006"},
	"green":  {"#f0fdf4", "#dcfce7", "#bbf7d0", "#86efac", "#4ade80", "#22c55e", "#16a34a", "#15803d", "#166534", "#14532d", "#052e16"},
	"blue":   {"#eff6ff", "#dbeafe", "#bfdbfe", "#93c5fd", "#60a5fa", "#3b82f6", "#2563eb", "#1d4ed8", "#1e40af", "#1e3a8a", "#172554"},
}

// theme holds the named values utilities resolve against.
type theme struct {
	colors map[string]string
}

func newTheme() *theme {
	t := &theme{colors: map[string]string{
		"black":       "#000",
		"white":       "#fff",
		"transparent": "transparent",
		"current":     "currentColor",
		"inherit":     "inherit",
	}}
	for family, values := range families {
		for i, shade := range shades {
			t.colors[family+"-"+shade] = values[i]
		}
	}
	return t
}

// define registers the custom properties of an @theme block and returns
// the CSS that exposes them.
func (t *theme) define(body string) string {
	var decls []string
	for _, stmt := range strings.Split(body, ";") {
		name, value, ok := strings.Cut(stmt, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !strings.HasPrefix(name, "--") || value == "" {
			continue
		}
		if color, ok := strings.CutPrefix(name, "--color-"); ok && color != "" {
			t.colors[color] = "var(" + name + ")"
		}
		decls = append(decls, "  "+name+": "+value+";\n")
	}
	if len(decls) == 0 {
		return ""
	}
	return ":root, :host {\n" + strings.Join(decls, "") + "}\n"
}

// generated is one resolved candidate.
type generated struct {
	candidate string
	rank      int
	css       string
}

// render produces the utilities block for the candidates that resolve.
// Output is independent of candidate order.
func (t *theme) render(candidates []string) string {
	seen := make(map[string]bool, len(candidates))
	var rules []generated
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		if g, ok := t.generate(c); ok {
			rules = append(rules, g)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].rank != rules[j].rank {
			return rules[i].rank < rules[j].rank
		}
		return rules[i].candidate < rules[j].candidate
	})

	var sb strings.Builder
	for _, r := range rules {
		sb.WriteString(r.css)
	}
	return sb.String()
}

func (t *theme) generate(candidate string) (generated, bool) {
	parts := splitVariants(candidate)
	utility := parts[len(parts)-1]
	decls, ok := t.resolve(utility)
	if !ok {
		return generated{}, false
	}

	selector := "." + escapeClass(candidate)
	var media []string
	rank := 0
	for _, v := range parts[:len(parts)-1] {
		if pseudo, ok := pseudoVariants[v]; ok {
			selector += pseudo
			rank |= 1
			continue
		}
		if v == "dark" {
			media = append(media, "(prefers-color-scheme: dark)")
			rank |= 1 << 8
			continue
		}
		found := false
		for i, bp := range breakpoints {
			if bp.name == v {
				media = append(media, "(min-width: "+bp.width+")")
				rank += 2 << i
				found = true
				break
			}
		}
		if !found {
			return generated{}, false
		}
	}

	var sb strings.Builder
	indent := ""
	for _, m := range media {
		sb.WriteString(indent + "@media " + m + " {\n")
		indent += "  "
	}
	sb.WriteString(indent + selector + " {\n")
	for _, d := range decls {
		sb.WriteString(indent + "  " + d.property + ": " + d.value + ";\n")
	}
	sb.WriteString(indent + "}\n")
	for range media {
		indent = indent[2:]
		sb.WriteString(indent + "}\n")
	}
	return generated{candidate: candidate, rank: rank, css: sb.String()}, true
}

var pseudoVariants = map[string]string{
	"hover":         ":hover",
	"focus":         ":focus",
	"focus-visible": ":focus-visible",
	"active":        ":active",
	"disabled":      ":disabled",
	"first":         ":first-child",
	"last":          ":last-child",
}

// splitVariants splits a candidate on ":" outside of arbitrary values.
func splitVariants(candidate string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range candidate {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ':':
			if depth == 0 {
				parts = append(parts, candidate[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, candidate[start:])
}

// escapeClass escapes a candidate for use as a class selector.
func escapeClass(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_', r >= 0x80:
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteString("\\3" + string(r) + " ")
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteByte('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
