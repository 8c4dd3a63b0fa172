package engine

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoreRule is one line of a .gitignore file.
type ignoreRule struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// ignoreRules decides which paths under a source root are gitignored.
// Later rules override earlier ones, so "!keep.html" can re-include a file
// an earlier rule excluded.
type ignoreRules struct {
	rules []ignoreRule
}

// loadIgnore reads dir/.gitignore. A missing file, or a dir that is not a
// directory, yields no rules.
func loadIgnore(dir string) (*ignoreRules, error) {
	r := &ignoreRules{}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return r, nil
	}
	f, err := os.Open(filepath.Join(dir, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r.add(sc.Text())
	}
	return r, sc.Err()
}

func (r *ignoreRules) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var rule ignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		rule.anchored = true
		line = line[1:]
	}
	// Unanchored names without a slash match at any depth.
	if !rule.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}
	rule.glob = line
	r.rules = append(r.rules, rule)
}

// ignored reports whether rel, a slash-separated path relative to the
// root, is ignored.
func (r *ignoreRules) ignored(rel string, isDir bool) bool {
	if r == nil {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	out := false
	for _, rule := range r.rules {
		var hit bool
		if rule.dirOnly && !isDir {
			hit = insideMatch(rule.glob, rel)
		} else {
			hit = globMatch(rule.glob, rel)
		}
		if hit {
			out = !rule.negated
		}
	}
	return out
}

// insideMatch reports whether any parent directory of rel matches glob.
func insideMatch(glob, rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if globMatch(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

// globMatch matches rel against glob or anything beneath a directory
// matching glob.
func globMatch(glob, rel string) bool {
	if ok, _ := doublestar.Match(glob, rel); ok {
		return true
	}
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", rel); ok {
			return true
		}
	}
	return false
}
