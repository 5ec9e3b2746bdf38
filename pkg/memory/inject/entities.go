// Package inject turns stored memory into context: the session-start loader
// assembles a budgeted block of the highest-scoring events, and the
// mid-session recaller opportunistically injects one more event when tool use
// touches files an event knows about. Every failure path in this package
// degrades to "no memory assistance this time"; nothing here may surface a
// hard error to the host session.
package inject

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnorePatterns filter path fragments that carry no retrieval signal.
var DefaultIgnorePatterns = []string{
	"**/vendor/**",
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/*.lock",
	"**/*.sum",
}

// CompileIgnore compiles ignore patterns, skipping (and logging) any that do
// not parse. A bad pattern weakens filtering, it never breaks recall.
func CompileIgnore(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			slog.Debug("inject: skipping bad ignore pattern", "pattern", p, "err", err)
			continue
		}
		out = append(out, g)
	}
	return out
}

// EntitiesFromPaths derives retrieval entities from touched file paths:
// the basename, its stem, and each directory segment. Ignored paths
// contribute nothing.
func EntitiesFromPaths(paths []string, ignore []glob.Glob) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if len(tok) < 2 || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, p := range paths {
		norm := filepath.ToSlash(strings.TrimSpace(p))
		if norm == "" || ignored(norm, ignore) {
			continue
		}
		base := filepath.Base(norm)
		add(base)
		if ext := filepath.Ext(base); ext != "" && ext != base {
			add(strings.TrimSuffix(base, ext))
		}
		for _, seg := range strings.Split(filepath.Dir(norm), "/") {
			if seg != "." && seg != ".." && seg != "" {
				add(seg)
			}
		}
	}
	return out
}

func ignored(path string, ignore []glob.Glob) bool {
	for _, g := range ignore {
		if g.Match(path) {
			return true
		}
	}
	return false
}
