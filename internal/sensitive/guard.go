// Package sensitive refuses workspace paths that would expose a whole host
// area to the agent container.
package sensitive

import (
	"os"
	"path/filepath"
	"strings"
)

// Guard holds the protected targets. A candidate path is protected when it is
// the same filesystem entry as one of the targets; textual equality is not
// required, so symlinks and relative paths match too.
type Guard struct {
	targets []string
}

// New returns a guard over the given targets. Empty entries are ignored.
func New(targets ...string) *Guard {
	g := &Guard{}
	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		clean := filepath.Clean(target)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		g.targets = append(g.targets, clean)
	}
	return g
}

// Default protects the filesystem root, the system temporary directory, the
// invoking user's home directory and /etc.
func Default() *Guard {
	targets := []string{string(os.PathSeparator), "/tmp", os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		targets = append(targets, home)
	}
	if home := strings.TrimSpace(os.Getenv("HOME")); home != "" {
		targets = append(targets, home)
	}
	targets = append(targets, "/etc")
	return New(targets...)
}

// Targets returns the configured protected paths.
func (g *Guard) Targets() []string {
	out := make([]string, len(g.targets))
	copy(out, g.targets)
	return out
}

// IsProtected reports whether path refers to a protected target. Targets that
// do not exist on this host are skipped. A path that cannot be stat'ed is not
// protected.
func (g *Guard) IsProtected(path string) bool {
	if g == nil || strings.TrimSpace(path) == "" {
		return false
	}
	candidate, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, target := range g.targets {
		info, err := os.Stat(target)
		if err != nil {
			continue
		}
		if os.SameFile(candidate, info) {
			return true
		}
	}
	return false
}
