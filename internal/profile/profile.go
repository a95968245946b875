// Package profile discovers named profile directories and turns their
// contents into bind mounts for the agent container. Profiles live either in
// a local ./profiles directory or in ~/.contain-agent; local entries shadow
// home entries with the same name.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ContainerHome is where profile items appear inside the container.
	ContainerHome = "/home/agent"

	// LocalDirName is the profiles directory looked up relative to the caller.
	LocalDirName = "profiles"

	// HomeDirName is the per-user profile directory under $HOME.
	HomeDirName = ".contain-agent"

	// EnvFileName is loaded into the container environment instead of being mounted.
	EnvFileName = ".env"
)

// Source identifies which search location contributed a profile.
type Source string

const (
	SourceLocal Source = "local"
	SourceHome  Source = "home"
)

// Entry is a discovered profile directory.
type Entry struct {
	Name   string
	Dir    string
	Source Source
}

// Set maps profile names to their directories. It is built once by Discover
// and never mutated afterwards.
type Set struct {
	entries map[string]Entry
}

// NotFoundError reports an unknown profile name together with every profile
// that could have been selected.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("profile %q not found", e.Name)
}

// Discover scans localDir and then homeDir. Each immediate subdirectory is a
// profile named after the directory. Names found in localDir take precedence;
// missing locations are skipped.
func Discover(localDir, homeDir string) (Set, error) {
	set := Set{entries: make(map[string]Entry)}
	if err := set.scan(localDir, SourceLocal); err != nil {
		return Set{}, err
	}
	if err := set.scan(homeDir, SourceHome); err != nil {
		return Set{}, err
	}
	return set, nil
}

// DefaultLocations returns the two search locations for a caller working in cwd.
func DefaultLocations(cwd, home string) (string, string) {
	return filepath.Join(cwd, LocalDirName), filepath.Join(home, HomeDirName)
}

func (s *Set) scan(dir string, source Source) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve profile location %q: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		// A profiles path that exists but is not a directory contributes nothing.
		if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
			return nil
		}
		return fmt.Errorf("read profile location %s: %w", abs, err)
	}
	for _, entry := range entries {
		candidate := filepath.Join(abs, entry.Name())
		if !isDir(candidate) {
			continue
		}
		if _, taken := s.entries[entry.Name()]; taken {
			continue
		}
		s.entries[entry.Name()] = Entry{Name: entry.Name(), Dir: candidate, Source: source}
	}
	return nil
}

// isDir follows symlinks so a linked profile directory still counts.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Names returns the available profile names in lexicographic order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every discovered profile ordered by name.
func (s Set) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, name := range s.Names() {
		out = append(out, s.entries[name])
	}
	return out
}

// Lookup returns the entry for name.
func (s Set) Lookup(name string) (Entry, bool) {
	entry, ok := s.entries[name]
	return entry, ok
}

// Resolve returns the profile directory for name or a *NotFoundError listing
// the available profiles.
func (s Set) Resolve(name string) (string, error) {
	entry, ok := s.entries[name]
	if !ok {
		return "", &NotFoundError{Name: name, Available: s.Names()}
	}
	return entry.Dir, nil
}
