package configstore

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// Keys accepted in config.toml. Project tables accept only the keys in
// projectKeys.
const (
	KeyImage           = "image"
	KeyRuntime         = "runtime"
	KeyProfile         = "profile"
	KeyProxyHost       = "proxy_host"
	KeyMitmproxyDir    = "mitmproxy_dir"
	KeyCommand         = "command"
	KeyDumpCompression = "dump_compression"
)

var globalKeys = map[string]struct{}{
	KeyImage: {}, KeyRuntime: {}, KeyProfile: {}, KeyProxyHost: {},
	KeyMitmproxyDir: {}, KeyCommand: {}, KeyDumpCompression: {},
}

var projectKeys = map[string]struct{}{
	KeyImage: {}, KeyProfile: {}, KeyCommand: {},
}

// Config represents the persisted contain-agent configuration.
type Config struct {
	Image           string
	Runtime         string
	Profile         string
	ProxyHost       string
	MitmproxyDir    string
	Command         []string
	DumpCompression string

	// Projects is keyed by normalized absolute project path.
	Projects map[string]Project
}

// Project holds per-directory overrides.
type Project struct {
	Image   string
	Profile string
	Command []string
}

func (p Project) isZero() bool {
	return p.Image == "" && p.Profile == "" && len(p.Command) == 0
}

// DecisionScope models the precedence layer that yielded an effective value.
type DecisionScope string

const (
	ScopeUnset   DecisionScope = "unset"
	ScopeGlobal  DecisionScope = "global"
	ScopeProject DecisionScope = "project"
)

// Resolved is the effective configuration for one project directory.
type Resolved struct {
	Image           string
	Runtime         string
	Profile         string
	ProxyHost       string
	MitmproxyDir    string
	Command         []string
	DumpCompression string

	// Scopes records which layer supplied each key.
	Scopes map[string]DecisionScope
}

// Scope reports the layer that supplied key.
func (r Resolved) Scope(key string) DecisionScope {
	if s, ok := r.Scopes[key]; ok {
		return s
	}
	return ScopeUnset
}

// New returns a Config with initialized maps.
func New() Config {
	return Config{Projects: make(map[string]Project)}
}

// Clone produces a deep copy suitable for mutation.
func (c Config) Clone() Config {
	out := c
	out.Command = cloneStrings(c.Command)
	out.Projects = make(map[string]Project, len(c.Projects))
	for key, p := range c.Projects {
		p.Command = cloneStrings(p.Command)
		out.Projects[key] = p
	}
	return out
}

// Resolve applies project scope over global scope for projectPath. An empty
// projectPath yields the global values only. mitmproxy_dir is expanded.
func (c Config) Resolve(projectPath string) (Resolved, error) {
	r := Resolved{
		Runtime:         c.Runtime,
		ProxyHost:       c.ProxyHost,
		MitmproxyDir:    c.MitmproxyDir,
		DumpCompression: c.DumpCompression,
		Image:           c.Image,
		Profile:         c.Profile,
		Command:         cloneStrings(c.Command),
		Scopes:          make(map[string]DecisionScope),
	}
	for key, value := range map[string]string{
		KeyRuntime: c.Runtime, KeyProxyHost: c.ProxyHost, KeyMitmproxyDir: c.MitmproxyDir,
		KeyDumpCompression: c.DumpCompression, KeyImage: c.Image, KeyProfile: c.Profile,
	} {
		if value != "" {
			r.Scopes[key] = ScopeGlobal
		}
	}
	if len(c.Command) > 0 {
		r.Scopes[KeyCommand] = ScopeGlobal
	}
	if r.MitmproxyDir != "" {
		dir, err := ExpandPath(r.MitmproxyDir)
		if err != nil {
			return r, fmt.Errorf("expand %s: %w", KeyMitmproxyDir, err)
		}
		r.MitmproxyDir = dir
	}

	if strings.TrimSpace(projectPath) == "" {
		return r, nil
	}
	key, err := normalizeProjectKey(projectPath)
	if err != nil {
		return r, err
	}
	project, ok := c.Projects[key]
	if !ok {
		return r, nil
	}
	if project.Image != "" {
		r.Image = project.Image
		r.Scopes[KeyImage] = ScopeProject
	}
	if project.Profile != "" {
		r.Profile = project.Profile
		r.Scopes[KeyProfile] = ScopeProject
	}
	if len(project.Command) > 0 {
		r.Command = cloneStrings(project.Command)
		r.Scopes[KeyCommand] = ScopeProject
	}
	return r, nil
}

// Set assigns a global key. Command values are split with shell rules.
func (c *Config) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if _, ok := globalKeys[key]; !ok {
		return unknownKeyError(key, globalKeys)
	}
	value = strings.TrimSpace(value)
	switch key {
	case KeyImage:
		c.Image = value
	case KeyRuntime:
		c.Runtime = value
	case KeyProfile:
		c.Profile = value
	case KeyProxyHost:
		c.ProxyHost = value
	case KeyMitmproxyDir:
		c.MitmproxyDir = value
	case KeyDumpCompression:
		c.DumpCompression = value
	case KeyCommand:
		argv, err := SplitCommand(value)
		if err != nil {
			return err
		}
		c.Command = argv
	}
	return nil
}

// Unset clears a global key.
func (c *Config) Unset(key string) error {
	return c.Set(key, "")
}

// SetProject assigns a project-scoped key. The project path is normalized so
// symlinked or relative inputs share one entry.
func (c *Config) SetProject(projectPath, key, value string) error {
	key = strings.TrimSpace(key)
	if _, ok := projectKeys[key]; !ok {
		return unknownKeyError(key, projectKeys)
	}
	projectKey, err := normalizeProjectKey(projectPath)
	if err != nil {
		return err
	}
	c.ensureInitialized()
	project := c.Projects[projectKey]
	value = strings.TrimSpace(value)
	switch key {
	case KeyImage:
		project.Image = value
	case KeyProfile:
		project.Profile = value
	case KeyCommand:
		argv, err := SplitCommand(value)
		if err != nil {
			return err
		}
		project.Command = argv
	}
	if project.isZero() {
		delete(c.Projects, projectKey)
		return nil
	}
	c.Projects[projectKey] = project
	return nil
}

// UnsetProject clears a project-scoped key.
func (c *Config) UnsetProject(projectPath, key string) error {
	return c.SetProject(projectPath, key, "")
}

// SplitCommand splits a configured command string using POSIX shell rules.
func SplitCommand(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", raw, err)
	}
	return argv, nil
}

func unknownKeyError(key string, allowed map[string]struct{}) error {
	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(names, ", "))
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (c *Config) ensureInitialized() {
	if c.Projects == nil {
		c.Projects = make(map[string]Project)
	}
}

// normalizeProjectKey resolves the absolute path for use as a project key.
func normalizeProjectKey(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("project path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs project path: %w", err)
	}
	normalized, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// If the path does not exist yet, fall back to cleaned absolute path.
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return filepath.Clean(normalized), nil
}

func resolveConfigProjectKey(spec string) (string, error) {
	expanded, err := ExpandPath(spec)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("project key must not be empty")
	}
	return normalizeProjectKey(expanded)
}

// ExpandPath expands environment variables (honoring \$ escapes) and a
// leading ~ or ~user in a configured path.
func ExpandPath(spec string) (string, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return "", nil
	}
	return expandLeadingTilde(expandConfigValue(trimmed))
}

func expandLeadingTilde(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	if len(path) == 1 || isPathSeparator(path[1]) {
		home, err := ResolveHomeDir()
		if err != nil {
			return "", err
		}
		if len(path) == 1 {
			return home, nil
		}
		return filepath.Join(home, strings.TrimLeft(path[2:], "/\\")), nil
	}

	sep := strings.IndexAny(path, "/\\")
	var username, rest string
	if sep == -1 {
		username = path[1:]
	} else {
		username = path[1:sep]
		rest = path[sep:]
	}
	account, err := user.Lookup(username)
	if err != nil {
		return "", fmt.Errorf("lookup home for %s: %w", username, err)
	}
	trimmed := strings.TrimLeft(rest, "/\\")
	if trimmed == "" {
		return account.HomeDir, nil
	}
	return filepath.Join(account.HomeDir, trimmed), nil
}

func isPathSeparator(r byte) bool {
	return r == '/' || r == '\\'
}
