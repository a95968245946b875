package configstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseError represents a TOML decode failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the persisted config from disk. A missing file yields an empty
// configuration.
func Load() (Config, error) {
	_, file, err := GetConfigPath()
	if err != nil {
		return New(), err
	}
	return LoadFile(file)
}

// LoadFile reads the configuration at path.
func LoadFile(path string) (Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(data, path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeConfig(data []byte, path string, cfg *Config) error {
	cfg.ensureInitialized()

	var raw map[string]any
	err := toml.Unmarshal(data, &raw)
	if err != nil && needsDollarEscapeFix(err) {
		if fixed, changed := sanitizeDollarEscapes(data); changed {
			data = fixed
			err = toml.Unmarshal(data, &raw)
		}
	}
	if err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			return &ParseError{Path: path, Err: decodeErr}
		}
		return err
	}

	for key, value := range raw {
		if key == "projects" {
			continue
		}
		if _, ok := globalKeys[key]; !ok {
			return fmt.Errorf("parse %s: %w", key, unknownKeyError(key, globalKeys))
		}
		if key == KeyCommand {
			argv, err := toCommand(value)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			cfg.Command = argv
			continue
		}
		strVal, err := toString(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if err := cfg.Set(key, strVal); err != nil {
			return err
		}
	}

	projects, ok := raw["projects"]
	if !ok {
		return nil
	}
	projectTables, ok := projects.(map[string]any)
	if !ok {
		return fmt.Errorf("parse projects: expected table, got %T", projects)
	}
	for projectKey, rawValue := range projectTables {
		table, ok := rawValue.(map[string]any)
		if !ok {
			return fmt.Errorf("parse projects.%s: expected table, got %T", projectKey, rawValue)
		}
		normalizedKey, err := resolveConfigProjectKey(projectKey)
		if err != nil {
			return fmt.Errorf("parse projects.%s: %w", projectKey, err)
		}
		var project Project
		for key, value := range table {
			switch key {
			case KeyImage, KeyProfile:
				strVal, err := toString(value)
				if err != nil {
					return fmt.Errorf("parse projects.%s.%s: %w", projectKey, key, err)
				}
				if key == KeyImage {
					project.Image = strings.TrimSpace(strVal)
				} else {
					project.Profile = strings.TrimSpace(strVal)
				}
			case KeyCommand:
				argv, err := toCommand(value)
				if err != nil {
					return fmt.Errorf("parse projects.%s.%s: %w", projectKey, key, err)
				}
				project.Command = argv
			default:
				return fmt.Errorf("parse projects.%s: %w", projectKey, unknownKeyError(key, projectKeys))
			}
		}
		if !project.isZero() {
			cfg.Projects[normalizedKey] = project
		}
	}
	return nil
}

// Save atomically writes the configuration to disk.
func Save(cfg Config) error {
	dir, file, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	encoder := toml.NewEncoder(tmp)
	if err := encoder.Encode(buildPersisted(cfg)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleaned = true
	return nil
}

type persistedProject struct {
	Image   string   `toml:"image,omitempty"`
	Profile string   `toml:"profile,omitempty"`
	Command []string `toml:"command,omitempty"`
}

type persistedConfig struct {
	Image           string                      `toml:"image,omitempty"`
	Runtime         string                      `toml:"runtime,omitempty"`
	Profile         string                      `toml:"profile,omitempty"`
	ProxyHost       string                      `toml:"proxy_host,omitempty"`
	MitmproxyDir    string                      `toml:"mitmproxy_dir,omitempty"`
	Command         []string                    `toml:"command,omitempty"`
	DumpCompression string                      `toml:"dump_compression,omitempty"`
	Projects        map[string]persistedProject `toml:"projects,omitempty"`
}

func buildPersisted(cfg Config) persistedConfig {
	out := persistedConfig{
		Image:           strings.TrimSpace(cfg.Image),
		Runtime:         strings.TrimSpace(cfg.Runtime),
		Profile:         strings.TrimSpace(cfg.Profile),
		ProxyHost:       strings.TrimSpace(cfg.ProxyHost),
		MitmproxyDir:    strings.TrimSpace(cfg.MitmproxyDir),
		Command:         cloneStrings(cfg.Command),
		DumpCompression: strings.TrimSpace(cfg.DumpCompression),
	}
	for key, project := range cfg.Projects {
		if project.isZero() {
			continue
		}
		if out.Projects == nil {
			out.Projects = make(map[string]persistedProject)
		}
		out.Projects[key] = persistedProject{
			Image:   project.Image,
			Profile: project.Profile,
			Command: cloneStrings(project.Command),
		}
	}
	return out
}

// toCommand accepts either a shell-style string or an array of strings.
func toCommand(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return SplitCommand(v)
	case []any:
		argv := make([]string, 0, len(v))
		for i, item := range v {
			s, err := toString(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			argv = append(argv, s)
		}
		return argv, nil
	default:
		return nil, fmt.Errorf("expected string or array of strings, got %T", value)
	}
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}
