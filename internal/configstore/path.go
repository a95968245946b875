package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFileName = "config.toml"
	configDirName  = "contain-agent"

	// HomeEnvVar relocates the configuration directory.
	HomeEnvVar = "CONTAIN_AGENT_HOME"
)

// GetConfigPath resolves the configuration directory and file path using
// XDG rules with a fallback to ~/.config/contain-agent/config.toml.
func GetConfigPath() (string, string, error) {
	if override := strings.TrimSpace(os.Getenv(HomeEnvVar)); override != "" {
		dir := filepath.Clean(override)
		if !filepath.IsAbs(dir) {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return "", "", fmt.Errorf("resolve %s %q: %w", HomeEnvVar, override, err)
			}
			dir = abs
		}
		return dir, filepath.Join(dir, configFileName), nil
	}

	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		dir := filepath.Join(base, configDirName)
		return dir, filepath.Join(dir, configFileName), nil
	}

	home, err := ResolveHomeDir()
	if err != nil {
		return "", "", err
	}
	dir := filepath.Join(home, ".config", configDirName)
	return dir, filepath.Join(dir, configFileName), nil
}
