package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoHomeDir means neither HOME nor the platform lookup named a home
// directory.
var ErrNoHomeDir = errors.New("home directory not found")

// ResolveHomeDir reads HOME on every call so a HOME changed after start-up
// is honoured, falling back to os.UserHomeDir. The result is absolute: it
// anchors the profile directory, the default cert dir and the guard's
// protected targets.
func ResolveHomeDir() (string, error) {
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		fallback, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", errors.Join(ErrNoHomeDir, err))
		}
		home = strings.TrimSpace(fallback)
	}
	if home == "" {
		return "", ErrNoHomeDir
	}
	abs, err := filepath.Abs(home)
	if err != nil {
		return "", fmt.Errorf("resolve home dir %q: %w", home, err)
	}
	return abs, nil
}
