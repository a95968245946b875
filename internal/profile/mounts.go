package profile

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// MountKind distinguishes between directory and file mounts.
type MountKind int

const (
	// MountKindDirectory indicates the host path is a directory.
	MountKindDirectory MountKind = iota
	// MountKindFile indicates the host path is a file.
	MountKindFile
)

func (k MountKind) String() string {
	if k == MountKindFile {
		return "file"
	}
	return "directory"
}

// Mount describes one profile item bind-mounted into the container.
type Mount struct {
	Host      string
	Container string
	Kind      MountKind
}

// Mounts lists the immediate children of profileDir as bind mounts under
// ContainerHome. Nested content is reachable only through its top-level
// directory mount. The profile's .env file is not mounted; see EnvFile.
func Mounts(profileDir string) ([]Mount, error) {
	abs, err := filepath.Abs(profileDir)
	if err != nil {
		return nil, fmt.Errorf("resolve profile dir %q: %w", profileDir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read profile dir %s: %w", abs, err)
	}

	mounts := make([]Mount, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if name == EnvFileName {
			continue
		}
		host := filepath.Join(abs, name)
		kind := MountKindFile
		if isDir(host) {
			kind = MountKindDirectory
		}
		mounts = append(mounts, Mount{
			Host:      host,
			Container: path.Join(ContainerHome, name),
			Kind:      kind,
		})
	}
	return mounts, nil
}

// EnvFile returns the profile's .env path when it exists as a regular file.
func EnvFile(profileDir string) (string, bool) {
	abs, err := filepath.Abs(profileDir)
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(abs, EnvFileName)
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}
