package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMountsTopLevelOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	writeFile(t, filepath.Join(dir, EnvFileName), "TOKEN=abc\n")
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"), "deep")
	mkdirAll(t, filepath.Join(dir, "sub", "deeper"))

	mounts, err := Mounts(dir)
	if err != nil {
		t.Fatalf("Mounts returned error: %v", err)
	}
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d: %+v", len(mounts), mounts)
	}

	byContainer := make(map[string]Mount, len(mounts))
	for _, m := range mounts {
		byContainer[m.Container] = m
		if strings.Contains(m.Host, "nested") || strings.Contains(m.Host, "deeper") {
			t.Fatalf("nested content must not be mounted individually: %+v", m)
		}
	}

	file, ok := byContainer["/home/agent/a.txt"]
	if !ok {
		t.Fatalf("missing a.txt mount: %+v", mounts)
	}
	if file.Host != filepath.Join(dir, "a.txt") || file.Kind != MountKindFile {
		t.Fatalf("unexpected a.txt mount: %+v", file)
	}

	sub, ok := byContainer["/home/agent/sub"]
	if !ok {
		t.Fatalf("missing sub mount: %+v", mounts)
	}
	if sub.Host != filepath.Join(dir, "sub") || sub.Kind != MountKindDirectory {
		t.Fatalf("unexpected sub mount: %+v", sub)
	}

	envFile, ok := EnvFile(dir)
	if !ok {
		t.Fatal("expected .env to be detected")
	}
	if envFile != filepath.Join(dir, EnvFileName) {
		t.Fatalf("unexpected env file %q", envFile)
	}
}

func TestMountsContainerPathUsesBaseName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".claude.json"), "{}")
	mkdirAll(t, filepath.Join(dir, ".claude"), filepath.Join(dir, ".codex"))

	mounts, err := Mounts(dir)
	if err != nil {
		t.Fatalf("Mounts returned error: %v", err)
	}
	for _, m := range mounts {
		if want := "/home/agent/" + filepath.Base(m.Host); m.Container != want {
			t.Fatalf("container path %q, want %q", m.Container, want)
		}
		if !filepath.IsAbs(m.Host) {
			t.Fatalf("host path must be absolute: %q", m.Host)
		}
	}
}

func TestMountsRelativeProfileDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profiles", "p", "file"), "x")
	chdir(t, dir)

	mounts, err := Mounts(filepath.Join("profiles", "p"))
	if err != nil {
		t.Fatalf("Mounts returned error: %v", err)
	}
	if len(mounts) != 1 {
		t.Fatalf("expected 1 mount, got %+v", mounts)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Dir(mounts[0].Host))
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	expected, err := filepath.EvalSymlinks(filepath.Join(dir, "profiles", "p"))
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	if resolved != expected {
		t.Fatalf("host %q does not live under %q", mounts[0].Host, expected)
	}
}

func TestEnvFileAbsentOrDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, ok := EnvFile(dir); ok {
		t.Fatal("expected no env file in empty profile")
	}
	if err := os.Mkdir(filepath.Join(dir, EnvFileName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, ok := EnvFile(dir); ok {
		t.Fatal("a .env directory must not be treated as an env file")
	}
}

func TestMountsMissingProfileDir(t *testing.T) {
	t.Parallel()

	if _, err := Mounts(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing profile dir")
	}
}
