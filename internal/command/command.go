// Package command assembles the container runtime invocation for one agent
// session. The argv it produces is an external contract: tokens appear in a
// fixed order so that identical inputs always yield identical invocations.
package command

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/strongdm/contain-agent/internal/profile"
	"github.com/strongdm/contain-agent/internal/proxy"
)

const (
	DefaultRuntime = "docker"
	DefaultImage   = "contain-agent"

	// ContainerWorkspace is where the host workspace is mounted.
	ContainerWorkspace = "/workspace"
)

// WorkspaceNotFoundError reports a workspace directory that does not exist.
type WorkspaceNotFoundError struct {
	Path string
}

func (e *WorkspaceNotFoundError) Error() string {
	return fmt.Sprintf("directory '%s' does not exist", e.Path)
}

// Spec is everything needed to build one invocation.
type Spec struct {
	Runtime string
	Image   string
	// Workspace is mounted at /workspace when set.
	Workspace string
	Overrides proxy.Overrides
	Mounts    []profile.Mount
	// KeepAfterExit omits --rm.
	KeepAfterExit bool
	EnvFile       string
	// Command runs through a login shell inside the container when set.
	Command []string
}

// Invocation is the argv handed to the process executor. Args[0] is the
// runtime binary.
type Invocation struct {
	Args []string
}

// Name is the runtime binary.
func (i Invocation) Name() string {
	if len(i.Args) == 0 {
		return ""
	}
	return i.Args[0]
}

// String renders the invocation as a copy-pasteable shell line.
func (i Invocation) String() string {
	return QuoteArgs(i.Args)
}

// Build assembles the invocation for spec. It only touches the filesystem to
// confirm the workspace and env file exist.
func Build(spec Spec) (Invocation, error) {
	runtime := strings.TrimSpace(spec.Runtime)
	if runtime == "" {
		runtime = DefaultRuntime
	}
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		image = DefaultImage
	}
	if spec.Workspace != "" {
		if _, err := os.Stat(spec.Workspace); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Invocation{}, &WorkspaceNotFoundError{Path: spec.Workspace}
			}
			return Invocation{}, fmt.Errorf("stat workspace %q: %w", spec.Workspace, err)
		}
	}

	args := []string{runtime, "run"}
	if !spec.KeepAfterExit {
		args = append(args, "--rm")
	}
	args = append(args, "-it")

	if spec.EnvFile != "" {
		if info, err := os.Stat(spec.EnvFile); err == nil && !info.IsDir() {
			args = append(args, "--env-file", spec.EnvFile)
		}
	}

	if !spec.Overrides.IsZero() {
		args = append(args, "-v", spec.Overrides.CertMount())
		for _, env := range spec.Overrides.Pairs() {
			args = append(args, "-e", env.String())
		}
	}

	if spec.Workspace != "" {
		args = append(args, "-v", spec.Workspace+":"+ContainerWorkspace)
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", m.Host+":"+m.Container)
	}

	args = append(args, image)
	if len(spec.Command) > 0 {
		args = append(args, "bash", "-l", "-i", "-c", QuoteArgs(spec.Command))
	}
	return Invocation{Args: args}, nil
}
