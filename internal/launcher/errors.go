package launcher

import (
	"errors"
	"fmt"

	"github.com/strongdm/contain-agent/internal/proxy"
)

// Exit codes reported by the launcher itself. Any other status is the
// container's own.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// ErrMutuallyExclusiveFlags rejects --dump together with --proxy.
var ErrMutuallyExclusiveFlags = proxy.ErrMutuallyExclusive

// ExitCodeError propagates the exact exit status of the agent container. Do
// not wrap it; main unwraps it to call os.Exit with the original status.
type ExitCodeError struct {
	code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

func (e *ExitCodeError) ExitCode() int {
	return e.code
}

// SensitiveDirectoryError refuses to mount a protected workspace.
type SensitiveDirectoryError struct {
	Path string
}

func (e *SensitiveDirectoryError) Error() string {
	return fmt.Sprintf("Cowardly refusing to mount directory '%s'. Use --force to override.", e.Path)
}

// EnvFileError reports an --env-file path that could not be resolved.
type EnvFileError struct {
	Path string
	Err  error
}

func (e *EnvFileError) Error() string {
	return fmt.Sprintf("Cannot resolve env file path '%s': %v", e.Path, e.Err)
}

func (e *EnvFileError) Unwrap() error { return e.Err }

// errInterrupted marks a run cut short by SIGINT/SIGTERM.
var errInterrupted = errors.New("interrupted by user")

// exitCodeFor maps a run error to the process exit status.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, errInterrupted) {
		return ExitInterrupted
	}
	return ExitFailure
}
