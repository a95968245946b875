package launcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/strongdm/contain-agent/internal/command"
)

// containerStopDelay is how long the runtime CLI gets to stop the container
// after SIGTERM before it is killed.
const containerStopDelay = 10 * time.Second

var runContainer = runContainerImpl

// runContainerImpl runs the invocation attached to the terminal and waits.
// It returns the runtime's exit status; a non-nil error means the process
// could not be run or ctx was cancelled.
func runContainerImpl(ctx context.Context, inv command.Invocation, s streams) (int, error) {
	if len(inv.Args) == 0 {
		return -1, fmt.Errorf("empty container invocation")
	}
	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	cmd.Stdin = s.in
	cmd.Stdout = s.out
	cmd.Stderr = s.err
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = containerStopDelay

	err := cmd.Run()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", inv.Name(), err)
}
