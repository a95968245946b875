//go:build unix

package proxy

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	terminateSignal os.Signal = unix.SIGTERM
	killSignal      os.Signal = unix.SIGKILL
)

// The recorder gets its own process group so a terminal Ctrl-C reaches only
// the container; uvx and the mitmdump it spawns are signalled together.
func recorderSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalRecorder(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	if s, ok := sig.(unix.Signal); ok {
		err := unix.Kill(-p.Pid, s)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
