//go:build !unix

package proxy

import (
	"errors"
	"os"
	"syscall"
)

var (
	terminateSignal os.Signal = os.Interrupt
	killSignal      os.Signal = os.Kill
)

func recorderSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func signalRecorder(p *os.Process, sig os.Signal) error {
	if p == nil {
		return nil
	}
	if sig == os.Kill {
		if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
