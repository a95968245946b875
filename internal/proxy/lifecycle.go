// Package proxy decides how the agent container reaches the network: directly,
// through a recorder the operator runs themselves, or through a mitmdump
// process this package starts and stops around the container run.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// State tracks where a lifecycle is within its guarded region.
type State int

const (
	StateUnconstructed State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unconstructed"
	}
}

// Lifecycle brackets the container run. Enter must succeed before the
// invocation is built; Exit must run on every path out of the region and
// never fails.
type Lifecycle interface {
	Enter(ctx context.Context) error
	Exit()
	Overrides() Overrides
	State() State
	Mode() Mode
}

// Mode names the three lifecycle variants.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeProxy  Mode = "proxy"
	ModeRecord Mode = "record"
)

// ErrMutuallyExclusive rejects asking for a recorder and a passive proxy at once.
var ErrMutuallyExclusive = errors.New("--dump and --proxy are mutually exclusive")

var errAlreadyEntered = errors.New("proxy lifecycle already entered")

// CertDirNotFoundError reports a missing mitmproxy configuration directory.
type CertDirNotFoundError struct {
	Dir string
}

func (e *CertDirNotFoundError) Error() string {
	return fmt.Sprintf("%s directory not found. Please run 'mitmproxy' once to generate certificates.", e.Dir)
}

// ValidateModes checks the flag combination before anything is acquired.
func ValidateModes(dumpFile string, passive bool) error {
	if dumpFile != "" && passive {
		return ErrMutuallyExclusive
	}
	return nil
}

// Run enters lc, runs body and exits lc exactly once, whether body returns,
// fails, panics or observes ctx cancellation. When Enter fails body never runs.
func Run(ctx context.Context, lc Lifecycle, body func(ctx context.Context) error) error {
	if err := lc.Enter(ctx); err != nil {
		return err
	}
	defer lc.Exit()
	return body(ctx)
}

// Null is used when no proxy is requested.
type Null struct {
	state State
}

func NewNull() *Null { return &Null{} }

func (n *Null) Enter(context.Context) error {
	if n.state != StateUnconstructed {
		return errAlreadyEntered
	}
	n.state = StateActive
	return nil
}

func (n *Null) Exit() {
	if n.state == StateActive {
		n.state = StateStopped
	}
}

func (n *Null) Overrides() Overrides { return Overrides{} }
func (n *Null) State() State         { return n.state }
func (n *Null) Mode() Mode           { return ModeNone }

// Proxy points the container at a recorder managed outside this process.
type Proxy struct {
	cfg   Config
	state State
}

func NewProxy(cfg Config) *Proxy {
	return &Proxy{cfg: cfg}
}

// Config returns the recorder endpoint configuration.
func (p *Proxy) Config() Config { return p.cfg }

// Enter requires the certificate directory to exist; nothing is started.
func (p *Proxy) Enter(context.Context) error {
	if p.state != StateUnconstructed {
		return errAlreadyEntered
	}
	if err := checkCertDir(p.cfg.CertDir); err != nil {
		return err
	}
	p.state = StateActive
	return nil
}

func (p *Proxy) Exit() {
	if p.state == StateActive {
		p.state = StateStopped
	}
}

// Overrides is deterministic in the configuration.
func (p *Proxy) Overrides() Overrides { return overridesFor(p.cfg) }
func (p *Proxy) State() State         { return p.state }
func (p *Proxy) Mode() Mode           { return ModeProxy }

func checkCertDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &CertDirNotFoundError{Dir: dir}
	}
	return nil
}

// Options selects and configures a lifecycle variant.
type Options struct {
	// DumpFile enables the recording variant.
	DumpFile string
	// Passive enables the externally managed proxy variant.
	Passive  bool
	Config   Config
	Recorder RecorderOptions
}

// Select picks exactly one variant. Callers validate the combination with
// ValidateModes first; Select repeats the check.
func Select(opts Options) (Lifecycle, error) {
	if err := ValidateModes(opts.DumpFile, opts.Passive); err != nil {
		return nil, err
	}
	switch {
	case opts.DumpFile != "":
		return NewMitm(opts.Config, opts.DumpFile, opts.Recorder), nil
	case opts.Passive:
		return NewProxy(opts.Config), nil
	default:
		return NewNull(), nil
	}
}
