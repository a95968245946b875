package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/strongdm/contain-agent/internal/dumpfile"
	"github.com/strongdm/contain-agent/internal/profile"
)

const (
	// DefaultGraceInterval is how long the recorder must stay up after spawn.
	DefaultGraceInterval = time.Second
	// DefaultStopTimeout bounds the wait between SIGTERM and SIGKILL.
	DefaultStopTimeout = 5 * time.Second

	// recorderBinaryName is also the cached binary's file name under ~/.contain-agent.
	recorderBinaryName = "mitmdump"

	reapTimeout = 2 * time.Second
	outputLimit = 4096
)

// ErrRecorderNotFound means no mitmdump could be located.
var ErrRecorderNotFound = errors.New("mitmdump not found")

// RecorderStartError reports a recorder that could not be spawned or exited
// during the grace interval.
type RecorderStartError struct {
	Argv   []string
	Output string
	Err    error
}

func (e *RecorderStartError) Error() string {
	var b strings.Builder
	b.WriteString("mitmdump failed to start")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	return b.String()
}

func (e *RecorderStartError) Unwrap() error { return e.Err }

// RecorderOptions tunes the recording variant.
type RecorderOptions struct {
	// HomeDir locates the cached recorder binary and the default cert dir.
	HomeDir       string
	GraceInterval time.Duration
	StopTimeout   time.Duration
	Compression   dumpfile.Codec
	Logger        *log.Logger
	Verbose       bool
}

// Mitm starts mitmdump on Enter and stops it on Exit.
type Mitm struct {
	Proxy

	dumpFile string
	opts     RecorderOptions
	rec      *recorder
}

// NewMitm prepares a recorder writing to dumpFile. Nothing is started until Enter.
func NewMitm(cfg Config, dumpFile string, opts RecorderOptions) *Mitm {
	if abs, err := filepath.Abs(dumpFile); err == nil {
		dumpFile = abs
	}
	if opts.GraceInterval <= 0 {
		opts.GraceInterval = DefaultGraceInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "", 0)
	}
	return &Mitm{Proxy: Proxy{cfg: cfg}, dumpFile: dumpFile, opts: opts}
}

func (m *Mitm) Mode() Mode { return ModeRecord }

// DumpFile is the absolute path mitmdump writes to.
func (m *Mitm) DumpFile() string { return m.dumpFile }

// PID returns the recorder's process id while it is active.
func (m *Mitm) PID() int {
	if m.rec == nil {
		return 0
	}
	return m.rec.pid
}

// Enter locates and spawns the recorder, then confirms it is still running
// after the grace interval. On any failure the recorder is not left behind.
func (m *Mitm) Enter(ctx context.Context) error {
	if m.state != StateUnconstructed {
		return errAlreadyEntered
	}
	argv, err := LocateRecorder(m.opts.HomeDir)
	if err != nil {
		return err
	}
	argv = append(argv, m.recorderArgs()...)

	m.opts.Logger.Printf("Starting mitmproxy: %s", strings.Join(argv, " "))
	rec, err := startRecorder(argv)
	if err != nil {
		return &RecorderStartError{Argv: argv, Err: err}
	}

	timer := time.NewTimer(m.opts.GraceInterval)
	defer timer.Stop()
	select {
	case <-rec.done:
		return &RecorderStartError{Argv: argv, Output: rec.output.String(), Err: rec.waitErr}
	case <-ctx.Done():
		rec.stop(m.opts.StopTimeout, m.opts.Logger.Printf, m.debugf)
		return ctx.Err()
	case <-timer.C:
	}
	if rec.exited() {
		return &RecorderStartError{Argv: argv, Output: rec.output.String(), Err: rec.waitErr}
	}

	// mitmdump writes its CA into the cert dir on first start, so the
	// directory is only required once the recorder is up.
	if err := checkCertDir(m.cfg.CertDir); err != nil {
		rec.stop(m.opts.StopTimeout, m.opts.Logger.Printf, m.debugf)
		return err
	}

	m.rec = rec
	m.state = StateActive
	m.opts.Logger.Printf("mitmdump started with PID %d", rec.pid)
	m.debugf("event=recorder.start pid=%d dump=%s", rec.pid, m.dumpFile)
	return nil
}

// Exit terminates the recorder (SIGTERM, then SIGKILL after the stop
// timeout) and reports where the traffic dump was written. It never fails;
// a recorder that could not be confirmed stopped is only logged.
func (m *Mitm) Exit() {
	if m.state != StateActive {
		return
	}
	m.state = StateStopped

	m.opts.Logger.Println()
	m.opts.Logger.Println("Stopping mitmproxy...")
	if !m.rec.stop(m.opts.StopTimeout, m.opts.Logger.Printf, m.debugf) {
		m.opts.Logger.Printf("Warning: could not confirm mitmdump (PID %d) stopped", m.rec.pid)
	}
	m.debugf("event=recorder.stop pid=%d", m.rec.pid)

	saved := m.dumpFile
	if m.opts.Compression != dumpfile.CodecNone && m.opts.Compression != "" {
		compressed, err := dumpfile.Compress(m.dumpFile, m.opts.Compression)
		if err != nil {
			m.opts.Logger.Printf("Warning: failed to compress traffic dump: %v", err)
		} else {
			saved = compressed
		}
	}
	m.opts.Logger.Printf("Traffic dump saved to %s", saved)
}

func (m *Mitm) recorderArgs() []string {
	args := []string{"-w", m.dumpFile}
	if m.cfg.Port != 0 && m.cfg.Port != DefaultPort {
		args = append(args, "--listen-port", strconv.Itoa(m.cfg.Port))
	}
	if m.opts.HomeDir != "" && m.cfg.CertDir != "" {
		if filepath.Clean(m.cfg.CertDir) != filepath.Join(m.opts.HomeDir, DefaultCertDirName) {
			args = append(args, "--set", "confdir="+m.cfg.CertDir)
		}
	}
	return args
}

func (m *Mitm) debugf(format string, args ...interface{}) {
	if m.opts.Verbose {
		m.opts.Logger.Printf(format, args...)
	}
}

// LocateRecorder returns the argv prefix used to launch mitmdump, trying a
// cached binary in ~/.contain-agent, then mitmdump on PATH, then uvx.
func LocateRecorder(home string) ([]string, error) {
	if strings.TrimSpace(home) != "" {
		cached := filepath.Join(home, profile.HomeDirName, recorderBinaryName)
		if info, err := os.Stat(cached); err == nil && !info.IsDir() {
			return []string{cached}, nil
		}
	}
	if path, err := exec.LookPath(recorderBinaryName); err == nil {
		return []string{path}, nil
	}
	if path, err := exec.LookPath("uvx"); err == nil {
		return []string{path, "--from", "mitmproxy", recorderBinaryName}, nil
	}
	return nil, ErrRecorderNotFound
}

type recorder struct {
	cmd     *exec.Cmd
	pid     int
	output  *tailBuffer
	done    chan struct{}
	waitErr error
}

func startRecorder(argv []string) (*recorder, error) {
	if len(argv) == 0 {
		return nil, ErrRecorderNotFound
	}
	out := &tailBuffer{limit: outputLimit}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = recorderSysProcAttr()
	cmd.WaitDelay = reapTimeout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	r := &recorder{cmd: cmd, pid: cmd.Process.Pid, output: out, done: make(chan struct{})}
	go func() {
		r.waitErr = cmd.Wait()
		close(r.done)
	}()
	return r, nil
}

func (r *recorder) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// stop reports whether the process was confirmed gone. logf receives
// operator progress; debugf receives event lines.
func (r *recorder) stop(timeout time.Duration, logf, debugf func(string, ...interface{})) bool {
	if r.exited() {
		return true
	}
	if err := signalRecorder(r.cmd.Process, terminateSignal); err != nil {
		debugf("event=recorder.signal signal=TERM error=%q", err.Error())
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
	}

	logf("Force killing mitmproxy...")
	if err := signalRecorder(r.cmd.Process, killSignal); err != nil {
		debugf("event=recorder.signal signal=KILL error=%q", err.Error())
	}
	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-r.done:
		return true
	case <-reap.C:
		return false
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

var _ io.Writer = (*tailBuffer)(nil)

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; t.limit > 0 && over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
