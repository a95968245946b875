//go:build unix

package proxy

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/strongdm/contain-agent/internal/dumpfile"
)

const (
	sleepingRecorder = "#!/bin/sh\nexec sleep 30\n"
	// writes the dump named by -w, then idles
	dumpingRecorder  = "#!/bin/sh\nprintf 'flows' > \"$2\"\nexec sleep 30\n"
	crashingRecorder = "#!/bin/sh\necho 'Error: address already in use' >&2\nexit 1\n"
	stubbornRecorder = "#!/bin/sh\ntrap '' TERM\nwhile :; do sleep 1; done\n"
)

// installRecorder writes script as the cached recorder under home and
// returns home.
func installRecorder(t *testing.T, script string) string {
	t.Helper()
	home := t.TempDir()
	dir := filepath.Join(home, ".contain-agent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mitmdump"), []byte(script), 0o755); err != nil {
		t.Fatalf("write recorder: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(home, ".mitmproxy"), 0o755); err != nil {
		t.Fatalf("mkdir cert dir: %v", err)
	}
	return home
}

func newTestMitm(t *testing.T, home string, buf *bytes.Buffer) *Mitm {
	t.Helper()
	cfg := Config{Host: "127.0.0.1", Port: DefaultPort, CertDir: filepath.Join(home, ".mitmproxy")}
	return NewMitm(cfg, filepath.Join(t.TempDir(), "traffic.dump"), RecorderOptions{
		HomeDir:       home,
		GraceInterval: 50 * time.Millisecond,
		StopTimeout:   200 * time.Millisecond,
		Logger:        log.New(buf, "", 0),
	})
}

func processGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	return errors.Is(err, syscall.ESRCH)
}

func TestLocateRecorderOrder(t *testing.T) {
	home := t.TempDir()
	bin := t.TempDir()
	t.Setenv("PATH", bin)

	if _, err := LocateRecorder(home); !errors.Is(err, ErrRecorderNotFound) {
		t.Fatalf("expected ErrRecorderNotFound, got %v", err)
	}

	uvx := filepath.Join(bin, "uvx")
	if err := os.WriteFile(uvx, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write uvx: %v", err)
	}
	got, err := LocateRecorder(home)
	if err != nil {
		t.Fatalf("LocateRecorder: %v", err)
	}
	if want := []string{uvx, "--from", "mitmproxy", "mitmdump"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("uvx fallback = %v, want %v", got, want)
	}

	onPath := filepath.Join(bin, "mitmdump")
	if err := os.WriteFile(onPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write mitmdump: %v", err)
	}
	got, _ = LocateRecorder(home)
	if !reflect.DeepEqual(got, []string{onPath}) {
		t.Fatalf("PATH lookup = %v", got)
	}

	cached := filepath.Join(home, ".contain-agent", "mitmdump")
	if err := os.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(cached, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write cached: %v", err)
	}
	got, _ = LocateRecorder(home)
	if !reflect.DeepEqual(got, []string{cached}) {
		t.Fatalf("cached binary = %v", got)
	}
}

func TestRecorderArgs(t *testing.T) {
	t.Parallel()

	home := "/home/op"
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "defaults",
			cfg:  Config{Host: "h", Port: 8080, CertDir: "/home/op/.mitmproxy"},
			want: []string{"-w", "/tmp/t.dump"},
		},
		{
			name: "custom port",
			cfg:  Config{Host: "h", Port: 9000, CertDir: "/home/op/.mitmproxy"},
			want: []string{"-w", "/tmp/t.dump", "--listen-port", "9000"},
		},
		{
			name: "custom cert dir",
			cfg:  Config{Host: "h", Port: 8080, CertDir: "/srv/certs"},
			want: []string{"-w", "/tmp/t.dump", "--set", "confdir=/srv/certs"},
		},
	}
	for _, tc := range tests {
		m := NewMitm(tc.cfg, "/tmp/t.dump", RecorderOptions{HomeDir: home})
		if got := m.recorderArgs(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: args = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewMitmAbsolutizesDump(t *testing.T) {
	root := t.TempDir()
	chdir(t, root)

	m := NewMitm(Config{}, "out.dump", RecorderOptions{})
	if !filepath.IsAbs(m.DumpFile()) || filepath.Base(m.DumpFile()) != "out.dump" {
		t.Fatalf("dump file = %q", m.DumpFile())
	}
}

func TestMitmEnterNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	var buf bytes.Buffer
	m := newTestMitm(t, t.TempDir(), &buf)
	ran := false
	err := Run(context.Background(), m, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrRecorderNotFound) {
		t.Fatalf("expected ErrRecorderNotFound, got %v", err)
	}
	if ran {
		t.Fatal("body ran without a recorder")
	}
}

func TestMitmRecorderExitsDuringGrace(t *testing.T) {
	home := installRecorder(t, crashingRecorder)
	var buf bytes.Buffer
	m := newTestMitm(t, home, &buf)

	ran := false
	err := Run(context.Background(), m, func(context.Context) error {
		ran = true
		return nil
	})
	var startErr *RecorderStartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected RecorderStartError, got %v", err)
	}
	if !strings.Contains(startErr.Error(), "address already in use") {
		t.Fatalf("error does not carry recorder output: %v", startErr)
	}
	if ran {
		t.Fatal("body ran after recorder exited")
	}
	if m.State() != StateUnconstructed {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMitmStartAndStop(t *testing.T) {
	home := installRecorder(t, sleepingRecorder)
	var buf bytes.Buffer
	m := newTestMitm(t, home, &buf)

	var pid int
	err := Run(context.Background(), m, func(context.Context) error {
		if m.State() != StateActive {
			t.Fatalf("state inside region = %s", m.State())
		}
		pid = m.PID()
		if processGone(pid) {
			t.Fatalf("recorder %d not running inside region", pid)
		}
		if m.Overrides().IsZero() {
			t.Fatal("recording lifecycle must provide overrides")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !processGone(pid) {
		t.Fatalf("recorder %d still alive after exit", pid)
	}
	out := buf.String()
	for _, want := range []string{"Starting mitmproxy:", "mitmdump started with PID", "Stopping mitmproxy...", "Traffic dump saved to " + m.DumpFile()} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}

func TestMitmForceKillsStubbornRecorder(t *testing.T) {
	home := installRecorder(t, stubbornRecorder)
	var buf bytes.Buffer
	m := newTestMitm(t, home, &buf)

	if err := m.Enter(context.Background()); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	pid := m.PID()
	m.Exit()

	if !processGone(pid) {
		t.Fatalf("recorder %d survived SIGKILL", pid)
	}
	if !strings.Contains(buf.String(), "Force killing mitmproxy...") {
		t.Fatalf("expected force kill log, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "event=") {
		t.Fatalf("event lines must stay hidden without verbose:\n%s", buf.String())
	}
}

func TestMitmVerboseLogsEvents(t *testing.T) {
	home := installRecorder(t, stubbornRecorder)
	var buf bytes.Buffer
	m := newTestMitm(t, home, &buf)
	m.opts.Verbose = true

	if err := m.Enter(context.Background()); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	m.Exit()

	out := buf.String()
	for _, want := range []string{"event=recorder.start pid=", "Force killing mitmproxy...", "event=recorder.stop pid="} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}

func TestMitmCertDirMissingStopsRecorder(t *testing.T) {
	home := installRecorder(t, sleepingRecorder)
	var buf bytes.Buffer
	cfg := Config{Host: "127.0.0.1", Port: DefaultPort, CertDir: filepath.Join(home, "absent")}
	m := NewMitm(cfg, filepath.Join(t.TempDir(), "t.dump"), RecorderOptions{
		HomeDir:       home,
		GraceInterval: 50 * time.Millisecond,
		StopTimeout:   200 * time.Millisecond,
		Logger:        log.New(&buf, "", 0),
	})

	err := m.Enter(context.Background())
	var certErr *CertDirNotFoundError
	if !errors.As(err, &certErr) {
		t.Fatalf("expected CertDirNotFoundError, got %v", err)
	}
	if m.PID() != 0 {
		t.Fatal("failed Enter must not keep a recorder handle")
	}
	if strings.Contains(buf.String(), "started with PID") {
		t.Fatalf("recorder reported as started:\n%s", buf.String())
	}
}

func TestMitmInterruptedRunsLeaveNoRecorder(t *testing.T) {
	home := installRecorder(t, sleepingRecorder)

	runs := 100
	if testing.Short() {
		runs = 10
	}
	pids := make([]int, 0, runs)
	for i := 0; i < runs; i++ {
		var buf bytes.Buffer
		m := newTestMitm(t, home, &buf)
		ctx, cancel := context.WithCancel(context.Background())
		err := Run(ctx, m, func(ctx context.Context) error {
			pids = append(pids, m.PID())
			cancel()
			<-ctx.Done()
			return ctx.Err()
		})
		cancel()
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run %d: error = %v", i, err)
		}
		if m.State() != StateStopped {
			t.Fatalf("run %d: state = %s", i, m.State())
		}
	}
	for _, pid := range pids {
		if !processGone(pid) {
			t.Fatalf("recorder %d leaked", pid)
		}
	}
}

func TestMitmCompressesDumpOnExit(t *testing.T) {
	home := installRecorder(t, dumpingRecorder)
	var buf bytes.Buffer
	m := newTestMitm(t, home, &buf)
	m.opts.Compression = dumpfile.CodecZstd
	m.opts.GraceInterval = 300 * time.Millisecond

	if err := Run(context.Background(), m, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	compressed := m.DumpFile() + ".zst"
	if _, err := os.Stat(compressed); err != nil {
		t.Fatalf("compressed dump missing: %v", err)
	}
	if _, err := os.Stat(m.DumpFile()); !os.IsNotExist(err) {
		t.Fatalf("uncompressed dump should be removed, stat err = %v", err)
	}
	if !strings.Contains(buf.String(), "Traffic dump saved to "+compressed) {
		t.Fatalf("log does not report compressed path:\n%s", buf.String())
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	t.Parallel()

	tb := &tailBuffer{limit: 5}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh"))
	if got := tb.String(); got != "defgh" {
		t.Fatalf("tail = %q", got)
	}
}
