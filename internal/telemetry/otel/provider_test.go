package otel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value     string
		defaultOn bool
		want      bool
	}{
		{value: "", defaultOn: true, want: true},
		{value: "1", want: true},
		{value: " Yes ", want: true},
		{value: "off", defaultOn: true, want: false},
		{value: "maybe", defaultOn: true, want: true},
	}
	for _, tc := range tests {
		if got := EnvBool(tc.value, tc.defaultOn); got != tc.want {
			t.Fatalf("EnvBool(%q, %v) = %v", tc.value, tc.defaultOn, got)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CONTAIN_AGENT_OTEL_TRACES", "true")
	t.Setenv("CONTAIN_AGENT_OTEL_METRICS", "")

	cfg := LoadConfigFromEnv()
	if !cfg.EnableTraces || cfg.EnableMetrics {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	h, ctx := p.Session().Start(context.Background(), SessionInfo{ID: "x"})
	if ctx == nil {
		t.Fatal("nil context")
	}
	h.Phase("proxy.enter")(nil)
	h.RecordContainer(time.Second)
	h.Finish(0, nil)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var nilHandle *SessionHandle
	nilHandle.Phase("x")(errors.New("ignored"))
	nilHandle.Finish(1, nil)
}

func TestSessionTracesAndMetrics(t *testing.T) {
	t.Parallel()

	var spans bytes.Buffer
	p, err := Setup(context.Background(), Config{EnableMetrics: true, EnableTraces: true, Writer: &spans})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	h, _ := p.Session().Start(context.Background(), SessionInfo{ID: "abc", Mode: "record", Image: "contain-agent"})
	h.Phase("proxy.enter")(nil)
	h.Phase("container.run")(errors.New("exit status 3"))
	h.RecordContainer(1500 * time.Millisecond)
	h.Finish(3, nil)

	rm, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == MetricSessions {
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
					t.Fatalf("unexpected sessions data: %#v", m.Data)
				}
			}
		}
	}
	if !found[MetricSessions] || !found[MetricContainerDuration] {
		t.Fatalf("missing metrics: %v", found)
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := spans.String()
	for _, name := range []string{`"launch"`, `"proxy.enter"`, `"container.run"`, "exit status 3"} {
		if !strings.Contains(out, name) {
			t.Fatalf("span output missing %s:\n%s", name, out)
		}
	}
}

func TestShutdownExportsMetrics(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p, err := Setup(context.Background(), Config{EnableMetrics: true, Writer: &out})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	h, _ := p.Session().Start(context.Background(), SessionInfo{ID: "abc", Mode: "none"})
	h.RecordContainer(2 * time.Second)
	h.Finish(0, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	got := out.String()
	for _, name := range []string{MetricSessions, MetricContainerDuration} {
		if !strings.Contains(got, name) {
			t.Fatalf("metric output missing %s:\n%s", name, got)
		}
	}

	out.Reset()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("second Shutdown must not export again:\n%s", out.String())
	}
}
