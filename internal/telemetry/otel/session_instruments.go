package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metric names.
const (
	MetricSessions          = "contain_agent.sessions"
	MetricContainerDuration = "contain_agent.container.duration"
)

// SessionInstruments publishes one launch as a span tree plus metrics.
type SessionInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterSessions metric.Int64Counter
	histDuration    metric.Float64Histogram

	tracer trace.Tracer
}

// SessionInfo describes the launch being recorded.
type SessionInfo struct {
	ID      string
	Mode    string
	Image   string
	Profile string
}

// SessionHandle tracks an in-flight launch. A nil handle is valid and
// records nothing.
type SessionHandle struct {
	inst  *SessionInstruments
	ctx   context.Context
	span  trace.Span
	attrs []attribute.KeyValue
}

func newSessionInstruments(p *Provider) *SessionInstruments {
	inst := &SessionInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if inst.meterEnabled {
		inst.counterSessions, _ = p.meter.Int64Counter(
			MetricSessions,
			metric.WithDescription("Number of agent sessions launched"),
		)
		inst.histDuration, _ = p.meter.Float64Histogram(
			MetricContainerDuration,
			metric.WithDescription("Wall time of the container run"),
			metric.WithUnit("s"),
		)
	}
	if inst.traceEnabled {
		inst.tracer = p.tracer
	}
	return inst
}

// Start opens the root "launch" span.
func (i *SessionInstruments) Start(parent context.Context, info SessionInfo) (*SessionHandle, context.Context) {
	if i == nil {
		return nil, parent
	}
	h := &SessionHandle{inst: i, ctx: parent, attrs: sessionAttributes(info)}
	if i.traceEnabled && i.tracer != nil {
		ctx, span := i.tracer.Start(parent, "launch", trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Phase opens a child span such as "proxy.enter" or "container.run". The
// returned func ends it, marking the span failed when err is non-nil.
func (h *SessionHandle) Phase(name string) func(err error) {
	if h == nil || h.span == nil {
		return func(error) {}
	}
	_, span := h.inst.tracer.Start(h.ctx, name)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordContainer records the container's run time.
func (h *SessionHandle) RecordContainer(elapsed time.Duration) {
	if h == nil || !h.inst.meterEnabled {
		return
	}
	h.inst.histDuration.Record(h.ctx, elapsed.Seconds(), metric.WithAttributes(h.attrs...))
}

// Finish counts the session with its exit code and closes the root span.
func (h *SessionHandle) Finish(exitCode int, err error) {
	if h == nil {
		return
	}
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	attrs = append(attrs, attribute.Int("exit_code", exitCode))
	if h.inst.meterEnabled {
		h.inst.counterSessions.Add(h.ctx, 1, metric.WithAttributes(attrs...))
	}
	if h.span != nil {
		h.span.SetAttributes(attribute.Int("exit_code", exitCode))
		if err != nil {
			h.span.RecordError(err)
			h.span.SetStatus(codes.Error, err.Error())
		}
		h.span.End()
	}
}

func sessionAttributes(info SessionInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if info.ID != "" {
		attrs = append(attrs, attribute.String("session.id", info.ID))
	}
	if info.Mode != "" {
		attrs = append(attrs, attribute.String("proxy.mode", info.Mode))
	}
	if info.Image != "" {
		attrs = append(attrs, attribute.String("container.image", info.Image))
	}
	if info.Profile != "" {
		attrs = append(attrs, attribute.String("profile", info.Profile))
	}
	return attrs
}
