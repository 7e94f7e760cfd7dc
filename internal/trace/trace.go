// Package trace carries W3C-style trace and span identifiers through HTTP
// requests, gRPC calls and capture sessions, and stamps them on log lines.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header and metadata keys for propagation.
const (
	TraceIDKey = "x-trace-id"
	SpanIDKey  = "x-span-id"
)

type ctxKey struct{}

// Context identifies one span. SessionID and MachineID are set inside a
// capture session and inherited by every span started under it.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
	MachineID    string
}

// New starts a fresh trace.
func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// child opens a span under c, keeping its trace and session scope.
func (c Context) child() Context {
	if c.TraceID == "" {
		return New()
	}
	c.ParentSpanID, c.SpanID = c.SpanID, randomHex(8)
	return c
}

// Continue starts a span under a remote caller's trace. A missing trace ID
// starts a fresh trace.
func Continue(traceID, parentSpanID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{TraceID: traceID, SpanID: randomHex(8), ParentSpanID: parentSpanID}
}

// FromContext returns the trace context stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns ctx with a trace, starting one if ctx has none.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession scopes ctx to a capture session. The trace continues the one
// already in ctx, if any.
func WithSession(ctx context.Context, sessionID, machineID string) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	}
	tc.SessionID, tc.MachineID = sessionID, machineID
	return WithContext(ctx, tc)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (c Context) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs, slog.String("trace_id", c.TraceID), slog.String("span_id", c.SpanID))
	if c.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", c.ParentSpanID))
	}
	if c.SessionID != "" {
		attrs = append(attrs, slog.String("session", c.SessionID))
	}
	if c.MachineID != "" {
		attrs = append(attrs, slog.String("machine", c.MachineID))
	}
	return attrs
}

// Logger returns the default logger with ctx's trace and session attached.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	attrs := tc.attrs()
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return slog.Default().With(args...)
}

// Span is a timed operation within a trace.
type Span struct {
	Name  string
	Ctx   Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
	err   error
}

// StartSpan opens a span under the trace in ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{Name: name, Ctx: parent.child(), start: time.Now()}
	return WithContext(ctx, s.Ctx), s
}

// SetAttr records a span attribute. Later values for a key win.
func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// End stops the span's clock.
func (s *Span) End() {
	if s.end.IsZero() {
		s.end = time.Now()
	}
}

// Finish ends the span and logs it: debug on success, warn when err != nil.
func (s *Span) Finish(err error) {
	s.End()
	s.err = err
	if err != nil {
		slog.Warn("span failed", "span", s, "error", err)
		return
	}
	slog.Debug("span finished", "span", s)
}

// Err returns the error the span finished with.
func (s *Span) Err() error { return s.err }

// Duration is zero until the span ends.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("name", s.Name), slog.Duration("duration", s.Duration())}
	attrs = append(attrs, s.Ctx.attrs()...)
	seen := make(map[string]int, len(attrs)+len(s.attrs))
	for i, a := range attrs {
		seen[a.Key] = i
	}
	for _, a := range s.attrs {
		if i, ok := seen[a.Key]; ok {
			attrs[i] = a
			continue
		}
		seen[a.Key] = len(attrs)
		attrs = append(attrs, a)
	}
	return slog.GroupValue(attrs...)
}
