package core

import (
	"context"
	"time"

	"reconstructor/internal/catalog"
	"reconstructor/internal/solver"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports time.Now.
type ClockFunc func() time.Time

// Now returns the current time in UTC.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MetricsRecorder observes the outcome of each pipeline stage.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// RunRecorder is an optional extension of MetricsRecorder. When the
// installed recorder implements it, Reconstruct reports every finished run,
// failed ones included.
type RunRecorder interface {
	RecordRun(ctx context.Context, rep Report, err error)
}

// Tracer opens a span per pipeline stage.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the stage error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Aligner aligns a protein FASTA against the reference database, writing
// tabular hits to out. *aligner.Diamond satisfies it.
type Aligner interface {
	Blastp(ctx context.Context, query, out string) error
}

type serviceOptions struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	solver  solver.Solver
	catalog *catalog.Catalog
	aligner func(cfg Config) (Aligner, error)
	newID   func() string
}

// Option customizes a Service.
type Option func(*serviceOptions)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for report timestamps.
func WithClock(c Clock) Option {
	return func(o *serviceOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetricsRecorder installs a per-stage metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer installs a per-stage tracer.
func WithTracer(t Tracer) Option {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithSolver replaces the default sparse LP solver.
func WithSolver(s solver.Solver) Option {
	return func(o *serviceOptions) {
		if s != nil {
			o.solver = s
		}
	}
}

// WithCatalog replaces the embedded curated catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *serviceOptions) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithAligner replaces the DIAMOND lookup with a fixed aligner.
func WithAligner(a Aligner) Option {
	return func(o *serviceOptions) {
		if a != nil {
			o.aligner = func(Config) (Aligner, error) { return a, nil }
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(o *serviceOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}
