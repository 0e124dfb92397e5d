package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// StageStats aggregates every observation of one pipeline stage.
type StageStats struct {
	Runs     int64   `json:"runs"`
	Failures int64   `json:"failures"`
	TotalMS  float64 `json:"total_ms"`
	LastMS   float64 `json:"last_ms"`
}

// RunSummary is the part of a Report kept for the most recent run.
type RunSummary struct {
	RunID            string  `json:"run_id"`
	Output           string  `json:"output,omitempty"`
	Error            string  `json:"error,omitempty"`
	GapfillObjective int     `json:"gapfill_objective"`
	GapfillMedium    int     `json:"gapfill_medium"`
	Genes            int     `json:"genes"`
	Reactions        int     `json:"reactions"`
	NewReactions     int     `json:"new_reactions"`
	ObjectiveFlux    float64 `json:"objective_flux"`
	Warnings         int     `json:"warnings"`
	DurationMS       float64 `json:"duration_ms,omitempty"`
}

// PipelineSnapshot is the JSON document published under /debug/vars and
// written by build --metrics-out=*.json.
type PipelineSnapshot struct {
	Stages      map[string]StageStats `json:"stages"`
	Runs        int64                 `json:"runs"`
	FailedRuns  int64                 `json:"failed_runs"`
	GapfillByOp map[string]int64      `json:"gapfill_reactions_total"`
	LastRun     *RunSummary           `json:"last_run,omitempty"`
	RecordedAt  time.Time             `json:"recorded_at"`
}

// ExpvarMetricsRecorder keeps stage and run statistics in process and
// publishes them through expvar.
type ExpvarMetricsRecorder struct {
	name string

	mu      sync.Mutex
	stages  map[string]StageStats
	runs    int64
	failed  int64
	gapfill map[string]int64
	last    *RunSummary
}

var (
	_ MetricsRecorder = (*ExpvarMetricsRecorder)(nil)
	_ RunRecorder     = (*ExpvarMetricsRecorder)(nil)
)

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated unique name when empty. expvar names are process-global.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("reconstructor_pipeline_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:    name,
		stages:  make(map[string]StageStats),
		gapfill: map[string]int64{OpGapfillObjective: 0, OpGapfillMedium: 0},
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stages[operation]
	st.Runs++
	if !success {
		st.Failures++
	}
	st.TotalMS += ms
	st.LastMS = ms
	r.stages[operation] = st
}

// RecordRun implements RunRecorder.
func (r *ExpvarMetricsRecorder) RecordRun(_ context.Context, rep Report, err error) {
	sum := &RunSummary{
		RunID:            rep.RunID,
		Output:           rep.Output,
		GapfillObjective: len(rep.GapfillObjective),
		GapfillMedium:    len(rep.GapfillMedium),
		Genes:            rep.Genes,
		Reactions:        rep.Reactions,
		NewReactions:     rep.NewReactions,
		ObjectiveFlux:    rep.ObjectiveFlux,
		Warnings:         len(rep.Warnings),
	}
	if err != nil {
		sum.Error = err.Error()
	} else {
		sum.DurationMS = float64(rep.Duration()) / float64(time.Millisecond)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	if err != nil {
		r.failed++
	}
	r.gapfill[OpGapfillObjective] += int64(sum.GapfillObjective)
	r.gapfill[OpGapfillMedium] += int64(sum.GapfillMedium)
	r.last = sum
}

// Snapshot returns a copy of the aggregated statistics.
func (r *ExpvarMetricsRecorder) Snapshot() PipelineSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := PipelineSnapshot{
		Stages:      maps.Clone(r.stages),
		Runs:        r.runs,
		FailedRuns:  r.failed,
		GapfillByOp: maps.Clone(r.gapfill),
		RecordedAt:  time.Now().UTC(),
	}
	if r.last != nil {
		last := *r.last
		snap.LastRun = &last
	}
	return snap
}

// StageTrace is one finished stage span.
type StageTrace struct {
	RunID      string    `json:"run_id,omitempty"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTracer writes finished stage spans as JSON lines and keeps them in
// memory. The CLI uses it for --trace-out.
type JSONTracer struct {
	mu      sync.Mutex
	entries []StageTrace
	enc     *json.Encoder
}

// NewJSONTracer returns a tracer encoding to w. A nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns the finished spans in completion order.
func (t *JSONTracer) Entries() []StageTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StageTrace(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{
		tracer: t,
		entry:  StageTrace{RunID: RunID(ctx), Stage: operation, StartedAt: time.Now().UTC()},
	}
}

type jsonSpan struct {
	tracer *JSONTracer
	entry  StageTrace
}

func (s *jsonSpan) End(err error) {
	e := s.entry
	e.Status = statusLabel(err == nil)
	e.DurationMS = float64(time.Since(e.StartedAt)) / float64(time.Millisecond)
	if err != nil {
		e.Error = err.Error()
	}

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, e)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(e)
	}
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the id of the reconstruction run ctx belongs to, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
