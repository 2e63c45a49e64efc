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

// DefaultExpvarName is the expvar key used when NewExpvarMetricsRecorder is
// given no name.
const DefaultExpvarName = "shift2me_operations"

var expvarSeq atomic.Uint64

// OperationStats aggregates the outcomes of one service operation.
type OperationStats struct {
	Calls     int64   `json:"calls"`
	Failures  int64   `json:"failures"`
	TotalMS   float64 `json:"total_ms"`
	SlowestMS float64 `json:"slowest_ms"`
}

// ExpvarMetricsRecorder keeps OperationStats per operation and serves them
// as a single expvar.Func.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OperationStats
}

// NewExpvarMetricsRecorder publishes a recorder under name, DefaultExpvarName
// when empty. A name that is already published gets a numeric suffix.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = DefaultExpvarName
	}
	for base := name; expvar.Get(name) != nil; {
		name = fmt.Sprintf("%s_%d", base, expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OperationStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the per-operation stats.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.ops)
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ops[operation]
	st.Calls++
	if !success {
		st.Failures++
	}
	st.TotalMS += ms
	st.SlowestMS = max(st.SlowestMS, ms)
	r.ops[operation] = st
}

// TraceRecord is one finished span as written by JSONTraceTracer.
type TraceRecord struct {
	Operation string    `json:"op"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Start     time.Time `json:"start"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

// JSONTraceTracer appends one JSON line per finished span to a writer and
// keeps the records in memory.
type JSONTraceTracer struct {
	mu      sync.Mutex
	w       io.Writer
	records []TraceRecord
	now     func() time.Time
}

// NewJSONTracer returns a tracer writing to w. A nil w only keeps records.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w, now: func() time.Time { return time.Now().UTC() }}
}

// Records returns the finished spans in end order.
func (t *JSONTraceTracer) Records() []TraceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceRecord(nil), t.records...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &traceSpan{tracer: t, rec: TraceRecord{Operation: operation, Start: t.now()}}
}

func (t *JSONTraceTracer) finish(rec TraceRecord) {
	line, _ := json.Marshal(rec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	if t.w != nil {
		_, _ = t.w.Write(append(line, '\n'))
	}
}

type traceSpan struct {
	tracer *JSONTraceTracer
	rec    TraceRecord
	once   sync.Once
}

func (s *traceSpan) End(err error) {
	s.once.Do(func() {
		rec := s.rec
		rec.ElapsedMS = float64(s.tracer.now().Sub(rec.Start)) / float64(time.Millisecond)
		rec.OK = err == nil
		if err != nil {
			rec.Error = err.Error()
		}
		s.tracer.finish(rec)
	})
}
