package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"shift2me/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), DefaultExpvarName) {
		t.Fatalf("unexpected name %s", rec.Name())
	}
	other := NewExpvarMetricsRecorder(rec.Name())
	if other.Name() == rec.Name() {
		t.Fatalf("taken name must get a suffix, both are %s", rec.Name())
	}
	rec.Observe(context.Background(), "add_step", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "add_step", false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	want := OperationStats{Calls: 2, Failures: 1, TotalMS: 5, SlowestMS: 3}
	if len(snap) != 1 || snap["add_step"] != want {
		t.Fatalf("unexpected stats %+v", snap)
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("recorder not published")
	}
	var decoded map[string]OperationStats
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded["add_step"] != want {
		t.Fatalf("unexpected published stats %+v", decoded)
	}

	snap["add_step"] = OperationStats{}
	if rec.Snapshot()["add_step"] != want {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestCombineMetrics(t *testing.T) {
	first, second := &captureMetricsRecorder{}, &captureMetricsRecorder{}
	if got := CombineMetrics(nil, first); got != MetricsRecorder(first) {
		t.Fatalf("a single recorder must be returned as is")
	}
	svc, _ := newTestService(t, WithMetricsRecorder(CombineMetrics(first, nil, second)))
	addSteps(t, svc, step0)
	if len(first.calls) != 1 || len(second.calls) != 1 {
		t.Fatalf("both recorders must observe add_step: %+v %+v", first.calls, second.calls)
	}
	CombineMetrics().Observe(context.Background(), "noop", true, 0)
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	tracer.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}

	_, span := tracer.Start(context.Background(), "replay")
	span.End(errors.New("boom"))
	span.End(nil)

	records := tracer.Records()
	if len(records) != 1 {
		t.Fatalf("span must end once, got %+v", records)
	}
	r := records[0]
	if r.Operation != "replay" || r.OK || r.Error != "boom" || r.ElapsedMS != 1 {
		t.Fatalf("unexpected record %+v", r)
	}
	var line TraceRecord
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if line.Operation != "replay" || !strings.HasSuffix(buf.String(), "}\n") {
		t.Fatalf("unexpected json line %q", buf.String())
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "select")
	span.End(nil)
	if got := silent.Records(); len(got) != 1 || !got[0].OK {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	svc, _ := newTestService(t, WithMetricsRecorder(m))
	stop := m.Track(svc)
	defer stop()

	addSteps(t, svc, step0, step1, step2)
	if _, err := svc.AddStep(context.Background(), "titr9.list", strings.NewReader(step0), nil); err == nil {
		t.Fatalf("expected out of order failure")
	}
	if _, err := svc.Select(context.Background(), 42); err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := testutil.ToFloat64(m.operations.WithLabelValues("add_step", "success")); got != 3 {
		t.Fatalf("expected 3 successful add_step, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("add_step", "error")); got != 1 {
		t.Fatalf("expected 1 failed add_step, got %v", got)
	}
	if got := testutil.ToFloat64(m.steps); got != 3 {
		t.Fatalf("steps gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.residues.WithLabelValues("incomplete")); got != 1 {
		t.Fatalf("incomplete gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.residues.WithLabelValues("selected")); got != 1 {
		t.Fatalf("selected gauge = %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Fatalf("expected histograms for add_step and select, got %d", n)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"shift2me_operations_total", "shift2me_operation_duration_seconds", "shift2me_titration_steps", "shift2me_titration_residues"} {
		if !names[want] {
			t.Fatalf("missing metric family %s in %v", want, names)
		}
	}
}

func TestPrometheusUpdateEmptyTitration(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.Update(domain.NewTitration("empty"))
	if got := testutil.ToFloat64(m.residues.WithLabelValues("all")); got != 0 {
		t.Fatalf("expected no residues, got %v", got)
	}
}
