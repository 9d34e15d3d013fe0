package core

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"forestcensus/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "forestcensus_service_metrics_") {
		t.Fatalf("unexpected name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "reconcile", true, 2*time.Millisecond)
	rec.Observe(ctx, "reconcile", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)
	rec.ObserveSync(ctx, EntityTreeCensus, "added", 3)
	rec.ObserveSync(ctx, EntityTreeCensus, "deleted", 0)

	snap := rec.Snapshot()
	if snap.DurationsMS["reconcile"] != 3 {
		t.Fatalf("expected 3ms total, got %v", snap.DurationsMS["reconcile"])
	}
	if snap.Results["reconcile"]["success"] != 1 || snap.Results["reconcile"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if snap.Synced["tree_census"]["added"] != 3 || len(snap.Synced["tree_census"]) != 1 {
		t.Fatalf("unexpected sync counts %+v", snap.Synced)
	}
	if v := expvar.Get(rec.Name()); v == nil || !strings.Contains(v.String(), "sync_records_total") {
		t.Fatalf("expected published expvar")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "approve_plot_census")
	span.End(&domain.InvalidTransitionError{Entity: EntityPlotCensus, ID: "pc", From: "assigned", To: "approved"})
	_, span = tracer.Start(context.Background(), "assign_plot")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "error" || entries[0].Kind != "invalid_transition" || entries[1].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	var decoded JSONTraceEntry
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil || decoded.Operation != "approve_plot_census" {
		t.Fatalf("unexpected encoded span %+v (%v)", decoded, err)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "reconcile", true, 5*time.Millisecond)
	rec.Observe(ctx, "reconcile", false, time.Millisecond)
	rec.ObserveSync(ctx, EntityTree, "added", 4)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("reconcile", "error")); got != 1 {
		t.Fatalf("expected one error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.synced.WithLabelValues("tree", "added")); got != 4 {
		t.Fatalf("expected 4 synced trees, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestServiceWithPrometheusRecorder(t *testing.T) {
	rec, err := NewPrometheusMetricsRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f := newFixture(t, WithMetricsRecorder(rec))
	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{
		Trees:        []Tree{f.tree("T1")},
		TreeCensuses: []TreeCensus{census("tc-1", pc.ID, "T1", t1, 10)},
	})
	if got := testutil.ToFloat64(rec.synced.WithLabelValues("tree_census", "added")); got != 1 {
		t.Fatalf("expected one synced tree census, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("assign_plot", "success")); got != 1 {
		t.Fatalf("expected one assignment, got %v", got)
	}
}

func TestCensusCollector(t *testing.T) {
	f := newFixture(t)
	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{Trees: []Tree{f.tree("T1"), f.tree("T2")}})

	collector := NewCensusCollector(f.svc)
	if n := testutil.CollectAndCount(collector, "forestcensus_plot_censuses"); n != 1 {
		t.Fatalf("expected one plot census series, got %d", n)
	}
	want := fmt.Sprintf(`
# HELP forestcensus_plot_censuses Plot censuses by forest census and workflow status.
# TYPE forestcensus_plot_censuses gauge
forestcensus_plot_censuses{forest_census_id=%q,status="assigned"} 1
# HELP forestcensus_trees Trees known to the store.
# TYPE forestcensus_trees gauge
forestcensus_trees 2
`, pc.ForestCensusID)
	if err := testutil.CollectAndCompare(collector, strings.NewReader(want), "forestcensus_plot_censuses", "forestcensus_trees"); err != nil {
		t.Fatalf("unexpected census metrics: %v", err)
	}
}

func TestFanOutMetrics(t *testing.T) {
	capture := &captureMetricsRecorder{}
	expv := NewExpvarMetricsRecorder("")
	f := newFixture(t, WithMetricsRecorder(FanOutMetrics(capture, expv, noopMetrics{})))
	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{
		Trees:        []Tree{f.tree("T1")},
		TreeCensuses: []TreeCensus{census("tc-1", pc.ID, "T1", t1, 10)},
	})
	if expv.Snapshot().Results["reconcile"]["success"] != 1 {
		t.Fatalf("expvar recorder missed reconcile: %+v", expv.Snapshot().Results)
	}
	if expv.Snapshot().Synced["tree"]["added"] != 1 || capture.synced["tree/added"] != 1 {
		t.Fatalf("sync counts not fanned out: %+v %+v", expv.Snapshot().Synced, capture.synced)
	}
}
