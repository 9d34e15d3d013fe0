package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"forestcensus/pkg/domain"
)

var (
	admin    = Principal{UserID: "admin", Roles: []domain.Role{domain.RoleAdmin}}
	reviewer = Principal{UserID: "rev", Roles: []domain.Role{domain.RoleReviewer}}
	u1       = Principal{UserID: "u1"}
	u2       = Principal{UserID: "u2"}

	t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
)

var testBounds = orb.Bound{Min: orb.Point{10.0, 50.0}, Max: orb.Point{10.01, 50.01}}

type fixture struct {
	svc    *Service
	forest Forest
	plot   Plot
	fc     ForestCensus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	var seq atomic.Int64
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return t0 })),
		WithIDGenerator(func() string { return fmt.Sprintf("gen-%03d", seq.Add(1)) }),
	}
	svc := NewInMemoryService(NewDefaultRulesEngine(), append(base, opts...)...)
	forest, err := svc.CreateForest(ctx, admin, Forest{Name: "Hainich", TeamID: "team-1"})
	if err != nil {
		t.Fatalf("create forest: %v", err)
	}
	plot, err := svc.CreatePlot(ctx, admin, Plot{Base: Base{ID: "P1"}, ForestID: forest.ID, Name: "P1", Bounds: testBounds})
	if err != nil {
		t.Fatalf("create plot: %v", err)
	}
	fc, err := svc.OpenForestCensus(ctx, admin, forest.ID)
	if err != nil {
		t.Fatalf("open census: %v", err)
	}
	for _, code := range []string{"dead", "leaning"} {
		if _, err := svc.CreateTreeLabel(ctx, admin, TreeLabel{Code: code, Name: code}); err != nil {
			t.Fatalf("create label %s: %v", code, err)
		}
	}
	return &fixture{svc: svc, forest: forest, plot: plot, fc: fc}
}

func (f *fixture) assign(t *testing.T, p Principal) PlotCensus {
	t.Helper()
	pc, err := f.svc.AssignPlot(context.Background(), p, f.plot.ID, f.fc.ID, p.UserID)
	if err != nil {
		t.Fatalf("assign %s: %v", p.UserID, err)
	}
	return pc
}

func (f *fixture) tree(id string) Tree {
	return Tree{Base: Base{ID: id, UpdatedAt: t0}, PlotID: f.plot.ID, Latitude: 50.005, Longitude: 10.005, SpeciesCode: "ACRU", StatusCode: "alive"}
}

func census(id, pcID, treeID string, at time.Time, dbh float64) TreeCensus {
	return TreeCensus{Base: Base{ID: id, CreatedAt: at, UpdatedAt: at}, PlotCensusID: pcID, TreeID: treeID, DBH: dbh}
}

func (f *fixture) reconcile(t *testing.T, p Principal, batch domain.SyncBatch) domain.SyncResponse {
	t.Helper()
	resp, err := f.svc.Reconcile(context.Background(), p, batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return resp
}

func (f *fixture) plotCensus(t *testing.T, id string) PlotCensus {
	t.Helper()
	pc, err := f.svc.PlotCensus(context.Background(), id)
	if err != nil {
		t.Fatalf("load plot census: %v", err)
	}
	return pc
}

func expectKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

type logRecord struct {
	level string
	msg   string
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	l.records = append(l.records, logRecord{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.level == level && r.msg == msg {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls  []metricsCall
	synced map[string]int
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) ObserveSync(_ context.Context, entity EntityType, outcome string, count int) {
	if c.synced == nil {
		c.synced = make(map[string]int)
	}
	c.synced[string(entity)+"/"+outcome] += count
}

type captureTracer struct {
	ended map[string]error
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (s *captureSpan) End(err error) {
	if s.tracer.ended == nil {
		s.tracer.ended = make(map[string]error)
	}
	s.tracer.ended[s.op] = err
}

func TestServiceObservability(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	f := newFixture(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer), WithLogger(logger))
	ctx := context.Background()

	pc := f.assign(t, u1)
	if _, err := f.svc.AssignPlot(ctx, u2, f.plot.ID, f.fc.ID, "u2"); err == nil {
		t.Fatalf("expected second assignment to fail")
	}
	if !audit.has("assign_plot", AuditStatusSuccess) || !audit.has("assign_plot", AuditStatusError) {
		t.Fatalf("expected success and error audit entries, got %+v", audit.entries)
	}
	for _, entry := range audit.entries {
		if entry.Operation == "assign_plot" && entry.Status == AuditStatusSuccess {
			if entry.EntityID != pc.ID || entry.Actor != "u1" || entry.Entity != EntityPlotCensus || !entry.Timestamp.Equal(t0) {
				t.Fatalf("unexpected audit entry %+v", entry)
			}
		}
	}
	var sawFailure bool
	for _, call := range metrics.calls {
		if call.op == "assign_plot" && !call.success {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected failed assign_plot metric")
	}
	if err, ok := tracer.ended["assign_plot"]; !ok || err == nil {
		t.Fatalf("expected last assign_plot span to carry the error")
	}
	if !logger.has("error", "operation failed") || !logger.has("info", "operation committed") {
		t.Fatalf("expected commit and failure logs")
	}

	f.reconcile(t, u1, domain.SyncBatch{
		Trees:        []Tree{f.tree("T1")},
		TreeCensuses: []TreeCensus{census("tc-1", pc.ID, "T1", t1, 12)},
	})
	if metrics.synced["tree_census/added"] != 1 || metrics.synced["tree/added"] != 1 {
		t.Fatalf("unexpected sync counts %+v", metrics.synced)
	}
	if !logger.has("info", "sync batch reconciled") {
		t.Fatalf("expected reconcile summary log")
	}
}

func TestReferenceDataRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateForest(ctx, u1, Forest{Name: "Other"})
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.CreatePlot(ctx, u1, Plot{ForestID: f.forest.ID, Name: "P9", Bounds: testBounds})
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.CreateTreeLabel(ctx, u1, TreeLabel{Code: "burnt"})
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.OpenForestCensus(ctx, u1, f.forest.ID)
	expectKind(t, err, domain.KindUnauthorized)

	_, err = f.svc.CreateTreeLabel(ctx, admin, TreeLabel{Code: "dead"})
	expectKind(t, err, domain.KindConstraint)
	_, err = f.svc.CreateForest(ctx, admin, Forest{})
	expectKind(t, err, domain.KindValidation)
}

func TestTripLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip, err := f.svc.CreateTrip(ctx, u1, Trip{ForestID: f.forest.ID, Name: "June crew"})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	ended, err := f.svc.EndTrip(ctx, u1, trip.ID, time.Time{})
	if err != nil || ended.EndedAt == nil || !ended.EndedAt.Equal(t0) {
		t.Fatalf("end trip: %+v %v", ended, err)
	}
	_, err = f.svc.EndTrip(ctx, u1, trip.ID, t1)
	expectKind(t, err, domain.KindInvalidTransition)
	_, err = f.svc.EndTrip(ctx, u1, "missing", t1)
	expectKind(t, err, domain.KindNotFound)

	pc := f.assign(t, u1)
	tc := census("tc-1", pc.ID, "T1", t1, 10)
	tc.TripID = &trip.ID
	f.reconcile(t, u1, domain.SyncBatch{Trees: []Tree{f.tree("T1")}, TreeCensuses: []TreeCensus{tc}})
	rows, err := f.svc.TreeCensuses(ctx, domain.TreeCensusFilter{TripID: &trip.ID})
	if err != nil || len(rows) != 1 || rows[0].AuthorID != "u1" {
		t.Fatalf("expected one trip row authored by u1, got %+v (%v)", rows, err)
	}
}

func TestQueryAccessors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Forest(ctx, f.forest.ID); err != nil {
		t.Fatalf("forest: %v", err)
	}
	if _, err := f.svc.ForestCensus(ctx, f.fc.ID); err != nil {
		t.Fatalf("forest census: %v", err)
	}
	_, err := f.svc.Plot(ctx, "missing")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != EntityPlot {
		t.Fatalf("expected plot not found, got %v", err)
	}

	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{
		Trees:            []Tree{f.tree("T1"), f.tree("T2")},
		TreeCensuses:     []TreeCensus{census("tc-1", pc.ID, "T1", t1, 10), census("tc-2", pc.ID, "T2", t1, 20)},
		TreeCensusLabels: []TreeCensusLabel{{Base: Base{ID: "l-1"}, TreeCensusID: "tc-1", LabelCode: "dead"}},
		TreePhotos:       []TreePhoto{{Base: Base{ID: "ph-1"}, TreeCensusID: "tc-2", FullURL: "https://cdn/full.jpg", PurposeCode: "bark"}},
	})

	trees, _ := f.svc.Trees(ctx, domain.TreeFilter{PlotID: &f.plot.ID})
	if len(trees) != 2 {
		t.Fatalf("expected 2 trees, got %d", len(trees))
	}
	tree, err := f.svc.Tree(ctx, "T1")
	if err != nil || tree.InitCensusID == nil || *tree.InitCensusID != "tc-1" {
		t.Fatalf("expected init census tc-1, got %+v (%v)", tree, err)
	}
	if tc, err := f.svc.TreeCensus(ctx, "tc-2"); err != nil || tc.DBH != 20 {
		t.Fatalf("tree census: %+v %v", tc, err)
	}
	labels, _ := f.svc.TreeCensusLabels(ctx, domain.TreeCensusLabelFilter{TreeCensusID: strPtr("tc-1")})
	photos, _ := f.svc.TreePhotos(ctx, domain.TreePhotoFilter{PurposeCode: strPtr("bark")})
	if len(labels) != 1 || len(photos) != 1 {
		t.Fatalf("expected one label and one photo, got %d/%d", len(labels), len(photos))
	}
	inProgress, _ := f.svc.PlotCensuses(ctx, domain.PlotCensusFilter{Statuses: []domain.PlotCensusStatus{domain.PlotCensusInProgress}})
	if len(inProgress) != 1 || inProgress[0].ID != pc.ID {
		t.Fatalf("expected plot census in progress, got %+v", inProgress)
	}
}

func TestDeleteTreeCensusCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{
		Trees:            []Tree{f.tree("T1")},
		TreeCensuses:     []TreeCensus{census("tc-1", pc.ID, "T1", t1, 10)},
		TreeCensusLabels: []TreeCensusLabel{{Base: Base{ID: "l-1"}, TreeCensusID: "tc-1", LabelCode: "dead"}},
	})
	expectKind(t, f.svc.DeleteTreeCensus(ctx, u1, "tc-1"), domain.KindUnauthorized)
	if err := f.svc.DeleteTreeCensus(ctx, admin, "tc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tree, _ := f.svc.Tree(ctx, "T1")
	if tree.InitCensusID != nil {
		t.Fatalf("expected init census cleared, got %v", *tree.InitCensusID)
	}
	if labels, _ := f.svc.TreeCensusLabels(ctx, domain.TreeCensusLabelFilter{}); len(labels) != 0 {
		t.Fatalf("expected labels removed, got %+v", labels)
	}
}

func strPtr(s string) *string { return &s }
