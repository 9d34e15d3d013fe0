package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"forestcensus/pkg/domain"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	forestID string
	fc       ForestCensus
	plot     Plot
	pc       PlotCensus
	tree     Tree
}

func newTestStore(engine *RulesEngine) *Store {
	return NewStore(engine, WithNowFunc(func() time.Time { return fixedNow }))
}

func seed(t *testing.T, store *Store) fixture {
	t.Helper()
	var fx fixture
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		forest, err := tx.CreateForest(Forest{Name: "North Ridge", TeamID: "team-1"})
		if err != nil {
			return err
		}
		plot, err := tx.CreatePlot(Plot{ForestID: forest.ID, Name: "P1"})
		if err != nil {
			return err
		}
		fc, err := tx.CreateForestCensus(ForestCensus{ForestID: forest.ID})
		if err != nil {
			return err
		}
		pc, err := tx.CreatePlotCensus(PlotCensus{PlotID: plot.ID, ForestCensusID: fc.ID, AssigneeID: "u1"})
		if err != nil {
			return err
		}
		tree, err := tx.CreateTree(Tree{Base: domain.Base{ID: "T-100"}, PlotID: plot.ID, SpeciesCode: "ACRU"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateTreeLabel(TreeLabel{Code: "dead", Name: "Dead"}); err != nil {
			return err
		}
		fx = fixture{forestID: forest.ID, fc: fc, plot: plot, pc: pc, tree: tree}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return fx
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := newTestStore(nil)
	fx := seed(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindTrip("missing"); ok {
			t.Fatalf("expected missing trip lookup")
		}
		created, err := tx.CreateTreeCensus(TreeCensus{TreeID: fx.tree.ID, PlotCensusID: fx.pc.ID, AuthorID: "u1", DBH: 21.5})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if got := tx.Snapshot().ListTreeCensuses(domain.TreeCensusFilter{}); len(got) != 1 {
			t.Fatalf("snapshot should observe uncommitted write, got %d", len(got))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}

	snapshot := store.ExportState()
	if len(snapshot.TreeCensuses) != 1 {
		t.Fatalf("expected persisted tree census")
	}
	store.ImportState(Snapshot{})
	_ = store.View(ctx, func(v TransactionView) error {
		if len(v.ListForests()) != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(ctx, func(v TransactionView) error {
		if len(v.ListTreeCensuses(domain.TreeCensusFilter{})) != 1 {
			t.Fatalf("expected restored state")
		}
		return nil
	})
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc()() != fixedNow {
		t.Fatalf("expected injected clock")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	var res Result
	for _, c := range changes {
		if c.Entity == domain.EntityTrip {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block", Severity: domain.SeverityBlock, Entity: c.Entity})
		}
	}
	return res, nil
}

func TestStoreRuleViolationRollsBack(t *testing.T) {
	store := newTestStore(domain.NewRulesEngine())
	fx := seed(t, store)
	store.RulesEngine().Register(blockingRule{})

	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, e := tx.CreateTrip(Trip{ForestID: fx.forestID, Name: "Spring"})
		return e
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	_ = store.View(context.Background(), func(v TransactionView) error {
		if len(v.ListTrips()) != 0 {
			t.Fatalf("blocked transaction must not commit")
		}
		return nil
	})
}

func TestStoreFnErrorRollsBack(t *testing.T) {
	store := newTestStore(nil)
	fx := seed(t, store)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateTrip(Trip{ForestID: fx.forestID, Name: "Spring"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(store.ExportState().Trips) != 0 {
		t.Fatalf("expected rollback")
	}
}

func TestStoreCommitHook(t *testing.T) {
	store := newTestStore(nil)
	fx := seed(t, store)
	ctx := context.Background()

	hookErr := errors.New("disk full")
	_, err := store.RunInTransactionWithHook(ctx, func(tx Transaction) error {
		_, e := tx.CreateTrip(Trip{ForestID: fx.forestID, Name: "Spring"})
		return e
	}, func(_ context.Context, snap Snapshot) error {
		if len(snap.Trips) != 1 {
			t.Fatalf("hook should see candidate state")
		}
		return hookErr
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(store.ExportState().Trips) != 0 {
		t.Fatalf("failed hook must leave state untouched")
	}

	var seen int
	_, err = store.RunInTransactionWithHook(ctx, func(tx Transaction) error {
		_, e := tx.CreateTrip(Trip{ForestID: fx.forestID, Name: "Spring"})
		return e
	}, func(_ context.Context, snap Snapshot) error {
		seen = len(snap.Trips)
		return nil
	})
	if err != nil || seen != 1 || len(store.ExportState().Trips) != 1 {
		t.Fatalf("expected committed trip, err=%v seen=%d", err, seen)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	store := newTestStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := store.RunInTransaction(ctx, func(Transaction) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before fn, err=%v called=%v", err, called)
	}
}

func TestViewReturnsCopies(t *testing.T) {
	store := newTestStore(nil)
	fx := seed(t, store)
	_ = store.View(context.Background(), func(v TransactionView) error {
		pc, _ := v.FindPlotCensus(fx.pc.ID)
		reason := "mutated"
		pc.RejectionReason = &reason
		pc.Status = domain.PlotCensusRejected
		return nil
	})
	_ = store.View(context.Background(), func(v TransactionView) error {
		pc, _ := v.FindPlotCensus(fx.pc.ID)
		if pc.Status != domain.PlotCensusAssigned || pc.RejectionReason != nil {
			t.Fatalf("view mutation leaked into store: %+v", pc)
		}
		return nil
	})
}

func TestMigrateSnapshotDropsDanglingRecords(t *testing.T) {
	missing := "gone"
	snap := Snapshot{
		Forests: map[string]Forest{"f1": {Base: domain.Base{ID: "f1"}, Name: "F"}},
		Plots: map[string]Plot{
			"p1": {Base: domain.Base{ID: "p1"}, ForestID: "f1"},
			"p2": {Base: domain.Base{ID: "p2"}, ForestID: "nope"},
		},
		ForestCensuses: map[string]ForestCensus{"fc1": {Base: domain.Base{ID: "fc1"}, ForestID: "f1"}},
		PlotCensuses: map[string]PlotCensus{
			"pc1": {Base: domain.Base{ID: "pc1"}, PlotID: "p1", ForestCensusID: "fc1", AssigneeID: "u", Status: "bogus"},
		},
		Trees: map[string]Tree{
			"t1": {Base: domain.Base{ID: "t1"}, PlotID: "p1", InitCensusID: &missing},
			"t2": {Base: domain.Base{ID: "t2"}, PlotID: "p2"},
		},
		TreeCensuses: map[string]TreeCensus{
			"tc1": {Base: domain.Base{ID: "tc1"}, TreeID: "t1", PlotCensusID: "pc1", TripID: &missing},
			"tc2": {Base: domain.Base{ID: "tc2"}, TreeID: "t2", PlotCensusID: "pc1"},
		},
		TreePhotos: map[string]TreePhoto{
			"ph1": {Base: domain.Base{ID: "ph1"}, TreeCensusID: "tc2"},
		},
		TreeCensusLabels: map[string]TreeCensusLabel{
			"l1": {Base: domain.Base{ID: "l1"}, TreeCensusID: "tc1", LabelCode: "unknown"},
		},
	}
	got := migrateSnapshot(snap)
	if _, ok := got.Plots["p2"]; ok {
		t.Fatalf("expected orphan plot dropped")
	}
	if _, ok := got.Trees["t2"]; ok {
		t.Fatalf("expected orphan tree dropped")
	}
	if _, ok := got.TreeCensuses["tc2"]; ok {
		t.Fatalf("expected orphan tree census dropped")
	}
	if len(got.TreePhotos) != 0 || len(got.TreeCensusLabels) != 0 {
		t.Fatalf("expected orphan children dropped")
	}
	if got.Trees["t1"].InitCensusID != nil || got.TreeCensuses["tc1"].TripID != nil {
		t.Fatalf("expected dangling optional references cleared")
	}
	if got.ForestCensuses["fc1"].Status != domain.ForestCensusOpen {
		t.Fatalf("expected default forest census status")
	}
	if got.PlotCensuses["pc1"].Status != domain.PlotCensusAssigned {
		t.Fatalf("expected unknown plot census status normalised")
	}
	if got.Trips == nil || got.TreeLabels == nil {
		t.Fatalf("expected empty buckets initialised")
	}
}
