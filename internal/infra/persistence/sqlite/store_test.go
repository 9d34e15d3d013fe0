package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"forestcensus/pkg/domain"
)

func seedForest(t *testing.T, s *Store) domain.Forest {
	t.Helper()
	var forest domain.Forest
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		forest, err = tx.CreateForest(domain.Forest{Name: "North Ridge"})
		if err != nil {
			return err
		}
		plot, err := tx.CreatePlot(domain.Plot{ForestID: forest.ID, Name: "P1"})
		if err != nil {
			return err
		}
		_, err = tx.CreateTree(domain.Tree{Base: domain.Base{ID: "T-1"}, PlotID: plot.ID, SpeciesCode: "ACRU"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return forest
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "census.db")
	s, err := NewStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	forest := seedForest(t, s)
	if s.Path() != path || s.DB() == nil {
		t.Fatalf("unexpected accessors")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	err = reopened.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindForest(forest.ID); !ok {
			t.Fatalf("expected forest to survive reopen")
		}
		if tree, ok := v.FindTree("T-1"); !ok || tree.SpeciesCode != "ACRU" {
			t.Fatalf("expected tree to survive reopen, got %+v", tree)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSQLiteStoreFailedPersistLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "census.db"), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	seedForest(t, s)
	if _, err := s.DB().ExecContext(ctx, `DROP TABLE state`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err = s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateForest(domain.Forest{Name: "Second"})
		return err
	})
	if err == nil {
		t.Fatalf("expected persist failure")
	}
	_ = s.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListForests()) != 1 {
			t.Fatalf("failed persist must not change in-memory state")
		}
		return nil
	})
	_ = s.Close()
}

func TestSQLiteStoreRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "census.db")
	s, err := NewStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES('trees', 'nope')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = s.Close()
	if _, err := NewStore(ctx, path, nil); err == nil {
		t.Fatalf("expected decode error on reopen")
	}
}

func TestSQLiteStoreRuleViolationSkipsPersist(t *testing.T) {
	ctx := context.Background()
	engine := domain.NewRulesEngine()
	engine.Register(rejectAll{})
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "census.db"), engine)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = s.Close() }()
	_, err = s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateForest(domain.Forest{Name: "Blocked"})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("expected nothing persisted, got %d rows (%v)", n, err)
	}
}

type rejectAll struct{}

func (rejectAll) Name() string { return "reject_all" }

func (rejectAll) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "reject_all", Severity: domain.SeverityBlock}}}, nil
}
