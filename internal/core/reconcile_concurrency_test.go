package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"forestcensus/pkg/domain"
)

func TestConcurrentReconcileConverges(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	pc := f.assign(t, u1)
	f.reconcile(t, u1, domain.SyncBatch{Trees: []Tree{f.tree("T1"), f.tree("T2")}})

	const writers = 16
	latest := t0.Add(writers * time.Minute)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := t0.Add(time.Duration(i) * time.Minute)
			_, err := f.svc.Reconcile(context.Background(), u1, domain.SyncBatch{
				TreeCensuses: []TreeCensus{
					census(fmt.Sprintf("tc-1-%02d", i), pc.ID, "T1", at, float64(i)),
					census(fmt.Sprintf("tc-2-%02d", i), pc.ID, "T2", at, float64(i)),
				},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent reconcile: %v", err)
		}
	}

	for _, tree := range []string{"T1", "T2"} {
		got := f.storedCensus(t, pc.ID, tree)
		if !got.UpdatedAt.Equal(latest) || got.DBH != writers {
			t.Fatalf("%s: expected newest write to win, got %+v", tree, got)
		}
	}
	if rows, _ := f.svc.TreeCensuses(context.Background(), domain.TreeCensusFilter{PlotCensusID: &pc.ID}); len(rows) != 2 {
		t.Fatalf("expected one row per tree, got %d", len(rows))
	}
}
