package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestPlotCensusStatusPredicates(t *testing.T) {
	cases := []struct {
		status   PlotCensusStatus
		active   bool
		editable bool
	}{
		{PlotCensusAssigned, true, true},
		{PlotCensusInProgress, true, true},
		{PlotCensusPendingReview, true, false},
		{PlotCensusApproved, false, false},
		{PlotCensusRejected, false, true},
	}
	for _, c := range cases {
		if !c.status.Valid() {
			t.Fatalf("%s should be valid", c.status)
		}
		if got := c.status.Active(); got != c.active {
			t.Fatalf("%s.Active()=%v want %v", c.status, got, c.active)
		}
		if got := c.status.Editable(); got != c.editable {
			t.Fatalf("%s.Editable()=%v want %v", c.status, got, c.editable)
		}
	}
	if PlotCensusStatus("closed").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestTreeLocationIsLonLat(t *testing.T) {
	tree := Tree{Latitude: 45.5, Longitude: -122.6}
	if got := tree.Location(); got != (orb.Point{-122.6, 45.5}) {
		t.Fatalf("unexpected location %v", got)
	}
	bound := orb.Bound{Min: orb.Point{-123, 45}, Max: orb.Point{-122, 46}}
	if !bound.Contains(tree.Location()) {
		t.Fatalf("expected tree inside %v", bound)
	}
}

func TestTreeCensusWireNames(t *testing.T) {
	trip := "trip-1"
	tc := TreeCensus{
		Base:         Base{ID: "tc-1", UpdatedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		TreeID:       "T1",
		PlotCensusID: "pc-1",
		TripID:       &trip,
		DBH:          31.5,
	}
	raw, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"id":"tc-1"`, `"tree_id":"T1"`, `"plot_census_id":"pc-1"`, `"trip_id":"trip-1"`, `"dbh":31.5`, `"updated_at":"2024-06-01T09:00:00Z"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{})
	if len(result.Violations) != 0 {
		t.Fatalf("merging an empty result added violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "tree_placement", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("warnings must not block")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "plot_custody", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if len(result.Violations) != 2 || result.Violations[0].Rule != "tree_placement" {
		t.Fatalf("unexpected violations %+v", result.Violations)
	}
}
