package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{errors.New("disk full"), KindUnknown},
		{&ValidationError{Entity: EntityTree, Field: "id", Reason: "is required"}, KindValidation},
		{&NotFoundError{Entity: EntityPlot, ID: "P1"}, KindNotFound},
		{&AlreadyCensusingError{Existing: PlotCensus{Base: Base{ID: "pc-1"}}}, KindAlreadyCensusing},
		{&InvalidTransitionError{Entity: EntityPlotCensus, ID: "pc-1", From: "approved", To: "in_progress"}, KindInvalidTransition},
		{&EmptyCensusError{PlotCensusID: "pc-1"}, KindEmptyCensus},
		{&IncompletePlotsError{ForestCensusID: "fc-1"}, KindIncompletePlots},
		{&UnauthorizedError{UserID: "u2"}, KindUnauthorized},
		{&ConstraintError{Constraint: ConstraintForeignKey, Entity: EntityTree}, KindConstraint},
		{RuleViolationError{}, KindRuleViolation},
		{fmt.Errorf("assign: %w", &NotFoundError{Entity: EntityForestCensus, ID: "fc-9"}), KindNotFound},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v)=%q want %q", c.err, got, c.want)
		}
	}
}

func TestBatchErrorReportsCause(t *testing.T) {
	cause := &UnauthorizedError{UserID: "u2", Entity: EntityPlotCensus, ID: "pc-1", Reason: "not the assignee"}
	err := fmt.Errorf("reconcile: %w", &BatchError{Entity: EntityTreeCensus, Index: 3, ID: "tc-4", Err: cause})

	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized kind, got %q", KindOf(err))
	}
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) || unauthorized.UserID != "u2" {
		t.Fatalf("expected wrapped unauthorized error, got %v", err)
	}
	if !strings.Contains(err.Error(), "tree_census[3] (tc-4)") {
		t.Fatalf("batch position missing from %q", err)
	}
}

func TestIncompletePlotsErrorListsPending(t *testing.T) {
	err := &IncompletePlotsError{
		ForestCensusID: "fc-1",
		Pending: []PlotCensus{
			{Base: Base{ID: "pc-1"}, Status: PlotCensusInProgress},
			{Base: Base{ID: "pc-2"}, Status: PlotCensusRejected},
		},
	}
	want := `forest census "fc-1" has 2 incomplete plot censuses: pc-1(in_progress), pc-2(rejected)`
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}

func TestAlreadyCensusingErrorNamesHolder(t *testing.T) {
	err := &AlreadyCensusingError{Existing: PlotCensus{
		Base:       Base{ID: "pc-1"},
		PlotID:     "P1",
		AssigneeID: "u1",
		Status:     PlotCensusPendingReview,
	}}
	for _, part := range []string{`"P1"`, `"u1"`, `"pc-1"`, "pending_review"} {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("expected %s in %q", part, err.Error())
		}
	}
}
