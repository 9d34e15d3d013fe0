package domain

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type staticRule struct {
	name     string
	severity Severity
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: r.severity}}}, nil
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("view unavailable")
}

type emptyView struct{}

func (emptyView) FindPlot(string) (Plot, bool)                   { return Plot{}, false }
func (emptyView) FindTree(string) (Tree, bool)                   { return Tree{}, false }
func (emptyView) FindPlotCensus(string) (PlotCensus, bool)       { return PlotCensus{}, false }
func (emptyView) FindForestCensus(string) (ForestCensus, bool)   { return ForestCensus{}, false }
func (emptyView) ListForestCensuses() []ForestCensus             { return nil }
func (emptyView) ListPlotCensuses(PlotCensusFilter) []PlotCensus { return nil }

func TestRulesEngineEvaluatesInOrder(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"first", SeverityWarn})
	engine.Register(staticRule{"second", SeverityBlock})

	if got := engine.Rules(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Fatalf("unexpected rule order %v", got)
	}
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || res.Violations[0].Rule != "first" || !res.HasBlocking() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRulesEngineStopsOnError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(failingRule{})
	engine.Register(staticRule{"after", SeverityWarn})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err == nil {
		t.Fatalf("expected evaluation error")
	}
	if len(res.Violations) != 0 {
		t.Fatalf("expected empty result on error, got %+v", res)
	}
}
