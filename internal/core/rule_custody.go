package core

import (
	"context"
	"fmt"

	"forestcensus/pkg/domain"
)

// PlotCustodyRule blocks commits that leave more than one active plot census
// for the same plot within a forest census, or that grant custody under a
// closed forest census.
func PlotCustodyRule() domain.Rule {
	return plotCustodyRule{}
}

type plotCustodyRule struct{}

func (plotCustodyRule) Name() string { return "plot_custody" }

func (r plotCustodyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[[2]string]struct{})
	for _, change := range changes {
		if change.Entity != EntityPlotCensus || change.Action == ActionDelete {
			continue
		}
		pc, ok := change.After.(domain.PlotCensus)
		if !ok || !pc.Status.Active() {
			continue
		}
		key := [2]string{pc.PlotID, pc.ForestCensusID}
		if _, done := seen[key]; done {
			continue
		}
		seen[key] = struct{}{}

		if fc, ok := view.FindForestCensus(pc.ForestCensusID); ok && fc.Status == domain.ForestCensusClosed {
			res.Violations = append(res.Violations, blockf(r.Name(), EntityPlotCensus, pc.ID,
				fmt.Sprintf("forest census %s is closed", pc.ForestCensusID)))
			continue
		}
		active := view.ListPlotCensuses(domain.ActivePlotCensusFilter(pc.PlotID, pc.ForestCensusID))
		if len(active) > 1 {
			res.Violations = append(res.Violations, blockf(r.Name(), EntityPlotCensus, pc.ID,
				fmt.Sprintf("plot %s has %d active plot censuses in forest census %s", pc.PlotID, len(active), pc.ForestCensusID)))
		}
	}
	return res, nil
}

// SingleOpenCensusRule blocks a second open forest census for the same forest.
func SingleOpenCensusRule() domain.Rule {
	return singleOpenCensusRule{}
}

type singleOpenCensusRule struct{}

func (singleOpenCensusRule) Name() string { return "single_open_census" }

func (r singleOpenCensusRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var open map[string]int
	for _, change := range changes {
		if change.Entity != EntityForestCensus || change.Action == ActionDelete {
			continue
		}
		fc, ok := change.After.(domain.ForestCensus)
		if !ok || fc.Status != domain.ForestCensusOpen {
			continue
		}
		if open == nil {
			open = make(map[string]int)
			for _, existing := range view.ListForestCensuses() {
				if existing.Status == domain.ForestCensusOpen {
					open[existing.ForestID]++
				}
			}
		}
		if open[fc.ForestID] > 1 {
			res.Violations = append(res.Violations, blockf(r.Name(), EntityForestCensus, fc.ID,
				fmt.Sprintf("forest %s already has an open census", fc.ForestID)))
		}
	}
	return res, nil
}
