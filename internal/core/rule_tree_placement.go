package core

import (
	"context"
	"fmt"

	"forestcensus/pkg/domain"
)

// TreePlacementRule warns when a tree's coordinates fall outside its plot bounds.
// GPS drift under canopy is common, so the rule never blocks.
func TreePlacementRule() domain.Rule {
	return treePlacementRule{}
}

type treePlacementRule struct{}

func (treePlacementRule) Name() string { return "tree_placement" }

func (r treePlacementRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != EntityTree || change.Action == ActionDelete {
			continue
		}
		tree, ok := change.After.(domain.Tree)
		if !ok {
			continue
		}
		if before, ok := change.Before.(domain.Tree); ok && before.Latitude == tree.Latitude && before.Longitude == tree.Longitude {
			continue
		}
		plot, ok := view.FindPlot(tree.PlotID)
		if !ok || plot.Bounds.Contains(tree.Location()) {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Rule:     r.Name(),
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("tree %s at (%f, %f) lies outside plot %s", tree.ID, tree.Latitude, tree.Longitude, plot.ID),
			Entity:   EntityTree,
			EntityID: tree.ID,
		})
	}
	return res, nil
}
