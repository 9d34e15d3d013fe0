package core

import (
	"context"
	"fmt"

	"forestcensus/pkg/domain"
)

// LifecycleTransitionRule blocks illegal status changes on plot and forest censuses.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    EntityType
	label     string
	initial   string
	edges     map[string]map[string]struct{}
	valid     func(state string) bool
	extractor func(payload any) (id string, state string, ok bool)
}

var lifecycleMachines = map[EntityType]lifecycleMachine{
	EntityPlotCensus: {
		entity:  EntityPlotCensus,
		label:   "plot census",
		initial: string(domain.PlotCensusAssigned),
		edges: map[string]map[string]struct{}{
			string(domain.PlotCensusAssigned):      toSet(string(domain.PlotCensusInProgress)),
			string(domain.PlotCensusInProgress):    toSet(string(domain.PlotCensusPendingReview)),
			string(domain.PlotCensusPendingReview): toSet(string(domain.PlotCensusApproved), string(domain.PlotCensusRejected)),
			string(domain.PlotCensusRejected):      toSet(string(domain.PlotCensusInProgress)),
		},
		valid: func(state string) bool { return domain.PlotCensusStatus(state).Valid() },
		extractor: func(payload any) (string, string, bool) {
			pc, ok := payload.(domain.PlotCensus)
			if !ok {
				return "", "", false
			}
			return pc.ID, string(pc.Status), true
		},
	},
	EntityForestCensus: {
		entity:  EntityForestCensus,
		label:   "forest census",
		initial: string(domain.ForestCensusOpen),
		edges: map[string]map[string]struct{}{
			string(domain.ForestCensusOpen): toSet(string(domain.ForestCensusClosed)),
		},
		valid: func(state string) bool {
			return state == string(domain.ForestCensusOpen) || state == string(domain.ForestCensusClosed)
		},
		extractor: func(payload any) (string, string, bool) {
			fc, ok := payload.(domain.ForestCensus)
			if !ok {
				return "", "", false
			}
			return fc.ID, string(fc.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok || change.Action == ActionDelete {
			continue
		}
		id, after, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if !machine.valid(after) {
			res.Violations = append(res.Violations, blockf(r.Name(), machine.entity, id,
				fmt.Sprintf("%s %s is set to invalid state %s", machine.label, id, after)))
			continue
		}
		if change.Action == ActionCreate {
			if after != machine.initial {
				res.Violations = append(res.Violations, blockf(r.Name(), machine.entity, id,
					fmt.Sprintf("%s %s must be created %s, not %s", machine.label, id, machine.initial, after)))
			}
			continue
		}
		_, before, ok := machine.extractor(change.Before)
		if !ok || before == after {
			continue
		}
		if _, legal := machine.edges[before][after]; !legal {
			res.Violations = append(res.Violations, blockf(r.Name(), machine.entity, id,
				fmt.Sprintf("cannot move %s %s from %s to %s", machine.label, id, before, after)))
		}
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
