package core

import "forestcensus/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Forest             = domain.Forest
	Plot               = domain.Plot
	Trip               = domain.Trip
	ForestCensus       = domain.ForestCensus
	PlotCensus         = domain.PlotCensus
	Tree               = domain.Tree
	TreeCensus         = domain.TreeCensus
	TreeLabel          = domain.TreeLabel
	TreeCensusLabel    = domain.TreeCensusLabel
	TreePhoto          = domain.TreePhoto
	Principal          = domain.Principal
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityForest          = domain.EntityForest
	EntityPlot            = domain.EntityPlot
	EntityTrip            = domain.EntityTrip
	EntityForestCensus    = domain.EntityForestCensus
	EntityPlotCensus      = domain.EntityPlotCensus
	EntityTree            = domain.EntityTree
	EntityTreeCensus      = domain.EntityTreeCensus
	EntityTreeLabel       = domain.EntityTreeLabel
	EntityTreeCensusLabel = domain.EntityTreeCensusLabel
	EntityTreePhoto       = domain.EntityTreePhoto
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
