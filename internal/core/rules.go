package core

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(PlotCustodyRule())
	engine.Register(SingleOpenCensusRule())
	engine.Register(TreePlacementRule())
	return engine
}

func blockf(rule string, entity EntityType, id, msg string) Violation {
	return Violation{Rule: rule, Severity: SeverityBlock, Message: msg, Entity: entity, EntityID: id}
}
