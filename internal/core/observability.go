package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time for workflow timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

func systemClock() time.Time { return time.Now().UTC() }

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// SyncMetricsRecorder is implemented by recorders that also count reconciled
// records per entity kind and outcome ("added" or "deleted").
type SyncMetricsRecorder interface {
	ObserveSync(ctx context.Context, entity EntityType, outcome string, count int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// FanOutMetrics forwards every observation to each recorder. Sync counts
// reach only the recorders that implement SyncMetricsRecorder.
func FanOutMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	return fanOutMetrics(recorders)
}

type fanOutMetrics []MetricsRecorder

func (f fanOutMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range f {
		r.Observe(ctx, operation, success, duration)
	}
}

func (f fanOutMetrics) ObserveSync(ctx context.Context, entity EntityType, outcome string, count int) {
	for _, r := range f {
		if sr, ok := r.(SyncMetricsRecorder); ok {
			sr.ObserveSync(ctx, entity, outcome, count)
		}
	}
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating service call.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for mutating operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type operationMeta struct {
	entity EntityType
	action Action
}

// auditedOperations maps audited operation names to the entity and action they
// affect. Operations missing from the table are not audited.
var auditedOperations = map[string]operationMeta{
	"create_forest":        {EntityForest, ActionCreate},
	"create_plot":          {EntityPlot, ActionCreate},
	"create_trip":          {EntityTrip, ActionCreate},
	"end_trip":             {EntityTrip, ActionUpdate},
	"create_tree_label":    {EntityTreeLabel, ActionCreate},
	"open_forest_census":   {EntityForestCensus, ActionCreate},
	"close_forest_census":  {EntityForestCensus, ActionUpdate},
	"administrative_close": {EntityForestCensus, ActionUpdate},
	"assign_plot":          {EntityPlotCensus, ActionCreate},
	"release_assignment":   {EntityPlotCensus, ActionDelete},
	"submit_for_review":    {EntityPlotCensus, ActionUpdate},
	"approve_plot_census":  {EntityPlotCensus, ActionUpdate},
	"reject_plot_census":   {EntityPlotCensus, ActionUpdate},
	"reopen_plot_census":   {EntityPlotCensus, ActionUpdate},
	"reconcile":            {EntityTreeCensus, ActionUpdate},
	"delete_tree_census":   {EntityTreeCensus, ActionDelete},
	"attach_tree_photo":    {EntityTreePhoto, ActionCreate},
}

func (s *Service) recordAudit(ctx context.Context, operation, entityID, actor string, duration time.Duration, err error) {
	meta, ok := auditedOperations[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     actor,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
