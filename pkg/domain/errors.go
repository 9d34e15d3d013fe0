package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies errors surfaced to collaborators.
type Kind string

// Error kinds. Every typed error in this package reports exactly one kind.
const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAlreadyCensusing  Kind = "already_censusing"
	KindInvalidTransition Kind = "invalid_transition"
	KindEmptyCensus       Kind = "empty_census"
	KindIncompletePlots   Kind = "incomplete_plots"
	KindUnauthorized      Kind = "unauthorized"
	KindConstraint        Kind = "constraint"
	KindRuleViolation     Kind = "rule_violation"
)

type kinded interface {
	Kind() Kind
}

// KindOf resolves the kind of err through any wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return KindRuleViolation
	}
	return KindUnknown
}

// ValidationError reports malformed input detected before touching the store.
type ValidationError struct {
	Entity EntityType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// Kind implements the kinded contract.
func (e *ValidationError) Kind() Kind { return KindValidation }

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Kind implements the kinded contract.
func (e *NotFoundError) Kind() Kind { return KindNotFound }

// ConstraintKind distinguishes integrity failures.
type ConstraintKind string

// Constraint kinds.
const (
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintDuplicate  ConstraintKind = "duplicate"
	ConstraintReferenced ConstraintKind = "referenced"
	ConstraintMismatch   ConstraintKind = "mismatch"
)

// ConstraintError reports a referential or uniqueness integrity failure.
type ConstraintError struct {
	Constraint ConstraintKind
	Entity     EntityType
	ID         string
	Detail     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s %q violates %s constraint: %s", e.Entity, e.ID, e.Constraint, e.Detail)
}

// Kind implements the kinded contract.
func (e *ConstraintError) Kind() Kind { return KindConstraint }

// AlreadyCensusingError is returned when a plot already has an active plot census
// within the forest census. Existing carries the conflicting record unchanged.
type AlreadyCensusingError struct {
	Existing PlotCensus
}

func (e *AlreadyCensusingError) Error() string {
	return fmt.Sprintf("plot %q already being censused by %q under plot census %q (%s)",
		e.Existing.PlotID, e.Existing.AssigneeID, e.Existing.ID, e.Existing.Status)
}

// Kind implements the kinded contract.
func (e *AlreadyCensusingError) Kind() Kind { return KindAlreadyCensusing }

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	Entity EntityType
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %q cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// Kind implements the kinded contract.
func (e *InvalidTransitionError) Kind() Kind { return KindInvalidTransition }

// EmptyCensusError is returned when submitting a plot census without tree census rows.
type EmptyCensusError struct {
	PlotCensusID string
}

func (e *EmptyCensusError) Error() string {
	return fmt.Sprintf("plot census %q has no tree census records", e.PlotCensusID)
}

// Kind implements the kinded contract.
func (e *EmptyCensusError) Kind() Kind { return KindEmptyCensus }

// IncompletePlotsError lists the plot censuses blocking a forest census close.
type IncompletePlotsError struct {
	ForestCensusID string
	Pending        []PlotCensus
}

func (e *IncompletePlotsError) Error() string {
	ids := make([]string, 0, len(e.Pending))
	for _, pc := range e.Pending {
		ids = append(ids, fmt.Sprintf("%s(%s)", pc.ID, pc.Status))
	}
	return fmt.Sprintf("forest census %q has %d incomplete plot censuses: %s",
		e.ForestCensusID, len(e.Pending), strings.Join(ids, ", "))
}

// Kind implements the kinded contract.
func (e *IncompletePlotsError) Kind() Kind { return KindIncompletePlots }

// UnauthorizedError is returned when the principal may not act on the target.
type UnauthorizedError struct {
	UserID string
	Entity EntityType
	ID     string
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %q not authorized on %s %q: %s", e.UserID, e.Entity, e.ID, e.Reason)
}

// Kind implements the kinded contract.
func (e *UnauthorizedError) Kind() Kind { return KindUnauthorized }

// BatchError identifies the sync batch record that aborted reconciliation.
type BatchError struct {
	Entity EntityType
	Index  int
	ID     string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("sync batch %s[%d] (%s): %v", e.Entity, e.Index, e.ID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Kind reports the kind of the wrapped cause.
func (e *BatchError) Kind() Kind { return KindOf(e.Err) }
