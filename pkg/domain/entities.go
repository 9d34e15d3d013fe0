// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by forestcensus.
package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityForest identifies a forest record.
	EntityForest EntityType = "forest"
	// EntityPlot identifies a plot record within a forest.
	EntityPlot EntityType = "plot"
	// EntityTrip identifies a field trip record.
	EntityTrip EntityType = "trip"
	// EntityForestCensus identifies a forest census campaign.
	EntityForestCensus EntityType = "forest_census"
	// EntityPlotCensus identifies a surveyor's custody of one plot within a forest census.
	EntityPlotCensus EntityType = "plot_census"
	// EntityTree identifies a tagged tree.
	EntityTree EntityType = "tree"
	// EntityTreeCensus identifies a single tree observation within a plot census.
	EntityTreeCensus EntityType = "tree_census"
	// EntityTreeLabel identifies a qualitative label definition.
	EntityTreeLabel EntityType = "tree_label"
	// EntityTreeCensusLabel identifies a label attached to a tree census.
	EntityTreeCensusLabel EntityType = "tree_census_label"
	// EntityTreePhoto identifies a photo owned by a tree census.
	EntityTreePhoto EntityType = "tree_photo"
)

// ForestCensusStatus enumerates forest census campaign states.
type ForestCensusStatus string

// Forest census statuses. Closed is terminal.
const (
	ForestCensusOpen   ForestCensusStatus = "open"
	ForestCensusClosed ForestCensusStatus = "closed"
)

// PlotCensusStatus enumerates the plot census workflow states.
type PlotCensusStatus string

// Plot census statuses. Approved is terminal for a census round.
const (
	PlotCensusAssigned      PlotCensusStatus = "assigned"
	PlotCensusInProgress    PlotCensusStatus = "in_progress"
	PlotCensusPendingReview PlotCensusStatus = "pending_review"
	PlotCensusApproved      PlotCensusStatus = "approved"
	PlotCensusRejected      PlotCensusStatus = "rejected"
)

// Active reports whether the status holds custody of the plot.
func (s PlotCensusStatus) Active() bool {
	switch s {
	case PlotCensusAssigned, PlotCensusInProgress, PlotCensusPendingReview:
		return true
	default:
		return false
	}
}

// Editable reports whether tree census rows may be written under the status.
func (s PlotCensusStatus) Editable() bool {
	switch s {
	case PlotCensusAssigned, PlotCensusInProgress, PlotCensusRejected:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known plot census status.
func (s PlotCensusStatus) Valid() bool {
	switch s {
	case PlotCensusAssigned, PlotCensusInProgress, PlotCensusPendingReview, PlotCensusApproved, PlotCensusRejected:
		return true
	default:
		return false
	}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Forest is a managed forest owned by a team.
type Forest struct {
	Base
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

// Plot is a bounded survey area inside a forest.
type Plot struct {
	Base
	ForestID string    `json:"forest_id"`
	Name     string    `json:"name"`
	Bounds   orb.Bound `json:"bounds"`
}

// Trip groups a batch of field work under a forest.
type Trip struct {
	Base
	ForestID  string     `json:"forest_id"`
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ForestCensus is a time-bounded campaign to census every plot in a forest.
type ForestCensus struct {
	Base
	ForestID string             `json:"forest_id"`
	Status   ForestCensusStatus `json:"status"`
	OpenedAt time.Time          `json:"opened_at"`
	ClosedAt *time.Time         `json:"closed_at,omitempty"`
}

// PlotCensus is one surveyor's custody and record set for a plot within a forest census.
type PlotCensus struct {
	Base
	PlotID          string           `json:"plot_id"`
	ForestCensusID  string           `json:"forest_census_id"`
	AssigneeID      string           `json:"assignee_id"`
	Status          PlotCensusStatus `json:"status"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
	ReviewedBy      *string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
}

// Tree is a tagged tree. The ID is the physical tag and never changes.
type Tree struct {
	Base
	PlotID       string  `json:"plot_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SpeciesCode  string  `json:"species_code"`
	StatusCode   string  `json:"status_code"`
	InitCensusID *string `json:"init_census_id"`
}

// Location returns the tree position as an orb point (longitude, latitude).
func (t Tree) Location() orb.Point {
	return orb.Point{t.Longitude, t.Latitude}
}

// TreeCensus is one observation of a tree within a plot census.
type TreeCensus struct {
	Base
	TreeID       string  `json:"tree_id"`
	PlotCensusID string  `json:"plot_census_id"`
	TripID       *string `json:"trip_id"`
	AuthorID     string  `json:"author_id"`
	DBH          float64 `json:"dbh"`
	Flagged      bool    `json:"flagged"`
	Notes        string  `json:"notes"`
}

// TreeLabel defines a qualitative tag such as "dead" or "leaning".
type TreeLabel struct {
	Base
	Code string `json:"code"`
	Name string `json:"name"`
}

// TreeCensusLabel attaches a label to a tree census.
type TreeCensusLabel struct {
	Base
	TreeCensusID string `json:"tree_census_id"`
	LabelCode    string `json:"label_code"`
}

// TreePhoto is a photo owned by exactly one tree census.
type TreePhoto struct {
	Base
	TreeCensusID string `json:"tree_census_id"`
	FullURL      string `json:"full_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	PurposeCode  string `json:"purpose_code"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
