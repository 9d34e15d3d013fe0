package domain

// Filters select records from the store. A nil field matches everything; all
// set fields must match.

// TreeFilter selects trees.
type TreeFilter struct {
	PlotID       *string
	SpeciesCode  *string
	InitCensusID *string
}

// Matches reports whether t satisfies the filter.
func (f TreeFilter) Matches(t Tree) bool {
	if f.PlotID != nil && t.PlotID != *f.PlotID {
		return false
	}
	if f.SpeciesCode != nil && t.SpeciesCode != *f.SpeciesCode {
		return false
	}
	if f.InitCensusID != nil && (t.InitCensusID == nil || *t.InitCensusID != *f.InitCensusID) {
		return false
	}
	return true
}

// TreeCensusFilter selects tree census records.
type TreeCensusFilter struct {
	PlotCensusID *string
	TreeID       *string
	TripID       *string
	AuthorID     *string
	Flagged      *bool
}

// Matches reports whether tc satisfies the filter.
func (f TreeCensusFilter) Matches(tc TreeCensus) bool {
	if f.PlotCensusID != nil && tc.PlotCensusID != *f.PlotCensusID {
		return false
	}
	if f.TreeID != nil && tc.TreeID != *f.TreeID {
		return false
	}
	if f.TripID != nil && (tc.TripID == nil || *tc.TripID != *f.TripID) {
		return false
	}
	if f.AuthorID != nil && tc.AuthorID != *f.AuthorID {
		return false
	}
	if f.Flagged != nil && tc.Flagged != *f.Flagged {
		return false
	}
	return true
}

// PlotCensusFilter selects plot censuses. Statuses matches any listed status.
type PlotCensusFilter struct {
	PlotID         *string
	ForestCensusID *string
	AssigneeID     *string
	Statuses       []PlotCensusStatus
}

// Matches reports whether pc satisfies the filter.
func (f PlotCensusFilter) Matches(pc PlotCensus) bool {
	if f.PlotID != nil && pc.PlotID != *f.PlotID {
		return false
	}
	if f.ForestCensusID != nil && pc.ForestCensusID != *f.ForestCensusID {
		return false
	}
	if f.AssigneeID != nil && pc.AssigneeID != *f.AssigneeID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if pc.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// ActivePlotCensusFilter selects the custody-holding plot censuses for a plot in a forest census.
func ActivePlotCensusFilter(plotID, forestCensusID string) PlotCensusFilter {
	return PlotCensusFilter{
		PlotID:         &plotID,
		ForestCensusID: &forestCensusID,
		Statuses:       []PlotCensusStatus{PlotCensusAssigned, PlotCensusInProgress, PlotCensusPendingReview},
	}
}

// TreeCensusLabelFilter selects tree census labels.
type TreeCensusLabelFilter struct {
	TreeCensusID *string
	LabelCode    *string
}

// Matches reports whether l satisfies the filter.
func (f TreeCensusLabelFilter) Matches(l TreeCensusLabel) bool {
	if f.TreeCensusID != nil && l.TreeCensusID != *f.TreeCensusID {
		return false
	}
	if f.LabelCode != nil && l.LabelCode != *f.LabelCode {
		return false
	}
	return true
}

// TreePhotoFilter selects tree photos.
type TreePhotoFilter struct {
	TreeCensusID *string
	PurposeCode  *string
}

// Matches reports whether p satisfies the filter.
func (f TreePhotoFilter) Matches(p TreePhoto) bool {
	if f.TreeCensusID != nil && p.TreeCensusID != *f.TreeCensusID {
		return false
	}
	if f.PurposeCode != nil && p.PurposeCode != *f.PurposeCode {
		return false
	}
	return true
}
