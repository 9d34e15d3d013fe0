package domain

// SyncBatch is a client-submitted set of offline-collected records.
type SyncBatch struct {
	Trees            []Tree            `json:"trees"`
	TreeCensuses     []TreeCensus      `json:"tree_censuses"`
	TreePhotos       []TreePhoto       `json:"tree_photos"`
	TreeCensusLabels []TreeCensusLabel `json:"tree_census_labels"`
}

// Empty reports whether the batch carries no records.
func (b SyncBatch) Empty() bool {
	return len(b.Trees) == 0 && len(b.TreeCensuses) == 0 && len(b.TreePhotos) == 0 && len(b.TreeCensusLabels) == 0
}

// EntityDelta lists identifiers the client should add to or prune from its replica.
type EntityDelta struct {
	Added   []string `json:"added"`
	Deleted []string `json:"deleted"`
}

// SyncResponse is the wire-visible reconciliation report.
type SyncResponse struct {
	Trees            EntityDelta `json:"trees"`
	TreeCensuses     EntityDelta `json:"tree_censuses"`
	TreePhotos       EntityDelta `json:"tree_photos"`
	TreeCensusLabels EntityDelta `json:"tree_census_labels"`
}

// NewSyncResponse returns a response with non-nil id lists so it always
// serialises as arrays.
func NewSyncResponse() SyncResponse {
	empty := func() EntityDelta { return EntityDelta{Added: []string{}, Deleted: []string{}} }
	return SyncResponse{
		Trees:            empty(),
		TreeCensuses:     empty(),
		TreePhotos:       empty(),
		TreeCensusLabels: empty(),
	}
}

// Delta returns the delta for the entity kind, or nil for kinds not synced.
func (r *SyncResponse) Delta(entity EntityType) *EntityDelta {
	switch entity {
	case EntityTree:
		return &r.Trees
	case EntityTreeCensus:
		return &r.TreeCensuses
	case EntityTreePhoto:
		return &r.TreePhotos
	case EntityTreeCensusLabel:
		return &r.TreeCensusLabels
	default:
		return nil
	}
}

// Counts summarises added and deleted identifiers across all kinds.
func (r SyncResponse) Counts() (added, deleted int) {
	for _, d := range []EntityDelta{r.Trees, r.TreeCensuses, r.TreePhotos, r.TreeCensusLabels} {
		added += len(d.Added)
		deleted += len(d.Deleted)
	}
	return added, deleted
}
