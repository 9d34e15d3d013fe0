package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"forestcensus/pkg/domain"
)

// Reconcile merges an offline sync batch into server state in one transaction.
// Records apply in order trees, tree censuses, labels, photos. Tree censuses
// sharing a (plot census, tree) key resolve last-write-wins on UpdatedAt with
// the greater ID breaking ties, so the outcome does not depend on arrival
// order. Superseded and stale records are reported in the deleted lists rather
// than failing; any other violation aborts the batch with *domain.BatchError.
func (s *Service) Reconcile(ctx context.Context, p Principal, batch domain.SyncBatch) (domain.SyncResponse, error) {
	var (
		resp       domain.SyncResponse
		superseded []string
	)
	_, err := s.run(ctx, "reconcile", p, func(tx domain.Transaction) (string, error) {
		r := &reconciler{
			tx:        tx,
			principal: p,
			resp:      domain.NewSyncResponse(),
			dropped:   make(map[string]struct{}),
		}
		if err := r.apply(batch); err != nil {
			return "", err
		}
		resp = r.resp
		superseded = r.superseded
		return "", nil
	})
	if err != nil {
		return domain.SyncResponse{}, err
	}

	added, deleted := resp.Counts()
	s.logger.Info("sync batch reconciled",
		"actor", p.UserID,
		"trees_added", len(resp.Trees.Added),
		"tree_censuses_added", len(resp.TreeCensuses.Added),
		"tree_censuses_deleted", len(resp.TreeCensuses.Deleted),
		"labels_added", len(resp.TreeCensusLabels.Added),
		"photos_added", len(resp.TreePhotos.Added),
		"added", added,
		"deleted", deleted)
	s.observeSync(ctx, resp)
	s.purgePhotoBlobs(ctx, superseded)
	return resp, nil
}

func (s *Service) observeSync(ctx context.Context, resp domain.SyncResponse) {
	rec, ok := s.metrics.(SyncMetricsRecorder)
	if !ok {
		return
	}
	for _, entity := range []EntityType{EntityTree, EntityTreeCensus, EntityTreeCensusLabel, EntityTreePhoto} {
		d := resp.Delta(entity)
		rec.ObserveSync(ctx, entity, "added", len(d.Added))
		rec.ObserveSync(ctx, entity, "deleted", len(d.Deleted))
	}
}

type reconciler struct {
	tx        domain.Transaction
	principal Principal
	resp      domain.SyncResponse
	// dropped holds tree census IDs that lost resolution or were superseded;
	// batch children pointing at them are dropped too.
	dropped map[string]struct{}
	// superseded holds stored tree census IDs replaced by this batch.
	superseded []string
}

func (r *reconciler) apply(batch domain.SyncBatch) error {
	for i, t := range batch.Trees {
		if err := r.tree(t); err != nil {
			return &domain.BatchError{Entity: EntityTree, Index: i, ID: t.ID, Err: err}
		}
	}
	for i, tc := range batch.TreeCensuses {
		if err := r.treeCensus(tc); err != nil {
			return &domain.BatchError{Entity: EntityTreeCensus, Index: i, ID: tc.ID, Err: err}
		}
	}
	for i, l := range batch.TreeCensusLabels {
		if err := r.label(l); err != nil {
			return &domain.BatchError{Entity: EntityTreeCensusLabel, Index: i, ID: l.ID, Err: err}
		}
	}
	for i, ph := range batch.TreePhotos {
		if err := r.photo(ph); err != nil {
			return &domain.BatchError{Entity: EntityTreePhoto, Index: i, ID: ph.ID, Err: err}
		}
	}
	return nil
}

func (r *reconciler) added(entity EntityType, id string) {
	d := r.resp.Delta(entity)
	if !slices.Contains(d.Added, id) {
		d.Added = append(d.Added, id)
	}
}

// deleted reports id for local removal and withdraws any earlier add in the
// same batch.
func (r *reconciler) deleted(entity EntityType, id string) {
	d := r.resp.Delta(entity)
	d.Added = slices.DeleteFunc(d.Added, func(v string) bool { return v == id })
	if !slices.Contains(d.Deleted, id) {
		d.Deleted = append(d.Deleted, id)
	}
}

func (r *reconciler) tree(in Tree) error {
	if strings.TrimSpace(in.ID) == "" {
		return &domain.ValidationError{Entity: EntityTree, Field: "id", Reason: "tag is required"}
	}
	if _, ok := r.tx.FindPlot(in.PlotID); !ok {
		return &domain.ConstraintError{Constraint: domain.ConstraintForeignKey, Entity: EntityTree, ID: in.ID, Detail: "plot " + in.PlotID + " does not exist"}
	}
	if err := r.holdsPlot(in.PlotID, in.ID); err != nil {
		return err
	}
	stored, ok := r.tx.FindTree(in.ID)
	if !ok {
		in.InitCensusID = nil
		if _, err := r.tx.CreateTree(in); err != nil {
			return err
		}
		r.added(EntityTree, in.ID)
		return nil
	}
	if stored.PlotID != in.PlotID {
		return &domain.ConstraintError{Constraint: domain.ConstraintMismatch, Entity: EntityTree, ID: in.ID, Detail: "tree is recorded in plot " + stored.PlotID}
	}
	if !treeWins(in, stored) {
		return nil
	}
	if _, err := r.tx.UpdateTree(in.ID, func(t *Tree) error {
		t.Latitude = in.Latitude
		t.Longitude = in.Longitude
		t.SpeciesCode = in.SpeciesCode
		t.StatusCode = in.StatusCode
		t.UpdatedAt = in.UpdatedAt
		return nil
	}); err != nil {
		return err
	}
	r.added(EntityTree, in.ID)
	return nil
}

// holdsPlot requires an editable plot census on plotID held by the principal.
func (r *reconciler) holdsPlot(plotID, treeID string) error {
	if r.principal.IsAdmin() {
		return nil
	}
	assignee := r.principal.UserID
	for _, pc := range r.tx.ListPlotCensuses(domain.PlotCensusFilter{PlotID: &plotID, AssigneeID: &assignee}) {
		if pc.Status.Editable() {
			return nil
		}
	}
	return &domain.UnauthorizedError{UserID: assignee, Entity: EntityTree, ID: treeID, Reason: "no editable plot census held on plot " + plotID}
}

// editablePlotCensus loads the plot census a tree census writes under and
// checks status and custody.
func (r *reconciler) editablePlotCensus(id, recordID string, entity EntityType) (PlotCensus, error) {
	pc, ok := r.tx.FindPlotCensus(id)
	if !ok {
		return PlotCensus{}, &domain.ConstraintError{Constraint: domain.ConstraintForeignKey, Entity: entity, ID: recordID, Detail: "plot census " + id + " does not exist"}
	}
	if !pc.Status.Editable() {
		return PlotCensus{}, invalidTransition(pc, domain.PlotCensusInProgress)
	}
	if err := requireHolder(r.principal, pc); err != nil {
		return PlotCensus{}, err
	}
	return pc, nil
}

func (r *reconciler) treeCensus(in TreeCensus) error {
	if err := requireClientID(EntityTreeCensus, in.ID); err != nil {
		return err
	}
	if strings.TrimSpace(in.AuthorID) == "" {
		in.AuthorID = r.principal.UserID
	}
	pc, err := r.editablePlotCensus(in.PlotCensusID, in.ID, EntityTreeCensus)
	if err != nil {
		return err
	}

	stored, exists := r.tx.FindTreeCensusByKey(in.PlotCensusID, in.TreeID)
	switch {
	case !exists:
		created, err := r.tx.CreateTreeCensus(in)
		if err != nil {
			return err
		}
		r.added(EntityTreeCensus, created.ID)
		return r.afterWrite(pc, created)
	case wins(in, stored):
		if stored.ID != in.ID {
			r.reportCascade(stored.ID)
		}
		created, _, err := r.tx.ReplaceTreeCensus(in)
		if err != nil {
			return err
		}
		r.added(EntityTreeCensus, created.ID)
		return r.afterWrite(pc, created)
	case stored.ID != in.ID:
		r.dropped[in.ID] = struct{}{}
		r.deleted(EntityTreeCensus, in.ID)
	}
	return nil
}

// treeWins reports whether an incoming tree edit supersedes the stored one.
// Both carry the same tag, so equal timestamps fall back to comparing the
// edited attributes; a retry of the stored edit never wins.
func treeWins(incoming, stored Tree) bool {
	if !incoming.UpdatedAt.Equal(stored.UpdatedAt) {
		return incoming.UpdatedAt.After(stored.UpdatedAt)
	}
	return treeRevision(incoming) > treeRevision(stored)
}

func treeRevision(t Tree) string {
	return strings.Join([]string{
		t.SpeciesCode,
		t.StatusCode,
		strconv.FormatFloat(t.Latitude, 'f', -1, 64),
		strconv.FormatFloat(t.Longitude, 'f', -1, 64),
	}, "\x1f")
}

// requireClientID rejects synced records without the identifier the device
// assigned. A server-generated ID would differ on every retry of the batch.
func requireClientID(entity EntityType, id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.ValidationError{Entity: entity, Field: "id", Reason: "client-generated id is required"}
	}
	return nil
}

// wins reports whether incoming supersedes stored under last-write-wins.
func wins(incoming, stored TreeCensus) bool {
	if incoming.UpdatedAt.After(stored.UpdatedAt) {
		return true
	}
	return incoming.UpdatedAt.Equal(stored.UpdatedAt) && incoming.ID > stored.ID
}

// reportCascade reports a stored tree census and its children deleted ahead
// of its replacement.
func (r *reconciler) reportCascade(id string) {
	for _, l := range r.tx.ListTreeCensusLabels(domain.TreeCensusLabelFilter{TreeCensusID: &id}) {
		r.deleted(EntityTreeCensusLabel, l.ID)
	}
	for _, ph := range r.tx.ListTreePhotos(domain.TreePhotoFilter{TreeCensusID: &id}) {
		r.deleted(EntityTreePhoto, ph.ID)
	}
	r.deleted(EntityTreeCensus, id)
	r.dropped[id] = struct{}{}
	r.superseded = append(r.superseded, id)
}

// afterWrite starts the plot census on its first observation and records the
// tree's initial census.
func (r *reconciler) afterWrite(pc PlotCensus, tc TreeCensus) error {
	current, _ := r.tx.FindPlotCensus(pc.ID)
	if current.Status == domain.PlotCensusAssigned || current.Status == domain.PlotCensusRejected {
		if current.Status == domain.PlotCensusRejected {
			if existing, held := activeCustody(r.tx, current.PlotID, current.ForestCensusID); held {
				return &domain.AlreadyCensusingError{Existing: existing}
			}
		}
		if _, err := r.tx.UpdatePlotCensus(pc.ID, func(cur *PlotCensus) error {
			cur.Status = domain.PlotCensusInProgress
			return nil
		}); err != nil {
			return err
		}
	}
	tree, ok := r.tx.FindTree(tc.TreeID)
	if !ok || tree.InitCensusID != nil {
		return nil
	}
	_, err := r.tx.UpdateTree(tree.ID, func(t *Tree) error {
		id := tc.ID
		t.InitCensusID = &id
		return nil
	})
	return err
}

// owningCensus resolves the tree census a label or photo attaches to and
// checks the principal may write under it.
func (r *reconciler) owningCensus(treeCensusID, recordID string, entity EntityType) (TreeCensus, error) {
	tc, ok := r.tx.FindTreeCensus(treeCensusID)
	if !ok {
		return TreeCensus{}, &domain.ConstraintError{Constraint: domain.ConstraintForeignKey, Entity: entity, ID: recordID, Detail: "tree census " + treeCensusID + " does not exist"}
	}
	if _, err := r.editablePlotCensus(tc.PlotCensusID, recordID, entity); err != nil {
		return TreeCensus{}, err
	}
	return tc, nil
}

func (r *reconciler) label(in TreeCensusLabel) error {
	if err := requireClientID(EntityTreeCensusLabel, in.ID); err != nil {
		return err
	}
	if _, gone := r.dropped[in.TreeCensusID]; gone {
		r.deleted(EntityTreeCensusLabel, in.ID)
		return nil
	}
	if _, err := r.owningCensus(in.TreeCensusID, in.ID, EntityTreeCensusLabel); err != nil {
		return err
	}
	if existing, ok := r.tx.FindTreeCensusLabelByKey(in.TreeCensusID, in.LabelCode); ok {
		if existing.ID != in.ID {
			r.deleted(EntityTreeCensusLabel, in.ID)
		}
		return nil
	}
	created, err := r.tx.CreateTreeCensusLabel(in)
	if err != nil {
		return err
	}
	r.added(EntityTreeCensusLabel, created.ID)
	return nil
}

func (r *reconciler) photo(in TreePhoto) error {
	if err := requireClientID(EntityTreePhoto, in.ID); err != nil {
		return err
	}
	if _, gone := r.dropped[in.TreeCensusID]; gone {
		r.deleted(EntityTreePhoto, in.ID)
		return nil
	}
	if existing, ok := r.tx.FindTreePhoto(in.ID); ok {
		if existing.TreeCensusID == in.TreeCensusID {
			return nil
		}
		return &domain.ConstraintError{
			Constraint: domain.ConstraintDuplicate,
			Entity:     EntityTreePhoto,
			ID:         in.ID,
			Detail:     fmt.Sprintf("photo belongs to tree census %s", existing.TreeCensusID),
		}
	}
	if _, err := r.owningCensus(in.TreeCensusID, in.ID, EntityTreePhoto); err != nil {
		return err
	}
	created, err := r.tx.CreateTreePhoto(in)
	if err != nil {
		return err
	}
	r.added(EntityTreePhoto, created.ID)
	return nil
}
