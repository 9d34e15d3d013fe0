package memory

import (
	"math"
	"strings"
	"time"

	"forestcensus/pkg/domain"
)

type transaction struct {
	transactionView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transaction's working state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func notFound(entity domain.EntityType, id string) error {
	return &domain.NotFoundError{Entity: entity, ID: id}
}

func constraint(kind domain.ConstraintKind, entity domain.EntityType, id, detail string) error {
	return &domain.ConstraintError{Constraint: kind, Entity: entity, ID: id, Detail: detail}
}

func invalid(entity domain.EntityType, field, reason string) error {
	return &domain.ValidationError{Entity: entity, Field: field, Reason: reason}
}

// stampServer assigns transaction time to server-owned records.
func (tx *transaction) stampServer(b *domain.Base) {
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
}

// stampClient keeps timestamps authored on a device and fills in the gaps.
func (tx *transaction) stampClient(b *domain.Base) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = tx.now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}

func (tx *transaction) assignID(entity domain.EntityType, id *string, exists bool) error {
	if *id == "" {
		*id = tx.store.newID()
		return nil
	}
	if exists {
		return constraint(domain.ConstraintDuplicate, entity, *id, "id already exists")
	}
	return nil
}

// Forests

func (tx *transaction) CreateForest(f Forest) (Forest, error) {
	_, exists := tx.state.forests[f.ID]
	if err := tx.assignID(domain.EntityForest, &f.ID, exists); err != nil {
		return Forest{}, err
	}
	if strings.TrimSpace(f.Name) == "" {
		return Forest{}, invalid(domain.EntityForest, "name", "is required")
	}
	tx.stampServer(&f.Base)
	tx.state.forests[f.ID] = cloneForest(f)
	tx.recordChange(Change{Entity: domain.EntityForest, Action: domain.ActionCreate, After: cloneForest(f)})
	return cloneForest(f), nil
}

func (tx *transaction) UpdateForest(id string, mutator func(*Forest) error) (Forest, error) {
	current, ok := tx.state.forests[id]
	if !ok {
		return Forest{}, notFound(domain.EntityForest, id)
	}
	before := cloneForest(current)
	if err := mutator(&current); err != nil {
		return Forest{}, err
	}
	if strings.TrimSpace(current.Name) == "" {
		return Forest{}, invalid(domain.EntityForest, "name", "is required")
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.forests[id] = cloneForest(current)
	tx.recordChange(Change{Entity: domain.EntityForest, Action: domain.ActionUpdate, Before: before, After: cloneForest(current)})
	return cloneForest(current), nil
}

func (tx *transaction) DeleteForest(id string) error {
	current, ok := tx.state.forests[id]
	if !ok {
		return notFound(domain.EntityForest, id)
	}
	for _, plot := range tx.state.plots {
		if plot.ForestID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityForest, id, "still referenced by plot "+plot.ID)
		}
	}
	for _, trip := range tx.state.trips {
		if trip.ForestID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityForest, id, "still referenced by trip "+trip.ID)
		}
	}
	for _, fc := range tx.state.forestCensuses {
		if fc.ForestID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityForest, id, "still referenced by forest census "+fc.ID)
		}
	}
	delete(tx.state.forests, id)
	tx.recordChange(Change{Entity: domain.EntityForest, Action: domain.ActionDelete, Before: cloneForest(current)})
	return nil
}

// Plots

func validatePlotBounds(p Plot) error {
	if p.Bounds.IsEmpty() {
		return invalid(domain.EntityPlot, "bounds", "minimum corner exceeds maximum corner")
	}
	return nil
}

func (tx *transaction) CreatePlot(p Plot) (Plot, error) {
	_, exists := tx.state.plots[p.ID]
	if err := tx.assignID(domain.EntityPlot, &p.ID, exists); err != nil {
		return Plot{}, err
	}
	if _, ok := tx.state.forests[p.ForestID]; !ok {
		return Plot{}, constraint(domain.ConstraintForeignKey, domain.EntityPlot, p.ID, "unknown forest "+p.ForestID)
	}
	if err := validatePlotBounds(p); err != nil {
		return Plot{}, err
	}
	tx.stampServer(&p.Base)
	tx.state.plots[p.ID] = clonePlot(p)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionCreate, After: clonePlot(p)})
	return clonePlot(p), nil
}

func (tx *transaction) UpdatePlot(id string, mutator func(*Plot) error) (Plot, error) {
	current, ok := tx.state.plots[id]
	if !ok {
		return Plot{}, notFound(domain.EntityPlot, id)
	}
	before := clonePlot(current)
	if err := mutator(&current); err != nil {
		return Plot{}, err
	}
	if current.ForestID != before.ForestID {
		return Plot{}, constraint(domain.ConstraintMismatch, domain.EntityPlot, id, "forest cannot change")
	}
	if err := validatePlotBounds(current); err != nil {
		return Plot{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.plots[id] = clonePlot(current)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionUpdate, Before: before, After: clonePlot(current)})
	return clonePlot(current), nil
}

func (tx *transaction) DeletePlot(id string) error {
	current, ok := tx.state.plots[id]
	if !ok {
		return notFound(domain.EntityPlot, id)
	}
	for _, tree := range tx.state.trees {
		if tree.PlotID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityPlot, id, "still referenced by tree "+tree.ID)
		}
	}
	for _, pc := range tx.state.plotCensuses {
		if pc.PlotID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityPlot, id, "still referenced by plot census "+pc.ID)
		}
	}
	delete(tx.state.plots, id)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionDelete, Before: clonePlot(current)})
	return nil
}

// Trips

func validateTrip(t Trip) error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid(domain.EntityTrip, "name", "is required")
	}
	if t.EndedAt != nil && t.EndedAt.Before(t.StartedAt) {
		return invalid(domain.EntityTrip, "ended_at", "precedes started_at")
	}
	return nil
}

func (tx *transaction) CreateTrip(t Trip) (Trip, error) {
	_, exists := tx.state.trips[t.ID]
	if err := tx.assignID(domain.EntityTrip, &t.ID, exists); err != nil {
		return Trip{}, err
	}
	if _, ok := tx.state.forests[t.ForestID]; !ok {
		return Trip{}, constraint(domain.ConstraintForeignKey, domain.EntityTrip, t.ID, "unknown forest "+t.ForestID)
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = tx.now
	}
	if err := validateTrip(t); err != nil {
		return Trip{}, err
	}
	tx.stampServer(&t.Base)
	tx.state.trips[t.ID] = cloneTrip(t)
	tx.recordChange(Change{Entity: domain.EntityTrip, Action: domain.ActionCreate, After: cloneTrip(t)})
	return cloneTrip(t), nil
}

func (tx *transaction) UpdateTrip(id string, mutator func(*Trip) error) (Trip, error) {
	current, ok := tx.state.trips[id]
	if !ok {
		return Trip{}, notFound(domain.EntityTrip, id)
	}
	before := cloneTrip(current)
	if err := mutator(&current); err != nil {
		return Trip{}, err
	}
	if current.ForestID != before.ForestID {
		return Trip{}, constraint(domain.ConstraintMismatch, domain.EntityTrip, id, "forest cannot change")
	}
	if err := validateTrip(current); err != nil {
		return Trip{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.trips[id] = cloneTrip(current)
	tx.recordChange(Change{Entity: domain.EntityTrip, Action: domain.ActionUpdate, Before: before, After: cloneTrip(current)})
	return cloneTrip(current), nil
}

// DeleteTrip removes the trip and detaches tree census records pointing at it.
func (tx *transaction) DeleteTrip(id string) error {
	current, ok := tx.state.trips[id]
	if !ok {
		return notFound(domain.EntityTrip, id)
	}
	for tcID, tc := range tx.state.treeCensuses {
		if tc.TripID == nil || *tc.TripID != id {
			continue
		}
		before := cloneTreeCensus(tc)
		tc.TripID = nil
		tx.state.treeCensuses[tcID] = tc
		tx.recordChange(Change{Entity: domain.EntityTreeCensus, Action: domain.ActionUpdate, Before: before, After: cloneTreeCensus(tc)})
	}
	delete(tx.state.trips, id)
	tx.recordChange(Change{Entity: domain.EntityTrip, Action: domain.ActionDelete, Before: cloneTrip(current)})
	return nil
}

// Forest censuses

func (tx *transaction) CreateForestCensus(fc ForestCensus) (ForestCensus, error) {
	_, exists := tx.state.forestCensuses[fc.ID]
	if err := tx.assignID(domain.EntityForestCensus, &fc.ID, exists); err != nil {
		return ForestCensus{}, err
	}
	if _, ok := tx.state.forests[fc.ForestID]; !ok {
		return ForestCensus{}, constraint(domain.ConstraintForeignKey, domain.EntityForestCensus, fc.ID, "unknown forest "+fc.ForestID)
	}
	if fc.Status == "" {
		fc.Status = domain.ForestCensusOpen
	}
	if fc.Status != domain.ForestCensusOpen && fc.Status != domain.ForestCensusClosed {
		return ForestCensus{}, invalid(domain.EntityForestCensus, "status", "unknown status "+string(fc.Status))
	}
	if fc.OpenedAt.IsZero() {
		fc.OpenedAt = tx.now
	}
	tx.stampServer(&fc.Base)
	tx.state.forestCensuses[fc.ID] = cloneForestCensus(fc)
	tx.recordChange(Change{Entity: domain.EntityForestCensus, Action: domain.ActionCreate, After: cloneForestCensus(fc)})
	return cloneForestCensus(fc), nil
}

func (tx *transaction) UpdateForestCensus(id string, mutator func(*ForestCensus) error) (ForestCensus, error) {
	current, ok := tx.state.forestCensuses[id]
	if !ok {
		return ForestCensus{}, notFound(domain.EntityForestCensus, id)
	}
	before := cloneForestCensus(current)
	if err := mutator(&current); err != nil {
		return ForestCensus{}, err
	}
	if current.ForestID != before.ForestID {
		return ForestCensus{}, constraint(domain.ConstraintMismatch, domain.EntityForestCensus, id, "forest cannot change")
	}
	if current.Status != domain.ForestCensusOpen && current.Status != domain.ForestCensusClosed {
		return ForestCensus{}, invalid(domain.EntityForestCensus, "status", "unknown status "+string(current.Status))
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.forestCensuses[id] = cloneForestCensus(current)
	tx.recordChange(Change{Entity: domain.EntityForestCensus, Action: domain.ActionUpdate, Before: before, After: cloneForestCensus(current)})
	return cloneForestCensus(current), nil
}

func (tx *transaction) DeleteForestCensus(id string) error {
	current, ok := tx.state.forestCensuses[id]
	if !ok {
		return notFound(domain.EntityForestCensus, id)
	}
	for _, pc := range tx.state.plotCensuses {
		if pc.ForestCensusID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityForestCensus, id, "still referenced by plot census "+pc.ID)
		}
	}
	delete(tx.state.forestCensuses, id)
	tx.recordChange(Change{Entity: domain.EntityForestCensus, Action: domain.ActionDelete, Before: cloneForestCensus(current)})
	return nil
}

// Plot censuses

func (tx *transaction) CreatePlotCensus(pc PlotCensus) (PlotCensus, error) {
	_, exists := tx.state.plotCensuses[pc.ID]
	if err := tx.assignID(domain.EntityPlotCensus, &pc.ID, exists); err != nil {
		return PlotCensus{}, err
	}
	plot, ok := tx.state.plots[pc.PlotID]
	if !ok {
		return PlotCensus{}, constraint(domain.ConstraintForeignKey, domain.EntityPlotCensus, pc.ID, "unknown plot "+pc.PlotID)
	}
	fc, ok := tx.state.forestCensuses[pc.ForestCensusID]
	if !ok {
		return PlotCensus{}, constraint(domain.ConstraintForeignKey, domain.EntityPlotCensus, pc.ID, "unknown forest census "+pc.ForestCensusID)
	}
	if plot.ForestID != fc.ForestID {
		return PlotCensus{}, constraint(domain.ConstraintMismatch, domain.EntityPlotCensus, pc.ID, "plot and forest census belong to different forests")
	}
	if strings.TrimSpace(pc.AssigneeID) == "" {
		return PlotCensus{}, invalid(domain.EntityPlotCensus, "assignee_id", "is required")
	}
	if pc.Status == "" {
		pc.Status = domain.PlotCensusAssigned
	}
	if !pc.Status.Valid() {
		return PlotCensus{}, invalid(domain.EntityPlotCensus, "status", "unknown status "+string(pc.Status))
	}
	tx.stampServer(&pc.Base)
	tx.state.plotCensuses[pc.ID] = clonePlotCensus(pc)
	tx.recordChange(Change{Entity: domain.EntityPlotCensus, Action: domain.ActionCreate, After: clonePlotCensus(pc)})
	return clonePlotCensus(pc), nil
}

func (tx *transaction) UpdatePlotCensus(id string, mutator func(*PlotCensus) error) (PlotCensus, error) {
	current, ok := tx.state.plotCensuses[id]
	if !ok {
		return PlotCensus{}, notFound(domain.EntityPlotCensus, id)
	}
	before := clonePlotCensus(current)
	if err := mutator(&current); err != nil {
		return PlotCensus{}, err
	}
	if current.PlotID != before.PlotID || current.ForestCensusID != before.ForestCensusID {
		return PlotCensus{}, constraint(domain.ConstraintMismatch, domain.EntityPlotCensus, id, "plot and forest census cannot change")
	}
	if strings.TrimSpace(current.AssigneeID) == "" {
		return PlotCensus{}, invalid(domain.EntityPlotCensus, "assignee_id", "is required")
	}
	if !current.Status.Valid() {
		return PlotCensus{}, invalid(domain.EntityPlotCensus, "status", "unknown status "+string(current.Status))
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.plotCensuses[id] = clonePlotCensus(current)
	tx.recordChange(Change{Entity: domain.EntityPlotCensus, Action: domain.ActionUpdate, Before: before, After: clonePlotCensus(current)})
	return clonePlotCensus(current), nil
}

// DeletePlotCensus removes the plot census together with every tree census
// recorded under it.
func (tx *transaction) DeletePlotCensus(id string) error {
	current, ok := tx.state.plotCensuses[id]
	if !ok {
		return notFound(domain.EntityPlotCensus, id)
	}
	for _, tc := range tx.ListTreeCensuses(domain.TreeCensusFilter{PlotCensusID: &id}) {
		if err := tx.DeleteTreeCensus(tc.ID); err != nil {
			return err
		}
	}
	delete(tx.state.plotCensuses, id)
	tx.recordChange(Change{Entity: domain.EntityPlotCensus, Action: domain.ActionDelete, Before: clonePlotCensus(current)})
	return nil
}

// Trees

func (tx *transaction) CreateTree(t Tree) (Tree, error) {
	_, exists := tx.state.trees[t.ID]
	if err := tx.assignID(domain.EntityTree, &t.ID, exists); err != nil {
		return Tree{}, err
	}
	if _, ok := tx.state.plots[t.PlotID]; !ok {
		return Tree{}, constraint(domain.ConstraintForeignKey, domain.EntityTree, t.ID, "unknown plot "+t.PlotID)
	}
	if t.InitCensusID != nil {
		if _, ok := tx.state.treeCensuses[*t.InitCensusID]; !ok {
			return Tree{}, constraint(domain.ConstraintForeignKey, domain.EntityTree, t.ID, "unknown initial census "+*t.InitCensusID)
		}
	}
	tx.stampClient(&t.Base)
	tx.state.trees[t.ID] = cloneTree(t)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionCreate, After: cloneTree(t)})
	return cloneTree(t), nil
}

// UpdateTree applies mutator to the tree. UpdatedAt on client-authored records
// carries the device timestamp and only changes when the mutator sets it.
func (tx *transaction) UpdateTree(id string, mutator func(*Tree) error) (Tree, error) {
	current, ok := tx.state.trees[id]
	if !ok {
		return Tree{}, notFound(domain.EntityTree, id)
	}
	before := cloneTree(current)
	if err := mutator(&current); err != nil {
		return Tree{}, err
	}
	if current.PlotID != before.PlotID {
		return Tree{}, constraint(domain.ConstraintMismatch, domain.EntityTree, id, "plot cannot change")
	}
	if current.InitCensusID != nil {
		if _, ok := tx.state.treeCensuses[*current.InitCensusID]; !ok {
			return Tree{}, constraint(domain.ConstraintForeignKey, domain.EntityTree, id, "unknown initial census "+*current.InitCensusID)
		}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.trees[id] = cloneTree(current)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionUpdate, Before: before, After: cloneTree(current)})
	return cloneTree(current), nil
}

func (tx *transaction) DeleteTree(id string) error {
	current, ok := tx.state.trees[id]
	if !ok {
		return notFound(domain.EntityTree, id)
	}
	for _, tc := range tx.state.treeCensuses {
		if tc.TreeID == id {
			return constraint(domain.ConstraintReferenced, domain.EntityTree, id, "still referenced by tree census "+tc.ID)
		}
	}
	delete(tx.state.trees, id)
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionDelete, Before: cloneTree(current)})
	return nil
}

// Tree censuses

func (tx *transaction) validateTreeCensus(tc TreeCensus) error {
	tree, ok := tx.state.trees[tc.TreeID]
	if !ok {
		return constraint(domain.ConstraintForeignKey, domain.EntityTreeCensus, tc.ID, "unknown tree "+tc.TreeID)
	}
	pc, ok := tx.state.plotCensuses[tc.PlotCensusID]
	if !ok {
		return constraint(domain.ConstraintForeignKey, domain.EntityTreeCensus, tc.ID, "unknown plot census "+tc.PlotCensusID)
	}
	if tree.PlotID != pc.PlotID {
		return constraint(domain.ConstraintMismatch, domain.EntityTreeCensus, tc.ID, "tree "+tree.ID+" is not on plot "+pc.PlotID)
	}
	if tc.TripID != nil {
		trip, ok := tx.state.trips[*tc.TripID]
		if !ok {
			return constraint(domain.ConstraintForeignKey, domain.EntityTreeCensus, tc.ID, "unknown trip "+*tc.TripID)
		}
		if plot, ok := tx.state.plots[pc.PlotID]; ok && plot.ForestID != trip.ForestID {
			return constraint(domain.ConstraintMismatch, domain.EntityTreeCensus, tc.ID, "trip "+trip.ID+" belongs to another forest")
		}
	}
	if strings.TrimSpace(tc.AuthorID) == "" {
		return invalid(domain.EntityTreeCensus, "author_id", "is required")
	}
	if math.IsNaN(tc.DBH) || math.IsInf(tc.DBH, 0) || tc.DBH < 0 {
		return invalid(domain.EntityTreeCensus, "dbh", "must be a non-negative number")
	}
	return nil
}

func (tx *transaction) CreateTreeCensus(tc TreeCensus) (TreeCensus, error) {
	_, exists := tx.state.treeCensuses[tc.ID]
	if err := tx.assignID(domain.EntityTreeCensus, &tc.ID, exists); err != nil {
		return TreeCensus{}, err
	}
	if err := tx.validateTreeCensus(tc); err != nil {
		return TreeCensus{}, err
	}
	if existing, ok := tx.FindTreeCensusByKey(tc.PlotCensusID, tc.TreeID); ok {
		return TreeCensus{}, constraint(domain.ConstraintDuplicate, domain.EntityTreeCensus, tc.ID,
			"tree "+tc.TreeID+" already recorded as "+existing.ID)
	}
	tx.stampClient(&tc.Base)
	tx.state.treeCensuses[tc.ID] = cloneTreeCensus(tc)
	tx.recordChange(Change{Entity: domain.EntityTreeCensus, Action: domain.ActionCreate, After: cloneTreeCensus(tc)})
	return cloneTreeCensus(tc), nil
}

// UpdateTreeCensus applies mutator in place; the (plot census, tree) key is fixed.
func (tx *transaction) UpdateTreeCensus(id string, mutator func(*TreeCensus) error) (TreeCensus, error) {
	current, ok := tx.state.treeCensuses[id]
	if !ok {
		return TreeCensus{}, notFound(domain.EntityTreeCensus, id)
	}
	before := cloneTreeCensus(current)
	if err := mutator(&current); err != nil {
		return TreeCensus{}, err
	}
	current.ID = id
	if current.TreeID != before.TreeID || current.PlotCensusID != before.PlotCensusID {
		return TreeCensus{}, constraint(domain.ConstraintMismatch, domain.EntityTreeCensus, id, "tree and plot census cannot change")
	}
	if err := tx.validateTreeCensus(current); err != nil {
		return TreeCensus{}, err
	}
	current.CreatedAt = before.CreatedAt
	tx.state.treeCensuses[id] = cloneTreeCensus(current)
	tx.recordChange(Change{Entity: domain.EntityTreeCensus, Action: domain.ActionUpdate, Before: before, After: cloneTreeCensus(current)})
	return cloneTreeCensus(current), nil
}

// ReplaceTreeCensus stores tc under its (plot census, tree) key. A record with
// the same id is overwritten in place; a record with a different id is deleted
// with its labels and photos first. replaced is the zero value when nothing
// held the key.
func (tx *transaction) ReplaceTreeCensus(tc TreeCensus) (TreeCensus, TreeCensus, error) {
	existing, ok := tx.FindTreeCensusByKey(tc.PlotCensusID, tc.TreeID)
	if !ok {
		created, err := tx.CreateTreeCensus(tc)
		return created, TreeCensus{}, err
	}
	if existing.ID == tc.ID {
		updated, err := tx.UpdateTreeCensus(tc.ID, func(cur *TreeCensus) error {
			createdAt := cur.CreatedAt
			*cur = tc
			cur.CreatedAt = createdAt
			if cur.UpdatedAt.IsZero() {
				cur.UpdatedAt = tx.now
			}
			return nil
		})
		return updated, existing, err
	}
	if err := tx.DeleteTreeCensus(existing.ID); err != nil {
		return TreeCensus{}, TreeCensus{}, err
	}
	created, err := tx.CreateTreeCensus(tc)
	if err != nil {
		return TreeCensus{}, TreeCensus{}, err
	}
	return created, existing, nil
}

// DeleteTreeCensus removes the record with its labels and photos and clears
// any tree that named it as its initial census.
func (tx *transaction) DeleteTreeCensus(id string) error {
	current, ok := tx.state.treeCensuses[id]
	if !ok {
		return notFound(domain.EntityTreeCensus, id)
	}
	for _, l := range tx.ListTreeCensusLabels(domain.TreeCensusLabelFilter{TreeCensusID: &id}) {
		delete(tx.state.treeCensusLabels, l.ID)
		tx.recordChange(Change{Entity: domain.EntityTreeCensusLabel, Action: domain.ActionDelete, Before: l})
	}
	for _, p := range tx.ListTreePhotos(domain.TreePhotoFilter{TreeCensusID: &id}) {
		delete(tx.state.treePhotos, p.ID)
		tx.recordChange(Change{Entity: domain.EntityTreePhoto, Action: domain.ActionDelete, Before: p})
	}
	for treeID, tree := range tx.state.trees {
		if tree.InitCensusID == nil || *tree.InitCensusID != id {
			continue
		}
		before := cloneTree(tree)
		tree.InitCensusID = nil
		tx.state.trees[treeID] = tree
		tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionUpdate, Before: before, After: cloneTree(tree)})
	}
	delete(tx.state.treeCensuses, id)
	tx.recordChange(Change{Entity: domain.EntityTreeCensus, Action: domain.ActionDelete, Before: cloneTreeCensus(current)})
	return nil
}

// Labels

func (tx *transaction) CreateTreeLabel(l TreeLabel) (TreeLabel, error) {
	_, exists := tx.state.treeLabels[l.ID]
	if err := tx.assignID(domain.EntityTreeLabel, &l.ID, exists); err != nil {
		return TreeLabel{}, err
	}
	if strings.TrimSpace(l.Code) == "" {
		return TreeLabel{}, invalid(domain.EntityTreeLabel, "code", "is required")
	}
	if existing, ok := tx.FindTreeLabelByCode(l.Code); ok {
		return TreeLabel{}, constraint(domain.ConstraintDuplicate, domain.EntityTreeLabel, l.ID, "code "+l.Code+" already used by "+existing.ID)
	}
	tx.stampServer(&l.Base)
	tx.state.treeLabels[l.ID] = cloneTreeLabel(l)
	tx.recordChange(Change{Entity: domain.EntityTreeLabel, Action: domain.ActionCreate, After: cloneTreeLabel(l)})
	return cloneTreeLabel(l), nil
}

func (tx *transaction) DeleteTreeLabel(id string) error {
	current, ok := tx.state.treeLabels[id]
	if !ok {
		return notFound(domain.EntityTreeLabel, id)
	}
	for _, l := range tx.state.treeCensusLabels {
		if l.LabelCode == current.Code {
			return constraint(domain.ConstraintReferenced, domain.EntityTreeLabel, id, "still attached to tree census "+l.TreeCensusID)
		}
	}
	delete(tx.state.treeLabels, id)
	tx.recordChange(Change{Entity: domain.EntityTreeLabel, Action: domain.ActionDelete, Before: cloneTreeLabel(current)})
	return nil
}

func (tx *transaction) CreateTreeCensusLabel(l TreeCensusLabel) (TreeCensusLabel, error) {
	_, exists := tx.state.treeCensusLabels[l.ID]
	if err := tx.assignID(domain.EntityTreeCensusLabel, &l.ID, exists); err != nil {
		return TreeCensusLabel{}, err
	}
	if _, ok := tx.state.treeCensuses[l.TreeCensusID]; !ok {
		return TreeCensusLabel{}, constraint(domain.ConstraintForeignKey, domain.EntityTreeCensusLabel, l.ID, "unknown tree census "+l.TreeCensusID)
	}
	if _, ok := tx.FindTreeLabelByCode(l.LabelCode); !ok {
		return TreeCensusLabel{}, constraint(domain.ConstraintForeignKey, domain.EntityTreeCensusLabel, l.ID, "unknown label code "+l.LabelCode)
	}
	if existing, ok := tx.FindTreeCensusLabelByKey(l.TreeCensusID, l.LabelCode); ok {
		return TreeCensusLabel{}, constraint(domain.ConstraintDuplicate, domain.EntityTreeCensusLabel, l.ID, "label already attached as "+existing.ID)
	}
	tx.stampClient(&l.Base)
	tx.state.treeCensusLabels[l.ID] = cloneTreeCensusLabel(l)
	tx.recordChange(Change{Entity: domain.EntityTreeCensusLabel, Action: domain.ActionCreate, After: cloneTreeCensusLabel(l)})
	return cloneTreeCensusLabel(l), nil
}

func (tx *transaction) DeleteTreeCensusLabel(id string) error {
	current, ok := tx.state.treeCensusLabels[id]
	if !ok {
		return notFound(domain.EntityTreeCensusLabel, id)
	}
	delete(tx.state.treeCensusLabels, id)
	tx.recordChange(Change{Entity: domain.EntityTreeCensusLabel, Action: domain.ActionDelete, Before: cloneTreeCensusLabel(current)})
	return nil
}

// Photos

func (tx *transaction) CreateTreePhoto(p TreePhoto) (TreePhoto, error) {
	_, exists := tx.state.treePhotos[p.ID]
	if err := tx.assignID(domain.EntityTreePhoto, &p.ID, exists); err != nil {
		return TreePhoto{}, err
	}
	if _, ok := tx.state.treeCensuses[p.TreeCensusID]; !ok {
		return TreePhoto{}, constraint(domain.ConstraintForeignKey, domain.EntityTreePhoto, p.ID, "unknown tree census "+p.TreeCensusID)
	}
	tx.stampClient(&p.Base)
	tx.state.treePhotos[p.ID] = cloneTreePhoto(p)
	tx.recordChange(Change{Entity: domain.EntityTreePhoto, Action: domain.ActionCreate, After: cloneTreePhoto(p)})
	return cloneTreePhoto(p), nil
}

func (tx *transaction) DeleteTreePhoto(id string) error {
	current, ok := tx.state.treePhotos[id]
	if !ok {
		return notFound(domain.EntityTreePhoto, id)
	}
	delete(tx.state.treePhotos, id)
	tx.recordChange(Change{Entity: domain.EntityTreePhoto, Action: domain.ActionDelete, Before: cloneTreePhoto(current)})
	return nil
}
