package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads through the embedded view observe
// the transaction's own uncommitted writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	CreateForest(Forest) (Forest, error)
	UpdateForest(id string, mutator func(*Forest) error) (Forest, error)
	DeleteForest(id string) error

	CreatePlot(Plot) (Plot, error)
	UpdatePlot(id string, mutator func(*Plot) error) (Plot, error)
	DeletePlot(id string) error

	CreateTrip(Trip) (Trip, error)
	UpdateTrip(id string, mutator func(*Trip) error) (Trip, error)
	DeleteTrip(id string) error

	CreateForestCensus(ForestCensus) (ForestCensus, error)
	UpdateForestCensus(id string, mutator func(*ForestCensus) error) (ForestCensus, error)
	DeleteForestCensus(id string) error

	CreatePlotCensus(PlotCensus) (PlotCensus, error)
	UpdatePlotCensus(id string, mutator func(*PlotCensus) error) (PlotCensus, error)
	DeletePlotCensus(id string) error

	CreateTree(Tree) (Tree, error)
	UpdateTree(id string, mutator func(*Tree) error) (Tree, error)
	DeleteTree(id string) error

	CreateTreeCensus(TreeCensus) (TreeCensus, error)
	UpdateTreeCensus(id string, mutator func(*TreeCensus) error) (TreeCensus, error)
	// ReplaceTreeCensus stores tc in place of the record holding the same
	// (plot census, tree) pair and returns the replaced record.
	ReplaceTreeCensus(tc TreeCensus) (created TreeCensus, replaced TreeCensus, err error)
	DeleteTreeCensus(id string) error

	CreateTreeLabel(TreeLabel) (TreeLabel, error)
	DeleteTreeLabel(id string) error

	CreateTreeCensusLabel(TreeCensusLabel) (TreeCensusLabel, error)
	DeleteTreeCensusLabel(id string) error

	CreateTreePhoto(TreePhoto) (TreePhoto, error)
	DeleteTreePhoto(id string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	FindForest(id string) (Forest, bool)
	FindPlot(id string) (Plot, bool)
	FindTrip(id string) (Trip, bool)
	FindForestCensus(id string) (ForestCensus, bool)
	FindOpenForestCensus(forestID string) (ForestCensus, bool)
	FindPlotCensus(id string) (PlotCensus, bool)
	FindTree(id string) (Tree, bool)
	FindTreeCensus(id string) (TreeCensus, bool)
	FindTreeCensusByKey(plotCensusID, treeID string) (TreeCensus, bool)
	FindTreeLabelByCode(code string) (TreeLabel, bool)
	FindTreeCensusLabel(id string) (TreeCensusLabel, bool)
	FindTreeCensusLabelByKey(treeCensusID, labelCode string) (TreeCensusLabel, bool)
	FindTreePhoto(id string) (TreePhoto, bool)

	ListForests() []Forest
	ListPlots() []Plot
	ListTrips() []Trip
	ListForestCensuses() []ForestCensus
	ListTreeLabels() []TreeLabel
	ListPlotCensuses(filter PlotCensusFilter) []PlotCensus
	ListTrees(filter TreeFilter) []Tree
	ListTreeCensuses(filter TreeCensusFilter) []TreeCensus
	ListTreeCensusLabels(filter TreeCensusLabelFilter) []TreeCensusLabel
	ListTreePhotos(filter TreePhotoFilter) []TreePhoto
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	RulesEngine() *RulesEngine
	Close() error
}
