package memory

import "forestcensus/pkg/domain"

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func findIn[V any](m map[string]V, id string, cloneFn func(V) V) (V, bool) {
	v, ok := m[id]
	if !ok {
		var zero V
		return zero, false
	}
	return cloneFn(v), true
}

func (v transactionView) FindForest(id string) (Forest, bool) {
	return findIn(v.state.forests, id, cloneForest)
}

func (v transactionView) FindPlot(id string) (Plot, bool) {
	return findIn(v.state.plots, id, clonePlot)
}

func (v transactionView) FindTrip(id string) (Trip, bool) {
	return findIn(v.state.trips, id, cloneTrip)
}

func (v transactionView) FindForestCensus(id string) (ForestCensus, bool) {
	return findIn(v.state.forestCensuses, id, cloneForestCensus)
}

// FindOpenForestCensus returns the open census for a forest, if any.
func (v transactionView) FindOpenForestCensus(forestID string) (ForestCensus, bool) {
	for _, fc := range sortedValues(v.state.forestCensuses, func(fc ForestCensus) bool {
		return fc.ForestID == forestID && fc.Status == domain.ForestCensusOpen
	}, cloneForestCensus) {
		return fc, true
	}
	return ForestCensus{}, false
}

func (v transactionView) FindPlotCensus(id string) (PlotCensus, bool) {
	return findIn(v.state.plotCensuses, id, clonePlotCensus)
}

func (v transactionView) FindTree(id string) (Tree, bool) {
	return findIn(v.state.trees, id, cloneTree)
}

func (v transactionView) FindTreeCensus(id string) (TreeCensus, bool) {
	return findIn(v.state.treeCensuses, id, cloneTreeCensus)
}

// FindTreeCensusByKey returns the record for a tree within a plot census.
func (v transactionView) FindTreeCensusByKey(plotCensusID, treeID string) (TreeCensus, bool) {
	for _, tc := range v.state.treeCensuses {
		if tc.PlotCensusID == plotCensusID && tc.TreeID == treeID {
			return cloneTreeCensus(tc), true
		}
	}
	return TreeCensus{}, false
}

func (v transactionView) FindTreeLabelByCode(code string) (TreeLabel, bool) {
	for _, l := range v.state.treeLabels {
		if l.Code == code {
			return cloneTreeLabel(l), true
		}
	}
	return TreeLabel{}, false
}

func (v transactionView) FindTreeCensusLabel(id string) (TreeCensusLabel, bool) {
	return findIn(v.state.treeCensusLabels, id, cloneTreeCensusLabel)
}

func (v transactionView) FindTreeCensusLabelByKey(treeCensusID, labelCode string) (TreeCensusLabel, bool) {
	for _, l := range v.state.treeCensusLabels {
		if l.TreeCensusID == treeCensusID && l.LabelCode == labelCode {
			return cloneTreeCensusLabel(l), true
		}
	}
	return TreeCensusLabel{}, false
}

func (v transactionView) FindTreePhoto(id string) (TreePhoto, bool) {
	return findIn(v.state.treePhotos, id, cloneTreePhoto)
}

func (v transactionView) ListForests() []Forest {
	return sortedValues(v.state.forests, nil, cloneForest)
}

func (v transactionView) ListPlots() []Plot {
	return sortedValues(v.state.plots, nil, clonePlot)
}

func (v transactionView) ListTrips() []Trip {
	return sortedValues(v.state.trips, nil, cloneTrip)
}

func (v transactionView) ListForestCensuses() []ForestCensus {
	return sortedValues(v.state.forestCensuses, nil, cloneForestCensus)
}

func (v transactionView) ListTreeLabels() []TreeLabel {
	return sortedValues(v.state.treeLabels, nil, cloneTreeLabel)
}

func (v transactionView) ListPlotCensuses(filter domain.PlotCensusFilter) []PlotCensus {
	return sortedValues(v.state.plotCensuses, filter.Matches, clonePlotCensus)
}

func (v transactionView) ListTrees(filter domain.TreeFilter) []Tree {
	return sortedValues(v.state.trees, filter.Matches, cloneTree)
}

func (v transactionView) ListTreeCensuses(filter domain.TreeCensusFilter) []TreeCensus {
	return sortedValues(v.state.treeCensuses, filter.Matches, cloneTreeCensus)
}

func (v transactionView) ListTreeCensusLabels(filter domain.TreeCensusLabelFilter) []TreeCensusLabel {
	return sortedValues(v.state.treeCensusLabels, filter.Matches, cloneTreeCensusLabel)
}

func (v transactionView) ListTreePhotos(filter domain.TreePhotoFilter) []TreePhoto {
	return sortedValues(v.state.treePhotos, filter.Matches, cloneTreePhoto)
}
