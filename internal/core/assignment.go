package core

import (
	"context"
	"strings"

	"forestcensus/pkg/domain"
)

// AssignPlot grants userID custody of plotID within an open forest census by
// creating an assigned plot census. Surveyors may only assign themselves.
// When the plot is already held, the error is *domain.AlreadyCensusingError
// carrying the existing plot census unchanged.
func (s *Service) AssignPlot(ctx context.Context, p Principal, plotID, forestCensusID, userID string) (PlotCensus, error) {
	var created PlotCensus
	_, err := s.run(ctx, "assign_plot", p, func(tx domain.Transaction) (string, error) {
		if strings.TrimSpace(userID) == "" {
			return "", &domain.ValidationError{Entity: EntityPlotCensus, Field: "assignee_id", Reason: "is required"}
		}
		if p.UserID != userID && !p.IsAdmin() {
			return "", &domain.UnauthorizedError{UserID: p.UserID, Entity: EntityPlot, ID: plotID, Reason: "only admins may assign other users"}
		}
		fc, ok := tx.FindForestCensus(forestCensusID)
		if !ok {
			return "", notFound(EntityForestCensus, forestCensusID)
		}
		if fc.Status != domain.ForestCensusOpen {
			return "", &domain.InvalidTransitionError{Entity: EntityForestCensus, ID: fc.ID, From: string(fc.Status), To: "assign"}
		}
		plot, ok := tx.FindPlot(plotID)
		if !ok {
			return "", notFound(EntityPlot, plotID)
		}
		if plot.ForestID != fc.ForestID {
			return "", &domain.ConstraintError{Constraint: domain.ConstraintMismatch, Entity: EntityPlot, ID: plotID, Detail: "plot belongs to a different forest than the census"}
		}
		if existing, held := activeCustody(tx, plotID, forestCensusID); held {
			return existing.ID, &domain.AlreadyCensusingError{Existing: existing}
		}
		var err error
		created, err = tx.CreatePlotCensus(PlotCensus{
			Base:           Base{ID: s.newID()},
			PlotID:         plotID,
			ForestCensusID: forestCensusID,
			AssigneeID:     userID,
			Status:         domain.PlotCensusAssigned,
		})
		return created.ID, err
	})
	if err != nil {
		return PlotCensus{}, err
	}
	return created, nil
}

// ReleaseAssignment gives up custody of a rejected plot census, deleting it
// together with its tree census rows. Only the assignee or an admin may release.
func (s *Service) ReleaseAssignment(ctx context.Context, p Principal, plotCensusID string) (PlotCensus, error) {
	var (
		released PlotCensus
		censuses []string
	)
	_, err := s.run(ctx, "release_assignment", p, func(tx domain.Transaction) (string, error) {
		pc, ok := tx.FindPlotCensus(plotCensusID)
		if !ok {
			return plotCensusID, notFound(EntityPlotCensus, plotCensusID)
		}
		if err := requireHolder(p, pc); err != nil {
			return pc.ID, err
		}
		if pc.Status != domain.PlotCensusRejected {
			return pc.ID, &domain.InvalidTransitionError{Entity: EntityPlotCensus, ID: pc.ID, From: string(pc.Status), To: "released"}
		}
		released = pc
		censuses = treeCensusIDs(tx, pc.ID)
		return pc.ID, tx.DeletePlotCensus(pc.ID)
	})
	if err != nil {
		return PlotCensus{}, err
	}
	s.purgePhotoBlobs(ctx, censuses)
	return released, nil
}

func activeCustody(view domain.TransactionView, plotID, forestCensusID string) (PlotCensus, bool) {
	active := view.ListPlotCensuses(domain.ActivePlotCensusFilter(plotID, forestCensusID))
	if len(active) == 0 {
		return PlotCensus{}, false
	}
	return active[0], true
}

func treeCensusIDs(view domain.TransactionView, plotCensusID string) []string {
	rows := view.ListTreeCensuses(domain.TreeCensusFilter{PlotCensusID: &plotCensusID})
	ids := make([]string, 0, len(rows))
	for _, tc := range rows {
		ids = append(ids, tc.ID)
	}
	return ids
}

// requireHolder allows the assignee of pc or an admin.
func requireHolder(p Principal, pc PlotCensus) error {
	if p.UserID == pc.AssigneeID || p.IsAdmin() {
		return nil
	}
	return &domain.UnauthorizedError{UserID: p.UserID, Entity: EntityPlotCensus, ID: pc.ID, Reason: "plot census is held by another surveyor"}
}

// requireReviewer allows reviewers and admins.
func requireReviewer(p Principal, pc PlotCensus) error {
	if p.CanReview() {
		return nil
	}
	return &domain.UnauthorizedError{UserID: p.UserID, Entity: EntityPlotCensus, ID: pc.ID, Reason: "reviewer role required"}
}
