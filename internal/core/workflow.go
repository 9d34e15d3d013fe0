package core

import (
	"context"
	"strings"

	"forestcensus/pkg/domain"
)

// SubmitForReview moves an in-progress plot census to pending review. A plot
// census without tree census rows fails with *domain.EmptyCensusError whatever
// its status.
func (s *Service) SubmitForReview(ctx context.Context, p Principal, plotCensusID string) (PlotCensus, error) {
	return s.transitionPlotCensus(ctx, "submit_for_review", p, plotCensusID, func(tx domain.Transaction, pc *PlotCensus) error {
		if err := requireHolder(p, *pc); err != nil {
			return err
		}
		if len(tx.ListTreeCensuses(domain.TreeCensusFilter{PlotCensusID: &pc.ID})) == 0 {
			return &domain.EmptyCensusError{PlotCensusID: pc.ID}
		}
		if pc.Status != domain.PlotCensusInProgress {
			return invalidTransition(*pc, domain.PlotCensusPendingReview)
		}
		now := s.clock.Now()
		pc.Status = domain.PlotCensusPendingReview
		pc.SubmittedAt = &now
		return nil
	})
}

// Approve accepts a plot census pending review. Approval is terminal.
func (s *Service) Approve(ctx context.Context, p Principal, plotCensusID string) (PlotCensus, error) {
	return s.transitionPlotCensus(ctx, "approve_plot_census", p, plotCensusID, func(_ domain.Transaction, pc *PlotCensus) error {
		if err := requireReviewer(p, *pc); err != nil {
			return err
		}
		if pc.Status != domain.PlotCensusPendingReview {
			return invalidTransition(*pc, domain.PlotCensusApproved)
		}
		s.stampReview(p, pc, domain.PlotCensusApproved)
		pc.RejectionReason = nil
		return nil
	})
}

// Reject returns a plot census pending review to its surveyor for correction.
func (s *Service) Reject(ctx context.Context, p Principal, plotCensusID, reason string) (PlotCensus, error) {
	reason = strings.TrimSpace(reason)
	return s.transitionPlotCensus(ctx, "reject_plot_census", p, plotCensusID, func(_ domain.Transaction, pc *PlotCensus) error {
		if reason == "" {
			return &domain.ValidationError{Entity: EntityPlotCensus, Field: "rejection_reason", Reason: "is required"}
		}
		if err := requireReviewer(p, *pc); err != nil {
			return err
		}
		if pc.Status != domain.PlotCensusPendingReview {
			return invalidTransition(*pc, domain.PlotCensusRejected)
		}
		s.stampReview(p, pc, domain.PlotCensusRejected)
		pc.RejectionReason = &reason
		return nil
	})
}

// ReopenPlotCensus moves a rejected plot census back to in progress, provided
// no other plot census took custody of the plot meanwhile.
func (s *Service) ReopenPlotCensus(ctx context.Context, p Principal, plotCensusID string) (PlotCensus, error) {
	return s.transitionPlotCensus(ctx, "reopen_plot_census", p, plotCensusID, func(tx domain.Transaction, pc *PlotCensus) error {
		if err := requireHolder(p, *pc); err != nil {
			return err
		}
		if pc.Status != domain.PlotCensusRejected {
			return invalidTransition(*pc, domain.PlotCensusInProgress)
		}
		if existing, held := activeCustody(tx, pc.PlotID, pc.ForestCensusID); held {
			return &domain.AlreadyCensusingError{Existing: existing}
		}
		pc.Status = domain.PlotCensusInProgress
		return nil
	})
}

func (s *Service) stampReview(p Principal, pc *PlotCensus, status domain.PlotCensusStatus) {
	now := s.clock.Now()
	reviewer := p.UserID
	pc.Status = status
	pc.ReviewedBy = &reviewer
	pc.ReviewedAt = &now
}

// transitionPlotCensus loads the plot census, lets check mutate a copy, and
// stores it. check sees the transaction for row counts and custody lookups.
func (s *Service) transitionPlotCensus(ctx context.Context, operation string, p Principal, id string, check func(domain.Transaction, *PlotCensus) error) (PlotCensus, error) {
	var updated PlotCensus
	_, err := s.run(ctx, operation, p, func(tx domain.Transaction) (string, error) {
		pc, ok := tx.FindPlotCensus(id)
		if !ok {
			return id, notFound(EntityPlotCensus, id)
		}
		if err := check(tx, &pc); err != nil {
			return id, err
		}
		var err error
		updated, err = tx.UpdatePlotCensus(id, func(cur *PlotCensus) error {
			*cur = pc
			return nil
		})
		return id, err
	})
	if err != nil {
		return PlotCensus{}, err
	}
	return updated, nil
}

func invalidTransition(pc PlotCensus, to domain.PlotCensusStatus) error {
	return &domain.InvalidTransitionError{Entity: EntityPlotCensus, ID: pc.ID, From: string(pc.Status), To: string(to)}
}

// OpenForestCensus starts a census campaign for forestID. A forest may have
// only one open census at a time.
func (s *Service) OpenForestCensus(ctx context.Context, p Principal, forestID string) (ForestCensus, error) {
	var created ForestCensus
	_, err := s.run(ctx, "open_forest_census", p, func(tx domain.Transaction) (string, error) {
		if err := requireAdmin(p, EntityForest, forestID); err != nil {
			return "", err
		}
		if _, ok := tx.FindForest(forestID); !ok {
			return "", notFound(EntityForest, forestID)
		}
		if open, ok := tx.FindOpenForestCensus(forestID); ok {
			return open.ID, &domain.ConstraintError{
				Constraint: domain.ConstraintDuplicate,
				Entity:     EntityForestCensus,
				ID:         open.ID,
				Detail:     "forest " + forestID + " already has an open census",
			}
		}
		var err error
		created, err = tx.CreateForestCensus(ForestCensus{
			Base:     Base{ID: s.newID()},
			ForestID: forestID,
			Status:   domain.ForestCensusOpen,
			OpenedAt: s.clock.Now(),
		})
		return created.ID, err
	})
	if err != nil {
		return ForestCensus{}, err
	}
	return created, nil
}

// CloseForestCensus closes an open forest census once every child plot census
// is approved. Otherwise it fails with *domain.IncompletePlotsError listing the
// stragglers.
func (s *Service) CloseForestCensus(ctx context.Context, p Principal, forestCensusID string) (ForestCensus, error) {
	var closed ForestCensus
	_, err := s.run(ctx, "close_forest_census", p, func(tx domain.Transaction) (string, error) {
		fc, err := s.closableCensus(tx, p, forestCensusID)
		if err != nil {
			return forestCensusID, err
		}
		if pending := unapproved(tx, fc.ID); len(pending) > 0 {
			return fc.ID, &domain.IncompletePlotsError{ForestCensusID: fc.ID, Pending: pending}
		}
		closed, err = s.closeCensus(tx, fc.ID)
		return fc.ID, err
	})
	if err != nil {
		return ForestCensus{}, err
	}
	return closed, nil
}

// AdministrativeClose releases every plot census that is not approved and
// closes the forest census, all in one transaction. It returns the closed
// census and the released plot censuses.
func (s *Service) AdministrativeClose(ctx context.Context, p Principal, forestCensusID string) (ForestCensus, []PlotCensus, error) {
	var (
		closed   ForestCensus
		released []PlotCensus
		censuses []string
	)
	_, err := s.run(ctx, "administrative_close", p, func(tx domain.Transaction) (string, error) {
		fc, err := s.closableCensus(tx, p, forestCensusID)
		if err != nil {
			return forestCensusID, err
		}
		released = unapproved(tx, fc.ID)
		for _, pc := range released {
			censuses = append(censuses, treeCensusIDs(tx, pc.ID)...)
			if err := tx.DeletePlotCensus(pc.ID); err != nil {
				return fc.ID, err
			}
		}
		closed, err = s.closeCensus(tx, fc.ID)
		return fc.ID, err
	})
	if err != nil {
		return ForestCensus{}, nil, err
	}
	if len(released) > 0 {
		s.logger.Info("released plot censuses on administrative close",
			"forest_census_id", closed.ID, "released", len(released))
	}
	s.purgePhotoBlobs(ctx, censuses)
	return closed, released, nil
}

func (s *Service) closableCensus(tx domain.Transaction, p Principal, id string) (ForestCensus, error) {
	if err := requireAdmin(p, EntityForestCensus, id); err != nil {
		return ForestCensus{}, err
	}
	fc, ok := tx.FindForestCensus(id)
	if !ok {
		return ForestCensus{}, notFound(EntityForestCensus, id)
	}
	if fc.Status != domain.ForestCensusOpen {
		return ForestCensus{}, &domain.InvalidTransitionError{Entity: EntityForestCensus, ID: id, From: string(fc.Status), To: string(domain.ForestCensusClosed)}
	}
	return fc, nil
}

func (s *Service) closeCensus(tx domain.Transaction, id string) (ForestCensus, error) {
	now := s.clock.Now()
	return tx.UpdateForestCensus(id, func(fc *ForestCensus) error {
		fc.Status = domain.ForestCensusClosed
		fc.ClosedAt = &now
		return nil
	})
}

func unapproved(view domain.TransactionView, forestCensusID string) []PlotCensus {
	var out []PlotCensus
	for _, pc := range view.ListPlotCensuses(domain.PlotCensusFilter{ForestCensusID: &forestCensusID}) {
		if pc.Status != domain.PlotCensusApproved {
			out = append(out, pc)
		}
	}
	return out
}
