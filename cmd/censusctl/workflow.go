package main

import (
	"context"

	"github.com/spf13/cobra"

	"forestcensus/internal/core"
	"forestcensus/pkg/domain"
)

type administrativeCloseResult struct {
	ForestCensus domain.ForestCensus `json:"forest_census"`
	Released     []domain.PlotCensus `json:"released"`
}

func (a *app) censusCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "census", Short: "Open and close forest census campaigns"}
	open := &cobra.Command{
		Use:   "open <forest-id>",
		Short: "Open a forest census (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.OpenForestCensus(ctx, p, args[0])
			})
		},
	}

	var administrative bool
	closeCmd := &cobra.Command{
		Use:   "close <forest-census-id>",
		Short: "Close a forest census once every plot census is approved (admin)",
		Long: "Close a forest census. Without --administrative the command fails while any plot census " +
			"is unapproved; with it, unapproved plot censuses and their data are released first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				if !administrative {
					return svc.CloseForestCensus(ctx, p, args[0])
				}
				fc, released, err := svc.AdministrativeClose(ctx, p, args[0])
				if err != nil {
					return nil, err
				}
				if released == nil {
					released = []domain.PlotCensus{}
				}
				return administrativeCloseResult{ForestCensus: fc, Released: released}, nil
			})
		},
	}
	closeCmd.Flags().BoolVar(&administrative, "administrative", false, "release unapproved plot censuses and close anyway")
	cmd.AddCommand(open, closeCmd)
	return cmd
}

func (a *app) plotCensusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plot-census",
		Aliases: []string{"pc"},
		Short:   "Assign plots and drive the review workflow",
	}

	var plotID, censusID, assignee string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Take custody of a plot for a forest census",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				user := assignee
				if user == "" {
					user = p.UserID
				}
				return svc.AssignPlot(ctx, p, plotID, censusID, user)
			})
		},
	}
	assign.Flags().StringVar(&plotID, "plot", "", "plot ID")
	assign.Flags().StringVar(&censusID, "census", "", "forest census ID")
	assign.Flags().StringVar(&assignee, "assignee", "", "user to assign (admin only when not yourself)")
	_ = assign.MarkFlagRequired("plot")
	_ = assign.MarkFlagRequired("census")

	var reason string
	reject := a.transitionCmd("reject <plot-census-id>", "Send a pending plot census back to its surveyor (reviewer)",
		func(svc *core.Service, ctx context.Context, p domain.Principal, id string) (domain.PlotCensus, error) {
			return svc.Reject(ctx, p, id, reason)
		})
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason shown to the surveyor")
	_ = reject.MarkFlagRequired("reason")

	var listCensus, listAssignee string
	var listStatuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List plot censuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			filter := domain.PlotCensusFilter{}
			if listCensus != "" {
				filter.ForestCensusID = &listCensus
			}
			if listAssignee != "" {
				filter.AssigneeID = &listAssignee
			}
			for _, s := range listStatuses {
				filter.Statuses = append(filter.Statuses, domain.PlotCensusStatus(s))
			}
			rows, err := svc.PlotCensuses(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []domain.PlotCensus{}
			}
			return a.print(rows)
		},
	}
	list.Flags().StringVar(&listCensus, "census", "", "forest census ID")
	list.Flags().StringVar(&listAssignee, "assignee", "", "assignee user ID")
	list.Flags().StringSliceVar(&listStatuses, "status", nil, "workflow status; repeatable")

	cmd.AddCommand(
		assign,
		a.transitionCmd("submit <plot-census-id>", "Submit a plot census for review (assignee)", (*core.Service).SubmitForReview),
		a.transitionCmd("approve <plot-census-id>", "Approve a pending plot census (reviewer)", (*core.Service).Approve),
		reject,
		a.transitionCmd("reopen <plot-census-id>", "Resume work on a rejected plot census (assignee)", (*core.Service).ReopenPlotCensus),
		a.transitionCmd("release <plot-census-id>", "Give up a rejected plot census and its data (assignee or admin)", (*core.Service).ReleaseAssignment),
		list,
	)
	return cmd
}

// transitionCmd builds a single-argument workflow command.
func (a *app) transitionCmd(use, short string, fn func(*core.Service, context.Context, domain.Principal, string) (domain.PlotCensus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return fn(svc, ctx, p, args[0])
			})
		},
	}
}
