package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"forestcensus/internal/core"
	"forestcensus/pkg/domain"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.service(cmd.Context()); err != nil {
				return err
			}
			return a.print(map[string]string{"store": a.cfg.Store.Driver, "status": "migrated"})
		},
	}
}

func (a *app) forestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "forest", Short: "Manage forests"}
	var forest domain.Forest
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a forest (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.CreateForest(ctx, p, forest)
			})
		},
	}
	create.Flags().StringVar(&forest.ID, "id", "", "forest ID (generated when empty)")
	create.Flags().StringVar(&forest.Name, "name", "", "forest name")
	create.Flags().StringVar(&forest.TeamID, "team", "", "owning team ID")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	return cmd
}

func (a *app) plotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plot", Short: "Manage plots"}
	var (
		plot   domain.Plot
		bounds string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a plot inside a forest (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := parseBounds(bounds)
			if err != nil {
				return err
			}
			plot.Bounds = b
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.CreatePlot(ctx, p, plot)
			})
		},
	}
	create.Flags().StringVar(&plot.ID, "id", "", "plot ID (generated when empty)")
	create.Flags().StringVar(&plot.ForestID, "forest", "", "forest ID")
	create.Flags().StringVar(&plot.Name, "name", "", "plot name")
	create.Flags().StringVar(&bounds, "bounds", "", "bounding box as minLon,minLat,maxLon,maxLat")
	_ = create.MarkFlagRequired("forest")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("bounds")
	cmd.AddCommand(create)
	return cmd
}

// parseBounds reads "minLon,minLat,maxLon,maxLat".
func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds %q: want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("bounds %q: min exceeds max", s)
	}
	return b, nil
}

func (a *app) tripCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "trip", Short: "Manage field trips"}
	var trip domain.Trip
	create := &cobra.Command{
		Use:   "create",
		Short: "Start a field trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.CreateTrip(ctx, p, trip)
			})
		},
	}
	create.Flags().StringVar(&trip.ID, "id", "", "trip ID (generated when empty)")
	create.Flags().StringVar(&trip.ForestID, "forest", "", "forest ID")
	create.Flags().StringVar(&trip.Name, "name", "", "trip name")
	_ = create.MarkFlagRequired("forest")

	var at string
	end := &cobra.Command{
		Use:   "end <trip-id>",
		Short: "End a field trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var endedAt time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				endedAt = t
			}
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.EndTrip(ctx, p, args[0], endedAt)
			})
		},
	}
	end.Flags().StringVar(&at, "at", "", "end time (RFC 3339); defaults to now")
	cmd.AddCommand(create, end)
	return cmd
}

func (a *app) labelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "label", Short: "Manage tree label vocabulary"}
	var label domain.TreeLabel
	create := &cobra.Command{
		Use:   "create",
		Short: "Add a tree label (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutate(cmd, func(ctx context.Context, svc *core.Service, p domain.Principal) (any, error) {
				return svc.CreateTreeLabel(ctx, p, label)
			})
		},
	}
	create.Flags().StringVar(&label.Code, "code", "", "label code")
	create.Flags().StringVar(&label.Name, "name", "", "display name")
	_ = create.MarkFlagRequired("code")
	cmd.AddCommand(create)
	return cmd
}
