package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"forestcensus/internal/blob"
	"forestcensus/internal/config"
	"forestcensus/internal/core"
	"forestcensus/internal/logging"
	"forestcensus/pkg/domain"
)

const pushJob = "censusctl"

// app carries the state shared by every subcommand. The service is opened on
// first use so commands that fail flag parsing never touch storage.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	userID     string
	roles      []string
	trace      bool

	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	registry  *prometheus.Registry
	svc       *core.Service
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "censusctl",
		Short:         "Forest census workflow administration",
		Long:          "Manage forests, plots and census campaigns, drive the plot review workflow and reconcile offline sync batches.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&a.userID, "user", os.Getenv("FORESTCENSUS_USER"), "acting user ID")
	flags.StringSliceVar(&a.roles, "role", nil, "role of the acting user (admin, reviewer); repeatable")
	flags.BoolVar(&a.trace, "trace", false, "write JSON trace spans to stderr")

	cmd.AddCommand(
		a.migrateCmd(),
		a.forestCmd(),
		a.plotCmd(),
		a.tripCmd(),
		a.labelCmd(),
		a.censusCmd(),
		a.plotCensusCmd(),
		a.reconcileCmd(),
		a.photoCmd(),
		a.metricsCmd(),
	)
	return cmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, closer, err := logging.New(a.stderr, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	a.logger, a.logCloser = logger, closer
	return nil
}

// service opens the configured store and blob backend and wires the process
// logger, audit log, optional tracer and optional Pushgateway metrics.
func (a *app) service(ctx context.Context) (*core.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	store, err := core.OpenPersistentStore(ctx, a.cfg.Storage(), core.NewDefaultRulesEngine(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx, a.cfg.Blobs())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithAuditRecorder(auditLog{logger: a.logger}),
		core.WithBlobStore(blobs),
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.stderr)))
	}
	if a.cfg.Metrics.PushURL != "" {
		a.registry = prometheus.NewRegistry()
		recorder, err := core.NewPrometheusMetricsRecorder(a.registry)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
	}
	a.svc = core.NewService(store, opts...)
	return a.svc, nil
}

// close pushes collected metrics, then releases the store and log file.
func (a *app) close() error {
	var errs []error
	if a.registry != nil {
		err := push.New(a.cfg.Metrics.PushURL, pushJob).Gatherer(a.registry).Push()
		if err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// principal returns the acting identity; every mutating command needs one.
func (a *app) principal() (domain.Principal, error) {
	user := strings.TrimSpace(a.userID)
	if user == "" {
		return domain.Principal{}, errors.New("--user (or FORESTCENSUS_USER) is required")
	}
	p := domain.Principal{UserID: user}
	for _, r := range a.roles {
		role := domain.Role(strings.ToLower(strings.TrimSpace(r)))
		switch role {
		case domain.RoleAdmin, domain.RoleReviewer:
			p.Roles = append(p.Roles, role)
		default:
			return domain.Principal{}, fmt.Errorf("unknown role %q", r)
		}
	}
	return p, nil
}

// mutate resolves the principal and service before running fn.
func (a *app) mutate(cmd *cobra.Command, fn func(context.Context, *core.Service, domain.Principal) (any, error)) error {
	p, err := a.principal()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	out, err := fn(ctx, svc, p)
	if err != nil {
		return err
	}
	return a.print(out)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// auditLog writes audit entries to the process logger.
type auditLog struct {
	logger *slog.Logger
}

func (l auditLog) Record(ctx context.Context, e core.AuditEntry) {
	level := slog.LevelInfo
	if e.Status == core.AuditStatusError {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit",
		slog.String("operation", e.Operation),
		slog.String("entity", string(e.Entity)),
		slog.String("action", string(e.Action)),
		slog.String("entity_id", e.EntityID),
		slog.String("actor", e.Actor),
		slog.String("status", string(e.Status)),
		slog.Duration("duration", e.Duration),
	)
}
