package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"forestcensus/internal/blob"
	"forestcensus/internal/infra/persistence/memory"
	"forestcensus/pkg/domain"
)

// Service coordinates plot custody, the census workflow and sync
// reconciliation on top of a persistent store.
type Service struct {
	store   domain.PersistentStore
	blobs   blob.Store
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. A nil logger keeps the no-op default.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for workflow timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithIDGenerator overrides the identifier source for server-created records.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithBlobStore sets the photo blob store.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) {
		s.blobs = store
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   ClockFunc(systemClock),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store that
// shares the service clock and ID generator.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	svc := NewService(nil, opts...)
	svc.store = memory.NewStore(engine,
		memory.WithNowFunc(func() time.Time { return svc.clock.Now() }),
		memory.WithIDFunc(func() string { return svc.newID() }),
	)
	return svc
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Blobs returns the configured photo blob store, or nil.
func (s *Service) Blobs() blob.Store {
	return s.blobs
}

// Close releases the underlying store.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// run executes fn in one store transaction and records metrics, traces, audit
// entries and logs for operation. fn returns the primary entity ID touched.
func (s *Service) run(ctx context.Context, operation string, actor Principal, fn func(tx domain.Transaction) (string, error)) (Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	var entityID string
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		id, err := fn(tx)
		entityID = id
		return err
	})
	duration := time.Since(start)

	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	s.recordAudit(ctx, operation, entityID, actor.UserID, duration, err)
	s.logViolations(operation, res)
	if err != nil {
		s.logger.Error("operation failed",
			"operation", operation,
			"actor", actor.UserID,
			"kind", domain.KindOf(err),
			"error", err)
		return res, err
	}
	s.logger.Info("operation committed",
		"operation", operation,
		"actor", actor.UserID,
		"entity_id", entityID,
		"duration", duration)
	return res, nil
}

func (s *Service) logViolations(operation string, res Result) {
	for _, v := range res.Violations {
		switch v.Severity {
		case SeverityWarn:
			s.logger.Warn("rule violation", "operation", operation, "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
		case SeverityLog:
			s.logger.Debug("rule note", "operation", operation, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
		}
	}
}

func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.store.View(ctx, fn)
}

func requireAdmin(p Principal, entity EntityType, id string) error {
	if p.IsAdmin() {
		return nil
	}
	return &domain.UnauthorizedError{UserID: p.UserID, Entity: entity, ID: id, Reason: "admin role required"}
}

func notFound(entity EntityType, id string) error {
	return &domain.NotFoundError{Entity: entity, ID: id}
}

// CreateForest registers a forest.
func (s *Service) CreateForest(ctx context.Context, p Principal, forest Forest) (Forest, error) {
	var created Forest
	_, err := s.run(ctx, "create_forest", p, func(tx domain.Transaction) (string, error) {
		if err := requireAdmin(p, EntityForest, forest.ID); err != nil {
			return forest.ID, err
		}
		var err error
		created, err = tx.CreateForest(forest)
		return created.ID, err
	})
	return created, err
}

// CreatePlot registers a plot inside a forest.
func (s *Service) CreatePlot(ctx context.Context, p Principal, plot Plot) (Plot, error) {
	var created Plot
	_, err := s.run(ctx, "create_plot", p, func(tx domain.Transaction) (string, error) {
		if err := requireAdmin(p, EntityPlot, plot.ID); err != nil {
			return plot.ID, err
		}
		var err error
		created, err = tx.CreatePlot(plot)
		return created.ID, err
	})
	return created, err
}

// CreateTrip starts a field trip. Any surveyor may record one.
func (s *Service) CreateTrip(ctx context.Context, p Principal, trip Trip) (Trip, error) {
	var created Trip
	_, err := s.run(ctx, "create_trip", p, func(tx domain.Transaction) (string, error) {
		var err error
		created, err = tx.CreateTrip(trip)
		return created.ID, err
	})
	return created, err
}

// EndTrip stamps the trip end time. A zero at uses the service clock.
func (s *Service) EndTrip(ctx context.Context, p Principal, tripID string, at time.Time) (Trip, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	var updated Trip
	_, err := s.run(ctx, "end_trip", p, func(tx domain.Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateTrip(tripID, func(t *Trip) error {
			if t.EndedAt != nil {
				return &domain.InvalidTransitionError{Entity: EntityTrip, ID: tripID, From: "ended", To: "ended"}
			}
			t.EndedAt = &at
			return nil
		})
		return tripID, err
	})
	return updated, err
}

// CreateTreeLabel defines a label code usable in tree census labels.
func (s *Service) CreateTreeLabel(ctx context.Context, p Principal, label TreeLabel) (TreeLabel, error) {
	var created TreeLabel
	_, err := s.run(ctx, "create_tree_label", p, func(tx domain.Transaction) (string, error) {
		if err := requireAdmin(p, EntityTreeLabel, label.ID); err != nil {
			return label.ID, err
		}
		var err error
		created, err = tx.CreateTreeLabel(label)
		return created.ID, err
	})
	return created, err
}

// DeleteTreeCensus removes a tree census with its labels and photos. It is the
// administrative correction path; photo blobs are purged after commit.
func (s *Service) DeleteTreeCensus(ctx context.Context, p Principal, id string) error {
	_, err := s.run(ctx, "delete_tree_census", p, func(tx domain.Transaction) (string, error) {
		if err := requireAdmin(p, EntityTreeCensus, id); err != nil {
			return id, err
		}
		return id, tx.DeleteTreeCensus(id)
	})
	if err == nil {
		s.purgePhotoBlobs(ctx, []string{id})
	}
	return err
}

// Forest returns the forest with id.
func (s *Service) Forest(ctx context.Context, id string) (Forest, error) {
	return find(ctx, s, EntityForest, id, domain.TransactionView.FindForest)
}

// Plot returns the plot with id.
func (s *Service) Plot(ctx context.Context, id string) (Plot, error) {
	return find(ctx, s, EntityPlot, id, domain.TransactionView.FindPlot)
}

// ForestCensus returns the forest census with id.
func (s *Service) ForestCensus(ctx context.Context, id string) (ForestCensus, error) {
	return find(ctx, s, EntityForestCensus, id, domain.TransactionView.FindForestCensus)
}

// PlotCensus returns the plot census with id.
func (s *Service) PlotCensus(ctx context.Context, id string) (PlotCensus, error) {
	return find(ctx, s, EntityPlotCensus, id, domain.TransactionView.FindPlotCensus)
}

// Tree returns the tree tagged id.
func (s *Service) Tree(ctx context.Context, id string) (Tree, error) {
	return find(ctx, s, EntityTree, id, domain.TransactionView.FindTree)
}

// TreeCensus returns the tree census with id.
func (s *Service) TreeCensus(ctx context.Context, id string) (TreeCensus, error) {
	return find(ctx, s, EntityTreeCensus, id, domain.TransactionView.FindTreeCensus)
}

// Trees lists trees matching filter.
func (s *Service) Trees(ctx context.Context, filter domain.TreeFilter) ([]Tree, error) {
	return list(ctx, s, func(v domain.TransactionView) []Tree { return v.ListTrees(filter) })
}

// TreeCensuses lists tree censuses matching filter.
func (s *Service) TreeCensuses(ctx context.Context, filter domain.TreeCensusFilter) ([]TreeCensus, error) {
	return list(ctx, s, func(v domain.TransactionView) []TreeCensus { return v.ListTreeCensuses(filter) })
}

// PlotCensuses lists plot censuses matching filter.
func (s *Service) PlotCensuses(ctx context.Context, filter domain.PlotCensusFilter) ([]PlotCensus, error) {
	return list(ctx, s, func(v domain.TransactionView) []PlotCensus { return v.ListPlotCensuses(filter) })
}

// TreePhotos lists photos matching filter.
func (s *Service) TreePhotos(ctx context.Context, filter domain.TreePhotoFilter) ([]TreePhoto, error) {
	return list(ctx, s, func(v domain.TransactionView) []TreePhoto { return v.ListTreePhotos(filter) })
}

// TreeCensusLabels lists tree census labels matching filter.
func (s *Service) TreeCensusLabels(ctx context.Context, filter domain.TreeCensusLabelFilter) ([]TreeCensusLabel, error) {
	return list(ctx, s, func(v domain.TransactionView) []TreeCensusLabel { return v.ListTreeCensusLabels(filter) })
}

func find[T any](ctx context.Context, s *Service, entity EntityType, id string, lookup func(domain.TransactionView, string) (T, bool)) (T, error) {
	var (
		out T
		ok  bool
	)
	err := s.view(ctx, func(v domain.TransactionView) error {
		out, ok = lookup(v, id)
		return nil
	})
	if err != nil {
		return out, err
	}
	if !ok {
		return out, notFound(entity, id)
	}
	return out, nil
}

func list[T any](ctx context.Context, s *Service, fn func(domain.TransactionView) []T) ([]T, error) {
	var out []T
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = fn(v)
		return nil
	})
	return out, err
}

// IsKind reports whether err resolves to kind.
func IsKind(err error, kind domain.Kind) bool {
	return err != nil && domain.KindOf(err) == kind
}

var errNoBlobStore = errors.New("no blob store configured")
