// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments, and as the transactional engine
// beneath the durable backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"forestcensus/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.RuleView        = transactionView{}
)

type (
	// Forest aliases domain.Forest for in-memory persistence operations.
	Forest = domain.Forest
	// Plot aliases domain.Plot.
	Plot = domain.Plot
	// Trip aliases domain.Trip.
	Trip = domain.Trip
	// ForestCensus aliases domain.ForestCensus.
	ForestCensus = domain.ForestCensus
	// PlotCensus aliases domain.PlotCensus.
	PlotCensus = domain.PlotCensus
	// Tree aliases domain.Tree.
	Tree = domain.Tree
	// TreeCensus aliases domain.TreeCensus.
	TreeCensus = domain.TreeCensus
	// TreeLabel aliases domain.TreeLabel.
	TreeLabel = domain.TreeLabel
	// TreeCensusLabel aliases domain.TreeCensusLabel.
	TreeCensusLabel = domain.TreeCensusLabel
	// TreePhoto aliases domain.TreePhoto.
	TreePhoto = domain.TreePhoto
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	forests          map[string]Forest
	plots            map[string]Plot
	trips            map[string]Trip
	forestCensuses   map[string]ForestCensus
	plotCensuses     map[string]PlotCensus
	trees            map[string]Tree
	treeCensuses     map[string]TreeCensus
	treeLabels       map[string]TreeLabel
	treeCensusLabels map[string]TreeCensusLabel
	treePhotos       map[string]TreePhoto
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Forests          map[string]Forest          `json:"forests"`
	Plots            map[string]Plot            `json:"plots"`
	Trips            map[string]Trip            `json:"trips"`
	ForestCensuses   map[string]ForestCensus    `json:"forest_censuses"`
	PlotCensuses     map[string]PlotCensus      `json:"plot_censuses"`
	Trees            map[string]Tree            `json:"trees"`
	TreeCensuses     map[string]TreeCensus      `json:"tree_censuses"`
	TreeLabels       map[string]TreeLabel       `json:"tree_labels"`
	TreeCensusLabels map[string]TreeCensusLabel `json:"tree_census_labels"`
	TreePhotos       map[string]TreePhoto       `json:"tree_photos"`
}

func newMemoryState() memoryState {
	return memoryState{
		forests:          make(map[string]Forest),
		plots:            make(map[string]Plot),
		trips:            make(map[string]Trip),
		forestCensuses:   make(map[string]ForestCensus),
		plotCensuses:     make(map[string]PlotCensus),
		trees:            make(map[string]Tree),
		treeCensuses:     make(map[string]TreeCensus),
		treeLabels:       make(map[string]TreeLabel),
		treeCensusLabels: make(map[string]TreeCensusLabel),
		treePhotos:       make(map[string]TreePhoto),
	}
}

func cloneMap[V any](in map[string]V, cloneFn func(V) V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = cloneFn(v)
	}
	return out
}

func (s memoryState) clone() memoryState {
	return memoryState{
		forests:          cloneMap(s.forests, cloneForest),
		plots:            cloneMap(s.plots, clonePlot),
		trips:            cloneMap(s.trips, cloneTrip),
		forestCensuses:   cloneMap(s.forestCensuses, cloneForestCensus),
		plotCensuses:     cloneMap(s.plotCensuses, clonePlotCensus),
		trees:            cloneMap(s.trees, cloneTree),
		treeCensuses:     cloneMap(s.treeCensuses, cloneTreeCensus),
		treeLabels:       cloneMap(s.treeLabels, cloneTreeLabel),
		treeCensusLabels: cloneMap(s.treeCensusLabels, cloneTreeCensusLabel),
		treePhotos:       cloneMap(s.treePhotos, cloneTreePhoto),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Forests:          c.forests,
		Plots:            c.plots,
		Trips:            c.trips,
		ForestCensuses:   c.forestCensuses,
		PlotCensuses:     c.plotCensuses,
		Trees:            c.trees,
		TreeCensuses:     c.treeCensuses,
		TreeLabels:       c.treeLabels,
		TreeCensusLabels: c.treeCensusLabels,
		TreePhotos:       c.treePhotos,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		forests:          s.Forests,
		plots:            s.Plots,
		trips:            s.Trips,
		forestCensuses:   s.ForestCensuses,
		plotCensuses:     s.PlotCensuses,
		trees:            s.Trees,
		treeCensuses:     s.TreeCensuses,
		treeLabels:       s.TreeLabels,
		treeCensusLabels: s.TreeCensusLabels,
		treePhotos:       s.TreePhotos,
	}.clone()
}

func ensureMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// migrateSnapshot normalises snapshots written by older builds: missing buckets
// become empty and records with dangling owners are dropped, while optional
// references that no longer resolve are cleared.
//
//nolint:gocyclo // one pass over every bucket keeps ordering between owners and children explicit.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	snapshot.Forests = ensureMap(snapshot.Forests)
	snapshot.Plots = ensureMap(snapshot.Plots)
	snapshot.Trips = ensureMap(snapshot.Trips)
	snapshot.ForestCensuses = ensureMap(snapshot.ForestCensuses)
	snapshot.PlotCensuses = ensureMap(snapshot.PlotCensuses)
	snapshot.Trees = ensureMap(snapshot.Trees)
	snapshot.TreeCensuses = ensureMap(snapshot.TreeCensuses)
	snapshot.TreeLabels = ensureMap(snapshot.TreeLabels)
	snapshot.TreeCensusLabels = ensureMap(snapshot.TreeCensusLabels)
	snapshot.TreePhotos = ensureMap(snapshot.TreePhotos)

	for id, plot := range snapshot.Plots {
		if _, ok := snapshot.Forests[plot.ForestID]; !ok {
			delete(snapshot.Plots, id)
		}
	}
	for id, trip := range snapshot.Trips {
		if _, ok := snapshot.Forests[trip.ForestID]; !ok {
			delete(snapshot.Trips, id)
		}
	}
	for id, fc := range snapshot.ForestCensuses {
		if _, ok := snapshot.Forests[fc.ForestID]; !ok {
			delete(snapshot.ForestCensuses, id)
			continue
		}
		if fc.Status == "" {
			fc.Status = domain.ForestCensusOpen
			snapshot.ForestCensuses[id] = fc
		}
	}
	for id, pc := range snapshot.PlotCensuses {
		_, plotOK := snapshot.Plots[pc.PlotID]
		_, censusOK := snapshot.ForestCensuses[pc.ForestCensusID]
		if !plotOK || !censusOK {
			delete(snapshot.PlotCensuses, id)
			continue
		}
		if !pc.Status.Valid() {
			pc.Status = domain.PlotCensusAssigned
			snapshot.PlotCensuses[id] = pc
		}
	}
	for id, tree := range snapshot.Trees {
		if _, ok := snapshot.Plots[tree.PlotID]; !ok {
			delete(snapshot.Trees, id)
		}
	}
	for id, tc := range snapshot.TreeCensuses {
		_, treeOK := snapshot.Trees[tc.TreeID]
		_, pcOK := snapshot.PlotCensuses[tc.PlotCensusID]
		if !treeOK || !pcOK {
			delete(snapshot.TreeCensuses, id)
			continue
		}
		if tc.TripID != nil {
			if _, ok := snapshot.Trips[*tc.TripID]; !ok {
				tc.TripID = nil
				snapshot.TreeCensuses[id] = tc
			}
		}
	}
	for id, tree := range snapshot.Trees {
		if tree.InitCensusID != nil {
			if _, ok := snapshot.TreeCensuses[*tree.InitCensusID]; !ok {
				tree.InitCensusID = nil
				snapshot.Trees[id] = tree
			}
		}
	}
	labelCodes := make(map[string]struct{}, len(snapshot.TreeLabels))
	for _, label := range snapshot.TreeLabels {
		labelCodes[label.Code] = struct{}{}
	}
	for id, l := range snapshot.TreeCensusLabels {
		_, censusOK := snapshot.TreeCensuses[l.TreeCensusID]
		_, codeOK := labelCodes[l.LabelCode]
		if !censusOK || !codeOK {
			delete(snapshot.TreeCensusLabels, id)
		}
	}
	for id, p := range snapshot.TreePhotos {
		if _, ok := snapshot.TreeCensuses[p.TreeCensusID]; !ok {
			delete(snapshot.TreePhotos, id)
		}
	}
	return snapshot
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneForest(f Forest) Forest { return f }
func clonePlot(p Plot) Plot       { return p }
func cloneTrip(t Trip) Trip {
	cp := t
	cp.EndedAt = cloneTimePtr(t.EndedAt)
	return cp
}
func cloneForestCensus(fc ForestCensus) ForestCensus {
	cp := fc
	cp.ClosedAt = cloneTimePtr(fc.ClosedAt)
	return cp
}
func clonePlotCensus(pc PlotCensus) PlotCensus {
	cp := pc
	cp.SubmittedAt = cloneTimePtr(pc.SubmittedAt)
	cp.ReviewedBy = cloneStringPtr(pc.ReviewedBy)
	cp.ReviewedAt = cloneTimePtr(pc.ReviewedAt)
	cp.RejectionReason = cloneStringPtr(pc.RejectionReason)
	return cp
}
func cloneTree(t Tree) Tree {
	cp := t
	cp.InitCensusID = cloneStringPtr(t.InitCensusID)
	return cp
}
func cloneTreeCensus(tc TreeCensus) TreeCensus {
	cp := tc
	cp.TripID = cloneStringPtr(tc.TripID)
	return cp
}
func cloneTreeLabel(l TreeLabel) TreeLabel                   { return l }
func cloneTreeCensusLabel(l TreeCensusLabel) TreeCensusLabel { return l }
func cloneTreePhoto(p TreePhoto) TreePhoto                   { return p }

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the transaction clock.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithIDFunc overrides identifier generation for records created without an ID.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return s.idFn()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Close releases nothing; it satisfies domain.PersistentStore.
func (s *Store) Close() error { return nil }

// CommitHook persists a transaction's resulting state before it becomes
// visible. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithHook(ctx, fn, nil)
}

// RunInTransactionWithHook executes fn within a transactional copy of the
// store state, evaluates rules, and invokes hook with the candidate state while
// still holding the write lock. The state is swapped only when fn, the rules,
// and hook all succeed.
func (s *Store) RunInTransactionWithHook(ctx context.Context, fn func(tx Transaction) error, hook CommitHook) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.transactionView, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if hook != nil {
		if err := hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

func sortedValues[V any](m map[string]V, keep func(V) bool, cloneFn func(V) V) []V {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if keep == nil || keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneFn(m[k]))
	}
	return out
}
