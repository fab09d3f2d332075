package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TenantOrder controls the order tenants are scheduled in a cycle
type TenantOrder string

const (
	TenantOrderAscending  TenantOrder = "ascending"
	TenantOrderDescending TenantOrder = "descending"
	TenantOrderRandom     TenantOrder = "random"
)

// IsValid returns true if the order is known
func (o TenantOrder) IsValid() bool {
	switch o {
	case TenantOrderAscending, TenantOrderDescending, TenantOrderRandom:
		return true
	}
	return false
}

// PipelineConfig contains configuration for the pipeline service
type PipelineConfig struct {
	MaxConcurrency        int
	MaxWindowsPerCycle    int
	MaxCollectionStartAge time.Duration
	SettleDelay           time.Duration
	StageTimeout          time.Duration
	TenantOrder           TenantOrder
	TenantLockTTL         time.Duration
	SweepBatchSize        int
	// SweepGrace leaves recently transformed windows to the cycle that wrote them
	SweepGrace time.Duration
}

// DefaultPipelineConfig returns default configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrency:        4,
		MaxWindowsPerCycle:    24,
		MaxCollectionStartAge: 7 * 24 * time.Hour,
		SettleDelay:           15 * time.Minute,
		StageTimeout:          2 * time.Minute,
		TenantOrder:           TenantOrderAscending,
		TenantLockTTL:         30 * time.Minute,
		SweepBatchSize:        100,
		SweepGrace:            10 * time.Minute,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxWindowsPerCycle <= 0 {
		c.MaxWindowsPerCycle = d.MaxWindowsPerCycle
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if !c.TenantOrder.IsValid() {
		c.TenantOrder = d.TenantOrder
	}
	if c.TenantLockTTL <= 0 {
		c.TenantLockTTL = d.TenantLockTTL
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	return c
}

// RunOptions narrows a cycle
type RunOptions struct {
	// Tenants replaces tenant discovery when set
	Tenants []string
	// Now overrides the cycle's reference time
	Now time.Time
}

// PipelineService drives collect, transform and rate over every tenant's
// pending windows
type PipelineService struct {
	source      domain.UsageSource
	ledger      domain.LedgerRepository
	policies    PolicySource
	catalogs    CatalogProvider
	locker      shared.Locker
	transformer *TransformService
	rater       *RatingService
	runLog      RunLogRepository
	observers   []CycleObserver
	logger      *zap.Logger
	config      PipelineConfig
	now         func() time.Time
}

// NewPipelineService creates a new PipelineService
func NewPipelineService(
	source domain.UsageSource,
	ledger domain.LedgerRepository,
	policies PolicySource,
	catalogs CatalogProvider,
	locker shared.Locker,
	transformer *TransformService,
	rater *RatingService,
	logger *zap.Logger,
	config PipelineConfig,
) *PipelineService {
	return &PipelineService{
		source:      source,
		ledger:      ledger,
		policies:    policies,
		catalogs:    catalogs,
		locker:      locker,
		transformer: transformer,
		rater:       rater,
		logger:      logger,
		config:      config.withDefaults(),
		now:         time.Now,
	}
}

// WithRunLog persists every run summary
func (s *PipelineService) WithRunLog(repo RunLogRepository) *PipelineService {
	s.runLog = repo
	return s
}

// AddObserver registers a progress observer
func (s *PipelineService) AddObserver(o CycleObserver) {
	s.observers = append(s.observers, o)
}

// TakeSnapshot captures the policy and catalog a run works against. A catalog
// failure is recorded on the snapshot rather than failing the run.
func (s *PipelineService) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	policy := s.policies.Current()
	if policy == nil {
		return nil, domain.NewConfigurationGap("snapshot", "no pipeline configuration loaded")
	}
	snap := &Snapshot{
		RunID:   uuid.New().String(),
		Policy:  policy,
		TakenAt: s.now().UTC(),
	}
	catalog, err := s.catalogs.Catalog(ctx)
	if err != nil {
		s.logger.Warn("Pricing catalog unavailable, rating will be deferred",
			zap.String("run_id", snap.RunID),
			zap.Error(err))
		snap.CatalogErr = err
	} else {
		snap.Catalog = catalog
	}
	return snap, nil
}

// RunCycle processes the pending windows of every selected tenant. Tenants
// run in parallel; one tenant's failure never blocks the others.
func (s *PipelineService) RunCycle(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}

	tenants, err := s.resolveTenants(ctx, snap.Policy, opts.Tenants)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:     snap.RunID,
		Kind:      RunKindCycle,
		StartedAt: s.now().UTC(),
		Tenants:   len(tenants),
	}
	s.cycleStarted(ctx, summary)
	s.logger.Info("Pipeline cycle started",
		zap.String("run_id", snap.RunID),
		zap.Int("tenants", len(tenants)),
		zap.Bool("catalog_available", snap.Catalog != nil))

	collect := s.collector(ctx, summary)
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrency)
	for _, tenantID := range tenants {
		g.Go(func() error {
			s.runTenant(ctx, snap, tenantID, now, collect)
			return nil
		})
	}
	_ = g.Wait()

	s.finish(ctx, summary)
	return summary, nil
}

// Sweep rates windows left in the transformed stage by earlier runs
func (s *PipelineService) Sweep(ctx context.Context) (*RunSummary, error) {
	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	before := s.now().Add(-s.config.SweepGrace)
	keys, err := s.ledger.ListPending(ctx, domain.StageTransformed, before, s.config.SweepBatchSize)
	if err != nil {
		return nil, domain.NewTransientError("sweep", err)
	}

	summary := &RunSummary{
		RunID:     snap.RunID,
		Kind:      RunKindSweep,
		StartedAt: s.now().UTC(),
	}
	s.cycleStarted(ctx, summary)
	tenants := make(map[string]struct{})

	var order []string
	byTenant := make(map[string][]domain.WindowKey)
	for _, key := range keys {
		if _, ok := tenants[key.TenantID]; !ok {
			tenants[key.TenantID] = struct{}{}
			order = append(order, key.TenantID)
		}
		byTenant[key.TenantID] = append(byTenant[key.TenantID], key)
	}

	collect := s.collector(ctx, summary)
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrency)
	for _, tenantID := range order {
		if snap.Policy.IsTenantIgnored(tenantID) {
			continue
		}
		g.Go(func() error {
			s.sweepTenant(ctx, snap, tenantID, byTenant[tenantID], collect)
			return nil
		})
	}
	_ = g.Wait()

	summary.Tenants = len(tenants)
	s.finish(ctx, summary)
	return summary, nil
}

// ProcessWindow runs collect, transform and rate for a single window
func (s *PipelineService) ProcessWindow(ctx context.Context, tenantID string, window domain.BillingWindow) (*WindowResult, error) {
	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	result := s.processWindow(ctx, snap, tenantID, window)
	s.notify(ctx, result)
	return &result, nil
}

// Collect returns the events of one tenant window without transforming them
func (s *PipelineService) Collect(ctx context.Context, tenantID string, window domain.BillingWindow) ([]domain.UsageEvent, error) {
	sctx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.source.Collect(sctx, tenantID, window)
}

// TransformWindow collects and transforms one window without rating it
func (s *PipelineService) TransformWindow(ctx context.Context, tenantID string, window domain.BillingWindow) (*TransformResult, error) {
	policy := s.policies.Current()
	if policy == nil {
		return nil, domain.NewConfigurationGap("transform", "no pipeline configuration loaded")
	}
	events, err := s.Collect(ctx, tenantID, window)
	if err != nil {
		return nil, err
	}
	return s.transformer.Transform(ctx, policy, tenantID, window, events)
}

// RateWindow rates one already transformed window
func (s *PipelineService) RateWindow(ctx context.Context, tenantID string, window domain.BillingWindow) (*domain.Quotation, error) {
	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.rater.Rate(sctx, snap, tenantID, window)
}

// WindowAt returns the window of a tenant containing t under the current policy
func (s *PipelineService) WindowAt(tenantID string, t time.Time) (domain.BillingWindow, error) {
	policy := s.policies.Current()
	if policy == nil {
		return domain.BillingWindow{}, domain.NewConfigurationGap("window", "no pipeline configuration loaded")
	}
	return policy.WindowAt(tenantID, t)
}

// ---------------------------------------------------------------------------
// Tenant processing
// ---------------------------------------------------------------------------

func (s *PipelineService) resolveTenants(ctx context.Context, policy *domain.Policy, requested []string) ([]string, error) {
	tenants := requested
	if len(tenants) == 0 {
		tenants = policy.IncludedTenants()
	}
	if len(tenants) == 0 {
		listed, err := s.source.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		tenants = listed
	}

	seen := make(map[string]struct{}, len(tenants))
	unique := make([]string, 0, len(tenants))
	for _, t := range policy.FilterTenants(tenants) {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	switch s.config.TenantOrder {
	case TenantOrderDescending:
		sort.Sort(sort.Reverse(sort.StringSlice(unique)))
	case TenantOrderRandom:
		rand.Shuffle(len(unique), func(i, j int) { unique[i], unique[j] = unique[j], unique[i] })
	default:
		sort.Strings(unique)
	}
	return unique, nil
}

// runTenant processes a tenant's pending windows in order, stopping at the
// first window that does not complete
func (s *PipelineService) runTenant(ctx context.Context, snap *Snapshot, tenantID string, now time.Time, collect func(WindowResult)) {
	logger := s.logger.With(zap.String("run_id", snap.RunID), zap.String("tenant_id", tenantID))

	release, skipped := s.lockTenant(ctx, tenantID)
	if skipped != nil {
		logger.Info("Tenant skipped this cycle", zap.String("reason", skipped.Error))
		collect(*skipped)
		return
	}
	defer release()

	latest, err := s.ledger.LatestForTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		result := WindowResult{TenantID: tenantID}
		result.fail("ledger", domain.NewTransientError("ledger", err))
		collect(result)
		return
	}
	if errors.Is(err, shared.ErrNotFound) {
		latest = nil
	}

	// finish a window that a previous run left unrated first
	if latest != nil && latest.Stage == domain.StageTransformed {
		result := s.processWindow(ctx, snap, tenantID, latest.Window)
		collect(result)
		if result.Status != WindowSucceeded && result.Status != WindowSkipped {
			return
		}
	}

	windows, err := s.planWindows(snap.Policy, tenantID, latest, now)
	if err != nil {
		result := WindowResult{TenantID: tenantID}
		result.fail("plan", domain.NewValidationError("plan", "%v", err))
		collect(result)
		return
	}
	logger.Debug("Windows planned", zap.Int("windows", len(windows)))

	for _, window := range windows {
		if ctx.Err() != nil {
			return
		}
		result := s.processWindow(ctx, snap, tenantID, window)
		collect(result)
		if result.Status == WindowFailed || result.Status == WindowNotReady {
			return
		}
	}
}

// lockTenant takes the tenant lock that serialises cycles and sweeps. When
// the lock cannot be taken it returns the result to report instead.
func (s *PipelineService) lockTenant(ctx context.Context, tenantID string) (func(), *WindowResult) {
	lock, err := s.locker.TryLock(ctx, "usagebill:tenant:"+tenantID, s.config.TenantLockTTL)
	if err != nil {
		result := &WindowResult{TenantID: tenantID, Stage: "lock"}
		if errors.Is(err, shared.ErrLockHeld) {
			result.Status = WindowNotReady
			result.Error = "tenant is being processed by another worker"
		} else {
			result.fail("lock", domain.NewTransientError("lock", err))
		}
		return nil, result
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release tenant lock",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}, nil
}

// planWindows returns the settled windows after the tenant's latest ledger
// head, bounded by the collection age floor and the per-cycle cap
func (s *PipelineService) planWindows(policy *domain.Policy, tenantID string, latest *domain.LedgerRecord, now time.Time) ([]domain.BillingWindow, error) {
	floor := now.Add(-s.config.MaxCollectionStartAge)
	from := floor
	if latest != nil && latest.Window.End.After(floor) {
		from = latest.Window.End
	}
	until := now.Add(-s.config.SettleDelay)
	if !from.Before(until) {
		return nil, nil
	}
	limit := s.config.MaxWindowsPerCycle
	windows, err := domain.WindowsBetween(policy.Granularity(), policy.TimezoneFor(tenantID), from, until, limit+1)
	if err != nil {
		return nil, err
	}
	// the first window may begin before the floor or overlap the latest head
	if len(windows) > 0 && windows[0].Start.Before(from) {
		windows = windows[1:]
	}
	if len(windows) > limit {
		windows = windows[:limit]
	}
	return windows, nil
}

// processWindow runs the three stages of one window sequentially
func (s *PipelineService) processWindow(ctx context.Context, snap *Snapshot, tenantID string, window domain.BillingWindow) (result WindowResult) {
	started := s.now()
	result = WindowResult{TenantID: tenantID, Window: window}
	defer func() { result.Duration = s.now().Sub(started) }()

	logger := s.logger.With(
		zap.String("run_id", snap.RunID),
		zap.String("tenant_id", tenantID),
		zap.String("window", window.String()))

	events, err := s.Collect(ctx, tenantID, window)
	if err != nil {
		result.fail("collect", err)
		logger.Error("Collection failed", zap.Error(err))
		return result
	}

	tctx, tcancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer tcancel()
	transformed, err := s.transformer.Transform(tctx, snap.Policy, tenantID, window, events)
	if err != nil {
		result.fail("transform", err)
		logger.Error("Transform failed", zap.Error(err))
		return result
	}
	result.Entries = len(transformed.Entries)
	result.Dropped = transformed.DroppedEvents
	result.Issues = transformed.Issues
	result.Skipped = transformed.Excluded
	result.Revision = transformed.Revision
	if transformed.Skipped {
		result.Status = WindowSkipped
		return result
	}
	result.Usage = transformed.Entries

	sctx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	quotation, err := s.rater.Rate(sctx, snap, tenantID, window)
	if err != nil {
		result.fail("rate", err)
		if result.Status == WindowNotReady {
			logger.Info("Rating deferred", zap.Error(err))
		} else {
			logger.Error("Rating failed", zap.Error(err))
		}
		return result
	}
	result.Status = WindowSucceeded
	result.Reference = quotation.Reference
	result.Skipped = append(result.Skipped, quotation.Skipped...)
	return result
}

// sweepTenant finishes a tenant's pending windows under the tenant lock, so a
// sweep never races a cycle re-collecting the same window
func (s *PipelineService) sweepTenant(ctx context.Context, snap *Snapshot, tenantID string, keys []domain.WindowKey, collect func(WindowResult)) {
	release, skipped := s.lockTenant(ctx, tenantID)
	if skipped != nil {
		s.logger.Info("Tenant skipped this sweep",
			zap.String("run_id", snap.RunID),
			zap.String("tenant_id", tenantID),
			zap.String("reason", skipped.Error))
		collect(*skipped)
		return
	}
	defer release()

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		collect(s.sweepWindow(ctx, snap, key))
	}
}

// sweepWindow finishes a pending window. Reopened windows are collected
// again so the corrected usage replaces the old entries.
func (s *PipelineService) sweepWindow(ctx context.Context, snap *Snapshot, key domain.WindowKey) WindowResult {
	head, err := loadHead(ctx, s.ledger, key)
	if err != nil || head == nil || head.Stage != domain.StageTransformed {
		result := WindowResult{TenantID: key.TenantID, Status: WindowSkipped}
		if err != nil {
			result.fail("ledger", err)
		}
		return result
	}
	if head.Override != nil {
		return s.processWindow(ctx, snap, key.TenantID, head.Window)
	}

	started := s.now()
	result := WindowResult{TenantID: key.TenantID, Window: head.Window, Entries: len(head.Entries), Usage: head.Entries}
	sctx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	quotation, err := s.rater.Rate(sctx, snap, key.TenantID, head.Window)
	result.Duration = s.now().Sub(started)
	if err != nil {
		result.fail("rate", err)
		return result
	}
	result.Status = WindowSucceeded
	result.Reference = quotation.Reference
	result.Skipped = quotation.Skipped
	return result
}

// ---------------------------------------------------------------------------
// Summary plumbing
// ---------------------------------------------------------------------------

func (s *PipelineService) collector(ctx context.Context, summary *RunSummary) func(WindowResult) {
	var mu sync.Mutex
	return func(r WindowResult) {
		mu.Lock()
		summary.Windows = append(summary.Windows, r)
		mu.Unlock()
		for _, o := range s.observers {
			o.WindowProcessed(ctx, r)
		}
	}
}

func (s *PipelineService) notify(ctx context.Context, r WindowResult) {
	for _, o := range s.observers {
		o.WindowProcessed(ctx, r)
	}
}

func (s *PipelineService) cycleStarted(ctx context.Context, summary *RunSummary) {
	for _, o := range s.observers {
		o.CycleStarted(ctx, summary.RunID, summary.StartedAt)
	}
}

func (s *PipelineService) finish(ctx context.Context, summary *RunSummary) {
	summary.FinishedAt = s.now().UTC()
	sort.SliceStable(summary.Windows, func(i, j int) bool {
		a, b := summary.Windows[i], summary.Windows[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		return a.Window.Start.Before(b.Window.Start)
	})

	counts := summary.Counts()
	s.logger.Info("Pipeline run finished",
		zap.String("run_id", summary.RunID),
		zap.String("kind", summary.Kind),
		zap.Int("tenants", summary.Tenants),
		zap.Int("succeeded", counts[WindowSucceeded]),
		zap.Int("skipped", counts[WindowSkipped]),
		zap.Int("not_ready", counts[WindowNotReady]),
		zap.Int("failed", counts[WindowFailed]),
		zap.Duration("duration", summary.Duration()))

	if s.runLog != nil {
		if err := s.runLog.Save(context.WithoutCancel(ctx), summary); err != nil {
			s.logger.Error("Failed to persist run summary",
				zap.String("run_id", summary.RunID),
				zap.Error(err))
		}
	}
	for _, o := range s.observers {
		o.CycleFinished(ctx, summary)
	}
}
