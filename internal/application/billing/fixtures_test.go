package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	domain "github.com/usagebill/backend/internal/domain/billing"
)

var (
	jan1        = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2        = jan1.AddDate(0, 0, 1)
	notProrated = false
)

func testPolicy(t *testing.T, mutate ...func(*domain.PolicyConfig)) *domain.Policy {
	t.Helper()
	cfg := domain.PolicyConfig{
		Granularity:     domain.GranularityDaily,
		DefaultTimezone: "UTC",
		DefaultRegion:   "nz-hlz-1",
		RegionMapping:   map[string]string{"nz-hlz-1": "hlz"},
		TaxRate:         decimal.RequireFromString("0.15"),
		MetricRules: []domain.MetricRule{
			{Metric: "network.outgoing.bytes", Kind: domain.MetricKindCounter, Aggregation: domain.AggregationDeltaSum, Unit: "byte"},
			{Metric: "instance.vcpus", Kind: domain.MetricKindGauge, Aggregation: domain.AggregationMax, Unit: "vcpu", Proratable: &notProrated},
		},
		MappingRules: []domain.MappingRule{
			{ResourceType: "*", Metric: "network.outgoing.bytes", ProductCode: "n1.egress"},
			{ResourceType: "instance", Metric: "instance.vcpus", ProductCode: "c1.vcpu"},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := domain.NewPolicy(cfg, jan1)
	require.NoError(t, err)
	return p
}

func testCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.Product{
		{Code: "n1.egress", Name: "Egress", Category: "network", Unit: "kilobyte", PriceRef: "price_egress"},
		{Code: "c1.vcpu", Name: "vCPU", Category: "compute", Unit: "vcpu", PriceRef: "price_vcpu", Region: "hlz"},
	}, jan1)
}

func testSnapshot(t *testing.T, policy *domain.Policy) *Snapshot {
	t.Helper()
	return &Snapshot{RunID: "run-test", Policy: policy, Catalog: testCatalog(), TakenAt: jan1}
}

func dayWindow(t *testing.T, day time.Time) domain.BillingWindow {
	t.Helper()
	w, err := domain.WindowAt(domain.GranularityDaily, "UTC", day)
	require.NoError(t, err)
	return w
}

func usage(tenant, resource, resourceType, metric, value string, at time.Time) domain.UsageEvent {
	return domain.UsageEvent{
		TenantID:     tenant,
		ResourceID:   resource,
		ResourceType: resourceType,
		Metric:       metric,
		Value:        decimal.RequireFromString(value),
		SampleTime:   at,
		Source:       "openstack",
		RecordedAt:   at,
	}
}

// egressDay is the daily counter scenario: 100 then 180 bytes
func egressDay(tenant string, day time.Time) []domain.UsageEvent {
	return []domain.UsageEvent{
		usage(tenant, "i-1", "instance", "network.outgoing.bytes", "100", day.Add(time.Minute)),
		usage(tenant, "i-1", "instance", "network.outgoing.bytes", "180", day.Add(23*time.Hour)),
	}
}

// ---------------------------------------------------------------------------
// Doubles
// ---------------------------------------------------------------------------

// mockPricingBackend is a mock implementation of domain.PricingBackend
type mockPricingBackend struct {
	mock.Mock
}

func (m *mockPricingBackend) Name() string {
	return "mock"
}

func (m *mockPricingBackend) GetCatalog(ctx context.Context) (*domain.Catalog, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Catalog), args.Error(1)
}

func (m *mockPricingBackend) SubmitQuotation(ctx context.Context, q *domain.Quotation, idempotencyKey string) (string, error) {
	args := m.Called(ctx, q, idempotencyKey)
	return args.String(0), args.Error(1)
}

// mockRunLog is a mock implementation of RunLogRepository
type mockRunLog struct {
	mock.Mock
}

func (m *mockRunLog) Save(ctx context.Context, summary *RunSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

func (m *mockRunLog) Recent(ctx context.Context, limit int) ([]*RunSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RunSummary), args.Error(1)
}

// fakeSource serves canned events per tenant, filtered to the requested window
type fakeSource struct {
	mu      sync.Mutex
	tenants []string
	events  map[string][]domain.UsageEvent
	fail    map[string]error
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(map[string][]domain.UsageEvent),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) ListTenants(ctx context.Context) ([]string, error) {
	return f.tenants, nil
}

func (f *fakeSource) Collect(ctx context.Context, tenantID string, window domain.BillingWindow) ([]domain.UsageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tenantID]++
	if err := f.fail[tenantID]; err != nil {
		return nil, err
	}
	var out []domain.UsageEvent
	for _, e := range f.events[tenantID] {
		if window.Contains(e.SampleTime) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) collectCalls(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tenantID]
}

type staticCatalog struct {
	catalog *domain.Catalog
	err     error
}

func (s staticCatalog) Catalog(ctx context.Context) (*domain.Catalog, error) {
	return s.catalog, s.err
}

// recordingObserver captures observer callbacks
type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	windows  []WindowResult
	finished []*RunSummary
}

func (o *recordingObserver) CycleStarted(ctx context.Context, runID string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, runID)
}

func (o *recordingObserver) WindowProcessed(ctx context.Context, result WindowResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.windows = append(o.windows, result)
}

func (o *recordingObserver) CycleFinished(ctx context.Context, summary *RunSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, summary)
}
