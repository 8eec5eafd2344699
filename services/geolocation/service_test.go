package geolocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
)

// fakeRecordRepo tracks only the geolocation surfaces the queue touches.
type fakeRecordRepo struct {
	statuses map[string]enum.GeoStatus
	results  map[string]*interfaces.GeoLocation
	pending  map[string][]string
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{
		statuses: map[string]enum.GeoStatus{},
		results:  map[string]*interfaces.GeoLocation{},
	}
}

func (r *fakeRecordRepo) ReplaceForReport(ctx context.Context, reportID string, records []*models.Record) error {
	panic("not used")
}
func (r *fakeRecordRepo) GetByID(ctx context.Context, id string) (*models.Record, error) {
	panic("not used")
}
func (r *fakeRecordRepo) ListByReport(ctx context.Context, reportID string) ([]models.Record, error) {
	panic("not used")
}
func (r *fakeRecordRepo) ListIDsForReprocess(ctx context.Context) ([]string, error) {
	panic("not used")
}
func (r *fakeRecordRepo) LoadBatchWithChildren(ctx context.Context, ids []string) ([]models.Record, error) {
	panic("not used")
}
func (r *fakeRecordRepo) UpdateForwarding(ctx context.Context, id string, forwarded *bool, reason *string, reprocessed bool) error {
	panic("not used")
}
func (r *fakeRecordRepo) ResetReprocessedFlags(ctx context.Context) error { panic("not used") }
func (r *fakeRecordRepo) CountAll(ctx context.Context) (int64, error)     { panic("not used") }
func (r *fakeRecordRepo) CountPendingReprocess(ctx context.Context) (int64, error) {
	panic("not used")
}

func (r *fakeRecordRepo) PendingGeoByIP(ctx context.Context) (map[string][]string, error) {
	return r.pending, nil
}

func (r *fakeRecordRepo) UpdateGeoStatus(ctx context.Context, ids []string, status enum.GeoStatus) error {
	for _, id := range ids {
		r.statuses[id] = status
	}
	return nil
}

func (r *fakeRecordRepo) UpdateGeoResult(ctx context.Context, ids []string, loc *interfaces.GeoLocation) error {
	for _, id := range ids {
		r.statuses[id] = enum.GeoStatusCompleted
		r.results[id] = loc
	}
	return nil
}

type fakeLocationCache struct {
	rows    map[string]*models.IPLocation
	upserts int
}

func newFakeLocationCache() *fakeLocationCache {
	return &fakeLocationCache{rows: map[string]*models.IPLocation{}}
}

func (c *fakeLocationCache) GetByIP(ctx context.Context, ip string) (*models.IPLocation, error) {
	return c.rows[ip], nil
}

func (c *fakeLocationCache) Upsert(ctx context.Context, loc *models.IPLocation) error {
	c.upserts++
	c.rows[loc.IP] = loc
	return nil
}

func (c *fakeLocationCache) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakeProvider scripts one behavior per call: a location, a nil no-data
// answer, or an error.
type fakeProvider struct {
	name    string
	loc     *interfaces.GeoLocation
	err     error
	nearCap bool
	calls   int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Usage() interfaces.ProviderUsage {
	if p.nearCap {
		return interfaces.ProviderUsage{MinuteUsed: 40, MinuteLimit: 40}
	}
	return interfaces.ProviderUsage{}
}

func (p *fakeProvider) Lookup(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	p.calls++
	return p.loc, p.err
}

func testGeoConfig() *config.GeolocationConfig {
	return &config.GeolocationConfig{
		CacheTTLHours:   720,
		TickSeconds:     1,
		ProviderTimeout: 1,
	}
}

func newTestQueue(t *testing.T, records *fakeRecordRepo, cache *fakeLocationCache, providers []interfaces.GeoProvider) *geolocationService {
	t.Helper()
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()

	svc := NewGeolocationServiceWithProviders(testGeoConfig(), appLogger, records, cache, providers, newOfflineProvider())
	impl, ok := svc.(*geolocationService)
	require.True(t, ok)
	return impl
}

func TestEnqueue_MergesSameIP(t *testing.T) {
	q := newTestQueue(t, newFakeRecordRepo(), newFakeLocationCache(), nil)

	q.Enqueue("1.2.3.4", []string{"rec_a"}, enum.GeoPriorityLow)
	q.Enqueue("1.2.3.4", []string{"rec_b", "rec_a"}, enum.GeoPriorityHigh)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.UniqueIPs)
	assert.Equal(t, 2, stats.DependentRecords)
	assert.Equal(t, 1, stats.ByPriority[enum.GeoPriorityHigh])
	assert.Zero(t, stats.ByPriority[enum.GeoPriorityLow])
}

func TestPop_HonorsPriorityThenOrder(t *testing.T) {
	q := newTestQueue(t, newFakeRecordRepo(), newFakeLocationCache(), nil)

	q.Enqueue("1.1.1.1", []string{"a"}, enum.GeoPriorityNormal)
	q.Enqueue("2.2.2.2", []string{"b"}, enum.GeoPriorityHigh)
	q.Enqueue("3.3.3.3", []string{"c"}, enum.GeoPriorityNormal)

	assert.Equal(t, "2.2.2.2", q.pop().ip)
	assert.Equal(t, "1.1.1.1", q.pop().ip)
	assert.Equal(t, "3.3.3.3", q.pop().ip)
	assert.Nil(t, q.pop())
}

func TestProcessNext_SuccessWritesResultAndCache(t *testing.T) {
	records := newFakeRecordRepo()
	cache := newFakeLocationCache()
	provider := &fakeProvider{name: "fake", loc: &interfaces.GeoLocation{
		IP: "8.8.8.8", Country: "United States", CountryCode: "US", ISP: "Google LLC",
	}}
	q := newTestQueue(t, records, cache, []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1", "rec_2"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_1"])
	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_2"])
	require.NotNil(t, records.results["rec_1"])
	assert.Equal(t, "US", records.results["rec_1"].CountryCode)

	// the answer is cached durably
	require.NotNil(t, cache.rows["8.8.8.8"])
	assert.Equal(t, "United States", cache.rows["8.8.8.8"].Country)
	assert.False(t, cache.rows["8.8.8.8"].NoData)
	assert.Zero(t, q.Stats().Size)
}

func TestProcessNext_FreshCacheSkipsProviders(t *testing.T) {
	records := newFakeRecordRepo()
	cache := newFakeLocationCache()
	cache.rows["8.8.8.8"] = &models.IPLocation{
		IP: "8.8.8.8", Country: "United States", CountryCode: "US", CheckedAt: time.Now(),
	}
	provider := &fakeProvider{name: "fake"}
	q := newTestQueue(t, records, cache, []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	assert.Zero(t, provider.calls)
	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_1"])
	assert.Equal(t, "US", records.results["rec_1"].CountryCode)
}

func TestProcessNext_StaleCacheHitsProvider(t *testing.T) {
	records := newFakeRecordRepo()
	cache := newFakeLocationCache()
	cache.rows["8.8.8.8"] = &models.IPLocation{
		IP: "8.8.8.8", Country: "Stale", CheckedAt: time.Now().Add(-1000 * time.Hour),
	}
	provider := &fakeProvider{name: "fake", loc: &interfaces.GeoLocation{IP: "8.8.8.8", Country: "Fresh"}}
	q := newTestQueue(t, records, cache, []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "Fresh", records.results["rec_1"].Country)
}

func TestProcessNext_NoDataCacheCompletesEmpty(t *testing.T) {
	records := newFakeRecordRepo()
	cache := newFakeLocationCache()
	cache.rows["203.0.113.9"] = &models.IPLocation{IP: "203.0.113.9", NoData: true, CheckedAt: time.Now()}
	q := newTestQueue(t, records, cache, nil)

	q.Enqueue("203.0.113.9", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_1"])
	assert.Nil(t, records.results["rec_1"])
}

func TestProcessNext_RateLimitRequeuesWithoutPenalty(t *testing.T) {
	records := newFakeRecordRepo()
	provider := &fakeProvider{name: "fake", err: &interfaces.RateLimitError{Provider: "fake", RetryAfter: time.Minute}}
	q := newTestQueue(t, records, newFakeLocationCache(), []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityHigh)
	q.processNext(context.Background())

	// records go back to pending, entry is queued again at low priority
	assert.Equal(t, enum.GeoStatusPending, records.statuses["rec_1"])
	stats := q.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.ByPriority[enum.GeoPriorityLow])

	entry := q.pop()
	require.NotNil(t, entry)
	assert.Zero(t, entry.failures)
}

func TestProcessNext_ProviderAtCapDefersWithoutConsuming(t *testing.T) {
	records := newFakeRecordRepo()
	provider := &fakeProvider{name: "fake", nearCap: true}
	q := newTestQueue(t, records, newFakeLocationCache(), []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	// no lookup, no record status change, priority and failures kept
	assert.Zero(t, provider.calls)
	assert.Empty(t, records.statuses)
	stats := q.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.ByPriority[enum.GeoPriorityNormal])

	entry := q.pop()
	require.NotNil(t, entry)
	assert.Zero(t, entry.failures)
}

func TestProcessNext_ProviderAtCapStillServesFromCache(t *testing.T) {
	records := newFakeRecordRepo()
	cache := newFakeLocationCache()
	cache.rows["8.8.8.8"] = &models.IPLocation{
		IP: "8.8.8.8", Country: "United States", CountryCode: "US", CheckedAt: time.Now(),
	}
	provider := &fakeProvider{name: "fake", nearCap: true}
	q := newTestQueue(t, records, cache, []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(context.Background())

	assert.Zero(t, provider.calls)
	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_1"])
	assert.Zero(t, q.Stats().Size)
}

func TestProcessNext_FailureDemotesPriority(t *testing.T) {
	records := newFakeRecordRepo()
	provider := &fakeProvider{name: "fake", err: assert.AnError}
	q := newTestQueue(t, records, newFakeLocationCache(), []interfaces.GeoProvider{provider})

	q.Enqueue("8.8.8.8", []string{"rec_1"}, enum.GeoPriorityHigh)
	q.processNext(context.Background())

	// a failing IP retries at low priority so it cannot starve healthy
	// lookups, and the attempt still counts toward the ceiling
	assert.Equal(t, enum.GeoStatusPending, records.statuses["rec_1"])
	stats := q.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.ByPriority[enum.GeoPriorityLow])
	assert.Zero(t, stats.ByPriority[enum.GeoPriorityHigh])

	entry := q.pop()
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.failures)
}

func TestProcessNext_FailureCeilingMarksFailed(t *testing.T) {
	records := newFakeRecordRepo()
	provider := &fakeProvider{name: "fake", err: assert.AnError}
	q := newTestQueue(t, records, newFakeLocationCache(), []interfaces.GeoProvider{provider})
	ctx := context.Background()

	q.Enqueue("203.0.113.9", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(ctx)
	q.processNext(ctx)
	q.processNext(ctx)

	// public IP: the offline fallback has nothing either
	assert.Equal(t, enum.GeoStatusFailed, records.statuses["rec_1"])
	assert.Zero(t, q.Stats().Size)
}

func TestProcessNext_OfflineFallbackForPrivateIP(t *testing.T) {
	records := newFakeRecordRepo()
	provider := &fakeProvider{name: "fake", err: assert.AnError}
	q := newTestQueue(t, records, newFakeLocationCache(), []interfaces.GeoProvider{provider})
	ctx := context.Background()

	q.Enqueue("192.168.1.10", []string{"rec_1"}, enum.GeoPriorityNormal)
	q.processNext(ctx)
	q.processNext(ctx)
	q.processNext(ctx)

	// the last attempt reaches the offline provider
	assert.Equal(t, enum.GeoStatusCompleted, records.statuses["rec_1"])
	require.NotNil(t, records.results["rec_1"])
	assert.Equal(t, "Private Network", records.results["rec_1"].Country)
}

func TestScanUnresolved(t *testing.T) {
	records := newFakeRecordRepo()
	records.pending = map[string][]string{
		"1.1.1.1": {"rec_1", "rec_2"},
		"2.2.2.2": {"rec_3"},
	}
	q := newTestQueue(t, records, newFakeLocationCache(), nil)

	queued, err := q.ScanUnresolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	stats := q.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 3, stats.DependentRecords)
	assert.Equal(t, 2, stats.ByPriority[enum.GeoPriorityLow])
}

func TestResolveNow_UsesProviderAndCaches(t *testing.T) {
	cache := newFakeLocationCache()
	provider := &fakeProvider{name: "fake", loc: &interfaces.GeoLocation{IP: "8.8.4.4", Country: "United States"}}
	q := newTestQueue(t, newFakeRecordRepo(), cache, []interfaces.GeoProvider{provider})

	loc, err := q.ResolveNow(context.Background(), "8.8.4.4")

	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "United States", loc.Country)
	assert.Equal(t, 1, cache.upserts)
}

func TestSyncModeToggle(t *testing.T) {
	q := newTestQueue(t, newFakeRecordRepo(), newFakeLocationCache(), nil)

	assert.False(t, q.SyncMode())
	q.SetSyncMode(true)
	assert.True(t, q.SyncMode())
}

func TestClear(t *testing.T) {
	q := newTestQueue(t, newFakeRecordRepo(), newFakeLocationCache(), nil)
	q.Enqueue("1.1.1.1", []string{"a"}, enum.GeoPriorityNormal)

	q.Clear()

	assert.Zero(t, q.Stats().Size)
}
