package geolocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/repository"
)

// maxFailures is the per-IP retry ceiling. The attempt at the ceiling is
// allowed to fall through to the offline provider.
const maxFailures = 3

type queueEntry struct {
	ip        string
	priority  enum.GeoPriority
	recordIDs map[string]struct{}
	failures  int
	seq       int64
}

type resolveOutcome int

const (
	outcomeResolved resolveOutcome = iota
	outcomeRateLimited
	outcomeFailed
)

// geolocationService is the asynchronous enrichment queue. One IP is one
// queue entry regardless of how many records depend on it, and entries
// drain one per tick to stay under provider rate limits.
type geolocationService struct {
	cfg     *config.GeolocationConfig
	log     logger.Logger
	records repository.RecordRepository
	cache   repository.IPLocationRepository

	providers []interfaces.GeoProvider
	offline   interfaces.GeoProvider

	mu       sync.Mutex
	entries  map[string]*queueEntry
	nextSeq  int64
	syncMode bool

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewGeolocationService(
	cfg *config.GeolocationConfig,
	log logger.Logger,
	records repository.RecordRepository,
	cache repository.IPLocationRepository,
) interfaces.GeolocationService {
	timeout := time.Duration(cfg.ProviderTimeout) * time.Second
	providers := []interfaces.GeoProvider{
		newIPAPIProvider(cfg.IPAPIMinuteLimit, timeout),
		newIPWhoisProvider(cfg.IPWhoisDayLimit, timeout),
	}
	return NewGeolocationServiceWithProviders(cfg, log, records, cache, providers, newOfflineProvider())
}

// NewGeolocationServiceWithProviders wires an explicit provider chain;
// the plain constructor uses the HTTP providers.
func NewGeolocationServiceWithProviders(
	cfg *config.GeolocationConfig,
	log logger.Logger,
	records repository.RecordRepository,
	cache repository.IPLocationRepository,
	providers []interfaces.GeoProvider,
	offline interfaces.GeoProvider,
) interfaces.GeolocationService {
	return &geolocationService{
		cfg:       cfg,
		log:       log,
		records:   records,
		cache:     cache,
		providers: providers,
		offline:   offline,
		entries:   make(map[string]*queueEntry),
		syncMode:  cfg.SyncLookups,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (s *geolocationService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *geolocationService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *geolocationService) loop(ctx context.Context) {
	defer s.wg.Done()

	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 2 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.processNext(ctx)
	}
}

// Enqueue adds record IDs for an IP. An existing entry absorbs the new
// IDs and keeps the more urgent priority; its failure count is untouched.
func (s *geolocationService) Enqueue(ip string, recordIDs []string, priority enum.GeoPriority) {
	if ip == "" {
		return
	}

	s.mu.Lock()
	entry, ok := s.entries[ip]
	if !ok {
		entry = &queueEntry{
			ip:        ip,
			priority:  priority,
			recordIDs: make(map[string]struct{}, len(recordIDs)),
			seq:       s.nextSeq,
		}
		s.nextSeq++
		s.entries[ip] = entry
	}
	if priority < entry.priority {
		entry.priority = priority
	}
	for _, id := range recordIDs {
		entry.recordIDs[id] = struct{}{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// processNext drains one entry. Rate-limited and failed entries both go
// back at low priority so a misbehaving IP cannot starve healthy
// lookups; only real failures count toward the ceiling, and the offline
// provider joins the chain on the final attempt.
func (s *geolocationService) processNext(ctx context.Context) {
	entry := s.pop()
	if entry == nil {
		return
	}

	includeOffline := entry.failures >= maxFailures-1

	// every provider capped and no fresh cache row to answer from: put
	// the entry back untouched and wait for a usage window to roll over
	if !s.anyProviderAvailable(includeOffline) && !s.cacheAnswers(ctx, entry.ip) {
		s.requeue(entry, entry.priority, true)
		return
	}

	ids := entry.ids()
	if err := s.records.UpdateGeoStatus(ctx, ids, enum.GeoStatusProcessing); err != nil {
		s.log.Errorf("marking records processing for %s: %v", entry.ip, err)
	}

	loc, outcome, err := s.resolve(ctx, entry.ip, includeOffline)

	switch outcome {
	case outcomeResolved:
		if err := s.records.UpdateGeoResult(ctx, ids, loc); err != nil {
			s.log.Errorf("writing geolocation result for %s: %v", entry.ip, err)
		}

	case outcomeRateLimited:
		if err := s.records.UpdateGeoStatus(ctx, ids, enum.GeoStatusPending); err != nil {
			s.log.Errorf("restoring pending status for %s: %v", entry.ip, err)
		}
		s.requeue(entry, enum.GeoPriorityLow, false)

	case outcomeFailed:
		entry.failures++
		if entry.failures >= maxFailures {
			s.log.Warnf("geolocation for %s failed %d times, giving up: %v", entry.ip, entry.failures, err)
			if err := s.records.UpdateGeoStatus(ctx, ids, enum.GeoStatusFailed); err != nil {
				s.log.Errorf("marking records failed for %s: %v", entry.ip, err)
			}
			return
		}
		s.log.Warnf("geolocation for %s failed (attempt %d): %v", entry.ip, entry.failures, err)
		if err := s.records.UpdateGeoStatus(ctx, ids, enum.GeoStatusPending); err != nil {
			s.log.Errorf("restoring pending status for %s: %v", entry.ip, err)
		}
		s.requeue(entry, enum.GeoPriorityLow, true)
	}
}

// anyProviderAvailable reports whether at least one provider in the
// chain has usage headroom. The offline provider has no limits.
func (s *geolocationService) anyProviderAvailable(includeOffline bool) bool {
	for _, provider := range s.providers {
		if !provider.Usage().NearLimit() {
			return true
		}
	}
	return includeOffline && s.offline != nil
}

func (s *geolocationService) cacheAnswers(ctx context.Context, ip string) bool {
	cached, err := s.cache.GetByIP(ctx, ip)
	return err == nil && cached != nil && s.isFresh(cached)
}

// pop removes and returns the most urgent entry: lowest priority value,
// then insertion order.
func (s *geolocationService) pop() *queueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *queueEntry
	for _, entry := range s.entries {
		if best == nil ||
			entry.priority < best.priority ||
			(entry.priority == best.priority && entry.seq < best.seq) {
			best = entry
		}
	}
	if best != nil {
		delete(s.entries, best.ip)
	}
	return best
}

func (s *geolocationService) requeue(entry *queueEntry, priority enum.GeoPriority, keepFailures bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.ip]; ok {
		for id := range entry.recordIDs {
			existing.recordIDs[id] = struct{}{}
		}
		if keepFailures && entry.failures > existing.failures {
			existing.failures = entry.failures
		}
		if priority < existing.priority {
			existing.priority = priority
		}
		return
	}

	entry.priority = priority
	entry.seq = s.nextSeq
	s.nextSeq++
	s.entries[entry.ip] = entry
}

// resolve answers from the durable cache when fresh, otherwise walks the
// provider chain. A nil location with outcomeResolved means the IP has no
// data.
func (s *geolocationService) resolve(ctx context.Context, ip string, includeOffline bool) (*interfaces.GeoLocation, resolveOutcome, error) {
	if cached, err := s.cache.GetByIP(ctx, ip); err != nil {
		s.log.Errorf("reading geolocation cache for %s: %v", ip, err)
	} else if cached != nil && s.isFresh(cached) {
		if cached.NoData {
			return nil, outcomeResolved, nil
		}
		return &interfaces.GeoLocation{
			IP:          cached.IP,
			Country:     cached.Country,
			CountryCode: cached.CountryCode,
			City:        cached.City,
			Latitude:    cached.Latitude,
			Longitude:   cached.Longitude,
			ISP:         cached.ISP,
			Org:         cached.Org,
		}, outcomeResolved, nil
	}

	providers := s.providers
	if includeOffline && s.offline != nil {
		providers = append(append([]interfaces.GeoProvider{}, s.providers...), s.offline)
	}

	rateLimited := false
	var lastErr error
	for _, provider := range providers {
		if provider.Usage().NearLimit() {
			rateLimited = true
			continue
		}

		loc, err := provider.Lookup(ctx, ip)
		if err != nil {
			var rle *interfaces.RateLimitError
			if errors.As(err, &rle) {
				rateLimited = true
				continue
			}
			lastErr = err
			continue
		}

		s.storeCache(ctx, ip, provider.Name(), loc)
		return loc, outcomeResolved, nil
	}

	if rateLimited && lastErr == nil {
		return nil, outcomeRateLimited, nil
	}
	if lastErr == nil {
		lastErr = errors.Errorf("no provider available for %s", ip)
	}
	return nil, outcomeFailed, lastErr
}

func (s *geolocationService) isFresh(row *models.IPLocation) bool {
	ttl := time.Duration(s.cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		return true
	}
	return time.Since(row.CheckedAt) < ttl
}

func (s *geolocationService) storeCache(ctx context.Context, ip, provider string, loc *interfaces.GeoLocation) {
	row := &models.IPLocation{
		IP:        ip,
		NoData:    loc == nil,
		Provider:  provider,
		CheckedAt: time.Now(),
	}
	if loc != nil {
		row.Country = loc.Country
		row.CountryCode = loc.CountryCode
		row.City = loc.City
		row.Latitude = loc.Latitude
		row.Longitude = loc.Longitude
		row.ISP = loc.ISP
		row.Org = loc.Org
	}
	if err := s.cache.Upsert(ctx, row); err != nil {
		s.log.Errorf("caching geolocation for %s: %v", ip, err)
	}
}

// ResolveNow bypasses the queue and resolves inline, still cache-first.
func (s *geolocationService) ResolveNow(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	if ip == "" {
		return nil, errors.New("ip is required")
	}

	loc, outcome, err := s.resolve(ctx, ip, false)
	switch outcome {
	case outcomeResolved:
		return loc, nil
	case outcomeRateLimited:
		return nil, errors.Errorf("all providers rate limited for %s", ip)
	default:
		return nil, err
	}
}

// ScanUnresolved enqueues every record still waiting for geolocation, at
// low priority so fresh ingestion stays ahead. Returns the number of IPs
// queued.
func (s *geolocationService) ScanUnresolved(ctx context.Context) (int, error) {
	byIP, err := s.records.PendingGeoByIP(ctx)
	if err != nil {
		return 0, err
	}

	for ip, ids := range byIP {
		s.Enqueue(ip, ids, enum.GeoPriorityLow)
	}
	return len(byIP), nil
}

func (s *geolocationService) Stats() interfaces.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := interfaces.QueueStats{
		Size:       len(s.entries),
		ByPriority: make(map[enum.GeoPriority]int),
		SyncMode:   s.syncMode,
	}
	for _, entry := range s.entries {
		stats.ByPriority[entry.priority]++
		stats.UniqueIPs++
		stats.DependentRecords += len(entry.recordIDs)
	}
	return stats
}

func (s *geolocationService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*queueEntry)
}

func (s *geolocationService) SetSyncMode(sync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncMode = sync
}

func (s *geolocationService) SyncMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncMode
}

func (e *queueEntry) ids() []string {
	ids := make([]string, 0, len(e.recordIDs))
	for id := range e.recordIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
