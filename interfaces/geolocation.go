package interfaces

import (
	"context"
	"fmt"
	"time"

	"github.com/customeros/dmarcwatch/internal/enum"
)

// GeoLocation is a resolved lookup result. A nil *GeoLocation from a
// provider means the provider answered but has no data for the IP.
type GeoLocation struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
}

// ProviderUsage reports a provider's current consumption against its
// configured limits. A zero limit means unlimited.
type ProviderUsage struct {
	MinuteUsed  int `json:"minuteUsed"`
	MinuteLimit int `json:"minuteLimit"`
	DayUsed     int `json:"dayUsed"`
	DayLimit    int `json:"dayLimit"`
}

// NearLimit reports whether another request would risk exceeding either
// window.
func (u ProviderUsage) NearLimit() bool {
	if u.MinuteLimit > 0 && u.MinuteUsed >= u.MinuteLimit {
		return true
	}
	if u.DayLimit > 0 && u.DayUsed >= u.DayLimit {
		return true
	}
	return false
}

// RateLimitError is the distinguished rate-limit signal a provider may
// return from Lookup. It drives requeue-without-penalty.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s rate limited (retry after %s)", e.Provider, e.RetryAfter)
}

// GeoProvider resolves an IP to location data. Implementations must
// respect ctx cancellation and must not block past their own timeout.
type GeoProvider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*GeoLocation, error)
	Usage() ProviderUsage
}

// QueueStats is the operational snapshot of the enrichment queue.
type QueueStats struct {
	Size             int                      `json:"size"`
	ByPriority       map[enum.GeoPriority]int `json:"byPriority"`
	UniqueIPs        int                      `json:"uniqueIps"`
	DependentRecords int                      `json:"dependentRecords"`
	SyncMode         bool                     `json:"syncMode"`
}

// GeolocationService is the enrichment queue consumed by ingestion, the
// cron jobs and the operational API.
type GeolocationService interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(ip string, recordIDs []string, priority enum.GeoPriority)
	ResolveNow(ctx context.Context, ip string) (*GeoLocation, error)
	ScanUnresolved(ctx context.Context) (int, error)
	Stats() QueueStats
	Clear()
	SetSyncMode(sync bool)
	SyncMode() bool
}
