package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/interfaces"
)

const ipAPIBaseURL = "http://ip-api.com/json"

// ipAPIProvider resolves IPs through ip-api.com. The free tier allows 45
// requests per minute; the configured limit stays below that.
type ipAPIProvider struct {
	httpClient *http.Client
	baseURL    string
	usage      *usageCounter
}

func newIPAPIProvider(minuteLimit int, timeout time.Duration) *ipAPIProvider {
	return &ipAPIProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    ipAPIBaseURL,
		usage:      newUsageCounter(minuteLimit, 0),
	}
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
}

func (p *ipAPIProvider) Name() string {
	return "ip-api.com"
}

func (p *ipAPIProvider) Usage() interfaces.ProviderUsage {
	return p.usage.Usage()
}

func (p *ipAPIProvider) Lookup(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode,city,lat,lon,isp,org", p.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building ip-api request")
	}

	p.usage.Record()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ip-api lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &interfaces.RateLimitError{
			Provider:   p.Name(),
			RetryAfter: retryAfter(resp.Header, time.Minute),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding ip-api response")
	}

	if body.Status != "success" {
		// private/reserved/invalid queries are answered, just without data
		msg := strings.ToLower(body.Message)
		if strings.Contains(msg, "private") || strings.Contains(msg, "reserved") || strings.Contains(msg, "invalid") {
			return nil, nil
		}
		return nil, errors.Errorf("ip-api lookup failed: %s", body.Message)
	}

	return &interfaces.GeoLocation{
		IP:          ip,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		ISP:         body.ISP,
		Org:         body.Org,
	}, nil
}

func retryAfter(headers http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
