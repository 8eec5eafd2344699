package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/interfaces"
)

const ipWhoisBaseURL = "https://ipwho.is"

// ipWhoisProvider resolves IPs through ipwho.is, the secondary provider.
// Its free tier is day-capped rather than minute-capped.
type ipWhoisProvider struct {
	httpClient *http.Client
	baseURL    string
	usage      *usageCounter
}

func newIPWhoisProvider(dayLimit int, timeout time.Duration) *ipWhoisProvider {
	return &ipWhoisProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    ipWhoisBaseURL,
		usage:      newUsageCounter(0, dayLimit),
	}
}

type ipWhoisResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Connection  struct {
		ISP string `json:"isp"`
		Org string `json:"org"`
	} `json:"connection"`
}

func (p *ipWhoisProvider) Name() string {
	return "ipwho.is"
}

func (p *ipWhoisProvider) Usage() interfaces.ProviderUsage {
	return p.usage.Usage()
}

func (p *ipWhoisProvider) Lookup(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	url := fmt.Sprintf("%s/%s", p.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building ipwho.is request")
	}

	p.usage.Record()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ipwho.is lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &interfaces.RateLimitError{
			Provider:   p.Name(),
			RetryAfter: retryAfter(resp.Header, time.Hour),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ipwho.is returned status %d", resp.StatusCode)
	}

	var body ipWhoisResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decoding ipwho.is response")
	}

	if !body.Success {
		msg := strings.ToLower(body.Message)
		if strings.Contains(msg, "limit") {
			return nil, &interfaces.RateLimitError{Provider: p.Name(), RetryAfter: time.Hour}
		}
		if strings.Contains(msg, "private") || strings.Contains(msg, "reserved") || strings.Contains(msg, "invalid") {
			return nil, nil
		}
		return nil, errors.Errorf("ipwho.is lookup failed: %s", body.Message)
	}

	return &interfaces.GeoLocation{
		IP:          ip,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		ISP:         body.Connection.ISP,
		Org:         body.Connection.Org,
	}, nil
}
