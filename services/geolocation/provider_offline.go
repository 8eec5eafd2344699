package geolocation

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/interfaces"
)

// offlineProvider answers without network access. It only recognizes
// private and reserved ranges; public IPs are an error so the caller can
// mark the lookup failed instead of writing fake data.
type offlineProvider struct{}

func newOfflineProvider() *offlineProvider {
	return &offlineProvider{}
}

func (p *offlineProvider) Name() string {
	return "offline"
}

func (p *offlineProvider) Usage() interfaces.ProviderUsage {
	return interfaces.ProviderUsage{}
}

func (p *offlineProvider) Lookup(ctx context.Context, ip string) (*interfaces.GeoLocation, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, errors.Errorf("invalid ip %q", ip)
	}

	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() || parsed.IsUnspecified() {
		return &interfaces.GeoLocation{
			IP:      ip,
			Country: "Private Network",
			ISP:     "Private Network",
			Org:     "Private Network",
		}, nil
	}

	return nil, errors.Errorf("no offline data for %s", ip)
}
