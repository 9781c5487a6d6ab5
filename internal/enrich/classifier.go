package enrich

import (
	"context"
	"log/slog"
	"strings"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/geoip"
)

// Flags are the network classification flags for an IP.
type Flags struct {
	IsVPN     bool
	IsProxy   bool
	IsHosting bool
	IsTor     bool
}

// RiskClassifier determines the classification flags for an IP. The
// variant is selected once at engine construction: provider-backed when a
// VPN-detection key is configured, keyword heuristic otherwise.
type RiskClassifier interface {
	Classify(ctx context.Context, ip string, geo domain.GeoRecord) Flags
}

// hostingKeywords is matched case-insensitively against the ISP and
// organization names. Substring match; "digital ocean" also catches the
// spaced spelling.
var hostingKeywords = []string{
	"hosting",
	"cloud",
	"datacenter",
	"data center",
	"server",
	"vps",
	"colo",
	"digitalocean",
	"digital ocean",
	"amazon",
	"aws",
	"google",
	"azure",
	"microsoft",
	"ovh",
	"hetzner",
	"linode",
	"vultr",
	"alibaba",
}

// KeywordClassifier flags hosting providers by matching ISP/organization
// names against a fixed keyword list. It cannot detect residential VPNs;
// it only catches cloud and datacenter exits.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the keyword-heuristic classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify matches hosting keywords against the ISP and organization.
func (k *KeywordClassifier) Classify(ctx context.Context, ip string, geo domain.GeoRecord) Flags {
	return Flags{IsHosting: matchesHostingKeyword(geo.ISP) || matchesHostingKeyword(geo.Organization)}
}

func matchesHostingKeyword(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range hostingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// vpnLookuper is the slice of the gateway the provider classifier needs.
type vpnLookuper interface {
	VPNLookup(ctx context.Context, ip string) (int, error)
}

// ProviderClassifier uses the secondary VPN/Tor classification provider
// for VPN and Tor flags, and the keyword heuristic for the hosting flag.
// A provider failure degrades to keyword-only classification for that
// call; it is logged, never surfaced.
type ProviderClassifier struct {
	provider vpnLookuper
	fallback *KeywordClassifier
}

// NewProviderClassifier creates the provider-backed classifier.
func NewProviderClassifier(provider vpnLookuper) *ProviderClassifier {
	return &ProviderClassifier{
		provider: provider,
		fallback: NewKeywordClassifier(),
	}
}

// Classify queries the provider and merges the keyword hosting signal.
func (p *ProviderClassifier) Classify(ctx context.Context, ip string, geo domain.GeoRecord) Flags {
	flags := p.fallback.Classify(ctx, ip, geo)

	block, err := p.provider.VPNLookup(ctx, ip)
	if err != nil {
		slog.Warn("vpn provider lookup degraded to keyword heuristic",
			"ip", ip,
			"error", err,
		)
		return flags
	}

	switch block {
	case geoip.BlockVPN:
		flags.IsVPN = true
	case geoip.BlockTor:
		flags.IsTor = true
	}
	return flags
}
