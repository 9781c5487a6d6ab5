// Package geoip provides the throttled client for external geo/ISP and
// VPN classification providers.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/metrics"
)

// Gateway is the rate-limited client for external IP lookups.
//
// The throttle is process-wide, not per-IP: every outbound call (geo and
// VPN alike) reserves a slot from a single limiter with burst 1, so
// consecutive dispatches are never closer together than the configured
// minimum interval. The limiter serializes concurrent callers against the
// actual last-dispatch time; a later caller's wait is computed from that,
// not from when it started waiting.
type Gateway struct {
	cfg     domain.LookupConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGateway creates a gateway from lookup configuration.
func NewGateway(cfg domain.LookupConfig) *Gateway {
	if cfg.GeoEndpoint == "" {
		cfg.GeoEndpoint = "http://ip-api.com/json"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// Routable reports whether ip is a syntactically valid, public address
// worth looking up. Loopback, private, link-local, unspecified, and the
// literal "localhost" sentinel are not.
func Routable(ip string) bool {
	if ip == "" || strings.EqualFold(ip, "localhost") {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsUnspecified() || parsed.IsLoopback() || parsed.IsPrivate() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return false
	}
	return true
}

// geoResponse is the provider wire format.
type geoResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	ASName      string  `json:"asname"`
}

// Lookup fetches geo/ISP data for an IP. It never fails from the caller's
// point of view: invalid input short-circuits without a network call, and
// transport or logical provider failures degrade to the default record.
// The result's Source field makes the degradation explicit.
func (g *Gateway) Lookup(ctx context.Context, ip string) domain.GeoResult {
	if !Routable(ip) {
		return fallbackResult()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		slog.Warn("lookup throttle wait aborted", "ip", ip, "error", err)
		return fallbackResult()
	}

	url := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,asname", g.cfg.GeoEndpoint, ip)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Error("failed to build lookup request", "ip", ip, "error", err)
		return fallbackResult()
	}

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("geo lookup transport failure", "ip", ip, "error", err)
		return fallbackResult()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("geo lookup non-2xx response", "ip", ip, "status", resp.StatusCode)
		return fallbackResult()
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("geo lookup decode failure", "ip", ip, "error", err)
		return fallbackResult()
	}

	if body.Status == "fail" {
		slog.Warn("geo lookup logical failure", "ip", ip, "message", body.Message)
		return fallbackResult()
	}

	metrics.LookupsTotal.WithLabelValues(string(domain.SourceProvider)).Inc()

	return domain.GeoResult{
		Source: domain.SourceProvider,
		Record: domain.GeoRecord{
			Country:      body.Country,
			CountryCode:  body.CountryCode,
			Region:       body.Region,
			RegionName:   body.RegionName,
			City:         body.City,
			Zip:          body.Zip,
			Latitude:     body.Lat,
			Longitude:    body.Lon,
			Timezone:     body.Timezone,
			ISP:          body.ISP,
			Organization: body.Org,
			ASN:          body.AS,
			ASName:       body.ASName,
		},
	}
}

// VPN block classifications returned by the secondary provider.
const (
	BlockClean = 0
	BlockVPN   = 1 // VPN or hosting exit
	BlockTor   = 2
)

// HasVPNProvider reports whether a secondary VPN/Tor provider key is
// configured.
func (g *Gateway) HasVPNProvider() bool {
	return g.cfg.VPNProviderKey != ""
}

type vpnResponse struct {
	Block int `json:"block"`
}

// VPNLookup queries the secondary VPN/Tor classification provider.
// Unlike Lookup, this returns an error: the enrichment engine owns the
// fallback decision (degrade to keyword heuristic for this call).
func (g *Gateway) VPNLookup(ctx context.Context, ip string) (int, error) {
	if !g.HasVPNProvider() {
		return BlockClean, fmt.Errorf("no VPN provider key configured")
	}
	if !Routable(ip) {
		return BlockClean, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return BlockClean, fmt.Errorf("throttle wait aborted: %w", err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", g.cfg.VPNEndpoint, ip, g.cfg.VPNProviderKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return BlockClean, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return BlockClean, fmt.Errorf("vpn lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BlockClean, fmt.Errorf("vpn lookup returned status %d", resp.StatusCode)
	}

	var body vpnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return BlockClean, fmt.Errorf("vpn lookup decode failed: %w", err)
	}

	return body.Block, nil
}

func fallbackResult() domain.GeoResult {
	metrics.LookupsTotal.WithLabelValues(string(domain.SourceFallback)).Inc()
	return domain.GeoResult{
		Source: domain.SourceFallback,
		Record: domain.DefaultGeoRecord(),
	}
}
