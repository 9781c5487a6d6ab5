// Package enrich implements the IP enrichment engine: cache tiers,
// external lookups, and risk scoring.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/geoip"
)

// Enrichment records are global, not per-account; the cache tier uses a
// fixed account key.
const cacheAccount = "_global"

// Risk point assignments. The stored riskScore is always the clamped sum
// of the applicable points, so it can be re-derived from the flags.
const (
	pointsVPNOrProxy      = 40
	pointsTor             = 50
	pointsHosting         = 25
	pointsHighRiskCountry = 15
	pointsUnknownISP      = 10
)

// highRiskCountries is the fixed set contributing country points.
var highRiskCountries = map[string]bool{
	"CN": true, "RU": true, "VN": true, "IN": true, "ID": true,
	"PK": true, "BD": true, "NG": true, "UA": true, "BR": true,
}

// geoLookuper is the slice of the gateway the engine needs.
type geoLookuper interface {
	Lookup(ctx context.Context, ip string) domain.GeoResult
}

// Engine orchestrates cache tiers, the lookup gateway, and risk scoring
// to produce enrichment records. Enrich never fails: every internal
// failure degrades to the safe default record for the IP.
type Engine struct {
	gateway    geoLookuper
	classifier RiskClassifier
	cache      domain.Cache      // memory tier
	repo       domain.Repository // durable tier
	ttl        time.Duration     // freshness horizon

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine creates an enrichment engine. The classifier variant is
// chosen here, once: provider-backed when the gateway has a VPN provider
// key, keyword heuristic otherwise.
func NewEngine(gateway *geoip.Gateway, cache domain.Cache, repo domain.Repository, ttl time.Duration) *Engine {
	var classifier RiskClassifier
	if gateway.HasVPNProvider() {
		classifier = NewProviderClassifier(gateway)
	} else {
		classifier = NewKeywordClassifier()
	}
	return newEngine(gateway, classifier, cache, repo, ttl)
}

func newEngine(gateway geoLookuper, classifier RiskClassifier, cache domain.Cache, repo domain.Repository, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Engine{
		gateway:    gateway,
		classifier: classifier,
		cache:      cache,
		repo:       repo,
		ttl:        ttl,
		now:        time.Now,
	}
}

// SetClock overrides the engine's time source. Test use only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Enrich produces the enrichment record for an IP.
//
// Order: sentinel shortcut, memory tier, durable tier, then external
// lookup; a cache hit is valid only while younger than the freshness
// horizon, and an expired hit proceeds to recompute. Every recomputed
// record is written through to both tiers before being returned; a
// durable-tier write failure is logged and the in-memory result is still
// returned.
func (e *Engine) Enrich(ctx context.Context, ip string) *domain.IPEnrichment {
	if !geoip.Routable(ip) {
		return e.defaultRecord(ip)
	}

	now := e.now().UTC()

	// Memory tier
	if cached := e.fromMemory(ctx, ip); cached != nil && cached.Fresh(now, e.ttl) {
		return cached
	}

	// Durable tier
	if e.repo != nil {
		stored, err := e.repo.GetEnrichment(ctx, ip)
		if err == nil && stored.Fresh(now, e.ttl) {
			e.toMemory(ctx, stored)
			return stored
		}
	}

	// External lookup + classification
	result := e.gateway.Lookup(ctx, ip)
	flags := e.classifier.Classify(ctx, ip, result.Record)

	record := e.build(ip, result.Record, flags, now)

	// Write-through: memory first, then durable. Neither failure is
	// allowed to fail the enrichment call.
	e.toMemory(ctx, record)
	if e.repo != nil {
		if err := e.repo.UpsertEnrichment(ctx, record); err != nil {
			slog.Warn("enrichment durable write failed",
				"ip", ip,
				"error", err,
			)
		}
	}

	return record
}

// EnrichBatch enriches IPs sequentially. Concurrency is deliberately
// avoided here: the gateway's throttle is global, so parallel calls
// would only queue against it while holding more memory.
func (e *Engine) EnrichBatch(ctx context.Context, ips []string) []*domain.IPEnrichment {
	records := make([]*domain.IPEnrichment, len(ips))
	for i, ip := range ips {
		records[i] = e.Enrich(ctx, ip)
	}
	return records
}

// build assembles a record from lookup output, deriving riskScore and
// riskLevel from the flags, country, and ISP.
func (e *Engine) build(ip string, geo domain.GeoRecord, flags Flags, now time.Time) *domain.IPEnrichment {
	score := ScoreFromSignals(flags, geo.CountryCode, geo.ISP)

	country := geo.Country
	if country == "" {
		country = "Unknown"
	}
	region := geo.RegionName
	if region == "" {
		region = "Unknown"
	}
	city := geo.City
	if city == "" {
		city = "Unknown"
	}

	return &domain.IPEnrichment{
		IP:           ip,
		Country:      country,
		CountryCode:  geo.CountryCode,
		Region:       region,
		City:         city,
		Latitude:     geo.Latitude,
		Longitude:    geo.Longitude,
		ISP:          geo.ISP,
		Organization: geo.Organization,
		ASN:          geo.ASN,
		IsVPN:        flags.IsVPN,
		IsProxy:      flags.IsProxy,
		IsHosting:    flags.IsHosting,
		IsTor:        flags.IsTor,
		RiskScore:    score,
		RiskLevel:    domain.RiskLevelForScore(score),
		EnrichedAt:   now,
	}
}

// ScoreFromSignals computes the additive risk score from classification
// flags, country code, and ISP name: VPN or proxy +40, Tor +50, hosting
// +25, high-risk country +15, unknown/empty ISP +10, clamped to [0,100].
func ScoreFromSignals(flags Flags, countryCode, isp string) int {
	score := 0
	if flags.IsVPN || flags.IsProxy {
		score += pointsVPNOrProxy
	}
	if flags.IsTor {
		score += pointsTor
	}
	if flags.IsHosting {
		score += pointsHosting
	}
	if highRiskCountries[countryCode] {
		score += pointsHighRiskCountry
	}
	if isp == "" || isp == "Unknown" {
		score += pointsUnknownISP
	}
	if score > 100 {
		score = 100
	}
	return score
}

// defaultRecord is the safe record for sentinel and unroutable addresses.
func (e *Engine) defaultRecord(ip string) *domain.IPEnrichment {
	return &domain.IPEnrichment{
		IP:         ip,
		Country:    "Unknown",
		Region:     "Unknown",
		City:       "Unknown",
		RiskScore:  0,
		RiskLevel:  domain.RiskSafe,
		EnrichedAt: e.now().UTC(),
	}
}

func (e *Engine) fromMemory(ctx context.Context, ip string) *domain.IPEnrichment {
	if e.cache == nil {
		return nil
	}
	data, err := e.cache.Get(ctx, cacheAccount, "ip:"+ip)
	if err != nil || data == nil {
		return nil
	}
	var record domain.IPEnrichment
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return &record
}

func (e *Engine) toMemory(ctx context.Context, record *domain.IPEnrichment) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheAccount, "ip:"+record.IP, data, e.ttl); err != nil {
		slog.Warn("enrichment memory write failed", "ip", record.IP, "error", err)
	}
}
