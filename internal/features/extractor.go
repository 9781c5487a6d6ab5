// Package features turns click events into numeric feature vectors for
// model training and scoring.
package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/repository"
)

// Vector slot indices, aligned with domain.FeatureNames.
const (
	idxHourOfDay = iota
	idxDayOfWeek
	idxIsVPN
	idxIsHosting
	idxRiskScore
	idxCountryRisk
	idxTimeSinceLastClick
	idxClicksFromIP24h
	idxDeviceTypeCode
)

// noPriorClickSentinel fills time_since_last_click_seconds when the IP
// has no earlier click for the account.
const noPriorClickSentinel = 9999

// clickHistoryWindow is the lookback for the per-IP click counter.
const clickHistoryWindow = 24 * time.Hour

var highRiskTier = map[string]bool{
	"CN": true, "RU": true, "VN": true, "ID": true,
	"PK": true, "BD": true, "NG": true,
}

var mediumRiskTier = map[string]bool{
	"IN": true, "BR": true, "UA": true,
	"TH": true, "PH": true, "MY": true,
}

// CountryRiskTier maps an ISO country code to its risk tier.
func CountryRiskTier(code string) int {
	switch {
	case highRiskTier[code]:
		return domain.CountryTierHigh
	case mediumRiskTier[code]:
		return domain.CountryTierMedium
	default:
		return domain.CountryTierDefault
	}
}

// DeviceCode maps a device type string to its numeric code.
func DeviceCode(deviceType string) int {
	switch strings.ToLower(deviceType) {
	case "mobile":
		return domain.DeviceMobile
	case "desktop":
		return domain.DeviceDesktop
	case "tablet":
		return domain.DeviceTablet
	default:
		return domain.DeviceOther
	}
}

// enricher is the slice of the enrichment engine the extractor needs.
type enricher interface {
	Enrich(ctx context.Context, ip string) *domain.IPEnrichment
}

// Extractor builds feature vectors from click events. Extract is pure
// and O(1); ExtractRealTime additionally consults the enrichment engine
// and the click history.
type Extractor struct {
	repo     domain.Repository
	enricher enricher
}

// NewExtractor creates a feature extractor. The enricher may be nil, in
// which case real-time extraction falls back to the click's own network
// hints.
func NewExtractor(repo domain.Repository, enricher enricher) *Extractor {
	return &Extractor{repo: repo, enricher: enricher}
}

// Extract computes the static features of a click: no I/O, no clock
// reads. History-dependent slots are filled with their sentinel or zero
// value. Timestamps are interpreted in UTC so the hour and weekday
// features do not depend on server locale.
func (e *Extractor) Extract(click *domain.ClickEvent) domain.FeatureVector {
	v := domain.NewFeatureVector()
	ts := click.Timestamp.UTC()

	v[idxHourOfDay] = float64(ts.Hour())
	v[idxDayOfWeek] = float64(ts.Weekday())
	v[idxIsVPN] = boolFeature(click.IsVPN)
	v[idxIsHosting] = boolFeature(click.IsHosting)
	v[idxRiskScore] = 0
	v[idxCountryRisk] = float64(CountryRiskTier(click.CountryCode))
	v[idxTimeSinceLastClick] = noPriorClickSentinel
	v[idxClicksFromIP24h] = 0
	v[idxDeviceTypeCode] = float64(DeviceCode(click.DeviceType))

	return v
}

// ExtractRealTime extends the static features with enrichment signals
// and click-history features. The two repository queries run
// concurrently; either failing fails the extraction, except a missing
// prior click, which yields the sentinel.
func (e *Extractor) ExtractRealTime(ctx context.Context, accountID string, click *domain.ClickEvent) (domain.FeatureVector, error) {
	v := e.Extract(click)

	if e.enricher != nil {
		rec := e.enricher.Enrich(ctx, click.IP)
		v[idxIsVPN] = boolFeature(rec.IsVPN || rec.IsProxy || rec.IsTor)
		v[idxIsHosting] = boolFeature(rec.IsHosting)
		v[idxRiskScore] = float64(rec.RiskScore)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		last, err := e.repo.LastClickFromIP(gctx, accountID, click.IP, click.Timestamp)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("last click lookup: %w", err)
		}
		v[idxTimeSinceLastClick] = click.Timestamp.Sub(last).Seconds()
		return nil
	})

	g.Go(func() error {
		count, err := e.repo.CountClicksFromIP(gctx, accountID, click.IP, click.Timestamp.Add(-clickHistoryWindow))
		if err != nil {
			return fmt.Errorf("click history count: %w", err)
		}
		v[idxClicksFromIP24h] = float64(count)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return v, nil
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
