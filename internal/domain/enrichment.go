package domain

import (
	"time"
)

// RiskLevel is the discretized bucket of a risk score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a risk score to its level.
// Fixed thresholds: >=70 critical, >=50 high, >=30 medium, >=10 low.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	case score >= 10:
		return RiskLow
	default:
		return RiskSafe
	}
}

// IPEnrichment is the enrichment record for a single IP address.
// RiskScore is always derivable from the flags, country, and ISP via the
// fixed point table in the enrichment engine; the two are never stored
// inconsistently.
type IPEnrichment struct {
	IP string `json:"ip"`

	// Geo attributes ("Unknown" when the lookup degraded)
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`

	// Network attributes
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
	ASN          string `json:"asn"`

	// Classification flags
	IsVPN     bool `json:"isVpn"`
	IsProxy   bool `json:"isProxy"`
	IsHosting bool `json:"isHosting"`
	IsTor     bool `json:"isTor"`

	RiskScore int       `json:"riskScore"` // 0..100
	RiskLevel RiskLevel `json:"riskLevel"`

	EnrichedAt time.Time `json:"enrichedAt"`
}

// Fresh reports whether the record is within the freshness horizon.
func (e *IPEnrichment) Fresh(now time.Time, horizon time.Duration) bool {
	return now.Sub(e.EnrichedAt) < horizon
}

// GeoRecord is the raw result of a geo/ISP provider lookup.
type GeoRecord struct {
	Country      string  `json:"country"`
	CountryCode  string  `json:"countryCode"`
	Region       string  `json:"region"`
	RegionName   string  `json:"regionName"`
	City         string  `json:"city"`
	Zip          string  `json:"zip"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	Timezone     string  `json:"timezone"`
	ISP          string  `json:"isp"`
	Organization string  `json:"org"`
	ASN          string  `json:"as"`
	ASName       string  `json:"asname"`
}

// LookupSource identifies how a GeoResult was produced.
type LookupSource string

const (
	// SourceProvider means the record came from the external provider.
	SourceProvider LookupSource = "provider"

	// SourceFallback means the lookup degraded to the default record
	// (invalid input, throttled-out timeout, transport or logical failure).
	SourceFallback LookupSource = "fallback"
)

// GeoResult carries a lookup outcome with its degradation state made
// explicit, so callers never need a failure branch: a fallback result is
// a usable default record.
type GeoResult struct {
	Record GeoRecord
	Source LookupSource
}

// DefaultGeoRecord returns the record used when a lookup cannot be
// performed or fails.
func DefaultGeoRecord() GeoRecord {
	return GeoRecord{
		Country:     "Unknown",
		CountryCode: "",
		Region:      "Unknown",
		City:        "Unknown",
	}
}
