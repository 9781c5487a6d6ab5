package domain

// Feature names in canonical order. The order is fixed and identical
// between training and inference: a model trained against this layout
// must never be scored against a vector of different length.
const (
	FeatHourOfDay          = "hour_of_day"
	FeatDayOfWeek          = "day_of_week"
	FeatIsVPN              = "is_vpn"
	FeatIsHosting          = "is_hosting"
	FeatRiskScore          = "risk_score"
	FeatCountryRisk        = "country_risk"
	FeatTimeSinceLastClick = "time_since_last_click_seconds"
	FeatClicksFromIP24h    = "clicks_from_ip_24h"
	FeatDeviceTypeCode     = "device_type_code"
)

var featureNames = []string{
	FeatHourOfDay,
	FeatDayOfWeek,
	FeatIsVPN,
	FeatIsHosting,
	FeatRiskScore,
	FeatCountryRisk,
	FeatTimeSinceLastClick,
	FeatClicksFromIP24h,
	FeatDeviceTypeCode,
}

// FeatureNames returns the canonical feature order.
func FeatureNames() []string {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return names
}

// FeatureCount is the fixed length of a feature vector.
func FeatureCount() int {
	return len(featureNames)
}

// FeatureVector is an ordered vector of numeric features, aligned with
// FeatureNames.
type FeatureVector []float64

// NewFeatureVector returns a zeroed vector of the canonical length.
func NewFeatureVector() FeatureVector {
	return make(FeatureVector, len(featureNames))
}

// Named returns the vector as a name->value map, for alert conditions
// and debugging. The map loses ordering; scoring always uses the slice.
func (v FeatureVector) Named() map[string]float64 {
	m := make(map[string]float64, len(v))
	for i, val := range v {
		if i < len(featureNames) {
			m[featureNames[i]] = val
		}
	}
	return m
}

// Device type codes, a fixed small enumeration.
const (
	DeviceMobile  = 0
	DeviceDesktop = 1
	DeviceTablet  = 2
	DeviceOther   = 3
)

// Country risk tiers.
const (
	CountryTierDefault = 1
	CountryTierMedium  = 2
	CountryTierHigh    = 3
)
