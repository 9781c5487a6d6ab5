package domain

import (
	"time"
)

// ClickEvent represents an ad-network click ingested for scoring.
// The scoring core treats click events as read-only input; they are
// never mutated after ingestion.
type ClickEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`

	// Source attributes
	IP          string `json:"ip"`
	DeviceType  string `json:"deviceType"`  // "mobile", "desktop", "tablet", or other
	CountryCode string `json:"countryCode"` // ISO 3166-1 alpha-2
	UserAgent   string `json:"userAgent,omitempty"`
	CampaignID  string `json:"campaignId,omitempty"`

	// Cost in micro-currency units (1e-6 of the account currency).
	CostMicros int64 `json:"costMicros"`

	// Network hints supplied by the ad network, if any. The enrichment
	// engine computes its own flags; these are only used as feature inputs
	// when enrichment is unavailable.
	IsVPN     bool `json:"isVpn"`
	IsHosting bool `json:"isHosting"`

	// FraudLabel is set when a fraud-detection record exists for this
	// click. Used as the training label; nil means unlabeled.
	FraudLabel *bool `json:"fraudLabel,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Labeled reports whether the click carries a training label.
func (c *ClickEvent) Labeled() bool {
	return c.FraudLabel != nil
}

// IsFraudLabeled reports the label value, false when unlabeled.
func (c *ClickEvent) IsFraudLabeled() bool {
	return c.FraudLabel != nil && *c.FraudLabel
}

// ClickRequest is the API request payload for click ingestion.
type ClickRequest struct {
	IP          string `json:"ip" validate:"required"`
	DeviceType  string `json:"deviceType"`
	CountryCode string `json:"countryCode"`
	UserAgent   string `json:"userAgent,omitempty"`
	CampaignID  string `json:"campaignId,omitempty"`
	CostMicros  int64  `json:"costMicros"`
}

// ToClickEvent converts a request to a ClickEvent domain object.
func (r *ClickRequest) ToClickEvent(accountID string) *ClickEvent {
	now := time.Now().UTC()
	return &ClickEvent{
		AccountID:   accountID,
		IP:          r.IP,
		DeviceType:  r.DeviceType,
		CountryCode: r.CountryCode,
		UserAgent:   r.UserAgent,
		CampaignID:  r.CampaignID,
		CostMicros:  r.CostMicros,
		Timestamp:   now,
		CreatedAt:   now,
	}
}

// Score is the persisted outcome of scoring a single click.
type Score struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"accountId"`
	ClickID          string    `json:"clickId"`
	IP               string    `json:"ip"`
	IsFraud          bool      `json:"isFraud"`
	FraudProbability float64   `json:"fraudProbability"`
	Confidence       float64   `json:"confidence"`
	ModelUsed        string    `json:"modelUsed"` // "trained" or "heuristic"
	Timestamp        time.Time `json:"timestamp"`
}
