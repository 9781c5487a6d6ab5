package domain

import "time"

// Fraud pattern classifications attached to alerts.
const (
	PatternVPNAttack       = "vpn_attack"
	PatternDatacenterBot   = "datacenter_bot"
	PatternVelocitySpike   = "velocity_spike"
	PatternThresholdBreach = "threshold_breach"
)

// Alert is the payload produced when a click's fraud probability crosses
// an account's configured alert condition. The webhook collaborator
// consumes these from the alert topic.
type Alert struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	ClickID   string    `json:"clickId"`
	IP        string    `json:"ip"`
	Score     float64   `json:"score"`   // fraud probability 0..1
	Pattern   string    `json:"pattern"` // fraud pattern classification
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertCondition is a per-account configurable trigger expression.
// The expression is CEL over the scoring variables (probability,
// risk_score, is_vpn, is_hosting, risk_level, clicks_24h).
type AlertCondition struct {
	ID         string `json:"id"`
	AccountID  string `json:"accountId"`
	Expression string `json:"expression"`
	Enabled    bool   `json:"enabled"`
}

// DefaultAlertExpression is used for accounts with no configured
// condition.
const DefaultAlertExpression = `probability >= 0.8 || (probability >= 0.6 && is_vpn)`
