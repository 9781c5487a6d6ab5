package domain

import (
	"time"
)

// Model status values. Exactly one active model exists per account at a
// time; training produces a full replacement, never an incremental patch.
const (
	ModelStatusActive = "active"
	ModelStatusStale  = "stale"
)

// Which scorer produced a prediction.
const (
	ModelUsedTrained   = "trained"
	ModelUsedHeuristic = "heuristic"
)

// ScoringModel is a trained linear classifier for one account.
type ScoringModel struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`

	// Weights is ordered to match FeatureNames; its length must equal
	// FeatureCount for the model to be scoreable.
	Weights []float64 `json:"weights"`

	// Threshold is the decision boundary on the sigmoid output.
	Threshold float64 `json:"threshold"`

	Status    string    `json:"status"`
	TrainedAt time.Time `json:"trainedAt"`
}

// Prediction is the outcome of scoring a single click.
type Prediction struct {
	IsFraud          bool    `json:"isFraud"`
	FraudProbability float64 `json:"fraudProbability"` // 0..1
	Confidence       float64 `json:"confidence"`       // 0..100
	ModelUsed        string  `json:"modelUsed"`
}

// TrainingMetrics holds the confusion-matrix evaluation of a training
// run. Metrics are computed over the training set itself (in-sample, not
// held out). This inflates accuracy and is a known, documented limitation
// kept for dashboard parity; do not switch to a held-out split without
// product sign-off.
type TrainingMetrics struct {
	Samples        int     `json:"samples"`
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalseNegatives int     `json:"falseNegatives"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
}
