package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/features"
	"github.com/clickshield/clickshield/internal/metrics"
	"github.com/clickshield/clickshield/internal/repository"
)

// ErrFeatureMismatch is returned when a model's weight vector and the
// extracted feature vector disagree in length. Scoring must fail fast
// here rather than silently misalign weights against features.
var ErrFeatureMismatch = errors.New("model weight count does not match feature count")

// Heuristic fallback point values, applied when an account has no
// trained model.
const (
	heuristicVPNPoints       = 30
	heuristicHostingPoints   = 25
	heuristicRiskScorePoints = 30
	heuristicNightPoints     = 15
	heuristicFraudThreshold  = 50

	heuristicRiskScoreFloor = 70
	heuristicNightEndHour   = 5
)

// Predictor scores click events with the account's active model, or the
// fixed-weight heuristic when no model exists.
type Predictor struct {
	repo      domain.Repository
	extractor *features.Extractor
}

// NewPredictor creates a predictor.
func NewPredictor(repo domain.Repository, extractor *features.Extractor) *Predictor {
	return &Predictor{repo: repo, extractor: extractor}
}

// Predict scores a click. Feature extraction degrades to static
// features when the history queries fail; scoring itself never blocks
// ingestion on anything but a feature/weight length mismatch.
func (p *Predictor) Predict(ctx context.Context, accountID string, click *domain.ClickEvent) (*domain.Prediction, error) {
	vector, err := p.extractor.ExtractRealTime(ctx, accountID, click)
	if err != nil {
		slog.Warn("real-time feature extraction degraded to static features",
			"account_id", accountID,
			"click_id", click.ID,
			"error", err,
		)
		vector = p.extractor.Extract(click)
	}

	active, err := p.repo.GetActiveModel(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.ScoresTotal.WithLabelValues(domain.ModelUsedHeuristic).Inc()
		return heuristicPredict(vector), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active model: %w", err)
	}

	if len(active.Weights) != len(vector) {
		return nil, fmt.Errorf("%w: %d weights, %d features",
			ErrFeatureMismatch, len(active.Weights), len(vector))
	}

	probability := sigmoid(dot(active.Weights, vector))
	metrics.ScoresTotal.WithLabelValues(domain.ModelUsedTrained).Inc()
	return &domain.Prediction{
		IsFraud:          probability > active.Threshold,
		FraudProbability: probability,
		Confidence:       confidence(probability),
		ModelUsed:        domain.ModelUsedTrained,
	}, nil
}

// heuristicPredict applies the fixed point table: VPN, hosting, a high
// enrichment risk score, and night-time hours each add points; the total
// over the threshold marks the click as fraud.
func heuristicPredict(v domain.FeatureVector) *domain.Prediction {
	named := v.Named()

	points := 0
	if named[domain.FeatIsVPN] == 1 {
		points += heuristicVPNPoints
	}
	if named[domain.FeatIsHosting] == 1 {
		points += heuristicHostingPoints
	}
	if named[domain.FeatRiskScore] > heuristicRiskScoreFloor {
		points += heuristicRiskScorePoints
	}
	hour := named[domain.FeatHourOfDay]
	if hour >= 0 && hour <= heuristicNightEndHour {
		points += heuristicNightPoints
	}

	probability := float64(points) / 100
	return &domain.Prediction{
		IsFraud:          points >= heuristicFraudThreshold,
		FraudProbability: probability,
		Confidence:       confidence(probability),
		ModelUsed:        domain.ModelUsedHeuristic,
	}
}

// confidence measures distance from the decision midpoint, scaled to
// 0..100.
func confidence(probability float64) float64 {
	c := probability - 0.5
	if c < 0 {
		c = -c
	}
	return c * 2 * 100
}
