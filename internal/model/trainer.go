// Package model implements logistic-regression training and scoring of
// click events, with a fixed-weight heuristic fallback for accounts that
// have no trained model yet.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/features"
	"github.com/clickshield/clickshield/internal/metrics"
)

// TrainResult pairs a persisted model with its in-sample evaluation.
type TrainResult struct {
	Model   *domain.ScoringModel   `json:"model"`
	Metrics domain.TrainingMetrics `json:"metrics"`
}

// Trainer fits a per-account logistic-regression model over labeled
// historical clicks.
type Trainer struct {
	repo      domain.Repository
	extractor *features.Extractor
	cfg       domain.ScoringConfig
	now       func() time.Time
}

// NewTrainer creates a trainer.
func NewTrainer(repo domain.Repository, extractor *features.Extractor, cfg domain.ScoringConfig) *Trainer {
	return &Trainer{
		repo:      repo,
		extractor: extractor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the trainer's clock. Test hook.
func (t *Trainer) SetClock(now func() time.Time) {
	t.now = now
}

// Train fits a model over the account's labeled clicks and persists it
// as the active model, demoting any prior one. Fewer labeled clicks than
// the training floor is not an error: Train returns (nil, nil) and the
// caller must check for the no-op.
//
// Gradient descent runs a fixed iteration count at a fixed learning
// rate, updating weights sample by sample. The repository returns
// samples in (timestamp, id) order, so identical data always produces
// identical weights.
func (t *Trainer) Train(ctx context.Context, accountID string) (*TrainResult, error) {
	clicks, err := t.repo.ListLabeledClicks(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading labeled clicks: %w", err)
	}
	if len(clicks) < t.cfg.TrainingMinSamples {
		slog.Info("skipping training, not enough labeled clicks",
			"account_id", accountID,
			"labeled", len(clicks),
			"floor", t.cfg.TrainingMinSamples,
		)
		return nil, nil
	}

	vectors := make([]domain.FeatureVector, len(clicks))
	labels := make([]float64, len(clicks))
	for i, click := range clicks {
		vectors[i] = t.extractor.Extract(click)
		if click.IsFraudLabeled() {
			labels[i] = 1
		}
	}

	weights := descend(vectors, labels, t.cfg.Iterations, t.cfg.LearningRate)
	trained := evaluate(vectors, labels, weights, t.cfg.Threshold)

	model := &domain.ScoringModel{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Weights:   weights,
		Threshold: t.cfg.Threshold,
		Status:    domain.ModelStatusActive,
		TrainedAt: t.now().UTC(),
	}
	if err := t.repo.SaveModel(ctx, accountID, model); err != nil {
		return nil, fmt.Errorf("persisting model: %w", err)
	}

	slog.Info("model trained",
		"account_id", accountID,
		"samples", trained.Samples,
		"accuracy", trained.Accuracy,
		"precision", trained.Precision,
		"recall", trained.Recall,
	)
	metrics.TrainingsTotal.Inc()

	return &TrainResult{Model: model, Metrics: trained}, nil
}

// MaybeRetrain retrains only when the account has enough fresh click
// volume in the trailing window. A skip is (nil, nil), same as the
// not-enough-data outcome of Train.
func (t *Trainer) MaybeRetrain(ctx context.Context, accountID string) (*TrainResult, error) {
	since := t.now().UTC().Add(-t.cfg.RetrainWindow)
	count, err := t.repo.CountClicksSince(ctx, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("counting recent clicks: %w", err)
	}
	if count < int64(t.cfg.RetrainMinClicks) {
		slog.Debug("skipping retrain, insufficient fresh volume",
			"account_id", accountID,
			"recent_clicks", count,
			"floor", t.cfg.RetrainMinClicks,
		)
		return nil, nil
	}
	return t.Train(ctx, accountID)
}

// descend runs batch gradient descent with per-sample updates. The
// update is applied immediately after each sample, not accumulated over
// the batch; results depend on sample order, which the caller fixes.
func descend(vectors []domain.FeatureVector, labels []float64, iterations int, lr float64) []float64 {
	weights := make([]float64, domain.FeatureCount())
	for iter := 0; iter < iterations; iter++ {
		for i, x := range vectors {
			predicted := sigmoid(dot(weights, x))
			diff := labels[i] - predicted
			for j := range weights {
				weights[j] += lr * diff * x[j]
			}
		}
	}
	return weights
}

// evaluate computes the confusion matrix over the training samples
// themselves. In-sample metrics overstate real performance; see
// domain.TrainingMetrics.
func evaluate(vectors []domain.FeatureVector, labels []float64, weights []float64, threshold float64) domain.TrainingMetrics {
	m := domain.TrainingMetrics{Samples: len(vectors)}
	for i, x := range vectors {
		predicted := sigmoid(dot(weights, x)) > threshold
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}

	if m.Samples > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(m.Samples)
	}
	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	return m
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(w []float64, x domain.FeatureVector) float64 {
	sum := 0.0
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}
