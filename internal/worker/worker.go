// Package worker provides async click scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/alerting"
	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/enrich"
	"github.com/clickshield/clickshield/internal/model"
)

// Worker consumes ingested clicks from the EventBus, scores them,
// persists the score, and runs alert evaluation. It also drives the
// periodic retrain check for its accounts.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	enricher  *enrich.Engine
	predictor *model.Predictor
	trainer   *model.Trainer
	alerter   *alerting.Alerter

	subscriptions []domain.Subscription
	accounts      []string
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// AccountIDs is the list of accounts to process (empty = global
	// subscription, used in dev and tests).
	AccountIDs []string

	// RetrainInterval is how often the retrain policy check runs per
	// account. Zero disables the retrain loop.
	RetrainInterval time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, enricher *enrich.Engine, predictor *model.Predictor, trainer *model.Trainer, alerter *alerting.Alerter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		enricher:  enricher,
		predictor: predictor,
		trainer:   trainer,
		alerter:   alerter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing clicks for the given accounts.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.AccountIDs) == 0 {
		if err := w.subscribeAccount("_global"); err != nil {
			return err
		}
	} else {
		for _, accountID := range cfg.AccountIDs {
			if err := w.subscribeAccount(accountID); err != nil {
				slog.Error("failed to start worker for account",
					"account_id", accountID,
					"error", err,
				)
				continue
			}
		}
	}
	w.accounts = cfg.AccountIDs

	if cfg.RetrainInterval > 0 && w.trainer != nil {
		w.wg.Add(1)
		go w.retrainLoop(cfg.RetrainInterval)
	}

	slog.Info("workers started",
		"account_count", len(cfg.AccountIDs),
		"retrain_interval", cfg.RetrainInterval,
	)
	return nil
}

func (w *Worker) subscribeAccount(accountID string) error {
	sub, err := w.bus.Subscribe(w.ctx, accountID, domain.TopicClickIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processClick(ctx, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("account worker started",
		"account_id", accountID,
		"topic", domain.TopicClickIngested,
	)
	return nil
}

// processClick scores one ingested click through the pipeline.
func (w *Worker) processClick(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var click domain.ClickEvent
	if err := json.Unmarshal(msg.Payload, &click); err != nil {
		slog.Error("failed to parse click message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	accountID := click.AccountID
	if accountID == "" {
		accountID = msg.AccountID
	}

	prediction, err := w.predictor.Predict(ctx, accountID, &click)
	if err != nil {
		slog.Error("scoring failed",
			"click_id", click.ID,
			"account_id", accountID,
			"error", err,
		)
		return err
	}

	score := &domain.Score{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		ClickID:          click.ID,
		IP:               click.IP,
		IsFraud:          prediction.IsFraud,
		FraudProbability: prediction.FraudProbability,
		Confidence:       prediction.Confidence,
		ModelUsed:        prediction.ModelUsed,
		Timestamp:        time.Now().UTC(),
	}
	if err := w.repo.SaveScore(ctx, accountID, score); err != nil {
		slog.Error("failed to save score",
			"click_id", click.ID,
			"error", err,
		)
	}

	if payload, err := json.Marshal(score); err == nil {
		if err := w.bus.Publish(ctx, accountID, domain.TopicScoreCompleted, payload); err != nil {
			slog.Error("failed to publish score",
				"click_id", click.ID,
				"error", err,
			)
		}
	}

	w.evaluateAlert(ctx, accountID, &click, prediction)

	slog.Info("click scored",
		"click_id", click.ID,
		"account_id", accountID,
		"is_fraud", prediction.IsFraud,
		"probability", prediction.FraudProbability,
		"model", prediction.ModelUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// evaluateAlert runs the account's alert condition. Alert failures are
// logged, never propagated: a broken alert path must not nack the click.
func (w *Worker) evaluateAlert(ctx context.Context, accountID string, click *domain.ClickEvent, prediction *domain.Prediction) {
	if w.alerter == nil {
		return
	}

	var enrichment *domain.IPEnrichment
	if w.enricher != nil {
		enrichment = w.enricher.Enrich(ctx, click.IP)
	}

	var clicks24h int64
	if count, err := w.repo.CountClicksFromIP(ctx, accountID, click.IP, click.Timestamp.Add(-24*time.Hour)); err == nil {
		clicks24h = count
	}

	alert, err := w.alerter.Evaluate(ctx, accountID, &alerting.Input{
		Click:      click,
		Prediction: prediction,
		Enrichment: enrichment,
		Clicks24h:  clicks24h,
	})
	if err != nil {
		slog.Error("alert evaluation failed",
			"click_id", click.ID,
			"account_id", accountID,
			"error", err,
		)
		return
	}
	if alert != nil {
		slog.Info("alert fired",
			"alert_id", alert.ID,
			"account_id", accountID,
			"pattern", alert.Pattern,
			"score", alert.Score,
		)
	}
}

// retrainLoop runs the retrain policy check for every account on a
// fixed interval.
func (w *Worker) retrainLoop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			for _, accountID := range w.accounts {
				result, err := w.trainer.MaybeRetrain(w.ctx, accountID)
				if err != nil {
					slog.Error("retrain check failed",
						"account_id", accountID,
						"error", err,
					)
					continue
				}
				if result != nil {
					slog.Info("model retrained",
						"account_id", accountID,
						"samples", result.Metrics.Samples,
						"accuracy", result.Metrics.Accuracy,
					)
				}
			}
		}
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
