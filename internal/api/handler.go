package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/alerting"
	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/enrich"
	"github.com/clickshield/clickshield/internal/model"
	"github.com/clickshield/clickshield/internal/optimize"
	"github.com/clickshield/clickshield/internal/repository"
)

// enrichBatchLimit caps one batch enrichment request. The gateway
// throttle makes larger batches take minutes anyway.
const enrichBatchLimit = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	enricher  *enrich.Engine
	predictor *model.Predictor
	trainer   *model.Trainer
	alerter   *alerting.Alerter
	dashboard *optimize.DashboardLoader
	version   string
	async     bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, enricher *enrich.Engine, predictor *model.Predictor, trainer *model.Trainer, alerter *alerting.Alerter, dashboard *optimize.DashboardLoader, version string, async bool) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		enricher:  enricher,
		predictor: predictor,
		trainer:   trainer,
		alerter:   alerter,
		dashboard: dashboard,
		version:   version,
		async:     async,
	}
}

// ScoreResponse is the response for synchronous POST /clicks.
type ScoreResponse struct {
	ClickID          string  `json:"clickId"`
	IsFraud          bool    `json:"isFraud"`
	FraudProbability float64 `json:"fraudProbability"`
	Confidence       float64 `json:"confidence"`
	ModelUsed        string  `json:"modelUsed"`
	Metadata         struct {
		TraceID  string `json:"traceId"`
		IngestMs int64  `json:"ingestMs"`
		TotalMs  int64  `json:"totalMs"`
		Version  string `json:"version"`
	} `json:"metadata"`
}

// IngestClick handles POST /clicks. In async mode the click is saved
// and published for the worker; in sync mode it is scored inline.
func (h *Handler) IngestClick(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	accountID := GetAccountID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.IP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ip is required",
		})
		return
	}

	click := req.ToClickEvent(accountID)
	click.ID = uuid.New().String()

	ingestMs := time.Since(start).Milliseconds()

	if err := h.repo.SaveClick(ctx, accountID, click); err != nil {
		slog.Error("failed to save click", "error", err)
		// Scoring still proceeds; history features degrade gracefully.
	}

	if h.async {
		payload, err := json.Marshal(click)
		if err == nil {
			err = h.bus.Publish(ctx, accountID, domain.TopicClickIngested, payload)
		}
		if err != nil {
			slog.Error("failed to publish click", "click_id", click.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue click",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"clickId": click.ID,
			"status":  "queued",
		})
		return
	}

	prediction, err := h.predictor.Predict(ctx, accountID, click)
	if err != nil {
		slog.Error("scoring failed", "click_id", click.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
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
	if err := h.repo.SaveScore(ctx, accountID, score); err != nil {
		slog.Error("failed to save score", "click_id", click.ID, "error", err)
	}

	h.evaluateAlert(ctx, accountID, click, prediction)

	resp := ScoreResponse{
		ClickID:          click.ID,
		IsFraud:          prediction.IsFraud,
		FraudProbability: prediction.FraudProbability,
		Confidence:       prediction.Confidence,
		ModelUsed:        prediction.ModelUsed,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.IngestMs = ingestMs
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// evaluateAlert runs the account's alert condition after a synchronous
// scoring. Failures are logged, never surfaced to the caller.
func (h *Handler) evaluateAlert(ctx context.Context, accountID string, click *domain.ClickEvent, prediction *domain.Prediction) {
	if h.alerter == nil {
		return
	}

	var enrichment *domain.IPEnrichment
	if h.enricher != nil {
		enrichment = h.enricher.Enrich(ctx, click.IP)
	}
	// The windowed cache counter is the fast velocity signal. It only
	// sees synchronously ingested clicks, so fall back to the durable
	// count when the cache is unavailable.
	var clicks24h int64
	if count, err := h.cache.IncrementCounter(ctx, accountID, "velocity:"+click.IP, 24*time.Hour); err == nil {
		clicks24h = count
	} else if count, err := h.repo.CountClicksFromIP(ctx, accountID, click.IP, click.Timestamp.Add(-24*time.Hour)); err == nil {
		clicks24h = count
	}

	if _, err := h.alerter.Evaluate(ctx, accountID, &alerting.Input{
		Click:      click,
		Prediction: prediction,
		Enrichment: enrichment,
		Clicks24h:  clicks24h,
	}); err != nil {
		slog.Error("alert evaluation failed", "click_id", click.ID, "error", err)
	}
}

// GetClick retrieves a click by ID.
func (h *Handler) GetClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)
	clickID := chi.URLParam(r, "id")

	click, err := h.repo.GetClick(ctx, accountID, clickID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "click not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get click", "id", clickID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load click",
		})
		return
	}

	writeJSON(w, http.StatusOK, click)
}

// EnrichIP handles GET /enrich/{ip}.
func (h *Handler) EnrichIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	record := h.enricher.Enrich(r.Context(), ip)
	writeJSON(w, http.StatusOK, record)
}

// EnrichBatchRequest is the request body for POST /enrich/batch.
type EnrichBatchRequest struct {
	IPs []string `json:"ips"`
}

// EnrichBatch handles POST /enrich/batch.
func (h *Handler) EnrichBatch(w http.ResponseWriter, r *http.Request) {
	var req EnrichBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.IPs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ips is required",
		})
		return
	}
	if len(req.IPs) > enrichBatchLimit {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "too many ips in one batch",
		})
		return
	}

	records := h.enricher.EnrichBatch(r.Context(), req.IPs)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// Dashboard handles GET /dashboard?window=24h.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid window duration",
			})
			return
		}
		window = parsed
	}

	data, err := h.dashboard.Load(ctx, accountID, window)
	if err != nil {
		slog.Error("dashboard load failed", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load dashboard",
		})
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// TrainModel handles POST /models/train.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	result, err := h.trainer.Train(ctx, accountID)
	if err != nil {
		slog.Error("training failed", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training failed",
		})
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"trained": false,
			"reason":  "not enough labeled clicks",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trained": true,
		"model":   result.Model,
		"metrics": result.Metrics,
	})
}

// GetActiveModel handles GET /models/active.
func (h *Handler) GetActiveModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	active, err := h.repo.GetActiveModel(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no trained model for account",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get active model", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load model",
		})
		return
	}

	writeJSON(w, http.StatusOK, active)
}

// ListAlerts handles GET /alerts?since=24h.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	lookback := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid since duration",
			})
			return
		}
		lookback = parsed
	}

	alerts, err := h.repo.ListAlerts(ctx, accountID, time.Now().UTC().Add(-lookback))
	if err != nil {
		slog.Error("failed to list alerts", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlertCondition handles GET /alerts/condition. Accounts with no
// stored condition see the default expression.
func (h *Handler) GetAlertCondition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	cond, err := h.repo.GetAlertCondition(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, &domain.AlertCondition{
			AccountID:  accountID,
			Expression: domain.DefaultAlertExpression,
			Enabled:    true,
		})
		return
	}
	if err != nil {
		slog.Error("failed to get alert condition", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alert condition",
		})
		return
	}

	writeJSON(w, http.StatusOK, cond)
}

// AlertConditionRequest is the request body for PUT /alerts/condition.
type AlertConditionRequest struct {
	Expression string `json:"expression"`
	Enabled    bool   `json:"enabled"`
}

// PutAlertCondition handles PUT /alerts/condition.
func (h *Handler) PutAlertCondition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)

	var req AlertConditionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expression is required",
		})
		return
	}

	cond, err := h.alerter.ReplaceCondition(ctx, accountID, req.Expression, req.Enabled)
	if errors.Is(err, repository.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		slog.Error("failed to save alert condition", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save alert condition",
		})
		return
	}

	writeJSON(w, http.StatusOK, cond)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
