// Package alerting evaluates per-account CEL alert conditions over
// scoring results and fires alerts to the webhook topic.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/metrics"
	"github.com/clickshield/clickshield/internal/repository"
)

// Input carries the scoring outcome a condition is evaluated against.
type Input struct {
	Click      *domain.ClickEvent
	Prediction *domain.Prediction
	Enrichment *domain.IPEnrichment
	Clicks24h  int64
}

// Alerter compiles and evaluates per-account alert conditions. Compiled
// programs are cached by account and invalidated when the condition is
// replaced.
type Alerter struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]compiledCondition

	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

type compiledCondition struct {
	expression string
	program    cel.Program
}

// New creates an alerter. The bus may be nil, in which case alerts are
// persisted but not published.
func New(repo domain.Repository, bus domain.EventBus) (*Alerter, error) {
	env, err := cel.NewEnv(
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("is_vpn", cel.BoolType),
		cel.Variable("is_hosting", cel.BoolType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("clicks_24h", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &Alerter{
		env:      env,
		programs: make(map[string]compiledCondition),
		repo:     repo,
		bus:      bus,
		now:      time.Now,
	}, nil
}

// SetClock overrides the alerter's clock. Test hook.
func (a *Alerter) SetClock(now func() time.Time) {
	a.now = now
}

// ValidateExpression compiles an expression without caching it, for
// request validation before a condition is saved.
func (a *Alerter) ValidateExpression(expression string) error {
	_, err := a.compile(expression)
	return err
}

// Evaluate checks the account's alert condition against a scoring
// outcome and fires an alert when it holds. The fired alert (or nil) is
// returned. A broken stored expression falls back to the default
// condition rather than silencing alerts.
func (a *Alerter) Evaluate(ctx context.Context, accountID string, input *Input) (*domain.Alert, error) {
	program, err := a.programFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		// Condition exists but is disabled
		return nil, nil
	}

	out, _, err := program.Eval(a.activation(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating alert condition: %w", err)
	}
	triggered, ok := out.(types.Bool)
	if !ok || !bool(triggered) {
		return nil, nil
	}

	alert := &domain.Alert{
		ID:        uuid.New().String(),
		AccountID: accountID,
		ClickID:   input.Click.ID,
		IP:        input.Click.IP,
		Score:     input.Prediction.FraudProbability,
		Pattern:   classify(input),
		Active:    true,
		Timestamp: a.now().UTC(),
	}

	if err := a.repo.SaveAlert(ctx, accountID, alert); err != nil {
		return nil, fmt.Errorf("persisting alert: %w", err)
	}
	metrics.AlertsFired.WithLabelValues(alert.Pattern).Inc()

	if a.bus != nil {
		payload, err := json.Marshal(alert)
		if err == nil {
			err = a.bus.Publish(ctx, accountID, domain.TopicAlert, payload)
		}
		if err != nil {
			slog.Warn("alert publish failed",
				"account_id", accountID,
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
	return alert, nil
}

// ReplaceCondition validates, persists, and recompiles the account's
// condition.
func (a *Alerter) ReplaceCondition(ctx context.Context, accountID string, expression string, enabled bool) (*domain.AlertCondition, error) {
	if err := a.ValidateExpression(expression); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	cond := &domain.AlertCondition{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Expression: expression,
		Enabled:    enabled,
	}
	if err := a.repo.SaveAlertCondition(ctx, accountID, cond); err != nil {
		return nil, fmt.Errorf("persisting alert condition: %w", err)
	}

	a.mu.Lock()
	delete(a.programs, accountID)
	a.mu.Unlock()
	return cond, nil
}

// programFor returns the compiled program for the account's condition,
// compiling and caching it on first use. Returns (nil, nil) when the
// condition is disabled.
func (a *Alerter) programFor(ctx context.Context, accountID string) (cel.Program, error) {
	cond, err := a.repo.GetAlertCondition(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		cond = &domain.AlertCondition{
			AccountID:  accountID,
			Expression: domain.DefaultAlertExpression,
			Enabled:    true,
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading alert condition: %w", err)
	}
	if !cond.Enabled {
		return nil, nil
	}

	a.mu.RLock()
	cached, ok := a.programs[accountID]
	a.mu.RUnlock()
	if ok && cached.expression == cond.Expression {
		return cached.program, nil
	}

	program, err := a.compile(cond.Expression)
	if err != nil {
		slog.Error("stored alert condition no longer compiles, using default",
			"account_id", accountID,
			"error", err,
		)
		program, err = a.compile(domain.DefaultAlertExpression)
		if err != nil {
			return nil, fmt.Errorf("compiling default condition: %w", err)
		}
	}

	a.mu.Lock()
	a.programs[accountID] = compiledCondition{expression: cond.Expression, program: program}
	a.mu.Unlock()
	return program, nil
}

func (a *Alerter) compile(expression string) (cel.Program, error) {
	ast, issues := a.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling expression: %w", issues.Err())
	}
	program, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building program: %w", err)
	}
	return program, nil
}

// activation builds the CEL variable bindings. Enrichment is
// authoritative for the network flags; without it the click's own
// network hints fill in.
func (a *Alerter) activation(input *Input) map[string]any {
	vars := map[string]any{
		"probability": input.Prediction.FraudProbability,
		"risk_score":  int64(0),
		"is_vpn":      input.Click.IsVPN,
		"is_hosting":  input.Click.IsHosting,
		"risk_level":  string(domain.RiskSafe),
		"clicks_24h":  input.Clicks24h,
	}
	if input.Enrichment != nil {
		vars["risk_score"] = int64(input.Enrichment.RiskScore)
		vars["is_vpn"] = input.Enrichment.IsVPN || input.Enrichment.IsProxy || input.Enrichment.IsTor
		vars["is_hosting"] = input.Enrichment.IsHosting
		vars["risk_level"] = string(input.Enrichment.RiskLevel)
	}
	return vars
}

// velocityAlertFloor is the per-IP click count that marks a burst.
const velocityAlertFloor = 30

// classify names the dominant fraud pattern for an alert payload.
func classify(input *Input) string {
	vpn := input.Click.IsVPN
	hosting := input.Click.IsHosting
	if input.Enrichment != nil {
		vpn = input.Enrichment.IsVPN || input.Enrichment.IsProxy || input.Enrichment.IsTor
		hosting = input.Enrichment.IsHosting
	}
	if vpn {
		return domain.PatternVPNAttack
	}
	if hosting {
		return domain.PatternDatacenterBot
	}
	if input.Clicks24h >= velocityAlertFloor {
		return domain.PatternVelocitySpike
	}
	return domain.PatternThresholdBreach
}
