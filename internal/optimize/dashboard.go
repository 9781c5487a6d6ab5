package optimize

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clickshield/clickshield/internal/domain"
)

// DashboardData is the composite of the account metrics the dashboard
// renders on every load.
type DashboardData struct {
	ClickCount   int64     `json:"clickCount"`
	FraudCount   int64     `json:"fraudCount"`
	RiskIndex    float64   `json:"riskIndex"` // 0..100
	ActiveAlerts int64     `json:"activeAlerts"`
	CostMicros   int64     `json:"costMicros"`
	Window       string    `json:"window"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// DashboardLoader aggregates the dashboard metrics. The five underlying
// reads are independent, so they run concurrently; the joined composite
// is cached under its own key and TTL.
type DashboardLoader struct {
	repo  domain.Repository
	cache *QueryCache
	ttl   time.Duration
	now   func() time.Time
}

// NewDashboardLoader creates a dashboard loader with the given
// composite-cache TTL.
func NewDashboardLoader(repo domain.Repository, cache *QueryCache, ttl time.Duration) *DashboardLoader {
	return &DashboardLoader{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the loader's clock. Test hook.
func (l *DashboardLoader) SetClock(now func() time.Time) {
	l.now = now
}

// Load returns the account's dashboard composite for the trailing
// window, served from cache when fresh.
func (l *DashboardLoader) Load(ctx context.Context, accountID string, window time.Duration) (*DashboardData, error) {
	key := fmt.Sprintf("dashboard:%s", window)
	return GetCached(ctx, l.cache, accountID, key, l.ttl, func(ctx context.Context) (*DashboardData, error) {
		return l.fetch(ctx, accountID, window)
	})
}

func (l *DashboardLoader) fetch(ctx context.Context, accountID string, window time.Duration) (*DashboardData, error) {
	now := l.now().UTC()
	since := now.Add(-window)
	data := &DashboardData{
		Window:      window.String(),
		GeneratedAt: now,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		count, err := l.repo.CountClicksSince(gctx, accountID, since)
		if err != nil {
			return fmt.Errorf("click count: %w", err)
		}
		data.ClickCount = count
		return nil
	})
	g.Go(func() error {
		count, err := l.repo.CountFraudScores(gctx, accountID, since)
		if err != nil {
			return fmt.Errorf("fraud count: %w", err)
		}
		data.FraudCount = count
		return nil
	})
	g.Go(func() error {
		avg, err := l.repo.AverageFraudProbability(gctx, accountID, since)
		if err != nil {
			return fmt.Errorf("risk index: %w", err)
		}
		data.RiskIndex = avg * 100
		return nil
	})
	g.Go(func() error {
		count, err := l.repo.CountActiveAlerts(gctx, accountID)
		if err != nil {
			return fmt.Errorf("active alerts: %w", err)
		}
		data.ActiveAlerts = count
		return nil
	})
	g.Go(func() error {
		sum, err := l.repo.SumClickCost(gctx, accountID, since)
		if err != nil {
			return fmt.Errorf("cost sum: %w", err)
		}
		data.CostMicros = sum
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}
