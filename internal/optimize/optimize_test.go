package optimize

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/cache"
	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/optimize-test.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

type payload struct {
	Value string `json:"value"`
	N     int    `json:"n"`
}

func TestGetCached(t *testing.T) {
	ctx := context.Background()

	t.Run("ComputeOnceWithinTTL", func(t *testing.T) {
		q := NewQueryCache(cache.NewFIFOCache(100))
		var calls int32
		compute := func(ctx context.Context) (payload, error) {
			atomic.AddInt32(&calls, 1)
			return payload{Value: "v", N: 7}, nil
		}

		first, err := GetCached(ctx, q, "acct-1", "shape:param", 5*time.Second, compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := GetCached(ctx, q, "acct-1", "shape:param", 5*time.Second, compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("expected compute invoked exactly once, got %d", got)
		}
		if first != second {
			t.Errorf("cached value differs: %+v vs %+v", first, second)
		}
	})

	t.Run("ExpiryTriggersRecompute", func(t *testing.T) {
		backend := cache.NewFIFOCache(100)
		clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		backend.SetClock(func() time.Time { return clock })
		q := NewQueryCache(backend)

		var calls int32
		compute := func(ctx context.Context) (payload, error) {
			return payload{N: int(atomic.AddInt32(&calls, 1))}, nil
		}

		GetCached(ctx, q, "acct-1", "shape:k", 5*time.Second, compute)
		clock = clock.Add(6 * time.Second)
		v, err := GetCached(ctx, q, "acct-1", "shape:k", 5*time.Second, compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.N != 2 {
			t.Errorf("expected recompute after expiry, got value %d", v.N)
		}
	})

	t.Run("ComputeErrorNotCached", func(t *testing.T) {
		q := NewQueryCache(cache.NewFIFOCache(100))
		var calls int32
		compute := func(ctx context.Context) (payload, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return payload{}, errors.New("downstream unavailable")
			}
			return payload{Value: "recovered"}, nil
		}

		if _, err := GetCached(ctx, q, "acct-1", "shape:k", time.Minute, compute); err == nil {
			t.Fatal("expected first call to fail")
		}
		v, err := GetCached(ctx, q, "acct-1", "shape:k", time.Minute, compute)
		if err != nil {
			t.Fatalf("expected second call to recover: %v", err)
		}
		if v.Value != "recovered" {
			t.Errorf("expected recomputed value, got %+v", v)
		}
	})

	t.Run("CorruptEntryIsMiss", func(t *testing.T) {
		backend := cache.NewFIFOCache(100)
		q := NewQueryCache(backend)
		if err := backend.Set(ctx, "acct-1", "shape:k", []byte("{not json"), time.Minute); err != nil {
			t.Fatalf("failed to plant entry: %v", err)
		}

		v, err := GetCached(ctx, q, "acct-1", "shape:k", time.Minute, func(ctx context.Context) (payload, error) {
			return payload{Value: "fresh"}, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Value != "fresh" {
			t.Errorf("expected recompute over corrupt entry, got %+v", v)
		}
	})

	t.Run("InvalidateForcesRecompute", func(t *testing.T) {
		q := NewQueryCache(cache.NewFIFOCache(100))
		var calls int32
		compute := func(ctx context.Context) (payload, error) {
			return payload{N: int(atomic.AddInt32(&calls, 1))}, nil
		}

		GetCached(ctx, q, "acct-1", "shape:k", time.Minute, compute)
		if err := q.Invalidate(ctx, "acct-1", "shape:k"); err != nil {
			t.Fatalf("invalidate failed: %v", err)
		}
		v, _ := GetCached(ctx, q, "acct-1", "shape:k", time.Minute, compute)
		if v.N != 2 {
			t.Errorf("expected recompute after invalidation, got %d", v.N)
		}
	})

	t.Run("AccountIsolation", func(t *testing.T) {
		q := NewQueryCache(cache.NewFIFOCache(100))
		var calls int32
		compute := func(ctx context.Context) (payload, error) {
			return payload{N: int(atomic.AddInt32(&calls, 1))}, nil
		}

		a, _ := GetCached(ctx, q, "acct-1", "shape:k", time.Minute, compute)
		b, _ := GetCached(ctx, q, "acct-2", "shape:k", time.Minute, compute)
		if a.N == b.N {
			t.Error("expected separate cache entries per account")
		}
	})
}

func TestDashboardLoader(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	q := NewQueryCache(cache.NewFIFOCache(100))
	loader := NewDashboardLoader(repo, q, time.Minute)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	loader.SetClock(func() time.Time { return now })

	// Three clicks in the window, one outside it.
	for i, age := range []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour, 48 * time.Hour} {
		click := &domain.ClickEvent{
			ID:          fmt.Sprintf("click-%d", i),
			AccountID:   "acct-1",
			IP:          "203.0.113.5",
			DeviceType:  "mobile",
			CountryCode: "US",
			CostMicros:  1_500_000,
			Timestamp:   now.Add(-age),
			CreatedAt:   now.Add(-age),
		}
		if err := repo.SaveClick(ctx, "acct-1", click); err != nil {
			t.Fatalf("failed to seed click: %v", err)
		}
	}
	for i, prob := range []float64{0.9, 0.3} {
		score := &domain.Score{
			ID:               uuid.New().String(),
			AccountID:        "acct-1",
			ClickID:          fmt.Sprintf("click-%d", i),
			IP:               "203.0.113.5",
			IsFraud:          prob > 0.5,
			FraudProbability: prob,
			ModelUsed:        domain.ModelUsedHeuristic,
			Timestamp:        now.Add(-time.Hour),
		}
		if err := repo.SaveScore(ctx, "acct-1", score); err != nil {
			t.Fatalf("failed to seed score: %v", err)
		}
	}
	alert := &domain.Alert{
		ID:        uuid.New().String(),
		AccountID: "acct-1",
		ClickID:   "click-0",
		IP:        "203.0.113.5",
		Score:     0.9,
		Pattern:   domain.PatternVPNAttack,
		Active:    true,
		Timestamp: now.Add(-time.Hour),
	}
	if err := repo.SaveAlert(ctx, "acct-1", alert); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}

	data, err := loader.Load(ctx, "acct-1", 24*time.Hour)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if data.ClickCount != 3 {
		t.Errorf("expected 3 clicks in window, got %d", data.ClickCount)
	}
	if data.FraudCount != 1 {
		t.Errorf("expected 1 fraud score, got %d", data.FraudCount)
	}
	if data.RiskIndex < 59 || data.RiskIndex > 61 {
		t.Errorf("expected risk index ~60, got %v", data.RiskIndex)
	}
	if data.ActiveAlerts != 1 {
		t.Errorf("expected 1 active alert, got %d", data.ActiveAlerts)
	}
	if data.CostMicros != 4_500_000 {
		t.Errorf("expected cost 4.5M micros, got %d", data.CostMicros)
	}

	// Within the composite TTL, later writes are not reflected.
	extra := &domain.ClickEvent{
		ID:        "click-late",
		AccountID: "acct-1",
		IP:        "203.0.113.5",
		Timestamp: now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Minute),
	}
	if err := repo.SaveClick(ctx, "acct-1", extra); err != nil {
		t.Fatalf("failed to save click: %v", err)
	}
	cached, err := loader.Load(ctx, "acct-1", 24*time.Hour)
	if err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if cached.ClickCount != 3 {
		t.Errorf("expected cached composite, got click count %d", cached.ClickCount)
	}
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("PreservesInputOrder", func(t *testing.T) {
		items := []int{5, 3, 8, 1, 9, 2, 7}
		results, errs := ProcessBatch(ctx, items, 3, 0, func(ctx context.Context, n int) (int, error) {
			return n * 10, nil
		})
		for i, n := range items {
			if errs[i] != nil {
				t.Fatalf("item %d: unexpected error %v", i, errs[i])
			}
			if results[i] != n*10 {
				t.Errorf("item %d: expected %d, got %d", i, n*10, results[i])
			}
		}
	})

	t.Run("ErrorsArePositionalAndNonFatal", func(t *testing.T) {
		items := []int{1, 2, 3, 4}
		wantErr := errors.New("bad item")
		results, errs := ProcessBatch(ctx, items, 2, 0, func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, wantErr
			}
			return n, nil
		})
		if !errors.Is(errs[1], wantErr) {
			t.Errorf("expected error at position 1, got %v", errs[1])
		}
		for _, i := range []int{0, 2, 3} {
			if errs[i] != nil {
				t.Errorf("position %d: unexpected error %v", i, errs[i])
			}
			if results[i] != items[i] {
				t.Errorf("position %d: expected %d, got %d", i, items[i], results[i])
			}
		}
	})

	t.Run("ChunkConcurrencyBound", func(t *testing.T) {
		var current, peak int32
		items := make([]int, 12)
		ProcessBatch(ctx, items, 4, 0, func(ctx context.Context, n int) (int, error) {
			c := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return 0, nil
		})
		if got := atomic.LoadInt32(&peak); got > 4 {
			t.Errorf("expected at most 4 concurrent items, saw %d", got)
		}
	})

	t.Run("PausesBetweenChunks", func(t *testing.T) {
		items := make([]int, 6)
		start := time.Now()
		ProcessBatch(ctx, items, 2, 20*time.Millisecond, func(ctx context.Context, n int) (int, error) {
			return 0, nil
		})
		// Three chunks, two inter-chunk pauses.
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("expected at least 40ms of pacing, took %v", elapsed)
		}
	})

	t.Run("CancellationMarksRemaining", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		items := []int{1, 2, 3, 4}
		_, errs := ProcessBatch(cctx, items, 2, time.Minute, func(ctx context.Context, n int) (int, error) {
			return n, nil
		})
		// First chunk runs; the pause observes cancellation and the
		// second chunk never starts.
		if errs[0] != nil || errs[1] != nil {
			t.Errorf("expected first chunk processed, got %v %v", errs[0], errs[1])
		}
		for _, i := range []int{2, 3} {
			if !errors.Is(errs[i], context.Canceled) {
				t.Errorf("position %d: expected context.Canceled, got %v", i, errs[i])
			}
		}
	})

	t.Run("Empty", func(t *testing.T) {
		results, errs := ProcessBatch(ctx, nil, 3, 0, func(ctx context.Context, n int) (int, error) {
			return n, nil
		})
		if len(results) != 0 || len(errs) != 0 {
			t.Errorf("expected empty outputs, got %d/%d", len(results), len(errs))
		}
	})
}
