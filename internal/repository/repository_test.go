package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/clickshield/clickshield/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "clickshield-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func boolPtr(b bool) *bool { return &b }

func TestClickEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGet", func(t *testing.T) {
		click := &domain.ClickEvent{
			ID:          "click-1",
			AccountID:   accountID,
			IP:          "203.0.113.7",
			DeviceType:  "mobile",
			CountryCode: "US",
			CostMicros:  1250000,
			FraudLabel:  boolPtr(true),
			Timestamp:   base,
			CreatedAt:   base,
		}
		if err := repo.SaveClick(ctx, accountID, click); err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}

		got, err := repo.GetClick(ctx, accountID, "click-1")
		if err != nil {
			t.Fatalf("GetClick failed: %v", err)
		}
		if got.IP != "203.0.113.7" {
			t.Errorf("expected IP 203.0.113.7, got %s", got.IP)
		}
		if got.FraudLabel == nil || !*got.FraudLabel {
			t.Error("expected fraud label true")
		}
		if got.CostMicros != 1250000 {
			t.Errorf("expected cost 1250000, got %d", got.CostMicros)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.GetClick(ctx, accountID, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AccountIsolation", func(t *testing.T) {
		_, err := repo.GetClick(ctx, "acct-other", "click-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across accounts, got %v", err)
		}
	})

	t.Run("RequiresAccountID", func(t *testing.T) {
		err := repo.SaveClick(ctx, "", &domain.ClickEvent{ID: "x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestClickHistoryQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ip := "203.0.113.7"

	// Clicks 10 minutes apart, plus one from a different IP
	for i := 0; i < 4; i++ {
		click := &domain.ClickEvent{
			ID:        fmt.Sprintf("click-%d", i),
			IP:        ip,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
			CreatedAt: base,
		}
		if err := repo.SaveClick(ctx, accountID, click); err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}
	}
	_ = repo.SaveClick(ctx, accountID, &domain.ClickEvent{
		ID: "click-other", IP: "198.51.100.1", Timestamp: base, CreatedAt: base,
	})

	t.Run("CountClicksFromIP", func(t *testing.T) {
		count, err := repo.CountClicksFromIP(ctx, accountID, ip, base.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("CountClicksFromIP failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 clicks since cutoff, got %d", count)
		}
	})

	t.Run("LastClickFromIP", func(t *testing.T) {
		ts, err := repo.LastClickFromIP(ctx, accountID, ip, base.Add(25*time.Minute))
		if err != nil {
			t.Fatalf("LastClickFromIP failed: %v", err)
		}
		want := base.Add(20 * time.Minute)
		if !ts.Equal(want) {
			t.Errorf("expected last click at %v, got %v", want, ts)
		}
	})

	t.Run("LastClickFromIPNoPrior", func(t *testing.T) {
		_, err := repo.LastClickFromIP(ctx, accountID, "192.0.2.200", base.Add(time.Hour))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for no prior click, got %v", err)
		}
	})

	t.Run("CountClicksSince", func(t *testing.T) {
		count, err := repo.CountClicksSince(ctx, accountID, base)
		if err != nil {
			t.Fatalf("CountClicksSince failed: %v", err)
		}
		if count != 5 {
			t.Errorf("expected 5 total clicks, got %d", count)
		}
	})
}

func TestLabeledClicksOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of chronological order; one unlabeled
	inserts := []struct {
		id     string
		offset time.Duration
		label  *bool
	}{
		{"c-late", 2 * time.Hour, boolPtr(true)},
		{"c-early", 0, boolPtr(false)},
		{"c-unlabeled", time.Hour, nil},
		{"c-mid", time.Hour, boolPtr(true)},
	}
	for _, in := range inserts {
		err := repo.SaveClick(ctx, accountID, &domain.ClickEvent{
			ID:         in.id,
			IP:         "203.0.113.1",
			FraudLabel: in.label,
			Timestamp:  base.Add(in.offset),
			CreatedAt:  base,
		})
		if err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}
	}

	clicks, err := repo.ListLabeledClicks(ctx, accountID)
	if err != nil {
		t.Fatalf("ListLabeledClicks failed: %v", err)
	}

	if len(clicks) != 3 {
		t.Fatalf("expected 3 labeled clicks, got %d", len(clicks))
	}

	wantOrder := []string{"c-early", "c-mid", "c-late"}
	for i, want := range wantOrder {
		if clicks[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, clicks[i].ID)
		}
	}
}

func TestEnrichmentUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enrichedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := &domain.IPEnrichment{
		IP:          "203.0.113.7",
		Country:     "Netherlands",
		CountryCode: "NL",
		Region:      "North Holland",
		City:        "Amsterdam",
		ISP:         "Example Hosting BV",
		IsHosting:   true,
		RiskScore:   25,
		RiskLevel:   domain.RiskLow,
		EnrichedAt:  enrichedAt,
	}

	t.Run("InsertAndRead", func(t *testing.T) {
		if err := repo.UpsertEnrichment(ctx, e); err != nil {
			t.Fatalf("UpsertEnrichment failed: %v", err)
		}

		got, err := repo.GetEnrichment(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("GetEnrichment failed: %v", err)
		}
		if got.Country != "Netherlands" || !got.IsHosting || got.RiskScore != 25 {
			t.Errorf("unexpected enrichment: %+v", got)
		}
		if got.RiskLevel != domain.RiskLow {
			t.Errorf("expected risk level low, got %s", got.RiskLevel)
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		updated := *e
		updated.IsVPN = true
		updated.RiskScore = 65
		updated.RiskLevel = domain.RiskHigh
		updated.EnrichedAt = enrichedAt.Add(24 * time.Hour)

		if err := repo.UpsertEnrichment(ctx, &updated); err != nil {
			t.Fatalf("UpsertEnrichment failed: %v", err)
		}

		got, err := repo.GetEnrichment(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("GetEnrichment failed: %v", err)
		}
		if !got.IsVPN || got.RiskScore != 65 {
			t.Errorf("expected overwritten record, got %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetEnrichment(ctx, "198.51.100.99")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestModelPersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	trainedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGetActive", func(t *testing.T) {
		m := &domain.ScoringModel{
			ID:        "model-1",
			AccountID: accountID,
			Weights:   []float64{0.1, -0.2, 0.3, 0, 0, 0, 0, 0, 0},
			Threshold: 0.5,
			TrainedAt: trainedAt,
		}
		if err := repo.SaveModel(ctx, accountID, m); err != nil {
			t.Fatalf("SaveModel failed: %v", err)
		}

		got, err := repo.GetActiveModel(ctx, accountID)
		if err != nil {
			t.Fatalf("GetActiveModel failed: %v", err)
		}
		if got.ID != "model-1" || got.Status != domain.ModelStatusActive {
			t.Errorf("unexpected model: %+v", got)
		}
		if len(got.Weights) != 9 || got.Weights[1] != -0.2 {
			t.Errorf("weights not round-tripped: %v", got.Weights)
		}
	})

	t.Run("ReplacementDemotesPrior", func(t *testing.T) {
		m2 := &domain.ScoringModel{
			ID:        "model-2",
			AccountID: accountID,
			Weights:   []float64{1, 1, 1, 1, 1, 1, 1, 1, 1},
			Threshold: 0.5,
			TrainedAt: trainedAt.Add(time.Hour),
		}
		if err := repo.SaveModel(ctx, accountID, m2); err != nil {
			t.Fatalf("SaveModel failed: %v", err)
		}

		got, err := repo.GetActiveModel(ctx, accountID)
		if err != nil {
			t.Fatalf("GetActiveModel failed: %v", err)
		}
		if got.ID != "model-2" {
			t.Errorf("expected model-2 active, got %s", got.ID)
		}
	})

	t.Run("NoActiveModel", func(t *testing.T) {
		_, err := repo.GetActiveModel(ctx, "acct-empty")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestScoresAndAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		s := &domain.Score{
			ID:               fmt.Sprintf("score-%d", i),
			ClickID:          fmt.Sprintf("click-%d", i),
			IP:               "203.0.113.7",
			IsFraud:          i%2 == 0,
			FraudProbability: 0.5,
			Confidence:       40,
			ModelUsed:        domain.ModelUsedHeuristic,
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.SaveScore(ctx, accountID, s); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}
	}

	t.Run("CountFraudScores", func(t *testing.T) {
		count, err := repo.CountFraudScores(ctx, accountID, base)
		if err != nil {
			t.Fatalf("CountFraudScores failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 fraud scores, got %d", count)
		}
	})

	t.Run("AverageFraudProbability", func(t *testing.T) {
		avg, err := repo.AverageFraudProbability(ctx, accountID, base)
		if err != nil {
			t.Fatalf("AverageFraudProbability failed: %v", err)
		}
		if avg != 0.5 {
			t.Errorf("expected avg 0.5, got %f", avg)
		}

		avg, err = repo.AverageFraudProbability(ctx, "acct-empty", base)
		if err != nil {
			t.Fatalf("AverageFraudProbability failed: %v", err)
		}
		if avg != 0 {
			t.Errorf("expected 0 for empty account, got %f", avg)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		a := &domain.Alert{
			ID:        "alert-1",
			AccountID: accountID,
			ClickID:   "click-0",
			IP:        "203.0.113.7",
			Score:     0.91,
			Pattern:   domain.PatternVPNAttack,
			Active:    true,
			Timestamp: base,
		}
		if err := repo.SaveAlert(ctx, accountID, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		alerts, err := repo.ListAlerts(ctx, accountID, base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 || alerts[0].Pattern != domain.PatternVPNAttack {
			t.Errorf("unexpected alerts: %+v", alerts)
		}

		count, err := repo.CountActiveAlerts(ctx, accountID)
		if err != nil {
			t.Fatalf("CountActiveAlerts failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 active alert, got %d", count)
		}
	})
}

func TestAlertConditions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	accountID := "acct-001"

	t.Run("Missing", func(t *testing.T) {
		_, err := repo.GetAlertCondition(ctx, accountID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndReplace", func(t *testing.T) {
		cond := &domain.AlertCondition{
			ID:         "cond-1",
			AccountID:  accountID,
			Expression: `probability >= 0.9`,
			Enabled:    true,
		}
		if err := repo.SaveAlertCondition(ctx, accountID, cond); err != nil {
			t.Fatalf("SaveAlertCondition failed: %v", err)
		}

		replacement := &domain.AlertCondition{
			ID:         "cond-2",
			AccountID:  accountID,
			Expression: `probability >= 0.7`,
			Enabled:    true,
		}
		if err := repo.SaveAlertCondition(ctx, accountID, replacement); err != nil {
			t.Fatalf("SaveAlertCondition replace failed: %v", err)
		}

		got, err := repo.GetAlertCondition(ctx, accountID)
		if err != nil {
			t.Fatalf("GetAlertCondition failed: %v", err)
		}
		if got.Expression != `probability >= 0.7` {
			t.Errorf("expected replaced expression, got %q", got.Expression)
		}
	})
}
