package features

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/features-test.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

type stubEnricher struct {
	record *domain.IPEnrichment
}

func (s *stubEnricher) Enrich(ctx context.Context, ip string) *domain.IPEnrichment {
	return s.record
}

func testClick(ip string, ts time.Time) *domain.ClickEvent {
	return &domain.ClickEvent{
		ID:          uuid.New().String(),
		AccountID:   "acct-1",
		IP:          ip,
		DeviceType:  "mobile",
		CountryCode: "US",
		Timestamp:   ts,
		CreatedAt:   ts,
	}
}

func TestVectorLayoutMatchesCanonicalOrder(t *testing.T) {
	// The idx constants must line up with domain.FeatureNames; a drift
	// here silently corrupts every model.
	names := domain.FeatureNames()
	expected := map[int]string{
		idxHourOfDay:          domain.FeatHourOfDay,
		idxDayOfWeek:          domain.FeatDayOfWeek,
		idxIsVPN:              domain.FeatIsVPN,
		idxIsHosting:          domain.FeatIsHosting,
		idxRiskScore:          domain.FeatRiskScore,
		idxCountryRisk:        domain.FeatCountryRisk,
		idxTimeSinceLastClick: domain.FeatTimeSinceLastClick,
		idxClicksFromIP24h:    domain.FeatClicksFromIP24h,
		idxDeviceTypeCode:     domain.FeatDeviceTypeCode,
	}
	if len(expected) != len(names) {
		t.Fatalf("expected %d slots, got %d", len(names), len(expected))
	}
	for idx, name := range expected {
		if names[idx] != name {
			t.Errorf("slot %d: expected %s, got %s", idx, name, names[idx])
		}
	}
}

func TestExtractStatic(t *testing.T) {
	e := NewExtractor(nil, nil)

	// Wednesday 2025-06-04, 03:30 UTC
	ts := time.Date(2025, 6, 4, 3, 30, 0, 0, time.UTC)
	click := testClick("203.0.113.5", ts)
	click.CountryCode = "RU"
	click.DeviceType = "tablet"
	click.IsVPN = true

	v := e.Extract(click)
	if len(v) != domain.FeatureCount() {
		t.Fatalf("expected %d features, got %d", domain.FeatureCount(), len(v))
	}

	named := v.Named()
	checks := map[string]float64{
		domain.FeatHourOfDay:          3,
		domain.FeatDayOfWeek:          float64(time.Wednesday),
		domain.FeatIsVPN:              1,
		domain.FeatIsHosting:          0,
		domain.FeatRiskScore:          0,
		domain.FeatCountryRisk:        float64(domain.CountryTierHigh),
		domain.FeatTimeSinceLastClick: noPriorClickSentinel,
		domain.FeatClicksFromIP24h:    0,
		domain.FeatDeviceTypeCode:     float64(domain.DeviceTablet),
	}
	for name, want := range checks {
		if named[name] != want {
			t.Errorf("%s: expected %v, got %v", name, want, named[name])
		}
	}
}

func TestDeviceCodes(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"mobile", domain.DeviceMobile},
		{"MOBILE", domain.DeviceMobile},
		{"desktop", domain.DeviceDesktop},
		{"tablet", domain.DeviceTablet},
		{"smart-tv", domain.DeviceOther},
		{"", domain.DeviceOther},
	}
	for _, tc := range cases {
		if got := DeviceCode(tc.in); got != tc.want {
			t.Errorf("DeviceCode(%q): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestCountryRiskTiers(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"CN", domain.CountryTierHigh},
		{"NG", domain.CountryTierHigh},
		{"IN", domain.CountryTierMedium},
		{"MY", domain.CountryTierMedium},
		{"US", domain.CountryTierDefault},
		{"DE", domain.CountryTierDefault},
		{"", domain.CountryTierDefault},
	}
	for _, tc := range cases {
		if got := CountryRiskTier(tc.code); got != tc.want {
			t.Errorf("CountryRiskTier(%q): expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestExtractRealTime(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

	// Seed history: three clicks from the IP, the latest 90s before the
	// click under extraction, plus one outside the 24h window.
	for _, age := range []time.Duration{90 * time.Second, 3 * time.Hour, 20 * time.Hour, 30 * time.Hour} {
		c := testClick("203.0.113.5", base.Add(-age))
		if err := repo.SaveClick(ctx, "acct-1", c); err != nil {
			t.Fatalf("failed to seed click: %v", err)
		}
	}
	// A different account's click must not leak into the features.
	other := testClick("203.0.113.5", base.Add(-time.Minute))
	other.AccountID = "acct-2"
	if err := repo.SaveClick(ctx, "acct-2", other); err != nil {
		t.Fatalf("failed to seed click: %v", err)
	}

	enr := &stubEnricher{record: &domain.IPEnrichment{
		IP:        "203.0.113.5",
		IsVPN:     false,
		IsTor:     true,
		IsHosting: true,
		RiskScore: 75,
	}}
	e := NewExtractor(repo, enr)

	v, err := e.ExtractRealTime(ctx, "acct-1", testClick("203.0.113.5", base))
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}

	named := v.Named()
	if named[domain.FeatTimeSinceLastClick] != 90 {
		t.Errorf("expected 90s since last click, got %v", named[domain.FeatTimeSinceLastClick])
	}
	if named[domain.FeatClicksFromIP24h] != 3 {
		t.Errorf("expected 3 clicks in window, got %v", named[domain.FeatClicksFromIP24h])
	}
	if named[domain.FeatIsVPN] != 1 {
		t.Error("expected Tor flag to count as VPN feature")
	}
	if named[domain.FeatIsHosting] != 1 {
		t.Error("expected hosting feature from enrichment")
	}
	if named[domain.FeatRiskScore] != 75 {
		t.Errorf("expected riskScore 75, got %v", named[domain.FeatRiskScore])
	}
}

func TestExtractRealTimeNoPriorClick(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	e := NewExtractor(repo, nil)

	click := testClick("198.51.100.9", time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC))
	v, err := e.ExtractRealTime(ctx, "acct-1", click)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}

	named := v.Named()
	if named[domain.FeatTimeSinceLastClick] != noPriorClickSentinel {
		t.Errorf("expected sentinel %d, got %v", noPriorClickSentinel, named[domain.FeatTimeSinceLastClick])
	}
	if named[domain.FeatClicksFromIP24h] != 0 {
		t.Errorf("expected 0 clicks, got %v", named[domain.FeatClicksFromIP24h])
	}
}
