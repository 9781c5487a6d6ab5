// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clickshield/clickshield/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClick stores a click event with account isolation.
func (r *SQLRepository) SaveClick(ctx context.Context, accountID string, click *domain.ClickEvent) error {
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	var label sql.NullInt64
	if click.FraudLabel != nil {
		label.Valid = true
		if *click.FraudLabel {
			label.Int64 = 1
		}
	}

	query := `
		INSERT INTO click_events (
			id, account_id, ip, device_type, country_code, user_agent,
			campaign_id, cost_micros, is_vpn, is_hosting, fraud_label,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		click.ID, accountID, click.IP,
		click.DeviceType, click.CountryCode, click.UserAgent,
		click.CampaignID, click.CostMicros,
		boolToInt(click.IsVPN), boolToInt(click.IsHosting), label,
		click.Timestamp, click.CreatedAt,
	)
	return err
}

// GetClick retrieves a click event by ID with account isolation.
func (r *SQLRepository) GetClick(ctx context.Context, accountID string, clickID string) (*domain.ClickEvent, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account_id, ip, device_type, country_code, user_agent,
		       campaign_id, cost_micros, is_vpn, is_hosting, fraud_label,
		       timestamp, created_at
		FROM click_events
		WHERE account_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), accountID, clickID)
	click, err := scanClick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return click, err
}

// ListLabeledClicks retrieves all labeled clicks for an account, ordered
// by (timestamp, id). The fixed ordering keeps gradient-descent training
// deterministic across runs.
func (r *SQLRepository) ListLabeledClicks(ctx context.Context, accountID string) ([]*domain.ClickEvent, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account_id, ip, device_type, country_code, user_agent,
		       campaign_id, cost_micros, is_vpn, is_hosting, fraud_label,
		       timestamp, created_at
		FROM click_events
		WHERE account_id = ? AND fraud_label IS NOT NULL
		ORDER BY timestamp, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clicks []*domain.ClickEvent
	for rows.Next() {
		click, err := scanClick(rows)
		if err != nil {
			return nil, err
		}
		clicks = append(clicks, click)
	}

	return clicks, rows.Err()
}

// CountClicksFromIP counts clicks from an IP within a trailing window.
func (r *SQLRepository) CountClicksFromIP(ctx context.Context, accountID string, ip string, since time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM click_events
		WHERE account_id = ? AND ip = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, ip, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return count, nil
}

// LastClickFromIP returns the timestamp of the most recent click from an
// IP strictly before the given time. Returns ErrNotFound when no prior
// click exists.
func (r *SQLRepository) LastClickFromIP(ctx context.Context, accountID string, ip string, before time.Time) (time.Time, error) {
	if accountID == "" {
		return time.Time{}, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT timestamp FROM click_events
		WHERE account_id = ? AND ip = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var ts time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, ip, before).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// CountClicksSince counts all clicks for an account since a point in time.
func (r *SQLRepository) CountClicksSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM click_events WHERE account_id = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&count)
	return count, err
}

// UpsertEnrichment writes an enrichment record keyed by IP, overwriting
// any previous record for that IP. Enrichments are global, not
// per-account: an IP's network facts do not vary by account.
func (r *SQLRepository) UpsertEnrichment(ctx context.Context, e *domain.IPEnrichment) error {
	if e == nil || e.IP == "" {
		return fmt.Errorf("%w: enrichment IP is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO ip_enrichments (
			ip, country, country_code, region, city, latitude, longitude,
			isp, organization, asn, is_vpn, is_proxy, is_hosting, is_tor,
			risk_score, risk_level, enriched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			country = excluded.country,
			country_code = excluded.country_code,
			region = excluded.region,
			city = excluded.city,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			isp = excluded.isp,
			organization = excluded.organization,
			asn = excluded.asn,
			is_vpn = excluded.is_vpn,
			is_proxy = excluded.is_proxy,
			is_hosting = excluded.is_hosting,
			is_tor = excluded.is_tor,
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			enriched_at = excluded.enriched_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.IP, e.Country, e.CountryCode, e.Region, e.City,
		e.Latitude, e.Longitude,
		e.ISP, e.Organization, e.ASN,
		boolToInt(e.IsVPN), boolToInt(e.IsProxy), boolToInt(e.IsHosting), boolToInt(e.IsTor),
		e.RiskScore, string(e.RiskLevel), e.EnrichedAt,
	)
	return err
}

// GetEnrichment retrieves the enrichment record for an IP.
func (r *SQLRepository) GetEnrichment(ctx context.Context, ip string) (*domain.IPEnrichment, error) {
	if ip == "" {
		return nil, fmt.Errorf("%w: ip is required", ErrInvalidInput)
	}

	query := `
		SELECT ip, country, country_code, region, city, latitude, longitude,
		       isp, organization, asn, is_vpn, is_proxy, is_hosting, is_tor,
		       risk_score, risk_level, enriched_at
		FROM ip_enrichments
		WHERE ip = ?
	`

	var e domain.IPEnrichment
	var isVPN, isProxy, isHosting, isTor int
	var level string

	err := r.db.QueryRowContext(ctx, r.rebind(query), ip).Scan(
		&e.IP, &e.Country, &e.CountryCode, &e.Region, &e.City,
		&e.Latitude, &e.Longitude,
		&e.ISP, &e.Organization, &e.ASN,
		&isVPN, &isProxy, &isHosting, &isTor,
		&e.RiskScore, &level, &e.EnrichedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.IsVPN = isVPN == 1
	e.IsProxy = isProxy == 1
	e.IsHosting = isHosting == 1
	e.IsTor = isTor == 1
	e.RiskLevel = domain.RiskLevel(level)

	return &e, nil
}

// SaveModel inserts a new active model and marks all prior models for the
// account stale, in a single transaction. Exactly one active model per
// account survives.
func (r *SQLRepository) SaveModel(ctx context.Context, accountID string, model *domain.ScoringModel) error {
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	weights, err := json.Marshal(model.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	demote := `UPDATE scoring_models SET status = ? WHERE account_id = ? AND status = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(demote),
		domain.ModelStatusStale, accountID, domain.ModelStatusActive,
	); err != nil {
		return err
	}

	insert := `
		INSERT INTO scoring_models (id, account_id, weights, threshold, status, trained_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		model.ID, accountID, string(weights),
		model.Threshold, domain.ModelStatusActive, model.TrainedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetActiveModel retrieves the active scoring model for an account.
func (r *SQLRepository) GetActiveModel(ctx context.Context, accountID string) (*domain.ScoringModel, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account_id, weights, threshold, status, trained_at
		FROM scoring_models
		WHERE account_id = ? AND status = ?
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var m domain.ScoringModel
	var weights string

	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, domain.ModelStatusActive).Scan(
		&m.ID, &m.AccountID, &weights, &m.Threshold, &m.Status, &m.TrainedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(weights), &m.Weights); err != nil {
		return nil, fmt.Errorf("failed to parse model weights: %w", err)
	}

	return &m, nil
}

// SaveScore stores a scoring outcome.
func (r *SQLRepository) SaveScore(ctx context.Context, accountID string, score *domain.Score) error {
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO scores (id, account_id, click_id, ip, is_fraud, fraud_probability, confidence, model_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, accountID, score.ClickID, score.IP,
		boolToInt(score.IsFraud), score.FraudProbability, score.Confidence,
		score.ModelUsed, score.Timestamp,
	)
	return err
}

// CountFraudScores counts fraud-flagged scores within a trailing window.
func (r *SQLRepository) CountFraudScores(ctx context.Context, accountID string, since time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM scores WHERE account_id = ? AND is_fraud = 1 AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&count)
	return count, err
}

// SumClickCost sums click cost (micro-units) within a trailing window.
func (r *SQLRepository) SumClickCost(ctx context.Context, accountID string, since time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COALESCE(SUM(cost_micros), 0) FROM click_events WHERE account_id = ? AND timestamp >= ?`

	var sum int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&sum)
	return sum, err
}

// AverageFraudProbability returns the mean fraud probability of scores in
// a trailing window, 0 when no scores exist.
func (r *SQLRepository) AverageFraudProbability(ctx context.Context, accountID string, since time.Time) (float64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COALESCE(AVG(fraud_probability), 0) FROM scores WHERE account_id = ? AND timestamp >= ?`

	var avg float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&avg)
	return avg, err
}

// SaveAlert stores an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, accountID string, alert *domain.Alert) error {
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (id, account_id, click_id, ip, score, pattern, active, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, accountID, alert.ClickID, alert.IP,
		alert.Score, alert.Pattern, boolToInt(alert.Active), alert.Timestamp,
	)
	return err
}

// ListAlerts retrieves alerts for an account since a point in time.
func (r *SQLRepository) ListAlerts(ctx context.Context, accountID string, since time.Time) ([]*domain.Alert, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account_id, click_id, ip, score, pattern, active, timestamp
		FROM alerts
		WHERE account_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var active int
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.ClickID, &a.IP,
			&a.Score, &a.Pattern, &active, &a.Timestamp,
		); err != nil {
			return nil, err
		}
		a.Active = active == 1
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// CountActiveAlerts counts unresolved alerts for an account.
func (r *SQLRepository) CountActiveAlerts(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM alerts WHERE account_id = ? AND active = 1`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID).Scan(&count)
	return count, err
}

// SaveAlertCondition stores or replaces the alert condition for an account.
func (r *SQLRepository) SaveAlertCondition(ctx context.Context, accountID string, cond *domain.AlertCondition) error {
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alert_conditions (id, account_id, expression, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			expression = excluded.expression,
			enabled = excluded.enabled
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cond.ID, accountID, cond.Expression, boolToInt(cond.Enabled),
	)
	return err
}

// GetAlertCondition retrieves the alert condition for an account.
func (r *SQLRepository) GetAlertCondition(ctx context.Context, accountID string) (*domain.AlertCondition, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT id, account_id, expression, enabled FROM alert_conditions WHERE account_id = ?`

	var c domain.AlertCondition
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID).Scan(
		&c.ID, &c.AccountID, &c.Expression, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Enabled = enabled == 1
	return &c, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanClick(s scanner) (*domain.ClickEvent, error) {
	var c domain.ClickEvent
	var isVPN, isHosting int
	var label sql.NullInt64

	err := s.Scan(
		&c.ID, &c.AccountID, &c.IP,
		&c.DeviceType, &c.CountryCode, &c.UserAgent,
		&c.CampaignID, &c.CostMicros,
		&isVPN, &isHosting, &label,
		&c.Timestamp, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.IsVPN = isVPN == 1
	c.IsHosting = isHosting == 1
	if label.Valid {
		v := label.Int64 == 1
		c.FraudLabel = &v
	}

	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
