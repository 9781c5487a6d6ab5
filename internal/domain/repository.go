// Package domain defines the core interfaces and types for ClickShield.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require accountID for strict per-account isolation.
type Repository interface {
	// Click event operations
	SaveClick(ctx context.Context, accountID string, click *ClickEvent) error
	GetClick(ctx context.Context, accountID string, clickID string) (*ClickEvent, error)

	// Training data: labeled clicks ordered by (timestamp, id) so that
	// gradient descent sees samples in a deterministic order.
	ListLabeledClicks(ctx context.Context, accountID string) ([]*ClickEvent, error)

	// History queries backing real-time features.
	CountClicksFromIP(ctx context.Context, accountID string, ip string, since time.Time) (int64, error)
	LastClickFromIP(ctx context.Context, accountID string, ip string, before time.Time) (time.Time, error)
	CountClicksSince(ctx context.Context, accountID string, since time.Time) (int64, error)

	// Enrichment durable tier: upsert-by-IP, point read.
	UpsertEnrichment(ctx context.Context, enrichment *IPEnrichment) error
	GetEnrichment(ctx context.Context, ip string) (*IPEnrichment, error)

	// Model persistence. SaveModel inserts the new model as active and
	// marks all prior models for the account stale, atomically.
	SaveModel(ctx context.Context, accountID string, model *ScoringModel) error
	GetActiveModel(ctx context.Context, accountID string) (*ScoringModel, error)

	// Score persistence and dashboard aggregates.
	SaveScore(ctx context.Context, accountID string, score *Score) error
	CountFraudScores(ctx context.Context, accountID string, since time.Time) (int64, error)
	SumClickCost(ctx context.Context, accountID string, since time.Time) (int64, error)
	AverageFraudProbability(ctx context.Context, accountID string, since time.Time) (float64, error)

	// Alerts
	SaveAlert(ctx context.Context, accountID string, alert *Alert) error
	ListAlerts(ctx context.Context, accountID string, since time.Time) ([]*Alert, error)
	CountActiveAlerts(ctx context.Context, accountID string) (int64, error)

	// Alert condition configuration
	SaveAlertCondition(ctx context.Context, accountID string, cond *AlertCondition) error
	GetAlertCondition(ctx context.Context, accountID string) (*AlertCondition, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
