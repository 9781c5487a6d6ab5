package domain

import "time"

// Config holds the complete ClickShield configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Lookup     LookupConfig     `json:"lookup"`
	Scoring    ScoringConfig    `json:"scoring"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LookupConfig holds external geo/VPN lookup settings.
type LookupConfig struct {
	// GeoEndpoint is the geo-IP provider base URL ({ip} is appended).
	GeoEndpoint string `json:"geoEndpoint"`

	// VPNEndpoint and VPNProviderKey configure the optional secondary
	// VPN/Tor classification provider. An empty key degrades the
	// enrichment engine to the hosting-keyword heuristic.
	VPNEndpoint    string `json:"vpnEndpoint"`
	VPNProviderKey string `json:"-"`

	// MinInterval is the process-wide minimum spacing between outbound
	// lookup calls. This is a hard global throttle, not a token bucket.
	MinInterval time.Duration `json:"minInterval"`

	// Timeout bounds each outbound lookup call.
	Timeout time.Duration `json:"timeout"`
}

// ScoringConfig holds model training and enrichment settings.
type ScoringConfig struct {
	// Training floor: below this many labeled clicks, Train is a no-op.
	TrainingMinSamples int `json:"trainingMinSamples"`

	// Auto-retrain policy guard: retrain only if at least
	// RetrainMinClicks new clicks exist within RetrainWindow.
	RetrainMinClicks int           `json:"retrainMinClicks"`
	RetrainWindow    time.Duration `json:"retrainWindow"`

	// RetrainInterval is how often the async worker checks the guard.
	// Zero disables periodic retraining.
	RetrainInterval time.Duration `json:"retrainInterval"`

	// Gradient descent hyperparameters. Fixed for reproducibility;
	// changing them changes convergence and breaks weight parity.
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learningRate"`
	Threshold    float64 `json:"threshold"`

	// Enrichment freshness horizon and memory-tier capacity.
	EnrichmentTTL       time.Duration `json:"enrichmentTtl"`
	EnrichmentCacheSize int           `json:"enrichmentCacheSize"`

	// Dashboard composite cache TTL.
	DashboardTTL time.Duration `json:"dashboardTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./clickshield.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Lookup: LookupConfig{
			GeoEndpoint: "http://ip-api.com/json",
			MinInterval: 1500 * time.Millisecond,
			Timeout:     5 * time.Second,
		},
		Scoring: ScoringConfig{
			TrainingMinSamples:  100,
			RetrainMinClicks:    200,
			RetrainWindow:       7 * 24 * time.Hour,
			RetrainInterval:     6 * time.Hour,
			Iterations:          1000,
			LearningRate:        0.01,
			Threshold:           0.5,
			EnrichmentTTL:       24 * time.Hour,
			EnrichmentCacheSize: 1000,
			DashboardTTL:        60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "clickshield",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "clickshield",
	}
	cfg.Cache = CacheConfig{
		Type:          "redis",
		RedisAddr:     "localhost:6379",
		EnableTwoTier: true,
		LocalMaxSize:  1000,
		LocalTTL:      5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
