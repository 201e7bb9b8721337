package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration. It is built once at
// process start and passed by reference; the engine snapshots the parts it
// needs at the start of each run.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Engine     EngineConfig     `yaml:"engine"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// RepositoryConfig holds settings for the SQL store.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	SQLitePath string `yaml:"sqlite_path"`

	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"` // seconds
}

// CacheConfig holds settings for the read-through data cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `yaml:"type"`

	LocalMaxSize int `yaml:"local_max_size"`
	LocalTTL     int `yaml:"local_ttl"` // seconds

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool `yaml:"two_phase"`
}

// LocalTTLDuration returns the local cache TTL as a duration.
func (c CacheConfig) LocalTTLDuration() time.Duration {
	return time.Duration(c.LocalTTL) * time.Second
}

// EventBusConfig holds settings for the event bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `yaml:"type"`

	ChannelBufferSize int `yaml:"channel_buffer_size"`

	NATSUrl           string `yaml:"nats_url"`
	NATSToken         string `yaml:"nats_token"`
	NATSMaxReconnects int    `yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `yaml:"nats_reconnect_wait"` // seconds
}

// EngineConfig holds the rule engine settings. All values are read once at
// the start of a run; no rule observes a change mid-run.
type EngineConfig struct {
	Enabled          bool        `yaml:"enabled"`
	DryRun           bool        `yaml:"dry_run"`
	IntervalMinutes  int         `yaml:"interval_minutes"`
	DedupWindowHours int         `yaml:"dedup_window_hours"`
	RunTimeoutSecs   int         `yaml:"run_timeout_seconds"` // 0 = no timeout
	Rules            RulesConfig `yaml:"rules"`
}

// Interval returns the scheduling interval as a duration.
func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.IntervalMinutes) * time.Minute
}

// DedupWindow returns the deduplication window as a duration.
func (e EngineConfig) DedupWindow() time.Duration {
	return time.Duration(e.DedupWindowHours) * time.Hour
}

// RunTimeout returns the run-level timeout as a duration.
func (e EngineConfig) RunTimeout() time.Duration {
	return time.Duration(e.RunTimeoutSecs) * time.Second
}

// RulesConfig holds per-rule settings.
type RulesConfig struct {
	LargeTransfer       LargeTransferConfig       `yaml:"large_transfer"`
	NewCounterparty     NewCounterpartyConfig     `yaml:"new_counterparty"`
	DormantReactivation DormantReactivationConfig `yaml:"dormant_reactivation"`
	RapidOutflow        RapidOutflowConfig        `yaml:"rapid_outflow"`
	AssetConcentration  AssetConcentrationConfig  `yaml:"asset_concentration"`
}

// LargeTransferConfig configures the large transfer rule.
type LargeTransferConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Threshold       float64  `yaml:"threshold"`
	LookbackMinutes int      `yaml:"lookback_minutes"`
	Severity        Severity `yaml:"severity"`
}

// NewCounterpartyConfig configures the new counterparty rule.
type NewCounterpartyConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Threshold       float64  `yaml:"threshold"`
	LookbackMinutes int      `yaml:"lookback_minutes"`
	Severity        Severity `yaml:"severity"`
}

// DormantReactivationConfig configures the dormant reactivation rule.
type DormantReactivationConfig struct {
	Enabled         bool     `yaml:"enabled"`
	DormantDays     int      `yaml:"dormant_days"`
	Threshold       float64  `yaml:"threshold"`
	LookbackMinutes int      `yaml:"lookback_minutes"`
	Severity        Severity `yaml:"severity"`
}

// RapidOutflowConfig configures the rapid outflow rule.
type RapidOutflowConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Count         int      `yaml:"count"`
	WindowMinutes int      `yaml:"window_minutes"`
	Severity      Severity `yaml:"severity"`
}

// AssetConcentrationConfig configures the asset concentration rule.
type AssetConcentrationConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Percent  float64  `yaml:"percent"`
	TopN     int      `yaml:"top_n"`
	Severity Severity `yaml:"severity"`
}

// IngestConfig holds Horizon ingestion settings.
type IngestConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HorizonURL   string `yaml:"horizon_url"`
	PageLimit    int    `yaml:"page_limit"`
	IntervalSecs int    `yaml:"interval_seconds"`
}

// Interval returns the ingestion polling interval as a duration.
func (i IngestConfig) Interval() time.Duration {
	return time.Duration(i.IntervalSecs) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the default single-node configuration: SQLite,
// in-memory cache, channel bus, engine thresholds matching the documented
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			Enabled:          true,
			DryRun:           false,
			IntervalMinutes:  5,
			DedupWindowHours: 24,
			RunTimeoutSecs:   120,
			Rules: RulesConfig{
				LargeTransfer: LargeTransferConfig{
					Enabled:         true,
					Threshold:       10000,
					LookbackMinutes: 60,
					Severity:        SeverityMedium,
				},
				NewCounterparty: NewCounterpartyConfig{
					Enabled:         true,
					Threshold:       5000,
					LookbackMinutes: 60,
					Severity:        SeverityMedium,
				},
				DormantReactivation: DormantReactivationConfig{
					Enabled:         true,
					DormantDays:     30,
					Threshold:       1000,
					LookbackMinutes: 60,
					Severity:        SeverityHigh,
				},
				RapidOutflow: RapidOutflowConfig{
					Enabled:       true,
					Count:         10,
					WindowMinutes: 60,
					Severity:      SeverityHigh,
				},
				AssetConcentration: AssetConcentrationConfig{
					Enabled:  true,
					Percent:  80,
					TopN:     10,
					Severity: SeverityLow,
				},
			},
		},
		Ingest: IngestConfig{
			Enabled:      false,
			HorizonURL:   "https://horizon-testnet.stellar.org",
			PageLimit:    200,
			IntervalSecs: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. A validation failure is fatal at
// startup: the engine refuses to run with missing or invalid thresholds.
func (c *Config) Validate() error {
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("repository: unsupported driver %q", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache: unsupported type %q", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("event_bus: unsupported type %q", c.EventBus.Type)
	}

	e := &c.Engine
	if e.IntervalMinutes <= 0 {
		return fmt.Errorf("engine: interval_minutes must be positive, got %d", e.IntervalMinutes)
	}
	if e.DedupWindowHours <= 0 {
		return fmt.Errorf("engine: dedup_window_hours must be positive, got %d", e.DedupWindowHours)
	}
	if e.RunTimeoutSecs < 0 {
		return fmt.Errorf("engine: run_timeout_seconds must not be negative, got %d", e.RunTimeoutSecs)
	}

	r := &e.Rules
	if r.LargeTransfer.Enabled {
		if r.LargeTransfer.Threshold <= 0 {
			return fmt.Errorf("large_transfer: threshold must be positive, got %v", r.LargeTransfer.Threshold)
		}
		if r.LargeTransfer.LookbackMinutes <= 0 {
			return fmt.Errorf("large_transfer: lookback_minutes must be positive, got %d", r.LargeTransfer.LookbackMinutes)
		}
		if !r.LargeTransfer.Severity.Valid() {
			return fmt.Errorf("large_transfer: invalid severity %q", r.LargeTransfer.Severity)
		}
	}
	if r.NewCounterparty.Enabled {
		if r.NewCounterparty.Threshold <= 0 {
			return fmt.Errorf("new_counterparty: threshold must be positive, got %v", r.NewCounterparty.Threshold)
		}
		if r.NewCounterparty.LookbackMinutes <= 0 {
			return fmt.Errorf("new_counterparty: lookback_minutes must be positive, got %d", r.NewCounterparty.LookbackMinutes)
		}
		if !r.NewCounterparty.Severity.Valid() {
			return fmt.Errorf("new_counterparty: invalid severity %q", r.NewCounterparty.Severity)
		}
	}
	if r.DormantReactivation.Enabled {
		if r.DormantReactivation.DormantDays <= 0 {
			return fmt.Errorf("dormant_reactivation: dormant_days must be positive, got %d", r.DormantReactivation.DormantDays)
		}
		if r.DormantReactivation.Threshold <= 0 {
			return fmt.Errorf("dormant_reactivation: threshold must be positive, got %v", r.DormantReactivation.Threshold)
		}
		if r.DormantReactivation.LookbackMinutes <= 0 {
			return fmt.Errorf("dormant_reactivation: lookback_minutes must be positive, got %d", r.DormantReactivation.LookbackMinutes)
		}
		if !r.DormantReactivation.Severity.Valid() {
			return fmt.Errorf("dormant_reactivation: invalid severity %q", r.DormantReactivation.Severity)
		}
	}
	if r.RapidOutflow.Enabled {
		if r.RapidOutflow.Count <= 0 {
			return fmt.Errorf("rapid_outflow: count must be positive, got %d", r.RapidOutflow.Count)
		}
		if r.RapidOutflow.WindowMinutes <= 0 {
			return fmt.Errorf("rapid_outflow: window_minutes must be positive, got %d", r.RapidOutflow.WindowMinutes)
		}
		if !r.RapidOutflow.Severity.Valid() {
			return fmt.Errorf("rapid_outflow: invalid severity %q", r.RapidOutflow.Severity)
		}
	}
	if r.AssetConcentration.Enabled {
		if r.AssetConcentration.Percent <= 0 || r.AssetConcentration.Percent > 100 {
			return fmt.Errorf("asset_concentration: percent must be in (0, 100], got %v", r.AssetConcentration.Percent)
		}
		if r.AssetConcentration.TopN <= 0 {
			return fmt.Errorf("asset_concentration: top_n must be positive, got %d", r.AssetConcentration.TopN)
		}
		if !r.AssetConcentration.Severity.Valid() {
			return fmt.Errorf("asset_concentration: invalid severity %q", r.AssetConcentration.Severity)
		}
	}

	if c.Ingest.Enabled {
		if c.Ingest.HorizonURL == "" {
			return fmt.Errorf("ingest: horizon_url is required")
		}
		if c.Ingest.PageLimit <= 0 {
			return fmt.Errorf("ingest: page_limit must be positive, got %d", c.Ingest.PageLimit)
		}
		if c.Ingest.IntervalSecs <= 0 {
			return fmt.Errorf("ingest: interval_seconds must be positive, got %d", c.Ingest.IntervalSecs)
		}
	}

	return nil
}
