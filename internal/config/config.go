// Package config defines the top-level configuration for paperdesk and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERDESK_* environment variables.
type Config struct {
	Finnhub    ProviderConfig   `toml:"finnhub"`
	TwelveData ProviderConfig   `toml:"twelvedata"`
	MarketData MarketDataConfig `toml:"market_data"`
	Connection ConnectionConfig `toml:"connection"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Engine     EngineConfig     `toml:"engine"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ProviderConfig holds the endpoints and credentials of one upstream quote
// provider.
type ProviderConfig struct {
	Enabled           bool   `toml:"enabled"`
	WsURL             string `toml:"ws_url"`
	RestURL           string `toml:"rest_url"`
	APIKey            string `toml:"api_key"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// MarketDataConfig controls the quote cache, the pull fallback and symbol
// routing.
type MarketDataConfig struct {
	CacheTTL        duration `toml:"cache_ttl"`
	CacheBackend    string   `toml:"cache_backend"`   // "memory" or "redis"
	LimiterBackend  string   `toml:"limiter_backend"` // "memory" or "redis"
	PollInterval    duration `toml:"poll_interval"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	DefaultProvider string   `toml:"default_provider"`
	// SymbolProviders routes individual symbols to a provider id, overriding
	// DefaultProvider.
	SymbolProviders map[string]string `toml:"symbol_providers"`
	// ReferencePrices are last-resort synthetic prices served when neither
	// the cache nor a pull can produce a quote. Never executed against.
	ReferencePrices map[string]float64 `toml:"reference_prices"`
}

// ConnectionConfig controls streaming connection supervision.
type ConnectionConfig struct {
	HeartbeatInterval    duration `toml:"heartbeat_interval"`
	ConnectTimeout       duration `toml:"connect_timeout"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	BackoffBase          duration `toml:"backoff_base"`
	BackoffMax           duration `toml:"backoff_max"`
}

// BreakerConfig controls the per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         duration `toml:"cooldown"`
}

// EngineConfig holds the paper account and risk parameters.
type EngineConfig struct {
	Currency            string             `toml:"currency"`
	InitialBalance      float64            `toml:"initial_balance"`
	Leverage            float64            `toml:"leverage"`
	MaxVolume           float64            `toml:"max_volume"`
	MarginCallLevel     float64            `toml:"margin_call_level"`
	StopOutLevel        float64            `toml:"stop_out_level"`
	EvalInterval        duration           `toml:"eval_interval"`
	DefaultContractSize float64            `toml:"default_contract_size"`
	Contracts           map[string]float64 `toml:"contracts"`
	HookBuffer          int                `toml:"hook_buffer"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the export of closed trading history to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RequestsPerMinute bounds each client IP; zero disables the limiter.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Finnhub: ProviderConfig{
			Enabled:           true,
			WsURL:             "wss://ws.finnhub.io",
			RestURL:           "https://finnhub.io/api/v1",
			RequestsPerMinute: 60,
		},
		TwelveData: ProviderConfig{
			Enabled:           false,
			WsURL:             "wss://ws.twelvedata.com/v1/quotes/price",
			RestURL:           "https://api.twelvedata.com",
			RequestsPerMinute: 8,
		},
		MarketData: MarketDataConfig{
			CacheTTL:        duration{30 * time.Second},
			CacheBackend:    "memory",
			LimiterBackend:  "memory",
			PollInterval:    duration{15 * time.Second},
			FetchTimeout:    duration{5 * time.Second},
			DefaultProvider: "finnhub",
			SymbolProviders: map[string]string{},
			ReferencePrices: map[string]float64{},
		},
		Connection: ConnectionConfig{
			HeartbeatInterval:    duration{30 * time.Second},
			ConnectTimeout:       duration{10 * time.Second},
			MaxReconnectAttempts: 10,
			BackoffBase:          duration{time.Second},
			BackoffMax:           duration{60 * time.Second},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         duration{5 * time.Minute},
		},
		Engine: EngineConfig{
			Currency:            "USD",
			InitialBalance:      100_000,
			Leverage:            100,
			MaxVolume:           100,
			MarginCallLevel:     100,
			StopOutLevel:        50,
			EvalInterval:        duration{time.Second},
			DefaultContractSize: 100_000,
			Contracts:           map[string]float64{},
			HookBuffer:          1024,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "paperdesk-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"connection_failed", "margin_call", "stop_out", "position_closed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"feed":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory": true,
	"redis":  true,
}

// ProviderIDs returns the ids of the enabled providers.
func (c *Config) ProviderIDs() []string {
	var ids []string
	if c.Finnhub.Enabled {
		ids = append(ids, "finnhub")
	}
	if c.TwelveData.Enabled {
		ids = append(ids, "twelvedata")
	}
	return ids
}

// ContractSize returns the configured contract size for symbol, falling back
// to the engine default.
func (c *EngineConfig) ContractSize(symbol string) float64 {
	if v, ok := c.Contracts[symbol]; ok && v > 0 {
		return v
	}
	return c.DefaultContractSize
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, feed)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Providers
	enabled := map[string]bool{}
	for _, pv := range []struct {
		id string
		p  ProviderConfig
	}{{"finnhub", c.Finnhub}, {"twelvedata", c.TwelveData}} {
		id, p := pv.id, pv.p
		if !p.Enabled {
			continue
		}
		enabled[id] = true
		if p.WsURL == "" {
			errs = append(errs, id+": ws_url must not be empty")
		}
		if p.RestURL == "" {
			errs = append(errs, id+": rest_url must not be empty")
		}
		if p.RequestsPerMinute < 1 {
			errs = append(errs, id+": requests_per_minute must be >= 1")
		}
	}
	if len(enabled) == 0 {
		errs = append(errs, "at least one provider (finnhub, twelvedata) must be enabled")
	}

	// Market data
	md := c.MarketData
	if md.CacheTTL.Duration <= 0 {
		errs = append(errs, "market_data: cache_ttl must be > 0")
	}
	if md.FetchTimeout.Duration <= 0 {
		errs = append(errs, "market_data: fetch_timeout must be > 0")
	}
	if md.PollInterval.Duration <= 0 {
		errs = append(errs, "market_data: poll_interval must be > 0")
	}
	if !validBackends[md.CacheBackend] {
		errs = append(errs, fmt.Sprintf("market_data: unknown cache_backend %q (valid: memory, redis)", md.CacheBackend))
	}
	if !validBackends[md.LimiterBackend] {
		errs = append(errs, fmt.Sprintf("market_data: unknown limiter_backend %q (valid: memory, redis)", md.LimiterBackend))
	}
	if (md.CacheBackend == "redis" || md.LimiterBackend == "redis") && !c.Redis.Enabled {
		errs = append(errs, "market_data: redis backends require redis.enabled")
	}
	if len(enabled) > 0 && !enabled[md.DefaultProvider] {
		errs = append(errs, fmt.Sprintf("market_data: default_provider %q is not an enabled provider", md.DefaultProvider))
	}
	for sym, id := range md.SymbolProviders {
		if !enabled[id] {
			errs = append(errs, fmt.Sprintf("market_data: symbol %s routed to disabled provider %q", sym, id))
		}
	}

	// Connection
	if c.Connection.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "connection: heartbeat_interval must be > 0")
	}
	if c.Connection.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "connection: connect_timeout must be > 0")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		errs = append(errs, "connection: max_reconnect_attempts must be >= 1")
	}
	if c.Connection.BackoffBase.Duration <= 0 || c.Connection.BackoffMax.Duration < c.Connection.BackoffBase.Duration {
		errs = append(errs, "connection: backoff_base must be > 0 and <= backoff_max")
	}

	// Breaker
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}
	if c.Breaker.Cooldown.Duration <= 0 {
		errs = append(errs, "breaker: cooldown must be > 0")
	}

	// Engine
	e := c.Engine
	if e.InitialBalance < 0 {
		errs = append(errs, "engine: initial_balance must be >= 0")
	}
	if e.Leverage <= 0 {
		errs = append(errs, "engine: leverage must be > 0")
	}
	if e.MaxVolume <= 0 {
		errs = append(errs, "engine: max_volume must be > 0")
	}
	if e.DefaultContractSize <= 0 {
		errs = append(errs, "engine: default_contract_size must be > 0")
	}
	if e.StopOutLevel < 0 || e.MarginCallLevel < e.StopOutLevel {
		errs = append(errs, "engine: margin_call_level must be >= stop_out_level >= 0")
	}
	if e.EvalInterval.Duration <= 0 {
		errs = append(errs, "engine: eval_interval must be > 0")
	}
	if e.HookBuffer < 1 {
		errs = append(errs, "engine: hook_buffer must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires s3.enabled and postgres.enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerMinute < 0 {
			errs = append(errs, "server: requests_per_minute must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
