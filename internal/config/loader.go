package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERDESK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.NormalizeSymbols(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NormalizeSymbols upper-cases and trims the symbol keys of the per-symbol
// maps so they match the normalized symbols used at lookup time. Two keys
// that normalize to the same symbol are an error.
func (c *Config) NormalizeSymbols() error {
	var err error
	if c.Engine.Contracts, err = normalizeKeys("engine.contracts", c.Engine.Contracts); err != nil {
		return err
	}
	if c.MarketData.SymbolProviders, err = normalizeKeys("market_data.symbol_providers", c.MarketData.SymbolProviders); err != nil {
		return err
	}
	if c.MarketData.ReferencePrices, err = normalizeKeys("market_data.reference_prices", c.MarketData.ReferencePrices); err != nil {
		return err
	}
	return nil
}

func normalizeKeys[V any](section string, in map[string]V) (map[string]V, error) {
	out := make(map[string]V, len(in))
	for k, v := range in {
		sym := strings.ToUpper(strings.TrimSpace(k))
		if _, dup := out[sym]; dup {
			return nil, fmt.Errorf("config: %s: symbol %s listed more than once", section, sym)
		}
		out[sym] = v
	}
	return out, nil
}

// applyEnvOverrides reads well-known PAPERDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Providers ──
	applyProviderEnv(&cfg.Finnhub, "PAPERDESK_FINNHUB")
	applyProviderEnv(&cfg.TwelveData, "PAPERDESK_TWELVEDATA")

	// ── Market data ──
	setDuration(&cfg.MarketData.CacheTTL, "PAPERDESK_MARKET_DATA_CACHE_TTL")
	setStr(&cfg.MarketData.CacheBackend, "PAPERDESK_MARKET_DATA_CACHE_BACKEND")
	setStr(&cfg.MarketData.LimiterBackend, "PAPERDESK_MARKET_DATA_LIMITER_BACKEND")
	setDuration(&cfg.MarketData.PollInterval, "PAPERDESK_MARKET_DATA_POLL_INTERVAL")
	setDuration(&cfg.MarketData.FetchTimeout, "PAPERDESK_MARKET_DATA_FETCH_TIMEOUT")
	setStr(&cfg.MarketData.DefaultProvider, "PAPERDESK_MARKET_DATA_DEFAULT_PROVIDER")

	// ── Connection ──
	setDuration(&cfg.Connection.HeartbeatInterval, "PAPERDESK_CONNECTION_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Connection.ConnectTimeout, "PAPERDESK_CONNECTION_CONNECT_TIMEOUT")
	setInt(&cfg.Connection.MaxReconnectAttempts, "PAPERDESK_CONNECTION_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Connection.BackoffBase, "PAPERDESK_CONNECTION_BACKOFF_BASE")
	setDuration(&cfg.Connection.BackoffMax, "PAPERDESK_CONNECTION_BACKOFF_MAX")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "PAPERDESK_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.Cooldown, "PAPERDESK_BREAKER_COOLDOWN")

	// ── Engine ──
	setStr(&cfg.Engine.Currency, "PAPERDESK_ENGINE_CURRENCY")
	setFloat64(&cfg.Engine.InitialBalance, "PAPERDESK_ENGINE_INITIAL_BALANCE")
	setFloat64(&cfg.Engine.Leverage, "PAPERDESK_ENGINE_LEVERAGE")
	setFloat64(&cfg.Engine.MaxVolume, "PAPERDESK_ENGINE_MAX_VOLUME")
	setFloat64(&cfg.Engine.MarginCallLevel, "PAPERDESK_ENGINE_MARGIN_CALL_LEVEL")
	setFloat64(&cfg.Engine.StopOutLevel, "PAPERDESK_ENGINE_STOP_OUT_LEVEL")
	setDuration(&cfg.Engine.EvalInterval, "PAPERDESK_ENGINE_EVAL_INTERVAL")
	setFloat64(&cfg.Engine.DefaultContractSize, "PAPERDESK_ENGINE_DEFAULT_CONTRACT_SIZE")
	setInt(&cfg.Engine.HookBuffer, "PAPERDESK_ENGINE_HOOK_BUFFER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PAPERDESK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PAPERDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "PAPERDESK_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PAPERDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERDESK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERDESK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERDESK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERDESK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAPERDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAPERDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERDESK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAPERDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAPERDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERDESK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAPERDESK_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "PAPERDESK_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PAPERDESK_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERDESK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PAPERDESK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERDESK_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMinute, "PAPERDESK_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERDESK_MODE")
	setStr(&cfg.LogLevel, "PAPERDESK_LOG_LEVEL")
}

func applyProviderEnv(p *ProviderConfig, prefix string) {
	setBool(&p.Enabled, prefix+"_ENABLED")
	setStr(&p.WsURL, prefix+"_WS_URL")
	setStr(&p.RestURL, prefix+"_REST_URL")
	setStr(&p.APIKey, prefix+"_API_KEY")
	setInt(&p.RequestsPerMinute, prefix+"_REQUESTS_PER_MINUTE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
