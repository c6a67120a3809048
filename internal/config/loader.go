package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDIDX_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDIDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PREDIDX_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PREDIDX_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "PREDIDX_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.StartBlock, "PREDIDX_CHAIN_START_BLOCK")
	setInt(&cfg.Chain.Confirmations, "PREDIDX_CHAIN_CONFIRMATIONS")
	setInt(&cfg.Chain.BatchSize, "PREDIDX_CHAIN_BATCH_SIZE")
	setDuration(&cfg.Chain.PollInterval, "PREDIDX_CHAIN_POLL_INTERVAL")
	setFloat64(&cfg.Chain.RPCRateLimit, "PREDIDX_CHAIN_RPC_RATE_LIMIT")
	setInt(&cfg.Chain.MaxRetries, "PREDIDX_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RetryDelay, "PREDIDX_CHAIN_RETRY_DELAY")

	// ── Store ──
	setStr(&cfg.Store.Backend, "PREDIDX_STORE_BACKEND")
	setStr(&cfg.Store.LevelDBPath, "PREDIDX_STORE_LEVELDB_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDIDX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "PREDIDX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDIDX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDIDX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDIDX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDIDX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDIDX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDIDX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDIDX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDIDX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDIDX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDIDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDIDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDIDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDIDX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDIDX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDIDX_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "PREDIDX_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "PREDIDX_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDIDX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDIDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDIDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDIDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDIDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDIDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDIDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDIDX_S3_FORCE_PATH_STYLE")

	// ── Indexer ──
	setInt(&cfg.Indexer.ConflictRetries, "PREDIDX_INDEXER_CONFLICT_RETRIES")
	setBool(&cfg.Indexer.SkipDuplicates, "PREDIDX_INDEXER_SKIP_DUPLICATES")
	setBool(&cfg.Indexer.TrackFirstSeen, "PREDIDX_INDEXER_TRACK_FIRST_SEEN")
	setBool(&cfg.Indexer.SourceMarketType, "PREDIDX_INDEXER_SOURCE_MARKET_TYPE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDIDX_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "PREDIDX_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PREDIDX_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDIDX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDIDX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDIDX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "PREDIDX_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDIDX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDIDX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDIDX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDIDX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDIDX_MODE")
	setStr(&cfg.LogLevel, "PREDIDX_LOG_LEVEL")
	setStr(&cfg.LogFile, "PREDIDX_LOG_FILE")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
