package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOBOT_* environment variable overrides, and
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTOBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-exchange credentials use the uppercased exchange name,
// e.g. CRYPTOBOT_EXCHANGE_BITTREX_API_KEY.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CRYPTOBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CRYPTOBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CRYPTOBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTOBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOBOT_NOTIFY_EVENTS")

	// ── Analyzer ──
	setDuration(&cfg.Analyzer.Interval, "CRYPTOBOT_ANALYZER_INTERVAL")
	setFloat64(&cfg.Analyzer.MinNominalGainPct, "CRYPTOBOT_ANALYZER_MIN_NOMINAL_GAIN_PCT")
	setFloat64(&cfg.Analyzer.MaxNominalGainPct, "CRYPTOBOT_ANALYZER_MAX_NOMINAL_GAIN_PCT")
	setFloat64(&cfg.Analyzer.ProbeQuantity, "CRYPTOBOT_ANALYZER_PROBE_QUANTITY")
	setInt(&cfg.Analyzer.MaxConcurrent, "CRYPTOBOT_ANALYZER_MAX_CONCURRENT")
	setFloat64(&cfg.Analyzer.MinGainPerStepPct, "CRYPTOBOT_ANALYZER_MIN_GAIN_PER_STEP_PCT")
	setDuration(&cfg.Analyzer.RateMaxAge, "CRYPTOBOT_ANALYZER_RATE_MAX_AGE")
	setDuration(&cfg.Analyzer.BookMaxAge, "CRYPTOBOT_ANALYZER_BOOK_MAX_AGE")
	setFloat64(&cfg.Analyzer.BookMaxDriftPct, "CRYPTOBOT_ANALYZER_BOOK_MAX_DRIFT_PCT")

	// ── Trader ──
	setDuration(&cfg.Trader.Interval, "CRYPTOBOT_TRADER_INTERVAL")
	setInt(&cfg.Trader.MaxConcurrent, "CRYPTOBOT_TRADER_MAX_CONCURRENT")
	setFloat64(&cfg.Trader.MaxRateDriftPct, "CRYPTOBOT_TRADER_MAX_RATE_DRIFT_PCT")
	setFloat64(&cfg.Trader.MinSizeMargin, "CRYPTOBOT_TRADER_MIN_SIZE_MARGIN")
	setInt(&cfg.Trader.BalanceRetries, "CRYPTOBOT_TRADER_BALANCE_RETRIES")
	setDuration(&cfg.Trader.BalanceRetryDelay, "CRYPTOBOT_TRADER_BALANCE_RETRY_DELAY")
	setDuration(&cfg.Trader.PauseNoBook, "CRYPTOBOT_TRADER_PAUSE_NO_BOOK")
	setDuration(&cfg.Trader.PauseThinBook, "CRYPTOBOT_TRADER_PAUSE_THIN_BOOK")
	setDuration(&cfg.Trader.PauseLowBalance, "CRYPTOBOT_TRADER_PAUSE_LOW_BALANCE")
	setDuration(&cfg.Trader.PauseLowSell, "CRYPTOBOT_TRADER_PAUSE_LOW_SELL")
	setDuration(&cfg.Trader.PauseDust, "CRYPTOBOT_TRADER_PAUSE_DUST")

	// ── Retention ──
	setDuration(&cfg.Retention.Live, "CRYPTOBOT_RETENTION_LIVE")
	setDuration(&cfg.Retention.Done, "CRYPTOBOT_RETENTION_DONE")
	setDuration(&cfg.Retention.Interval, "CRYPTOBOT_RETENTION_INTERVAL")

	// ── Exchanges ──
	for name, ex := range cfg.Exchanges {
		prefix := "CRYPTOBOT_EXCHANGE_" + strings.ToUpper(name) + "_"
		setStr(&ex.ApiKey, prefix+"API_KEY")
		setStr(&ex.ApiSecret, prefix+"API_SECRET")
		setStr(&ex.EncryptedCredentials, prefix+"ENCRYPTED_CREDENTIALS")
		setStr(&ex.CredentialsPassword, prefix+"CREDENTIALS_PASSWORD")
		cfg.Exchanges[name] = ex
	}

	// ── Top-level ──
	setStr(&cfg.Mode, "CRYPTOBOT_MODE")
	setStr(&cfg.LogLevel, "CRYPTOBOT_LOG_LEVEL")
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
