// Package config defines the top-level configuration for the multipath
// trading engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOBOT_* environment variables.
type Config struct {
	Postgres  PostgresConfig            `toml:"postgres"`
	Redis     RedisConfig               `toml:"redis"`
	S3        S3Config                  `toml:"s3"`
	Notify    NotifyConfig              `toml:"notify"`
	Analyzer  AnalyzerConfig            `toml:"analyzer"`
	Trader    TraderConfig              `toml:"trader"`
	Retention RetentionConfig           `toml:"retention"`
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	Mode      string                    `toml:"mode"`
	LogLevel  string                    `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExchangeConfig holds one venue's credentials and trading parameters.
// Credentials come either inline or from an encrypted file plus password.
type ExchangeConfig struct {
	ApiKey               string   `toml:"api_key"`
	ApiSecret            string   `toml:"api_secret"`
	EncryptedCredentials string   `toml:"encrypted_credentials"`
	CredentialsPassword  string   `toml:"credentials_password"`
	FeePct               float64  `toml:"fee_pct"`
	OrderEasePct         float64  `toml:"order_ease_pct"`
	Markets              []string `toml:"markets"`
}

// AnalyzerConfig holds the parameters of the opportunity scan.
type AnalyzerConfig struct {
	// Interval is the delay between analysis passes.
	Interval duration `toml:"interval"`
	// MinNominalGainPct and MaxNominalGainPct bound the top-of-book gain a
	// candidate cycle must show before depth is even fetched. Gains above
	// the maximum are treated as data glitches.
	MinNominalGainPct float64 `toml:"min_nominal_gain_pct"`
	MaxNominalGainPct float64 `toml:"max_nominal_gain_pct"`
	// ProbeQuantity is the market quantity used for the nominal calculation.
	ProbeQuantity float64 `toml:"probe_quantity"`
	// MaxConcurrent caps candidate evaluations running at once in a pass.
	MaxConcurrent int `toml:"max_concurrent"`
	// MinGainPerStepPct is the required realized gain per trading step.
	MinGainPerStepPct float64 `toml:"min_gain_per_step_pct"`
	// RateMaxAge caches top-of-book rates for this long.
	RateMaxAge duration `toml:"rate_max_age"`
	// BookMaxAge caches depth ladders for this long.
	BookMaxAge duration `toml:"book_max_age"`
	// BookMaxDriftPct invalidates a cached ladder whose reference price has
	// moved more than this far from the current top-of-book mid price.
	BookMaxDriftPct float64 `toml:"book_max_drift_pct"`
	// DustThresholds maps a market currency to the quantity below which a
	// holding is considered untradable residue.
	DustThresholds map[string]float64 `toml:"dust_thresholds"`
}

// TraderConfig holds the parameters of the execution scheduler and state
// machine.
type TraderConfig struct {
	// Interval is the delay between scheduler passes.
	Interval duration `toml:"interval"`
	// MaxConcurrent caps the number of paths executing at once.
	MaxConcurrent int `toml:"max_concurrent"`
	// MaxRateDriftPct aborts a leg whose fresh rate has moved more than
	// this far from the evaluated rate, unless the remaining gain absorbs
	// the move.
	MaxRateDriftPct float64 `toml:"max_rate_drift_pct"`
	// MinSizeMargin scales an order up to slightly above the venue minimum
	// when it would otherwise be rejected as too small.
	MinSizeMargin float64 `toml:"min_size_margin"`
	// BalanceRetries and BalanceRetryDelay govern the post-fill balance
	// check before a path is given up as unrecoverable.
	BalanceRetries    int      `toml:"balance_retries"`
	BalanceRetryDelay duration `toml:"balance_retry_delay"`
	// Pause durations per failure cause. A paused triple accepts no new
	// legs until the pause lapses.
	PauseNoBook     duration `toml:"pause_no_book"`
	PauseThinBook   duration `toml:"pause_thin_book"`
	PauseLowBalance duration `toml:"pause_low_balance"`
	PauseLowSell    duration `toml:"pause_low_sell"`
	PauseDust       duration `toml:"pause_dust"`
}

// RetentionConfig holds the record expiry horizons.
type RetentionConfig struct {
	// Live is how long a non-done record may sit before it is expired.
	Live duration `toml:"live"`
	// Done is how long completed records are kept for statistics.
	Done duration `toml:"done"`
	// Interval is the delay between expiry sweeps.
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptobot",
			User:          "cryptobot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptobot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"path_done", "path_error", "path_unrecoverable"},
		},
		Analyzer: AnalyzerConfig{
			Interval:          duration{time.Minute},
			MinNominalGainPct: 2.0,
			MaxNominalGainPct: 90.0,
			ProbeQuantity:     0.01,
			MaxConcurrent:     8,
			MinGainPerStepPct: 0.75,
			RateMaxAge:        duration{10 * time.Second},
			BookMaxAge:        duration{10 * time.Second},
			BookMaxDriftPct:   0.2,
			DustThresholds: map[string]float64{
				"BTC":  0.001,
				"LTC":  0.01,
				"ETH":  0.0005,
				"DOGE": 100,
				"USDT": 1,
				"USD":  0.1,
			},
		},
		Trader: TraderConfig{
			Interval:          duration{10 * time.Second},
			MaxConcurrent:     5,
			MaxRateDriftPct:   0.1,
			MinSizeMargin:     1.005,
			BalanceRetries:    5,
			BalanceRetryDelay: duration{2 * time.Second},
			PauseNoBook:       duration{5 * time.Minute},
			PauseThinBook:     duration{60 * time.Minute},
			PauseLowBalance:   duration{120 * time.Minute},
			PauseLowSell:      duration{5 * time.Minute},
			PauseDust:         duration{15 * time.Minute},
		},
		Retention: RetentionConfig{
			Live:     duration{5 * time.Hour},
			Done:     duration{40 * 24 * time.Hour},
			Interval: duration{15 * time.Minute},
		},
		Exchanges: map[string]ExchangeConfig{},
		Mode:      "full",
		LogLevel:  "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"analyze":  true,
	"trade":    true,
	"expire":   true,
	"mintrade": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: analyze, trade, expire, mintrade, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Exchanges
	if len(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: at least one exchange must be configured")
	}
	for name, ex := range c.Exchanges {
		if ex.FeePct < 0 || ex.FeePct >= 50 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: fee_pct must be in [0, 50), got %g", name, ex.FeePct))
		}
		if ex.OrderEasePct < 0 || ex.OrderEasePct >= 100 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: order_ease_pct must be in [0, 100), got %g", name, ex.OrderEasePct))
		}
		if len(ex.Markets) == 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: markets must not be empty", name))
		}
		if ex.EncryptedCredentials != "" && ex.CredentialsPassword == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: credentials_password is required when encrypted_credentials is set", name))
		}
	}

	// Analyzer
	if c.Analyzer.ProbeQuantity <= 0 {
		errs = append(errs, "analyzer: probe_quantity must be > 0")
	}
	if c.Analyzer.MinNominalGainPct <= 0 {
		errs = append(errs, "analyzer: min_nominal_gain_pct must be > 0")
	}
	if c.Analyzer.MaxNominalGainPct <= c.Analyzer.MinNominalGainPct {
		errs = append(errs, "analyzer: max_nominal_gain_pct must exceed min_nominal_gain_pct")
	}
	if c.Analyzer.MinGainPerStepPct <= 0 {
		errs = append(errs, "analyzer: min_gain_per_step_pct must be > 0")
	}
	if c.Analyzer.MaxConcurrent < 1 {
		errs = append(errs, "analyzer: max_concurrent must be >= 1")
	}
	if c.Analyzer.RateMaxAge.Duration <= 0 {
		errs = append(errs, "analyzer: rate_max_age must be > 0")
	}
	if c.Analyzer.BookMaxAge.Duration <= 0 {
		errs = append(errs, "analyzer: book_max_age must be > 0")
	}

	// Trader
	if c.Trader.MaxConcurrent < 1 {
		errs = append(errs, "trader: max_concurrent must be >= 1")
	}
	if c.Trader.MinSizeMargin < 1 {
		errs = append(errs, "trader: min_size_margin must be >= 1")
	}
	if c.Trader.BalanceRetries < 1 {
		errs = append(errs, "trader: balance_retries must be >= 1")
	}

	// Retention
	if c.Retention.Live.Duration <= 0 {
		errs = append(errs, "retention: live must be > 0")
	}
	if c.Retention.Done.Duration <= c.Retention.Live.Duration {
		errs = append(errs, "retention: done must exceed live")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
