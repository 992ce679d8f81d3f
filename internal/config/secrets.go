package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Exchanges: copy the map so callers cannot mutate the original through
	// the redacted copy.
	out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		redact(&ex.ApiKey)
		redact(&ex.ApiSecret)
		redact(&ex.CredentialsPassword)
		if ex.Markets != nil {
			markets := make([]string, len(ex.Markets))
			copy(markets, ex.Markets)
			ex.Markets = markets
		}
		out.Exchanges[name] = ex
	}

	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	if cfg.Analyzer.DustThresholds != nil {
		out.Analyzer.DustThresholds = make(map[string]float64, len(cfg.Analyzer.DustThresholds))
		for k, v := range cfg.Analyzer.DustThresholds {
			out.Analyzer.DustThresholds[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
