package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/teusbenschop/cryptobot/internal/blob/s3"
	"github.com/teusbenschop/cryptobot/internal/cache/redis"
	"github.com/teusbenschop/cryptobot/internal/config"
	"github.com/teusbenschop/cryptobot/internal/crypto"
	"github.com/teusbenschop/cryptobot/internal/domain"
	"github.com/teusbenschop/cryptobot/internal/exchange/paper"
	"github.com/teusbenschop/cryptobot/internal/notify"
	"github.com/teusbenschop/cryptobot/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. Wire constructs it and
// hands back a cleanup function that releases the connections.
type Dependencies struct {
	Paths     domain.PathStore
	MinTrades domain.MinTradeStore
	Pauses    domain.PauseStore

	Books domain.BookCache
	Locks domain.LockManager

	Gateways map[string]domain.ExchangeGateway

	// Archiver is nil unless S3 is enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from the given
// configuration.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Postgres: every mode touches the path tables.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Paths = postgres.NewPathStore(pool)
	deps.MinTrades = postgres.NewMinTradeStore(pool)
	deps.Pauses = postgres.NewPauseStore(pool)

	// Redis: book cache and the cross-instance record lock.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Books = redis.NewBookCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// Venue gateways.
	deps.Gateways, err = buildGateways(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: gateways: %w", err)
	}

	// S3 archiver, optional.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Paths, logger)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildGateways constructs one gateway per configured venue. Only the paper
// driver is built in; its credentials, when configured, are still resolved so
// a bad encrypted file fails at startup rather than at the first order.
func buildGateways(cfg *config.Config, logger *slog.Logger) (map[string]domain.ExchangeGateway, error) {
	gateways := make(map[string]domain.ExchangeGateway, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		if ex.ApiKey != "" || ex.EncryptedCredentials != "" {
			if _, err := crypto.LoadCredentials(crypto.CredentialSource{
				ApiKey:        ex.ApiKey,
				ApiSecret:     ex.ApiSecret,
				EncryptedPath: ex.EncryptedCredentials,
				Password:      ex.CredentialsPassword,
			}); err != nil {
				return nil, fmt.Errorf("exchange %s: %w", name, err)
			}
		}

		prices := paper.DefaultUniverse()
		if len(ex.Markets) > 0 {
			keep := make(map[string]bool, len(ex.Markets))
			for _, m := range ex.Markets {
				keep[m] = true
			}
			for market := range prices {
				if !keep[market] {
					delete(prices, market)
				}
			}
		}

		gateways[name] = paper.New(paper.Config{
			Name:         name,
			FeePct:       ex.FeePct,
			OrderEasePct: ex.OrderEasePct,
			StartPrices:  prices,
			Balances:     map[string]float64{"BTC": 1, "USDT": 50_000},
		})
		logger.Info("paper venue wired",
			slog.String("exchange", name),
			slog.Float64("fee_pct", ex.FeePct))
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no exchanges configured")
	}
	return gateways, nil
}
