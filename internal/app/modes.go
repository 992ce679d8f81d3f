package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teusbenschop/cryptobot/internal/depth"
	"github.com/teusbenschop/cryptobot/internal/domain"
	"github.com/teusbenschop/cryptobot/internal/multipath"
	"github.com/teusbenschop/cryptobot/internal/rates"
	"github.com/teusbenschop/cryptobot/internal/trader"
)

// balanceCacheTTL bounds how long a venue balance read is reused before the
// venue is asked again.
const balanceCacheTTL = 30 * time.Second

// analyzer bundles the per-pass scan components.
type analyzer struct {
	fetcher   *rates.Fetcher
	generator *multipath.Generator
	evaluator *multipath.Evaluator
}

// fees returns the per-venue fee fractions from the configuration.
func (a *App) fees() map[string]float64 {
	out := make(map[string]float64, len(a.cfg.Exchanges))
	for name, ex := range a.cfg.Exchanges {
		out[name] = ex.FeePct / 100
	}
	return out
}

// newRealizer builds the depth layer shared by the analyzer and the trader.
func (a *App) newRealizer(deps *Dependencies) *depth.Realizer {
	return depth.NewRealizer(deps.Books, deps.Gateways, depth.Config{
		MaxAge:         a.cfg.Analyzer.BookMaxAge.Duration,
		MaxDriftPct:    a.cfg.Analyzer.BookMaxDriftPct,
		DustThresholds: a.cfg.Analyzer.DustThresholds,
	}, a.logger)
}

// newAnalyzer builds the scan components.
func (a *App) newAnalyzer(deps *Dependencies, minTrades map[domain.Triple]float64) *analyzer {
	gateways := make([]domain.ExchangeGateway, 0, len(deps.Gateways))
	for _, gw := range deps.Gateways {
		gateways = append(gateways, gw)
	}
	fees := a.fees()
	return &analyzer{
		fetcher: rates.NewFetcher(gateways, a.cfg.Analyzer.RateMaxAge.Duration, a.logger),
		generator: multipath.NewGenerator(multipath.GeneratorConfig{
			ProbeQuantity:     a.cfg.Analyzer.ProbeQuantity,
			MinNominalGainPct: a.cfg.Analyzer.MinNominalGainPct,
			MaxNominalGainPct: a.cfg.Analyzer.MaxNominalGainPct,
			Fees:              fees,
		}, a.logger),
		evaluator: multipath.NewEvaluator(a.newRealizer(deps), deps.Paths, minTrades, multipath.EvaluatorConfig{
			Fees:              fees,
			MinGainPerStepPct: a.cfg.Analyzer.MinGainPerStepPct,
			MaxGainPct:        a.cfg.Analyzer.MaxNominalGainPct,
		}, a.logger),
	}
}

// newScheduler builds the execution side: machine, guard and scheduler.
func (a *App) newScheduler(deps *Dependencies, minTrades map[domain.Triple]float64) *trader.Scheduler {
	machine := trader.NewMachine(
		deps.Paths,
		deps.Pauses,
		deps.Gateways,
		a.newRealizer(deps),
		trader.NewBalanceCache(balanceCacheTTL),
		minTrades,
		deps.Notifier,
		trader.MachineConfig{
			Fees:              a.fees(),
			MinGainPerStepPct: a.cfg.Analyzer.MinGainPerStepPct,
			MaxRateDriftPct:   a.cfg.Trader.MaxRateDriftPct,
			MinSizeMargin:     a.cfg.Trader.MinSizeMargin,
			BalanceRetries:    a.cfg.Trader.BalanceRetries,
			BalanceRetryDelay: a.cfg.Trader.BalanceRetryDelay.Duration,
			PauseNoBook:       a.cfg.Trader.PauseNoBook.Duration,
			PauseThinBook:     a.cfg.Trader.PauseThinBook.Duration,
			PauseLowBalance:   a.cfg.Trader.PauseLowBalance.Duration,
			PauseLowSell:      a.cfg.Trader.PauseLowSell.Duration,
			PauseDust:         a.cfg.Trader.PauseDust.Duration,
		},
		a.logger,
	)
	return trader.NewScheduler(deps.Paths, deps.Locks, machine, trader.SchedulerConfig{
		Interval:      a.cfg.Trader.Interval.Duration,
		MaxConcurrent: a.cfg.Trader.MaxConcurrent,
	}, a.logger)
}

// AnalyzeMode runs opportunity scans until the context is cancelled.
func (a *App) AnalyzeMode(ctx context.Context, deps *Dependencies) error {
	minTrades, err := deps.MinTrades.All(ctx)
	if err != nil {
		return err
	}
	return a.analyzeLoop(ctx, deps, a.newAnalyzer(deps, minTrades))
}

// TradeMode executes stored profitable paths until the context is cancelled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	minTrades, err := deps.MinTrades.All(ctx)
	if err != nil {
		return err
	}
	return a.newScheduler(deps, minTrades).Run(ctx)
}

// ExpireMode archives and prunes old records until the context is cancelled.
func (a *App) ExpireMode(ctx context.Context, deps *Dependencies) error {
	return a.retentionLoop(ctx, deps)
}

// MintradeMode refreshes the persisted venue minimum order sizes once and
// exits.
func (a *App) MintradeMode(ctx context.Context, deps *Dependencies) error {
	for name, gw := range deps.Gateways {
		stored := 0
		for _, market := range gw.Markets() {
			summaries, err := gw.MarketSummaries(ctx, market)
			if err != nil {
				a.logger.Warn("mintrade: market summaries failed",
					slog.String("exchange", name),
					slog.String("market", market),
					slog.String("error", err.Error()))
				continue
			}
			coins := make([]string, 0, len(summaries))
			for coin := range summaries {
				coins = append(coins, coin)
			}
			mins, err := gw.MinimumTradeSizes(ctx, market, coins)
			if err != nil {
				a.logger.Warn("mintrade: minimum sizes failed",
					slog.String("exchange", name),
					slog.String("market", market),
					slog.String("error", err.Error()))
				continue
			}
			for coin, quantity := range mins {
				t := domain.Triple{Exchange: name, Market: market, Coin: coin}
				if err := deps.MinTrades.Put(ctx, t, quantity); err != nil {
					return err
				}
				stored++
			}
		}
		a.logger.Info("minimum trade sizes refreshed",
			slog.String("exchange", name),
			slog.Int("count", stored))
	}
	return nil
}

// FullMode runs the analyzer, the trader and retention side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	minTrades, err := deps.MinTrades.All(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.analyzeLoop(ctx, deps, a.newAnalyzer(deps, minTrades)) })
	g.Go(func() error { return a.newScheduler(deps, minTrades).Run(ctx) })
	g.Go(func() error { return a.retentionLoop(ctx, deps) })
	return g.Wait()
}

// analyzeLoop runs analysis passes on the configured interval.
func (a *App) analyzeLoop(ctx context.Context, deps *Dependencies, an *analyzer) error {
	ticker := time.NewTicker(a.cfg.Analyzer.Interval.Duration)
	defer ticker.Stop()

	for {
		if err := a.analyzePass(ctx, deps, an); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("analysis pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// analyzePass scans for candidate cycles and confirms them against depth.
func (a *App) analyzePass(ctx context.Context, deps *Dependencies, an *analyzer) error {
	snap, err := an.fetcher.Fresh(ctx)
	if err != nil {
		return err
	}

	active, err := deps.Pauses.Active(ctx)
	if err != nil {
		return err
	}
	paused := make(map[domain.Triple]bool, len(active))
	for _, t := range active {
		paused[t] = true
	}

	existing, err := deps.Paths.List(ctx)
	if err != nil {
		return err
	}

	// Candidates fan out across a bounded set of evaluators; each candidate
	// in a pass is a distinct cycle, so the duplicate check only needs the
	// records known before the pass plus those appended under the lock.
	candidates := an.generator.Generate(snap, paused)
	var mu sync.Mutex
	stored := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Analyzer.MaxConcurrent)
	for i := range candidates {
		p := &candidates[i]
		g.Go(func() error {
			mu.Lock()
			if touchesPaused(p, paused) {
				// Paused mid-pass by another candidate's failure.
				mu.Unlock()
				return nil
			}
			known := existing
			mu.Unlock()

			err := an.evaluator.Evaluate(gctx, p, known)
			var liqErr *multipath.LiquidityError
			switch {
			case err == nil:
				mu.Lock()
				existing = append(existing, *p)
				stored++
				mu.Unlock()
				a.logger.Info("path stored",
					slog.Int64("path", p.ID),
					slog.String("route", p.Describe()),
					slog.Float64("gain_pct", p.Gain))
			case errors.As(err, &liqErr):
				d := a.cfg.Trader.PauseNoBook.Duration
				if liqErr.Thin {
					d = a.cfg.Trader.PauseThinBook.Duration
				}
				if perr := deps.Pauses.Pause(gctx, liqErr.Triple, d, liqErr.Error()); perr != nil {
					a.logger.Warn("pause write failed", slog.String("error", perr.Error()))
				}
				mu.Lock()
				paused[liqErr.Triple] = true
				mu.Unlock()
			case errors.Is(err, domain.ErrDuplicatePath), errors.Is(err, domain.ErrUnprofitable):
				// Expected outcomes of most candidates.
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				a.logger.Warn("evaluation failed",
					slog.String("route", p.Describe()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Debug("analysis pass complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("stored", stored))
	return nil
}

// touchesPaused reports whether any trading leg of the path is paused.
func touchesPaused(p *domain.PathRecord, paused map[domain.Triple]bool) bool {
	for _, t := range p.Triples() {
		if t.Market != t.Coin && paused[t] {
			return true
		}
	}
	return false
}

// retentionLoop archives and expires old records on the configured interval.
func (a *App) retentionLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Retention.Interval.Duration)
	defer ticker.Stop()

	for {
		if err := a.retentionPass(ctx, deps); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("retention pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// retentionPass uploads expiring done records when an archiver is wired,
// then deletes what fell out of the retention windows. Records are expired
// only after the archive upload succeeded.
func (a *App) retentionPass(ctx context.Context, deps *Dependencies) error {
	now := time.Now()
	liveCutoff := now.Add(-a.cfg.Retention.Live.Duration)
	doneCutoff := now.Add(-a.cfg.Retention.Done.Duration)

	if deps.Archiver != nil {
		if _, err := deps.Archiver.ArchiveDone(ctx, doneCutoff); err != nil {
			return err
		}
	}

	removed, err := deps.Paths.Expire(ctx, liveCutoff, doneCutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		a.logger.Info("expired records", slog.Int64("count", removed))
	}
	return nil
}
