// Package rates builds frozen per-pass snapshots of top-of-book quotes. A
// snapshot is assembled once, handed to the analyzer, and never mutated, so
// every cycle evaluated in one pass sees the same prices.
package rates

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Snapshot is an immutable set of quotes implementing domain.RateSample.
type Snapshot struct {
	taken  time.Time
	quotes map[domain.Triple]domain.Rate
	// byMarket indexes coin lists per (exchange, market) so the candidate
	// scan does not walk the whole quote map per market.
	byMarket map[[2]string][]string
}

var _ domain.RateSample = (*Snapshot)(nil)

// NewSnapshot builds a Snapshot from a quote map. The map is not copied; the
// caller must not retain it.
func NewSnapshot(quotes map[domain.Triple]domain.Rate, taken time.Time) *Snapshot {
	s := &Snapshot{
		taken:    taken,
		quotes:   quotes,
		byMarket: make(map[[2]string][]string),
	}
	for t := range quotes {
		k := [2]string{t.Exchange, t.Market}
		s.byMarket[k] = append(s.byMarket[k], t.Coin)
	}
	for _, coins := range s.byMarket {
		sort.Strings(coins)
	}
	return s
}

// Rate returns the quote for a triple, and whether one is known.
func (s *Snapshot) Rate(t domain.Triple) (domain.Rate, bool) {
	r, ok := s.quotes[t]
	return r, ok
}

// Coins lists the coins with a known quote for an exchange and market.
func (s *Snapshot) Coins(exchange, market string) []string {
	return s.byMarket[[2]string{exchange, market}]
}

// Exchanges lists the exchanges present in the snapshot.
func (s *Snapshot) Exchanges() []string {
	seen := make(map[string]bool)
	var out []string
	for k := range s.byMarket {
		if !seen[k[0]] {
			seen[k[0]] = true
			out = append(out, k[0])
		}
	}
	sort.Strings(out)
	return out
}

// Markets lists the markets with quotes on the given exchange.
func (s *Snapshot) Markets(exchange string) []string {
	var out []string
	for k := range s.byMarket {
		if k[0] == exchange {
			out = append(out, k[1])
		}
	}
	sort.Strings(out)
	return out
}

// Size returns the number of quotes in the snapshot.
func (s *Snapshot) Size() int {
	return len(s.quotes)
}

// Taken returns when the snapshot was assembled.
func (s *Snapshot) Taken() time.Time {
	return s.taken
}

// Fetcher assembles snapshots from a set of venue gateways.
type Fetcher struct {
	gateways []domain.ExchangeGateway
	maxAge   time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last *Snapshot
}

// NewFetcher creates a Fetcher. maxAge bounds how long a snapshot may be
// reused before Fresh refetches.
func NewFetcher(gateways []domain.ExchangeGateway, maxAge time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		gateways: gateways,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "rates")),
	}
}

// Fresh returns the last snapshot if it is younger than the configured
// maximum age, and otherwise fetches a new one.
func (f *Fetcher) Fresh(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	last := f.last
	f.mu.Unlock()

	if last != nil && time.Since(last.Taken()) < f.maxAge {
		return last, nil
	}
	return f.Fetch(ctx)
}

// Fetch pulls the market summaries of every configured venue and market
// concurrently and freezes them into a Snapshot. A venue that fails to answer
// is logged and skipped; the engine keeps working with whatever the healthy
// venues return.
func (f *Fetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	var mu sync.Mutex
	quotes := make(map[domain.Triple]domain.Rate)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, gw := range f.gateways {
		for _, market := range gw.Markets() {
			gw, market := gw, market
			g.Go(func() error {
				summaries, err := gw.MarketSummaries(gctx, market)
				if err != nil {
					f.logger.Warn("market summaries failed",
						slog.String("exchange", gw.Name()),
						slog.String("market", market),
						slog.String("error", err.Error()))
					return nil
				}
				mu.Lock()
				for coin, rate := range summaries {
					if rate.Bid <= 0 || rate.Ask <= 0 {
						continue
					}
					quotes[domain.Triple{Exchange: gw.Name(), Market: market, Coin: coin}] = rate
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := NewSnapshot(quotes, time.Now())
	f.logger.Debug("snapshot assembled", slog.Int("quotes", snap.Size()))

	f.mu.Lock()
	f.last = snap
	f.mu.Unlock()
	return snap, nil
}
