// Package depth turns nominal top-of-book opportunities into realizable ones
// by consulting actual order-book ladders: it filters out levels the engine
// could never trade against and answers what rate a given quantity would
// really get.
package depth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Config holds the freshness and filtering policy for ladders.
type Config struct {
	// MaxAge is how old a cached ladder may be before it is refetched.
	MaxAge time.Duration
	// MaxDriftPct invalidates a cached ladder whose reference price has
	// moved more than this far from the current top-of-book mid price.
	MaxDriftPct float64
	// DustThresholds maps an asset to the quantity below which a holding
	// is untradable residue. Assets without an entry are never dust.
	DustThresholds map[string]float64
}

// Realizer fetches, caches and filters order-book ladders.
type Realizer struct {
	cache    domain.BookCache
	gateways map[string]domain.ExchangeGateway
	cfg      Config
	logger   *slog.Logger
}

// NewRealizer creates a Realizer over the given gateways, keyed by venue name.
func NewRealizer(cache domain.BookCache, gateways map[string]domain.ExchangeGateway, cfg Config, logger *slog.Logger) *Realizer {
	return &Realizer{
		cache:    cache,
		gateways: gateways,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "depth")),
	}
}

// IsDust reports whether the quantity of an asset is below its dust threshold.
func (r *Realizer) IsDust(asset string, quantity float64) bool {
	threshold, ok := r.cfg.DustThresholds[asset]
	if !ok {
		return false
	}
	return quantity < threshold
}

// Filter removes ladder levels the engine cannot trade: levels whose coin
// quantity is dust or below the venue minimum, and levels whose market value
// is dust in the market currency. Filtering an already-filtered ladder is a
// no-op.
func (r *Realizer) Filter(l domain.Ladder, t domain.Triple, minSize float64) domain.Ladder {
	out := domain.Ladder{
		Entries:        make([]domain.LadderEntry, 0, len(l.Entries)),
		ReferencePrice: l.ReferencePrice,
		FetchedAt:      l.FetchedAt,
	}
	for _, e := range l.Entries {
		if e.Quantity <= 0 || e.Rate <= 0 {
			continue
		}
		if r.IsDust(t.Coin, e.Quantity) {
			continue
		}
		if e.Quantity < minSize {
			continue
		}
		if r.IsDust(t.Market, e.Quantity*e.Rate) {
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	return out
}

// Usable reports whether a filtered ladder has enough levels to trade
// against. A single level is too fragile: it may be the engine's own order
// or disappear between evaluation and placement.
func Usable(l domain.Ladder) bool {
	return len(l.Entries) >= 2
}

// Comfortable reports whether a ladder has enough levels that evaluation can
// grow quantities without immediately running off the end.
func Comfortable(l domain.Ladder) bool {
	return len(l.Entries) >= 3
}

// Best returns the top rate of a ladder, or domain.ErrNoLiquidity when it is
// empty.
func Best(l domain.Ladder) (float64, error) {
	if l.Empty() {
		return 0, domain.ErrNoLiquidity
	}
	return l.Best().Rate, nil
}

// RateForQuantity walks the ladder accumulating quantity and returns the rate
// of the deepest level needed to fill the requested quantity: the worst rate
// a market-taking fill would pay. It returns domain.ErrNoLiquidity when the
// ladder cannot cover the quantity.
func RateForQuantity(l domain.Ladder, quantity float64) (float64, error) {
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 0, errors.New("depth: quantity must be positive and finite")
	}
	var cum float64
	for _, e := range l.Entries {
		cum += e.Quantity
		if cum >= quantity {
			return e.Rate, nil
		}
	}
	return 0, domain.ErrNoLiquidity
}

// Ladder returns the (filtered) ladder for a triple and side. It serves from
// the cache when the entry is fresh and its reference price has not drifted
// past the configured bound from refPrice; otherwise it fetches from the
// venue, caches the result, and returns it.
func (r *Realizer) Ladder(ctx context.Context, t domain.Triple, side domain.BookSide, refPrice, minSize float64) (domain.Ladder, error) {
	cached, err := r.cache.Get(ctx, t, side)
	if err == nil && r.fresh(cached, refPrice) {
		return r.Filter(cached, t, minSize), nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("book cache read failed",
			slog.String("exchange", t.Exchange),
			slog.String("market", t.Market),
			slog.String("coin", t.Coin),
			slog.String("error", err.Error()))
	}

	gw, ok := r.gateways[t.Exchange]
	if !ok {
		return domain.Ladder{}, domain.ErrNotFound
	}

	var l domain.Ladder
	switch side {
	case domain.SideBuyers:
		l, err = gw.Buyers(ctx, t.Market, t.Coin)
	case domain.SideSellers:
		l, err = gw.Sellers(ctx, t.Market, t.Coin)
	default:
		return domain.Ladder{}, errors.New("depth: unknown book side " + string(side))
	}
	if err != nil {
		return domain.Ladder{}, err
	}
	l.ReferencePrice = refPrice
	l.FetchedAt = time.Now()

	if cacheErr := r.cache.Set(ctx, t, side, l, r.cfg.MaxAge); cacheErr != nil {
		r.logger.Warn("book cache write failed",
			slog.String("exchange", t.Exchange),
			slog.String("market", t.Market),
			slog.String("coin", t.Coin),
			slog.String("error", cacheErr.Error()))
	}

	return r.Filter(l, t, minSize), nil
}

// fresh reports whether a cached ladder may still be used against the given
// reference price.
func (r *Realizer) fresh(l domain.Ladder, refPrice float64) bool {
	if time.Since(l.FetchedAt) > r.cfg.MaxAge {
		return false
	}
	if refPrice > 0 && l.ReferencePrice > 0 {
		drift := math.Abs(refPrice-l.ReferencePrice) / l.ReferencePrice * 100
		if drift > r.cfg.MaxDriftPct {
			return false
		}
	}
	return true
}
