// Package paper implements a simulated venue behind the gateway interface.
// Prices follow a seeded random walk, marketable limit orders fill instantly
// against the synthetic book, and everything else rests until the walk
// crosses it. It lets the whole engine run end to end with no venue account.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Config seeds one simulated venue.
type Config struct {
	// Name identifies the venue, e.g. "paper".
	Name string

	// FeePct is the trading fee in percent, e.g. 0.25.
	FeePct float64

	// OrderEasePct is the placement price nudge in percent.
	OrderEasePct float64

	// StartPrices maps market -> coin -> initial mid price.
	StartPrices map[string]map[string]float64

	// Balances are the initial holdings per asset.
	Balances map[string]float64

	// Levels is the ladder depth per side. Defaults to 8.
	Levels int

	// SpreadPct is the full bid-ask spread in percent. Defaults to 0.2.
	SpreadPct float64

	// VolatilityPct bounds the mid move per tick in percent. Defaults to 0.05.
	VolatilityPct float64

	// DepthBase is the coin quantity at the top ladder level; deeper levels
	// grow from it. Defaults to 10 coins worth at the mid.
	DepthBase float64

	// Seed fixes the random walk; 0 seeds from the clock.
	Seed int64
}

// Venue is a simulated exchange. All methods are safe for concurrent use.
type Venue struct {
	cfg Config

	mu       sync.Mutex
	rng      *rand.Rand
	mids     map[string]map[string]float64
	balances map[string]float64
	open     map[string]domain.OpenOrder
}

var _ domain.ExchangeGateway = (*Venue)(nil)

// DefaultUniverse returns a plausible starting price set for a dry run:
// a handful of liquid coins against BTC and USDT.
func DefaultUniverse() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"BTC": {
			"LTC":  0.0011,
			"ETH":  0.039,
			"DOGE": 2.1e-6,
			"XRP":  8.5e-6,
		},
		"USDT": {
			"LTC":  120,
			"ETH":  4300,
			"DOGE": 0.23,
			"XRP":  0.95,
		},
	}
}

// New creates a Venue from the given configuration.
func New(cfg Config) *Venue {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 8
	}
	if cfg.SpreadPct <= 0 {
		cfg.SpreadPct = 0.2
	}
	if cfg.VolatilityPct <= 0 {
		cfg.VolatilityPct = 0.05
	}
	if cfg.DepthBase <= 0 {
		cfg.DepthBase = 10
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mids := make(map[string]map[string]float64, len(cfg.StartPrices))
	for market, coins := range cfg.StartPrices {
		mids[market] = make(map[string]float64, len(coins))
		for coin, mid := range coins {
			mids[market][coin] = mid
		}
	}
	balances := make(map[string]float64, len(cfg.Balances))
	for asset, amount := range cfg.Balances {
		balances[asset] = amount
	}

	return &Venue{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		mids:     mids,
		balances: balances,
		open:     make(map[string]domain.OpenOrder),
	}
}

// Name returns the venue identifier.
func (v *Venue) Name() string { return v.cfg.Name }

// Markets lists the simulated base markets, sorted.
func (v *Venue) Markets() []string {
	out := make([]string, 0, len(v.cfg.StartPrices))
	for market := range v.cfg.StartPrices {
		out = append(out, market)
	}
	sort.Strings(out)
	return out
}

// TradeFee returns the configured fee as a fraction.
func (v *Venue) TradeFee() float64 { return v.cfg.FeePct / 100 }

// OrderEasePct returns the configured placement nudge.
func (v *Venue) OrderEasePct() float64 { return v.cfg.OrderEasePct }

// MarketSummaries returns the top-of-book quote for every coin on the market.
func (v *Venue) MarketSummaries(_ context.Context, market string) (map[string]domain.Rate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coins, ok := v.mids[market]
	if !ok {
		return nil, fmt.Errorf("paper: unknown market %s: %w", market, domain.ErrNotFound)
	}
	out := make(map[string]domain.Rate, len(coins))
	for coin := range coins {
		mid := v.tick(market, coin)
		half := mid * v.cfg.SpreadPct / 200
		out[coin] = domain.Rate{Bid: mid - half, Ask: mid + half}
	}
	return out, nil
}

// Buyers returns the synthetic bid ladder, best bid first.
func (v *Venue) Buyers(_ context.Context, market, coin string) (domain.Ladder, error) {
	return v.ladder(market, coin, false)
}

// Sellers returns the synthetic ask ladder, best ask first.
func (v *Venue) Sellers(_ context.Context, market, coin string) (domain.Ladder, error) {
	return v.ladder(market, coin, true)
}

func (v *Venue) ladder(market, coin string, asks bool) (domain.Ladder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.mids[market][coin]; !ok {
		return domain.Ladder{}, fmt.Errorf("paper: no book for %s/%s: %w", market, coin, domain.ErrNotFound)
	}
	mid := v.tick(market, coin)

	half := mid * v.cfg.SpreadPct / 200
	step := mid * 0.001
	entries := make([]domain.LadderEntry, v.cfg.Levels)
	for i := range entries {
		qty := v.cfg.DepthBase * (1 + 0.5*float64(i)) * (0.8 + 0.4*v.rng.Float64())
		if asks {
			entries[i] = domain.LadderEntry{Quantity: qty, Rate: mid + half + step*float64(i)}
		} else {
			entries[i] = domain.LadderEntry{Quantity: qty, Rate: mid - half - step*float64(i)}
		}
	}
	return domain.Ladder{Entries: entries, ReferencePrice: mid, FetchedAt: time.Now()}, nil
}

// LimitBuy places a buy. Marketable orders fill instantly at the limit rate;
// the rest rests on the book. The market currency is debited at placement,
// the coin is credited net of fee at fill.
func (v *Venue) LimitBuy(_ context.Context, market, coin string, quantity, rate float64) (string, error) {
	return v.place(market, coin, true, quantity, rate)
}

// LimitSell places a sell; semantics mirror LimitBuy.
func (v *Venue) LimitSell(_ context.Context, market, coin string, quantity, rate float64) (string, error) {
	return v.place(market, coin, false, quantity, rate)
}

func (v *Venue) place(market, coin string, buy bool, quantity, rate float64) (string, error) {
	if quantity <= 0 || rate <= 0 {
		return "", fmt.Errorf("paper: invalid order %g @ %g", quantity, rate)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	mid, ok := v.mids[market][coin]
	if !ok {
		return "", fmt.Errorf("paper: no book for %s/%s: %w", market, coin, domain.ErrNotFound)
	}

	// Debit what the order ties up.
	if buy {
		cost := quantity * rate
		if v.balances[market] < cost {
			return "", fmt.Errorf("paper: insufficient %s balance for %g", market, cost)
		}
		v.balances[market] -= cost
	} else {
		if v.balances[coin] < quantity {
			return "", fmt.Errorf("paper: insufficient %s balance for %g", coin, quantity)
		}
		v.balances[coin] -= quantity
	}

	id := uuid.NewString()
	half := mid * v.cfg.SpreadPct / 200
	marketable := (buy && rate >= mid+half) || (!buy && rate <= mid-half)
	if marketable {
		v.settle(domain.OpenOrder{ID: id, Market: market, Coin: coin, Buy: buy, Quantity: quantity, Rate: rate})
		return id, nil
	}

	v.open[id] = domain.OpenOrder{ID: id, Market: market, Coin: coin, Buy: buy, Quantity: quantity, Rate: rate}
	return id, nil
}

// settle credits the receiving side of a filled order, net of fee.
func (v *Venue) settle(o domain.OpenOrder) {
	net := 1 - v.cfg.FeePct/100
	if o.Buy {
		v.balances[o.Coin] += o.Quantity * net
	} else {
		v.balances[o.Market] += o.Quantity * o.Rate * net
	}
}

// CancelOrder removes a resting order and refunds what it tied up.
func (v *Venue) CancelOrder(_ context.Context, orderID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.open[orderID]
	if !ok {
		return false, nil
	}
	delete(v.open, orderID)
	if o.Buy {
		v.balances[o.Market] += o.Quantity * o.Rate
	} else {
		v.balances[o.Coin] += o.Quantity
	}
	return true, nil
}

// OpenOrders lists the resting orders.
func (v *Venue) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.OpenOrder, 0, len(v.open))
	for _, o := range v.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetBalance returns the venue balance for one asset.
func (v *Venue) GetBalance(_ context.Context, asset string) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b := v.balances[asset]
	return domain.Balance{Total: b, Available: b}, nil
}

// MinimumTradeSizes returns a flat minimum per coin, scaled so roughly the
// same market value is required everywhere.
func (v *Venue) MinimumTradeSizes(_ context.Context, market string, coins []string) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]float64, len(coins))
	for _, coin := range coins {
		mid, ok := v.mids[market][coin]
		if !ok || mid <= 0 {
			continue
		}
		// About one thousandth of a market unit's worth of the coin.
		out[coin] = 0.001 / mid
	}
	return out, nil
}

// tick advances the mid price one random-walk step and fills any resting
// order the new price crossed. Callers hold the mutex.
func (v *Venue) tick(market, coin string) float64 {
	mid := v.mids[market][coin]
	move := v.cfg.VolatilityPct / 100 * (v.rng.Float64()*2 - 1)
	mid *= 1 + move
	v.mids[market][coin] = mid

	half := mid * v.cfg.SpreadPct / 200
	for id, o := range v.open {
		if o.Market != market || o.Coin != coin {
			continue
		}
		if (o.Buy && o.Rate >= mid+half) || (!o.Buy && o.Rate <= mid-half) {
			delete(v.open, id)
			v.settle(o)
		}
	}
	return mid
}
