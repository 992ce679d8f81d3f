package multipath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teusbenschop/cryptobot/internal/depth"
	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Evaluation constants. The probe quantity starts tiny and is grown until
// every leg clears dust and venue minimums; rates are re-read from the ladder
// at each size and may only worsen, so the loop converges.
const (
	startQuantity = 1e-5
	dustGrowth    = 1.05
	minSizeGrowth = 1.1
	maxRounds     = 50
)

// LadderSource is the slice of the depth layer the evaluator needs.
type LadderSource interface {
	Ladder(ctx context.Context, t domain.Triple, side domain.BookSide, refPrice, minSize float64) (domain.Ladder, error)
	IsDust(asset string, quantity float64) bool
}

// LiquidityError reports that a cycle's leg has no usable order book. Thin
// distinguishes a book with too few levels from a missing one; the two get
// different pause durations.
type LiquidityError struct {
	Triple domain.Triple
	Thin   bool
}

func (e *LiquidityError) Error() string {
	kind := "no order book"
	if e.Thin {
		kind = "order book too thin"
	}
	return fmt.Sprintf("%s for %s %s/%s", kind, e.Triple.Exchange, e.Triple.Market, e.Triple.Coin)
}

func (e *LiquidityError) Unwrap() error { return domain.ErrNoLiquidity }

// EvaluatorConfig holds the depth-evaluation parameters.
type EvaluatorConfig struct {
	// Fees maps a venue name to its trading fee fraction.
	Fees map[string]float64
	// MinGainPerStepPct is the required realized gain per trading step.
	MinGainPerStepPct float64
	// MaxGainPct rejects realized gains at or above this bound. No real
	// market leaves that much on the table; such a gain is a bad quote or
	// a stale book, not an opportunity. Zero disables the bound.
	MaxGainPct float64
}

// Evaluator confirms candidate cycles against order-book depth and persists
// the ones that survive.
type Evaluator struct {
	ladders   LadderSource
	store     domain.PathStore
	minTrades map[domain.Triple]float64
	cfg       EvaluatorConfig
	logger    *slog.Logger
}

// NewEvaluator creates an Evaluator. minTrades carries the venue minimum
// order quantities per triple; triples without an entry have no minimum.
func NewEvaluator(ladders LadderSource, store domain.PathStore, minTrades map[domain.Triple]float64, cfg EvaluatorConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		ladders:   ladders,
		store:     store,
		minTrades: minTrades,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "evaluator")),
	}
}

// Evaluate sizes a candidate against real depth. On success the candidate's
// quantities and rates are overwritten with realizable values and it is
// inserted with status bare; the execution machine re-validates it against
// fresh books before any money moves. It returns domain.ErrDuplicatePath when
// a non-done record for the same cycle already exists, a LiquidityError when
// a leg has no usable book, and domain.ErrUnprofitable when depth eats the
// nominal gain.
func (ev *Evaluator) Evaluate(ctx context.Context, p *domain.PathRecord, existing []domain.PathRecord) error {
	// Only a completed run frees the cycle for re-insertion. A failed one
	// blocks it until retention clears the record, otherwise the analyzer
	// would retry a broken cycle every pass.
	for i := range existing {
		if existing[i].Status == domain.StatusDone {
			continue
		}
		if p.SameCycle(&existing[i]) {
			return domain.ErrDuplicatePath
		}
	}

	ladders, err := ev.fetchLadders(ctx, p)
	if err != nil {
		return err
	}

	if err := ev.size(p, ladders); err != nil {
		return err
	}

	required := MinimumRequiredGain(p, ev.cfg.MinGainPerStepPct)
	if p.Gain < required {
		return fmt.Errorf("%w: realized gain %.3f%% below required %.3f%%", domain.ErrUnprofitable, p.Gain, required)
	}
	if ev.cfg.MaxGainPct > 0 && p.Gain >= ev.cfg.MaxGainPct {
		return fmt.Errorf("realized gain %.1f%% at or above sanity bound %.1f%%, distrusting the books", p.Gain, ev.cfg.MaxGainPct)
	}

	p.Status = domain.StatusBare
	if err := ev.store.Insert(ctx, p); err != nil {
		return err
	}
	ev.logger.Info("candidate cycle stored",
		slog.Int64("id", p.ID),
		slog.String("route", p.Describe()),
		slog.Float64("gain_pct", p.Gain))
	return nil
}

// fetchLadders pulls the relevant book side for every trading leg: sellers
// for buys, buyers for sells. Pass-through legs get a nil ladder.
func (ev *Evaluator) fetchLadders(ctx context.Context, p *domain.PathRecord) ([4]domain.Ladder, error) {
	var out [4]domain.Ladder
	for step := 1; step <= 4; step++ {
		leg := p.Leg(step)
		if leg.Market == leg.Coin {
			continue
		}
		triple := p.Triple(step)
		side := domain.SideBuyers
		if domain.IsBuy(step) {
			side = domain.SideSellers
		}
		l, err := ev.ladders.Ladder(ctx, triple, side, leg.Rate, ev.minTrades[triple])
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoLiquidity) {
				return out, &LiquidityError{Triple: triple}
			}
			return out, err
		}
		if l.Empty() {
			return out, &LiquidityError{Triple: triple}
		}
		if len(l.Entries) < 2 {
			return out, &LiquidityError{Triple: triple, Thin: true}
		}
		out[step-1] = l
	}
	return out, nil
}

// size finds a start quantity and set of rates at which the whole cycle can
// actually trade. Rates are re-read from the ladders at the quantities each
// round implies and are only ever adopted when worse (asks rise, bids fall),
// so a converged result never depends on a level the fill would blow past.
func (ev *Evaluator) size(p *domain.PathRecord, ladders [4]domain.Ladder) error {
	fee := ev.cfg.Fees[p.Exchange]

	qty1 := startQuantity
	for ev.ladders.IsDust(p.Legs[0].Market, qty1) {
		qty1 *= dustGrowth
	}

	for round := 0; round < maxRounds; round++ {
		p.Legs[0].MarketQuantity = qty1
		Calculate(p, fee)

		changed := false
		for step := 1; step <= 4; step++ {
			leg := p.Leg(step)
			if leg.Market == leg.Coin {
				continue
			}
			rate, err := depth.RateForQuantity(ladders[step-1], leg.CoinQuantity)
			if err != nil {
				return &LiquidityError{Triple: p.Triple(step), Thin: true}
			}
			if domain.IsBuy(step) {
				if rate > leg.Rate {
					leg.Rate = rate
					changed = true
				}
			} else {
				if rate < leg.Rate {
					leg.Rate = rate
					changed = true
				}
			}
		}
		if changed {
			Calculate(p, fee)
		}

		if ev.tooSmall(p) {
			qty1 *= minSizeGrowth
			continue
		}
		if p.Gain < 0 {
			return fmt.Errorf("%w: depth-adjusted gain %.3f%%", domain.ErrUnprofitable, p.Gain)
		}
		if !changed {
			return nil
		}
	}

	// The loop kept finding worse rates for the whole budget: the book is
	// churning too much to trust any sizing from it.
	return fmt.Errorf("%w: sizing did not converge", domain.ErrUnprofitable)
}

// tooSmall reports whether any leg of the sized cycle is below dust or the
// venue minimum order quantity.
func (ev *Evaluator) tooSmall(p *domain.PathRecord) bool {
	for step := 1; step <= 4; step++ {
		leg := p.Leg(step)
		if ev.ladders.IsDust(leg.Market, leg.MarketQuantity) {
			return true
		}
		if leg.Market == leg.Coin {
			continue
		}
		if ev.ladders.IsDust(leg.Coin, leg.CoinQuantity) {
			return true
		}
		if minQty := ev.minTrades[p.Triple(step)]; minQty > 0 && leg.CoinQuantity < minQty {
			return true
		}
	}
	return false
}
