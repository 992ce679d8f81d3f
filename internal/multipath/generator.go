package multipath

import (
	"log/slog"
	"math"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// GeneratorConfig holds the candidate scan parameters.
type GeneratorConfig struct {
	// ProbeQuantity is the market quantity the nominal calculation starts
	// from.
	ProbeQuantity float64
	// MinNominalGainPct and MaxNominalGainPct bound the top-of-book gain a
	// cycle must show to become a candidate. Gains above the maximum are
	// treated as bad data.
	MinNominalGainPct float64
	MaxNominalGainPct float64
	// Fees maps a venue name to its trading fee fraction.
	Fees map[string]float64
}

// Generator scans a rate snapshot for candidate cycles.
type Generator struct {
	cfg    GeneratorConfig
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "generator")),
	}
}

// Generate walks every (market1, coin1, market2, coin3) combination per venue
// in the snapshot and returns the cycles whose nominal top-of-book gain falls
// inside the configured band. Cycles touching a paused triple are skipped.
// The returned records carry status bare: the gain is nominal only and must
// be confirmed against order-book depth before any money moves.
func (g *Generator) Generate(sample domain.RateSample, paused map[domain.Triple]bool) []domain.PathRecord {
	var out []domain.PathRecord

	for _, exchange := range sample.Exchanges() {
		fee := g.cfg.Fees[exchange]
		markets := sample.Markets(exchange)

		for _, market1 := range markets {
			for _, coin1 := range sample.Coins(exchange, market1) {
				for _, market2 := range markets {
					if market2 == market1 {
						continue
					}
					// Leg 2 sells coin1 into market2: the pair must
					// exist there unless it is a pass-through.
					if coin1 != market2 {
						if _, ok := sample.Rate(domain.Triple{Exchange: exchange, Market: market2, Coin: coin1}); !ok {
							continue
						}
					}
					for _, coin3 := range sample.Coins(exchange, market2) {
						if coin3 == coin1 {
							continue
						}
						// Leg 4 sells coin3 back into market1.
						if coin3 != market1 {
							if _, ok := sample.Rate(domain.Triple{Exchange: exchange, Market: market1, Coin: coin3}); !ok {
								continue
							}
						}

						p := g.assemble(sample, exchange, market1, coin1, market2, coin3, fee)
						if p == nil {
							continue
						}
						if g.touchesPaused(p, paused) {
							continue
						}
						out = append(out, *p)
					}
				}
			}
		}
	}

	g.logger.Debug("candidate scan finished", slog.Int("candidates", len(out)))
	return out
}

// assemble builds one cycle, prices it from top-of-book, and returns it when
// its nominal gain is inside the band, or nil otherwise.
func (g *Generator) assemble(sample domain.RateSample, exchange, market1, coin1, market2, coin3 string, fee float64) *domain.PathRecord {
	p := &domain.PathRecord{
		Exchange: exchange,
		Status:   domain.StatusBare,
	}
	p.Legs[0] = domain.Leg{Market: market1, Coin: coin1, MarketQuantity: g.cfg.ProbeQuantity}
	p.Legs[1] = domain.Leg{Market: market2, Coin: coin1}
	p.Legs[2] = domain.Leg{Market: market2, Coin: coin3}
	p.Legs[3] = domain.Leg{Market: market1, Coin: coin3}

	for step := 1; step <= 4; step++ {
		leg := p.Leg(step)
		if leg.Market == leg.Coin {
			leg.Rate = 1
			continue
		}
		r, ok := sample.Rate(p.Triple(step))
		if !ok {
			return nil
		}
		if domain.IsBuy(step) {
			leg.Rate = r.Ask
		} else {
			leg.Rate = r.Bid
		}
		if leg.Rate <= 0 || math.IsNaN(leg.Rate) || math.IsInf(leg.Rate, 0) {
			return nil
		}
	}

	Calculate(p, fee)
	if p.Gain < g.cfg.MinNominalGainPct || p.Gain > g.cfg.MaxNominalGainPct {
		return nil
	}
	return p
}

// touchesPaused reports whether any trading leg of the cycle is paused.
func (g *Generator) touchesPaused(p *domain.PathRecord, paused map[domain.Triple]bool) bool {
	if len(paused) == 0 {
		return false
	}
	for step := 1; step <= 4; step++ {
		leg := p.Leg(step)
		if leg.Market == leg.Coin {
			continue
		}
		if paused[p.Triple(step)] {
			return true
		}
	}
	return false
}
