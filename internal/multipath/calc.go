// Package multipath finds and evaluates four-leg closed trade cycles on a
// single venue: buy a coin with a market currency, sell it into a second
// market, buy another coin there, and sell that back into the first market.
// A cycle whose end quantity exceeds its start quantity by enough to cover
// fees and slippage is worth executing.
package multipath

import (
	"math"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// FeeFactor returns the multiplier applied to every traded leg. The fee is
// counted twice per leg: once on the traded amount and once against the
// received amount, which matches how venues charge taker fees on both the
// spend and the proceeds rounding.
func FeeFactor(fee float64) float64 {
	return 1 - 2*fee
}

// Calculate runs the cycle forward from Legs[0].MarketQuantity using the rates
// already stored on the legs, filling in every quantity and the resulting
// Gain percentage. Legs whose market equals their coin are pass-throughs:
// quantity carries over unchanged and no fee applies.
//
// A non-finite outcome, from a zero rate or corrupt input, sets Gain to 0 so
// the cycle is never mistaken for an opportunity.
func Calculate(p *domain.PathRecord, fee float64) {
	ff := FeeFactor(fee)

	// Leg 1: spend market currency, receive the coin.
	leg1 := p.Leg(1)
	if leg1.Market == leg1.Coin {
		leg1.CoinQuantity = leg1.MarketQuantity
	} else {
		leg1.CoinQuantity = leg1.MarketQuantity / leg1.Rate * ff
	}

	// Leg 2: sell the coin into the second market.
	leg2 := p.Leg(2)
	leg2.CoinQuantity = leg1.CoinQuantity
	if leg2.Market == leg2.Coin {
		leg2.MarketQuantity = leg2.CoinQuantity
	} else {
		leg2.MarketQuantity = leg2.CoinQuantity * leg2.Rate * ff
	}

	// Leg 3: buy the second coin in the second market.
	leg3 := p.Leg(3)
	leg3.MarketQuantity = leg2.MarketQuantity
	if leg3.Market == leg3.Coin {
		leg3.CoinQuantity = leg3.MarketQuantity
	} else {
		leg3.CoinQuantity = leg3.MarketQuantity / leg3.Rate * ff
	}

	// Leg 4: sell the second coin back into the first market.
	leg4 := p.Leg(4)
	leg4.CoinQuantity = leg3.CoinQuantity
	if leg4.Market == leg4.Coin {
		leg4.MarketQuantity = leg4.CoinQuantity
	} else {
		leg4.MarketQuantity = leg4.CoinQuantity * leg4.Rate * ff
	}

	gain := (leg4.MarketQuantity - leg1.MarketQuantity) / leg1.MarketQuantity * 100
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		gain = 0
	}
	p.Gain = gain
}

// MinimumRequiredGain returns the gain percentage a cycle must realize before
// it is worth executing: a fixed margin per trading step, so cycles with
// pass-through legs need less headroom.
func MinimumRequiredGain(p *domain.PathRecord, perStepPct float64) float64 {
	return float64(p.TradingSteps()) * perStepPct
}
