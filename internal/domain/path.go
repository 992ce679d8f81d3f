// Package domain holds the core types of the multipath trading engine and the
// interfaces its collaborators implement: venue gateways, relational stores,
// and caches. Nothing in this package touches the network or the database.
package domain

import "time"

// Triple identifies one tradable pair on one venue.
type Triple struct {
	Exchange string
	Market   string
	Coin     string
}

// Leg is one of the four trade steps in a path. Odd legs buy the coin with
// the market currency at Rate (an ask); even legs sell it back at Rate (a
// bid). OrderID stays empty until the venue confirms placement.
type Leg struct {
	Market         string
	MarketQuantity float64
	Coin           string
	CoinQuantity   float64
	Rate           float64
	OrderID        string
}

// PathRecord is a four-leg closed trade cycle on a single venue. It is the
// unit of work for both the analyzer and the trader: the analyzer creates it
// in memory, the store makes it durable, and the execution machine mutates it
// step by step, persisting after every transition so a crash resumes from the
// last state rather than restarting the cycle.
//
// Invariants: leg 4 sells back to leg 1's market, leg 2 sells the coin leg 1
// bought, and leg 4 sells the coin leg 3 bought.
type PathRecord struct {
	ID        int64
	Stamp     time.Time
	Exchange  string
	Legs      [4]Leg
	Gain      float64
	Status    PathStatus
	Executing bool
}

// Leg returns the leg for the given 1-based step.
func (p *PathRecord) Leg(step int) *Leg {
	return &p.Legs[step-1]
}

// IsBuy reports whether the given step buys (steps 1 and 3) rather than
// sells (steps 2 and 4).
func IsBuy(step int) bool {
	return step%2 == 1
}

// Triple returns the (exchange, market, coin) triple for the given step.
func (p *PathRecord) Triple(step int) Triple {
	leg := p.Leg(step)
	return Triple{Exchange: p.Exchange, Market: leg.Market, Coin: leg.Coin}
}

// Triples returns all four triples of the path, in leg order.
func (p *PathRecord) Triples() [4]Triple {
	return [4]Triple{p.Triple(1), p.Triple(2), p.Triple(3), p.Triple(4)}
}

// SameCycle reports whether two paths trade the identical cycle: the same
// venue and the same market/coin identity on every leg. Quantities, rates and
// order ids are ignored; two runs of the same cycle are still the same cycle.
func (p *PathRecord) SameCycle(other *PathRecord) bool {
	if p.Exchange != other.Exchange {
		return false
	}
	for i := range p.Legs {
		if p.Legs[i].Market != other.Legs[i].Market {
			return false
		}
		if p.Legs[i].Coin != other.Legs[i].Coin {
			return false
		}
	}
	return true
}

// TradingSteps counts the legs that require an actual order: legs whose coin
// equals their market are pass-throughs and place nothing.
func (p *PathRecord) TradingSteps() int {
	n := 0
	for i := range p.Legs {
		if p.Legs[i].Market != p.Legs[i].Coin {
			n++
		}
	}
	return n
}

// RemainingSteps counts the trading legs from the given step onward.
func (p *PathRecord) RemainingSteps(from int) int {
	n := 0
	for step := from; step <= 4; step++ {
		leg := p.Leg(step)
		if leg.Market != leg.Coin {
			n++
		}
	}
	return n
}

// Describe returns a compact human-readable route, for logs.
func (p *PathRecord) Describe() string {
	return p.Exchange + " " + p.Legs[0].Market + ">" + p.Legs[0].Coin + ">" +
		p.Legs[1].Market + ">" + p.Legs[2].Coin + ">" + p.Legs[3].Market
}
