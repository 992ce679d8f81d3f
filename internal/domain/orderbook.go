package domain

import "time"

// BookSide selects one side of an order book.
type BookSide string

const (
	// SideBuyers is the bid side: parties buying the coin, best (highest)
	// bid first.
	SideBuyers BookSide = "buyers"
	// SideSellers is the ask side: parties selling the coin, best (lowest)
	// ask first.
	SideSellers BookSide = "sellers"
)

// LadderEntry is one order-book level: a quantity of the coin offered or
// wanted at a rate expressed in the market currency.
type LadderEntry struct {
	Quantity float64
	Rate     float64
}

// Ladder is one side of an order book for one (exchange, market, coin),
// ordered best rate first. ReferencePrice is the mid price observed when the
// ladder was fetched; a later mid price drifting away from it marks the
// ladder stale regardless of age.
type Ladder struct {
	Entries        []LadderEntry
	ReferencePrice float64
	FetchedAt      time.Time
}

// Empty reports whether the ladder has no levels.
func (l Ladder) Empty() bool {
	return len(l.Entries) == 0
}

// Best returns the top level. Callers must check Empty first.
func (l Ladder) Best() LadderEntry {
	return l.Entries[0]
}

// Rate is a top-of-book quote for one (exchange, market, coin).
type Rate struct {
	Bid float64
	Ask float64
}

// RateSample is the read-only per-pass view of top-of-book rates. It is built
// once at the start of an analysis pass and never mutated afterwards, so
// concurrent evaluators can read it without locking.
type RateSample interface {
	// Rate returns the quote for a triple, and whether one is known.
	Rate(t Triple) (Rate, bool)
	// Coins lists the coins with a known quote for an exchange and market.
	Coins(exchange, market string) []string
	// Exchanges lists the exchanges present in the sample.
	Exchanges() []string
	// Markets lists the markets with quotes on the given exchange.
	Markets(exchange string) []string
	// Size returns the number of quotes in the sample.
	Size() int
}
