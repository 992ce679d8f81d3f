// Package trader executes profitable path records: a scheduler claims
// records and a state machine drives each one leg by leg, persisting every
// transition so a crash resumes where it stopped.
package trader

import (
	"sync"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Guard tracks the (exchange, market, coin) triples of paths currently
// executing in this process. Two paths sharing a triple would trade against
// each other's orders and race for the same balance, so only one may run at
// a time.
type Guard struct {
	mu       sync.Mutex
	inFlight map[domain.Triple]int
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[domain.Triple]int)}
}

// tradingTriples returns the triples of the path's trading legs.
func tradingTriples(p *domain.PathRecord) []domain.Triple {
	out := make([]domain.Triple, 0, 4)
	for step := 1; step <= 4; step++ {
		leg := p.Leg(step)
		if leg.Market == leg.Coin {
			continue
		}
		out = append(out, p.Triple(step))
	}
	return out
}

// Clashes reports whether any trading triple of the path is already held by
// an executing path.
func (g *Guard) Clashes(p *domain.PathRecord) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tradingTriples(p) {
		if g.inFlight[t] > 0 {
			return true
		}
	}
	return false
}

// Acquire reserves the path's triples, or reports false without reserving
// anything when one of them is already held.
func (g *Guard) Acquire(p *domain.PathRecord) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	triples := tradingTriples(p)
	for _, t := range triples {
		if g.inFlight[t] > 0 {
			return false
		}
	}
	for _, t := range triples {
		g.inFlight[t]++
	}
	return true
}

// Release frees the path's triples. It must be called exactly once per
// successful Acquire.
func (g *Guard) Release(p *domain.PathRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tradingTriples(p) {
		if g.inFlight[t] > 1 {
			g.inFlight[t]--
		} else {
			delete(g.inFlight, t)
		}
	}
}
