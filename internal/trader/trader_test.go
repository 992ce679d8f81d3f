package trader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// Shared in-memory fakes for the trader tests.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPathStore is an in-memory domain.PathStore.
type memPathStore struct {
	mu     sync.Mutex
	recs   map[int64]domain.PathRecord
	nextID int64
}

func newMemPathStore() *memPathStore {
	return &memPathStore{recs: make(map[int64]domain.PathRecord)}
}

func (s *memPathStore) Insert(_ context.Context, p *domain.PathRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	p.Stamp = time.Now()
	s.recs[p.ID] = *p
	return nil
}

func (s *memPathStore) List(context.Context) ([]domain.PathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PathRecord, 0, len(s.recs))
	for _, p := range s.recs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPathStore) GetByID(_ context.Context, id int64) (domain.PathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok {
		return domain.PathRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPathStore) Update(_ context.Context, p domain.PathRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.recs[p.ID] = p
	return nil
}

func (s *memPathStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memPathStore) Claim(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok || p.Executing {
		return false, nil
	}
	p.Executing = true
	s.recs[id] = p
	return true, nil
}

func (s *memPathStore) Release(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.recs[id]; ok {
		p.Executing = false
		s.recs[id] = p
	}
	return nil
}

func (s *memPathStore) ListDoneBefore(_ context.Context, cutoff time.Time) ([]domain.PathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PathRecord
	for _, p := range s.recs {
		if p.Status == domain.StatusDone && p.Stamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPathStore) Expire(_ context.Context, liveCutoff, doneCutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.recs {
		cutoff := liveCutoff
		if p.Status == domain.StatusDone {
			cutoff = doneCutoff
		}
		if p.Stamp.Before(cutoff) {
			delete(s.recs, id)
			n++
		}
	}
	return n, nil
}

// memPauseStore records pauses in memory.
type memPauseStore struct {
	mu      sync.Mutex
	until   map[domain.Triple]time.Time
	reasons []string
}

func newMemPauseStore() *memPauseStore {
	return &memPauseStore{until: make(map[domain.Triple]time.Time)}
}

func (s *memPauseStore) Active(context.Context) ([]domain.Triple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Triple
	for t, u := range s.until {
		if u.After(time.Now()) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memPauseStore) Pause(_ context.Context, t domain.Triple, d time.Duration, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[t] = time.Now().Add(d)
	s.reasons = append(s.reasons, reason)
	return nil
}

// fakeLadderSource serves static ladders and treats nothing as dust.
type fakeLadderSource struct {
	mu    sync.Mutex
	books map[string]domain.Ladder
}

func newFakeLadderSource() *fakeLadderSource {
	return &fakeLadderSource{books: make(map[string]domain.Ladder)}
}

func ladderKey(t domain.Triple, side domain.BookSide) string {
	return t.Exchange + "/" + t.Market + "/" + t.Coin + "/" + string(side)
}

func (f *fakeLadderSource) put(t domain.Triple, side domain.BookSide, entries ...domain.LadderEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[ladderKey(t, side)] = domain.Ladder{Entries: entries, FetchedAt: time.Now()}
}

func (f *fakeLadderSource) Ladder(_ context.Context, t domain.Triple, side domain.BookSide, _, _ float64) (domain.Ladder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.books[ladderKey(t, side)]
	if !ok {
		return domain.Ladder{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeLadderSource) IsDust(string, float64) bool { return false }

// placedOrder records one order the fake venue accepted.
type placedOrder struct {
	Market   string
	Coin     string
	Buy      bool
	Quantity float64
	Rate     float64
}

// fakeGateway simulates a venue: successful orders fill instantly, moving
// balances by the traded amounts.
type fakeGateway struct {
	mu          sync.Mutex
	name        string
	balances    map[string]float64
	open        []domain.OpenOrder
	placed      []placedOrder
	fillFactor  float64 // received fraction of the expected amount
	emptyIDOnce bool    // next placement answers without an order id
	restOnEmpty bool    // ...but the order actually rests on the book
	delay       time.Duration
	nextID      int
}

func newFakeGateway(balances map[string]float64) *fakeGateway {
	return &fakeGateway{name: "testex", balances: balances, fillFactor: 1}
}

func (g *fakeGateway) Name() string          { return g.name }
func (g *fakeGateway) Markets() []string     { return nil }
func (g *fakeGateway) TradeFee() float64     { return 0 }
func (g *fakeGateway) OrderEasePct() float64 { return 0 }

func (g *fakeGateway) CancelOrder(context.Context, string) (bool, error) { return false, nil }

func (g *fakeGateway) MarketSummaries(context.Context, string) (map[string]domain.Rate, error) {
	return nil, nil
}

func (g *fakeGateway) Buyers(context.Context, string, string) (domain.Ladder, error) {
	return domain.Ladder{}, domain.ErrNotFound
}

func (g *fakeGateway) Sellers(context.Context, string, string) (domain.Ladder, error) {
	return domain.Ladder{}, domain.ErrNotFound
}

func (g *fakeGateway) MinimumTradeSizes(context.Context, string, []string) (map[string]float64, error) {
	return nil, nil
}

func (g *fakeGateway) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OpenOrder(nil), g.open...), nil
}

func (g *fakeGateway) GetBalance(_ context.Context, asset string) (domain.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.balances[asset]
	return domain.Balance{Total: b, Available: b}, nil
}

func (g *fakeGateway) LimitBuy(_ context.Context, market, coin string, quantity, rate float64) (string, error) {
	return g.place(market, coin, true, quantity, rate)
}

func (g *fakeGateway) LimitSell(_ context.Context, market, coin string, quantity, rate float64) (string, error) {
	return g.place(market, coin, false, quantity, rate)
}

func (g *fakeGateway) place(market, coin string, buy bool, quantity, rate float64) (string, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.emptyIDOnce {
		g.emptyIDOnce = false
		if g.restOnEmpty {
			g.nextID++
			g.open = append(g.open, domain.OpenOrder{
				ID:       fmt.Sprintf("ghost-%d", g.nextID),
				Market:   market,
				Coin:     coin,
				Buy:      buy,
				Quantity: quantity,
				Rate:     rate,
			})
		}
		return "", nil
	}

	g.nextID++
	id := fmt.Sprintf("order-%d", g.nextID)
	g.placed = append(g.placed, placedOrder{Market: market, Coin: coin, Buy: buy, Quantity: quantity, Rate: rate})
	g.fill(market, coin, buy, quantity, rate)
	return id, nil
}

// fill moves balances as an instant execution would.
func (g *fakeGateway) fill(market, coin string, buy bool, quantity, rate float64) {
	if buy {
		g.balances[market] -= quantity * rate
		g.balances[coin] += quantity * g.fillFactor
	} else {
		g.balances[coin] -= quantity
		g.balances[market] += quantity * rate * g.fillFactor
	}
}

// settleGhost converts a resting ghost order into a fill.
func (g *fakeGateway) settleGhost() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, o := range g.open {
		g.fill(o.Market, o.Coin, o.Buy, o.Quantity, o.Rate)
	}
	g.open = nil
}

// captureNotifier records every event it receives.
type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *captureNotifier) Notify(_ context.Context, event, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) got(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}
