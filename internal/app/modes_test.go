package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/teusbenschop/cryptobot/internal/config"
	"github.com/teusbenschop/cryptobot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPaths is an in-memory domain.PathStore.
type memPaths struct {
	mu     sync.Mutex
	recs   map[int64]domain.PathRecord
	nextID int64
}

func newMemPaths() *memPaths {
	return &memPaths{recs: make(map[int64]domain.PathRecord)}
}

func (s *memPaths) Insert(_ context.Context, p *domain.PathRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	p.Stamp = time.Now()
	s.recs[p.ID] = *p
	return nil
}

func (s *memPaths) List(context.Context) ([]domain.PathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PathRecord, 0, len(s.recs))
	for _, p := range s.recs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPaths) GetByID(_ context.Context, id int64) (domain.PathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok {
		return domain.PathRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPaths) Update(_ context.Context, p domain.PathRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[p.ID] = p
	return nil
}

func (s *memPaths) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memPaths) Claim(_ context.Context, id int64) (bool, error) {
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

func (s *memPaths) Release(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.recs[id]; ok {
		p.Executing = false
		s.recs[id] = p
	}
	return nil
}

func (s *memPaths) ListDoneBefore(context.Context, time.Time) ([]domain.PathRecord, error) {
	return nil, nil
}

func (s *memPaths) Expire(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

// memPauses is an in-memory domain.PauseStore.
type memPauses struct {
	mu    sync.Mutex
	until map[domain.Triple]time.Time
}

func newMemPauses() *memPauses {
	return &memPauses{until: make(map[domain.Triple]time.Time)}
}

func (s *memPauses) Active(context.Context) ([]domain.Triple, error) {
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

func (s *memPauses) Pause(_ context.Context, t domain.Triple, d time.Duration, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[t] = time.Now().Add(d)
	return nil
}

// nilBooks never caches; every ladder read goes to the venue.
type nilBooks struct{}

func (nilBooks) Get(context.Context, domain.Triple, domain.BookSide) (domain.Ladder, error) {
	return domain.Ladder{}, domain.ErrNotFound
}

func (nilBooks) Set(context.Context, domain.Triple, domain.BookSide, domain.Ladder, time.Duration) error {
	return nil
}

// quoteGateway serves a static universe where the cycle BTC>LTC>USDT>DOGE>BTC
// (and its reverse) gains a nominal 5%.
type quoteGateway struct {
	quotes  map[string]map[string]domain.Rate
	sellers map[string]domain.Ladder
	buyers  map[string]domain.Ladder
}

func newQuoteGateway() *quoteGateway {
	entry := func(qty, rate float64) domain.LadderEntry {
		return domain.LadderEntry{Quantity: qty, Rate: rate}
	}
	return &quoteGateway{
		quotes: map[string]map[string]domain.Rate{
			"BTC": {
				"LTC":  {Ask: 0.01, Bid: 0.0099},
				"DOGE": {Ask: 2.2e-6, Bid: 2.1e-6},
			},
			"USDT": {
				"LTC":  {Ask: 501, Bid: 500},
				"DOGE": {Ask: 0.1, Bid: 0.099},
			},
		},
		sellers: map[string]domain.Ladder{
			"BTC/LTC":   {Entries: []domain.LadderEntry{entry(10, 0.01), entry(20, 0.0101)}},
			"USDT/DOGE": {Entries: []domain.LadderEntry{entry(10000, 0.1), entry(20000, 0.101)}},
		},
		buyers: map[string]domain.Ladder{
			"USDT/LTC": {Entries: []domain.LadderEntry{entry(10, 500), entry(20, 499)}},
			"BTC/DOGE": {Entries: []domain.LadderEntry{entry(10000, 2.1e-6), entry(20000, 2.0e-6)}},
		},
	}
}

func (g *quoteGateway) Name() string          { return "testex" }
func (g *quoteGateway) Markets() []string     { return []string{"BTC", "USDT"} }
func (g *quoteGateway) TradeFee() float64     { return 0 }
func (g *quoteGateway) OrderEasePct() float64 { return 0 }

func (g *quoteGateway) MarketSummaries(_ context.Context, market string) (map[string]domain.Rate, error) {
	return g.quotes[market], nil
}

func (g *quoteGateway) Sellers(_ context.Context, market, coin string) (domain.Ladder, error) {
	l, ok := g.sellers[market+"/"+coin]
	if !ok {
		return domain.Ladder{}, domain.ErrNotFound
	}
	return l, nil
}

func (g *quoteGateway) Buyers(_ context.Context, market, coin string) (domain.Ladder, error) {
	l, ok := g.buyers[market+"/"+coin]
	if !ok {
		return domain.Ladder{}, domain.ErrNotFound
	}
	return l, nil
}

func (g *quoteGateway) LimitBuy(context.Context, string, string, float64, float64) (string, error) {
	return "", nil
}

func (g *quoteGateway) LimitSell(context.Context, string, string, float64, float64) (string, error) {
	return "", nil
}

func (g *quoteGateway) CancelOrder(context.Context, string) (bool, error) { return false, nil }
func (g *quoteGateway) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	return nil, nil
}
func (g *quoteGateway) GetBalance(context.Context, string) (domain.Balance, error) {
	return domain.Balance{}, nil
}
func (g *quoteGateway) MinimumTradeSizes(context.Context, string, []string) (map[string]float64, error) {
	return nil, nil
}

type passEnv struct {
	app      *App
	deps     *Dependencies
	gateway  *quoteGateway
	paths    *memPaths
	pauses   *memPauses
	analyzer *analyzer
}

func newPassEnv(t *testing.T) *passEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.Analyzer.MaxConcurrent = 4
	cfg.Exchanges = map[string]config.ExchangeConfig{
		"testex": {Markets: []string{"BTC", "USDT"}},
	}

	env := &passEnv{
		gateway: newQuoteGateway(),
		paths:   newMemPaths(),
		pauses:  newMemPauses(),
	}
	env.deps = &Dependencies{
		Paths:    env.paths,
		Pauses:   env.pauses,
		Books:    nilBooks{},
		Gateways: map[string]domain.ExchangeGateway{"testex": env.gateway},
	}
	env.app = New(&cfg, testLogger())
	env.analyzer = env.app.newAnalyzer(env.deps, nil)
	return env
}

func TestAnalyzePassStoresCandidates(t *testing.T) {
	env := newPassEnv(t)

	if err := env.app.analyzePass(context.Background(), env.deps, env.analyzer); err != nil {
		t.Fatalf("analyzePass: %v", err)
	}

	recs, err := env.paths.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Fatal("no paths stored from a profitable universe")
	}
	found := false
	for _, p := range recs {
		if p.Status != domain.StatusBare {
			t.Errorf("path %d stored with status %q, want bare", p.ID, p.Status)
		}
		if p.Legs[0].Coin == "LTC" && p.Legs[2].Coin == "DOGE" {
			found = true
			if p.Gain < 4.99 || p.Gain > 5.01 {
				t.Errorf("gain = %g, want ~5", p.Gain)
			}
		}
	}
	if !found {
		t.Error("the LTC/DOGE cycle was not stored")
	}
	if active, _ := env.pauses.Active(context.Background()); len(active) != 0 {
		t.Errorf("unexpected pauses: %v", active)
	}

	// A second pass finds every cycle already stored and adds nothing.
	if err := env.app.analyzePass(context.Background(), env.deps, env.analyzer); err != nil {
		t.Fatalf("second analyzePass: %v", err)
	}
	again, _ := env.paths.List(context.Background())
	if len(again) != len(recs) {
		t.Errorf("second pass grew the store from %d to %d records", len(recs), len(again))
	}
}

func TestAnalyzePassPausesIlliquidLeg(t *testing.T) {
	env := newPassEnv(t)
	// The LTC ask book is gone while its quote still circulates.
	delete(env.gateway.sellers, "BTC/LTC")

	if err := env.app.analyzePass(context.Background(), env.deps, env.analyzer); err != nil {
		t.Fatalf("analyzePass: %v", err)
	}

	recs, _ := env.paths.List(context.Background())
	for _, p := range recs {
		for _, tr := range p.Triples() {
			if tr.Market == "BTC" && tr.Coin == "LTC" {
				t.Errorf("path %d trades the bookless triple", p.ID)
			}
		}
	}
	active, err := env.pauses.Active(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}
	found := false
	for _, tr := range active {
		if tr == want {
			found = true
		}
	}
	if !found {
		t.Errorf("active pauses = %v, want %v", active, want)
	}
}
