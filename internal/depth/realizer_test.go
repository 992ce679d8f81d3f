package depth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

type memoryBookCache struct {
	entries map[string]domain.Ladder
}

func newMemoryBookCache() *memoryBookCache {
	return &memoryBookCache{entries: make(map[string]domain.Ladder)}
}

func (m *memoryBookCache) key(t domain.Triple, side domain.BookSide) string {
	return t.Exchange + "/" + t.Market + "/" + t.Coin + "/" + string(side)
}

func (m *memoryBookCache) Get(_ context.Context, t domain.Triple, side domain.BookSide) (domain.Ladder, error) {
	l, ok := m.entries[m.key(t, side)]
	if !ok {
		return domain.Ladder{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memoryBookCache) Set(_ context.Context, t domain.Triple, side domain.BookSide, l domain.Ladder, _ time.Duration) error {
	m.entries[m.key(t, side)] = l
	return nil
}

type ladderGateway struct {
	domain.ExchangeGateway
	name    string
	sellers domain.Ladder
	buyers  domain.Ladder
	calls   int
}

func (g *ladderGateway) Name() string { return g.name }

func (g *ladderGateway) Sellers(context.Context, string, string) (domain.Ladder, error) {
	g.calls++
	return g.sellers, nil
}

func (g *ladderGateway) Buyers(context.Context, string, string) (domain.Ladder, error) {
	g.calls++
	return g.buyers, nil
}

func newTestRealizer(cache domain.BookCache, gw domain.ExchangeGateway) *Realizer {
	cfg := Config{
		MaxAge:      10 * time.Second,
		MaxDriftPct: 0.2,
		DustThresholds: map[string]float64{
			"BTC":  0.001,
			"DOGE": 100,
		},
	}
	gateways := map[string]domain.ExchangeGateway{}
	if gw != nil {
		gateways[gw.(*ladderGateway).name] = gw
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRealizer(cache, gateways, cfg, logger)
}

func TestIsDust(t *testing.T) {
	r := newTestRealizer(newMemoryBookCache(), nil)
	if !r.IsDust("BTC", 0.0005) {
		t.Error("0.0005 BTC should be dust")
	}
	if r.IsDust("BTC", 0.01) {
		t.Error("0.01 BTC should not be dust")
	}
	if r.IsDust("UNKNOWN", 1e-12) {
		t.Error("assets without a threshold are never dust")
	}
}

func TestFilterDropsUntradableLevels(t *testing.T) {
	r := newTestRealizer(newMemoryBookCache(), nil)
	triple := domain.Triple{Exchange: "testex", Market: "BTC", Coin: "DOGE"}
	l := domain.Ladder{Entries: []domain.LadderEntry{
		{Quantity: 50, Rate: 1e-6},     // DOGE dust
		{Quantity: 5000, Rate: 1e-7},   // value 0.0005 BTC: market dust
		{Quantity: 200, Rate: 1e-5},    // below min size 500
		{Quantity: 50000, Rate: 1e-5},  // good
		{Quantity: 120000, Rate: 2e-5}, // good
	}}

	got := r.Filter(l, triple, 500)
	if len(got.Entries) != 2 {
		t.Fatalf("Filter kept %d levels, want 2", len(got.Entries))
	}
	if got.Entries[0].Quantity != 50000 {
		t.Errorf("first kept level = %+v", got.Entries[0])
	}

	// Filtering again must not change anything.
	again := r.Filter(got, triple, 500)
	if len(again.Entries) != len(got.Entries) {
		t.Error("Filter is not idempotent")
	}
}

func TestUsable(t *testing.T) {
	one := domain.Ladder{Entries: []domain.LadderEntry{{Quantity: 1, Rate: 1}}}
	two := domain.Ladder{Entries: []domain.LadderEntry{{Quantity: 1, Rate: 1}, {Quantity: 1, Rate: 2}}}
	if Usable(one) {
		t.Error("a single-level ladder must not be usable")
	}
	if !Usable(two) {
		t.Error("a two-level ladder must be usable")
	}
	if Comfortable(two) {
		t.Error("two levels are not comfortable")
	}
}

func TestBestOnEmptyLadder(t *testing.T) {
	if _, err := Best(domain.Ladder{}); !errors.Is(err, domain.ErrNoLiquidity) {
		t.Fatalf("Best on empty ladder = %v, want ErrNoLiquidity", err)
	}
}

func TestRateForQuantity(t *testing.T) {
	l := domain.Ladder{Entries: []domain.LadderEntry{
		{Quantity: 10, Rate: 100},
		{Quantity: 20, Rate: 101},
		{Quantity: 30, Rate: 105},
	}}

	tests := []struct {
		quantity float64
		want     float64
	}{
		{5, 100},
		{10, 100},
		{11, 101},
		{30, 101},
		{31, 105},
		{60, 105},
	}
	for _, tc := range tests {
		got, err := RateForQuantity(l, tc.quantity)
		if err != nil {
			t.Fatalf("RateForQuantity(%g): %v", tc.quantity, err)
		}
		if got != tc.want {
			t.Errorf("RateForQuantity(%g) = %g, want %g", tc.quantity, got, tc.want)
		}
	}

	if _, err := RateForQuantity(l, 61); !errors.Is(err, domain.ErrNoLiquidity) {
		t.Errorf("over-depth request = %v, want ErrNoLiquidity", err)
	}
	if _, err := RateForQuantity(l, 0); err == nil {
		t.Error("zero quantity must be rejected")
	}
}

func TestLadderServesFreshCache(t *testing.T) {
	cache := newMemoryBookCache()
	gw := &ladderGateway{name: "testex"}
	r := newTestRealizer(cache, gw)
	triple := domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}

	cached := domain.Ladder{
		Entries:        []domain.LadderEntry{{Quantity: 5, Rate: 0.002}, {Quantity: 7, Rate: 0.0021}},
		ReferencePrice: 0.002,
		FetchedAt:      time.Now(),
	}
	if err := cache.Set(context.Background(), triple, domain.SideSellers, cached, 0); err != nil {
		t.Fatal(err)
	}

	got, err := r.Ladder(context.Background(), triple, domain.SideSellers, 0.002, 0)
	if err != nil {
		t.Fatalf("Ladder: %v", err)
	}
	if gw.calls != 0 {
		t.Error("venue was queried despite a fresh cache entry")
	}
	if len(got.Entries) != 2 {
		t.Errorf("got %d entries, want 2", len(got.Entries))
	}
}

func TestLadderRefetchesOnDrift(t *testing.T) {
	cache := newMemoryBookCache()
	gw := &ladderGateway{
		name: "testex",
		sellers: domain.Ladder{Entries: []domain.LadderEntry{
			{Quantity: 5, Rate: 0.003},
			{Quantity: 9, Rate: 0.0031},
		}},
	}
	r := newTestRealizer(cache, gw)
	triple := domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}

	stale := domain.Ladder{
		Entries:        []domain.LadderEntry{{Quantity: 5, Rate: 0.002}},
		ReferencePrice: 0.002,
		FetchedAt:      time.Now(),
	}
	if err := cache.Set(context.Background(), triple, domain.SideSellers, stale, 0); err != nil {
		t.Fatal(err)
	}

	// Reference price has moved 50%: far past the 0.2% bound.
	got, err := r.Ladder(context.Background(), triple, domain.SideSellers, 0.003, 0)
	if err != nil {
		t.Fatalf("Ladder: %v", err)
	}
	if gw.calls != 1 {
		t.Error("drifted cache entry was served instead of refetched")
	}
	if got.Best().Rate != 0.003 {
		t.Errorf("best rate = %g, want the refetched 0.003", got.Best().Rate)
	}

	// The refetched ladder must have been written back to the cache.
	back, err := cache.Get(context.Background(), triple, domain.SideSellers)
	if err != nil || back.ReferencePrice != 0.003 {
		t.Errorf("cache not updated after refetch: %+v err=%v", back, err)
	}
}
