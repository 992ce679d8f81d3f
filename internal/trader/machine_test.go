package trader

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// profitablePath is the 5% cycle BTC>LTC>USDT>DOGE>BTC, sized and priced the
// way the analyzer would store it.
func profitablePath() *domain.PathRecord {
	p := &domain.PathRecord{
		Exchange: "testex",
		Gain:     5,
		Status:   domain.StatusProfitable,
	}
	p.Legs[0] = domain.Leg{Market: "BTC", MarketQuantity: 0.01, Rate: 0.01, Coin: "LTC", CoinQuantity: 1}
	p.Legs[1] = domain.Leg{Market: "USDT", MarketQuantity: 500, Rate: 500, Coin: "LTC", CoinQuantity: 1}
	p.Legs[2] = domain.Leg{Market: "USDT", MarketQuantity: 500, Rate: 0.1, Coin: "DOGE", CoinQuantity: 5000}
	p.Legs[3] = domain.Leg{Market: "BTC", MarketQuantity: 0.0105, Rate: 2.1e-6, Coin: "DOGE", CoinQuantity: 5000}
	return p
}

// marketBooks populates ladders deep enough to revalidate the cycle at its
// stored rates.
func marketBooks(f *fakeLadderSource) {
	f.put(domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}, domain.SideSellers,
		domain.LadderEntry{Quantity: 10, Rate: 0.01},
		domain.LadderEntry{Quantity: 20, Rate: 0.0101})
	f.put(domain.Triple{Exchange: "testex", Market: "USDT", Coin: "LTC"}, domain.SideBuyers,
		domain.LadderEntry{Quantity: 10, Rate: 500},
		domain.LadderEntry{Quantity: 20, Rate: 499})
	f.put(domain.Triple{Exchange: "testex", Market: "USDT", Coin: "DOGE"}, domain.SideSellers,
		domain.LadderEntry{Quantity: 10000, Rate: 0.1},
		domain.LadderEntry{Quantity: 20000, Rate: 0.101})
	f.put(domain.Triple{Exchange: "testex", Market: "BTC", Coin: "DOGE"}, domain.SideBuyers,
		domain.LadderEntry{Quantity: 10000, Rate: 2.1e-6},
		domain.LadderEntry{Quantity: 20000, Rate: 2.0e-6})
}

type machineEnv struct {
	store    *memPathStore
	pauses   *memPauseStore
	gateway  *fakeGateway
	ladders  *fakeLadderSource
	notifier *captureNotifier
	machine  *Machine
}

func newMachineEnv(t *testing.T) *machineEnv {
	t.Helper()
	env := &machineEnv{
		store:    newMemPathStore(),
		pauses:   newMemPauseStore(),
		gateway:  newFakeGateway(map[string]float64{"BTC": 1}),
		ladders:  newFakeLadderSource(),
		notifier: &captureNotifier{},
	}
	marketBooks(env.ladders)
	env.machine = NewMachine(
		env.store,
		env.pauses,
		map[string]domain.ExchangeGateway{"testex": env.gateway},
		env.ladders,
		NewBalanceCache(time.Minute),
		nil,
		env.notifier,
		MachineConfig{
			Fees:              map[string]float64{"testex": 0},
			MinGainPerStepPct: 0.75,
			MaxRateDriftPct:   0.1,
			MinSizeMargin:     1.005,
			BalanceRetries:    2,
			BalanceRetryDelay: time.Millisecond,
			PauseNoBook:       5 * time.Minute,
			PauseThinBook:     time.Hour,
			PauseLowBalance:   2 * time.Hour,
			PauseLowSell:      5 * time.Minute,
			PauseDust:         15 * time.Minute,
		},
		testLogger(),
	)
	return env
}

func (env *machineEnv) seed(t *testing.T, p *domain.PathRecord) int64 {
	t.Helper()
	if err := env.store.Insert(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p.ID
}

func (env *machineEnv) record(t *testing.T, id int64) domain.PathRecord {
	t.Helper()
	p, err := env.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExecuteRunsFullCycle(t *testing.T) {
	env := newMachineEnv(t)
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", p.Status)
	}
	for step := 1; step <= 4; step++ {
		if p.Leg(step).OrderID == "" {
			t.Errorf("leg %d has no order id", step)
		}
	}
	if len(env.gateway.placed) != 4 {
		t.Fatalf("placed %d orders, want 4", len(env.gateway.placed))
	}
	if o := env.gateway.placed[0]; !o.Buy || o.Coin != "LTC" {
		t.Errorf("first order = %+v, want LTC buy", o)
	}
	if o := env.gateway.placed[3]; o.Buy || o.Coin != "DOGE" {
		t.Errorf("last order = %+v, want DOGE sell", o)
	}
	// The venue ended up holding the 5% profit in BTC.
	if btc := env.gateway.balances["BTC"]; math.Abs(btc-1.0005) > 1e-9 {
		t.Errorf("final BTC balance = %g, want 1.0005", btc)
	}
	if !env.notifier.got("path_done") {
		t.Error("no path_done notification")
	}
}

func TestExecuteSellsThroughThenStopsBeforeBuy(t *testing.T) {
	env := newMachineEnv(t)
	// The DOGE ask collapses after the path was stored: the remaining legs
	// no longer pay. The LTC already bought must still be sold, but no new
	// position may be opened.
	env.ladders.put(domain.Triple{Exchange: "testex", Market: "USDT", Coin: "DOGE"}, domain.SideSellers,
		domain.LadderEntry{Quantity: 10000, Rate: 0.11},
		domain.LadderEntry{Quantity: 20000, Rate: 0.111})
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusUnprofitable {
		t.Fatalf("status = %q, want unprofitable", p.Status)
	}
	if p.Legs[0].OrderID == "" || p.Legs[1].OrderID == "" {
		t.Error("buy and close-out sell should both have executed")
	}
	if p.Legs[2].OrderID != "" {
		t.Error("the second buy must not have been placed")
	}
	// Holdings are back in currencies, not coins.
	if ltc := env.gateway.balances["LTC"]; ltc != 0 {
		t.Errorf("LTC residue %g after close-out", ltc)
	}
}

func TestExecuteAmbiguousPlacementRestingOrder(t *testing.T) {
	env := newMachineEnv(t)
	env.gateway.emptyIDOnce = true
	env.gateway.restOnEmpty = true
	id := env.seed(t, profitablePath())

	// First run: the placement answer carried no id, the order is found
	// resting, and the path parks waiting for the fill.
	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	p := env.record(t, id)
	if p.Status != domain.PlacedStatus(1) {
		t.Fatalf("status = %q, want buy1placed", p.Status)
	}
	if p.Legs[0].OrderID == "" {
		t.Fatal("resting order id not adopted")
	}

	// The order fills; the next pass completes the cycle.
	env.gateway.settleGhost()
	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute after fill: %v", err)
	}
	if p = env.record(t, id); p.Status != domain.StatusDone {
		t.Errorf("status = %q, want done", p.Status)
	}
}

func TestExecuteAmbiguousPlacementNeverPlaced(t *testing.T) {
	env := newMachineEnv(t)
	env.gateway.emptyIDOnce = true // no id and nothing rests: never placed
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The machine re-placed after confirming absence and ran through.
	p := env.record(t, id)
	if p.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", p.Status)
	}
	if len(env.gateway.placed) != 4 {
		t.Errorf("placed %d orders, want 4", len(env.gateway.placed))
	}
}

func TestExecuteRateDriftAborts(t *testing.T) {
	env := newMachineEnv(t)
	// The LTC ask doubled: the drift dwarfs the 5% gain.
	env.ladders.put(domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}, domain.SideSellers,
		domain.LadderEntry{Quantity: 10, Rate: 0.02},
		domain.LadderEntry{Quantity: 20, Rate: 0.021})
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", p.Status)
	}
	if len(env.gateway.placed) != 0 {
		t.Error("order was placed despite the drift")
	}
	if !env.notifier.got("path_error") {
		t.Error("no path_error notification")
	}
}

func TestExecuteInsufficientBalancePausesAndFails(t *testing.T) {
	env := newMachineEnv(t)
	env.gateway.balances["BTC"] = 0.001 // cannot fund the 0.01 BTC buy
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", p.Status)
	}
	active, err := env.pauses.Active(context.Background())
	if err != nil || len(active) != 1 {
		t.Fatalf("active pauses = %v err=%v, want the LTC triple", active, err)
	}
	if active[0].Coin != "LTC" {
		t.Errorf("paused triple = %+v", active[0])
	}
}

func TestExecutePausedTripleParks(t *testing.T) {
	env := newMachineEnv(t)
	err := env.pauses.Pause(context.Background(),
		domain.Triple{Exchange: "testex", Market: "BTC", Coin: "LTC"}, time.Hour, "operator hold")
	if err != nil {
		t.Fatal(err)
	}
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.PlaceStatus(1) {
		t.Errorf("status = %q, want buy1place (parked)", p.Status)
	}
	if len(env.gateway.placed) != 0 {
		t.Error("order placed on a paused triple")
	}
}

func TestExecuteShortFillShrinksDownstream(t *testing.T) {
	env := newMachineEnv(t)
	env.gateway.fillFactor = 0.97
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", p.Status)
	}
	// Each of the four legs shorts by 3%, and each shortfall propagates.
	if p.Legs[1].CoinQuantity >= 1 {
		t.Errorf("leg 2 quantity %g not shrunk", p.Legs[1].CoinQuantity)
	}
	if p.Legs[3].MarketQuantity >= 0.0105 {
		t.Errorf("final quantity %g not shrunk", p.Legs[3].MarketQuantity)
	}
}

func TestExecuteUnconfirmedFillUnrecoverable(t *testing.T) {
	env := newMachineEnv(t)
	env.gateway.fillFactor = 0 // the venue takes the spend, credits nothing
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusUnrecoverable {
		t.Fatalf("status = %q, want unrecoverable", p.Status)
	}
	if !env.notifier.got("path_unrecoverable") {
		t.Error("no path_unrecoverable notification")
	}
}

func TestExecuteInvestigatesBareRecord(t *testing.T) {
	env := newMachineEnv(t)
	p := profitablePath()
	p.Status = domain.StatusBare
	id := env.seed(t, p)

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The books still price the cycle at 5%: confirmed and run through.
	got := env.record(t, id)
	if got.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if len(env.gateway.placed) != 4 {
		t.Errorf("placed %d orders, want 4", len(env.gateway.placed))
	}
}

func TestExecuteBareRecordNoLongerPays(t *testing.T) {
	env := newMachineEnv(t)
	// The DOGE ask collapsed since the analyzer stored the record.
	env.ladders.put(domain.Triple{Exchange: "testex", Market: "USDT", Coin: "DOGE"}, domain.SideSellers,
		domain.LadderEntry{Quantity: 10000, Rate: 0.11},
		domain.LadderEntry{Quantity: 20000, Rate: 0.111})
	p := profitablePath()
	p.Status = domain.StatusBare
	id := env.seed(t, p)

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Nothing is held yet, so the record terminates without a single order.
	got := env.record(t, id)
	if got.Status != domain.StatusUnprofitable {
		t.Fatalf("status = %q, want unprofitable", got.Status)
	}
	if len(env.gateway.placed) != 0 {
		t.Errorf("placed %d orders on a dead candidate", len(env.gateway.placed))
	}
}

func TestExecuteFillCheckIgnoresPriorHoldings(t *testing.T) {
	env := newMachineEnv(t)
	// The account already holds LTC from elsewhere. The buy never credits
	// anything; the old stock must not pass for a fill.
	env.gateway.balances["LTC"] = 2
	env.gateway.fillFactor = 0
	id := env.seed(t, profitablePath())

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p := env.record(t, id)
	if p.Status != domain.StatusUnrecoverable {
		t.Fatalf("status = %q, want unrecoverable", p.Status)
	}
	if len(env.gateway.placed) != 1 {
		t.Errorf("placed %d orders, want only the first buy", len(env.gateway.placed))
	}
}

// traceStore records the status of every persisted update.
type traceStore struct {
	*memPathStore
	mu    sync.Mutex
	trail []domain.PathStatus
}

func (s *traceStore) Update(ctx context.Context, p domain.PathRecord) error {
	s.mu.Lock()
	s.trail = append(s.trail, p.Status)
	s.mu.Unlock()
	return s.memPathStore.Update(ctx, p)
}

func TestExecuteStatusNeverRegresses(t *testing.T) {
	env := newMachineEnv(t)
	trace := &traceStore{memPathStore: env.store}
	env.machine.store = trace
	env.gateway.emptyIDOnce = true
	env.gateway.restOnEmpty = true
	id := env.seed(t, profitablePath())

	// The first run parks on the resting first order; the fill lands and a
	// second run carries the record to completion.
	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	env.gateway.settleGhost()
	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute after fill: %v", err)
	}
	if p := env.record(t, id); p.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", p.Status)
	}

	// Once the second leg's balance is confirmed, no earlier leg's status
	// may be persisted again.
	confirmed := false
	for _, s := range trace.trail {
		if s == domain.BalanceGoodStatus(2) {
			confirmed = true
			continue
		}
		if !confirmed {
			continue
		}
		if step, _, ok := legPhase(s); ok && step <= 2 {
			t.Fatalf("status %q persisted after balance2good", s)
		}
	}
	if !confirmed {
		t.Fatal("balance2good never persisted")
	}
}

func TestExecuteResumesFromPersistedState(t *testing.T) {
	env := newMachineEnv(t)
	// A crash left this record mid-cycle: the first two legs are filled
	// and holdings sit in USDT.
	p := profitablePath()
	p.Status = domain.StatusBalance2Good
	p.Legs[0].OrderID = "order-a"
	p.Legs[1].OrderID = "order-b"
	env.gateway.balances["BTC"] = 0.99
	env.gateway.balances["USDT"] = 500
	id := env.seed(t, p)

	if err := env.machine.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := env.record(t, id)
	if got.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	// Only the remaining two legs traded.
	if len(env.gateway.placed) != 2 {
		t.Errorf("placed %d orders, want 2", len(env.gateway.placed))
	}
}
