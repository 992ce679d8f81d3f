package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teusbenschop/cryptobot/internal/depth"
	"github.com/teusbenschop/cryptobot/internal/domain"
	"github.com/teusbenschop/cryptobot/internal/multipath"
)

// Notifier receives engine events. Implementations decide which events to
// forward and where.
type Notifier interface {
	Notify(ctx context.Context, event, message string) error
}

// MachineConfig holds the execution parameters of the state machine.
type MachineConfig struct {
	// Fees maps a venue name to its trading fee fraction.
	Fees map[string]float64
	// MinGainPerStepPct is the required gain per remaining trading step
	// when a path is revalidated between legs.
	MinGainPerStepPct float64
	// MaxRateDriftPct aborts a leg whose fresh rate has moved adversely
	// more than this, unless the path's gain absorbs the move.
	MaxRateDriftPct float64
	// MinSizeMargin scales a buy order to slightly above the venue minimum
	// when it would otherwise be rejected as too small.
	MinSizeMargin float64
	// BalanceRetries and BalanceRetryDelay govern the post-fill balance
	// check before a path is given up as unrecoverable.
	BalanceRetries    int
	BalanceRetryDelay time.Duration
	// Pause durations per failure cause.
	PauseNoBook     time.Duration
	PauseThinBook   time.Duration
	PauseLowBalance time.Duration
	PauseLowSell    time.Duration
	PauseDust       time.Duration
}

// errParked signals that a path cannot progress right now but is not broken:
// the scheduler should release it and try again on a later pass.
var errParked = errors.New("trader: parked")

// Machine drives one path record through its state ladder. It is safe for
// concurrent use; all per-path state lives in the record itself.
type Machine struct {
	store     domain.PathStore
	pauses    domain.PauseStore
	gateways  map[string]domain.ExchangeGateway
	ladders   multipath.LadderSource
	balances  *BalanceCache
	minTrades map[domain.Triple]float64
	notifier  Notifier
	cfg       MachineConfig
	logger    *slog.Logger

	// baselines holds, per (path, leg), the receiving asset's available
	// balance read just before the order went out. Fill confirmation
	// measures what the order credited against this, so holdings the
	// account already had do not pass for a fill.
	mu        sync.Mutex
	baselines map[legKey]float64
}

// legKey identifies one leg of one path record.
type legKey struct {
	path int64
	step int
}

// NewMachine creates a Machine.
func NewMachine(
	store domain.PathStore,
	pauses domain.PauseStore,
	gateways map[string]domain.ExchangeGateway,
	ladders multipath.LadderSource,
	balances *BalanceCache,
	minTrades map[domain.Triple]float64,
	notifier Notifier,
	cfg MachineConfig,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		store:     store,
		pauses:    pauses,
		gateways:  gateways,
		ladders:   ladders,
		balances:  balances,
		minTrades: minTrades,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "machine")),
		baselines: make(map[legKey]float64),
	}
}

func (m *Machine) setBaseline(id int64, step int, available float64) {
	m.mu.Lock()
	m.baselines[legKey{id, step}] = available
	m.mu.Unlock()
}

func (m *Machine) baseline(id int64, step int) (float64, bool) {
	m.mu.Lock()
	v, ok := m.baselines[legKey{id, step}]
	m.mu.Unlock()
	return v, ok
}

func (m *Machine) clearBaselines(id int64) {
	m.mu.Lock()
	for step := 1; step <= 4; step++ {
		delete(m.baselines, legKey{id, step})
	}
	m.mu.Unlock()
}

type phase int

const (
	phasePlace phase = iota
	phaseUncertain
	phasePlaced
	phaseBalanceGood
)

// legPhase decomposes a per-leg status into its step and phase.
func legPhase(s domain.PathStatus) (int, phase, bool) {
	for step := 1; step <= 4; step++ {
		switch s {
		case domain.PlaceStatus(step):
			return step, phasePlace, true
		case domain.UncertainStatus(step):
			return step, phaseUncertain, true
		case domain.PlacedStatus(step):
			return step, phasePlaced, true
		case domain.BalanceGoodStatus(step):
			return step, phaseBalanceGood, true
		}
	}
	return 0, 0, false
}

// Execute drives the record with the given id until it reaches a terminal
// status or parks. Parking leaves the record in its current status for a
// later pass. The caller owns the executing claim.
func (m *Machine) Execute(ctx context.Context, id int64) error {
	p, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	logger := m.logger.With(slog.Int64("path", p.ID), slog.String("route", p.Describe()))

	// Bounces counts uncertain-to-place retries, so a venue that keeps
	// answering without order ids cannot spin the machine forever.
	bounces := 0

	for !p.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := p.Status

		switch {
		case p.Status == domain.StatusBare:
			err = m.investigate(ctx, &p, logger)
		case p.Status == domain.StatusProfitable:
			p.Status = domain.StatusStart
			err = m.persist(ctx, &p)
		case p.Status == domain.StatusStart:
			err = m.beginLeg(ctx, &p, 1)
		default:
			step, ph, ok := legPhase(p.Status)
			if !ok {
				logger.Error("unknown status", slog.String("status", string(p.Status)))
				p.Status = domain.StatusError
				err = m.persist(ctx, &p)
				break
			}
			switch ph {
			case phasePlace:
				err = m.placeLeg(ctx, &p, step, logger)
			case phaseUncertain:
				err = m.reconcile(ctx, &p, step, logger)
			case phasePlaced:
				err = m.verifyBalance(ctx, &p, step, logger)
			case phaseBalanceGood:
				err = m.beginLeg(ctx, &p, step+1)
			}
			if err == nil && ph == phaseUncertain && p.Status == domain.PlaceStatus(step) {
				bounces++
				if bounces > 2 {
					logger.Error("placement keeps coming back ambiguous")
					p.Status = domain.StatusError
					err = m.persist(ctx, &p)
				}
			}
		}

		if errors.Is(err, errParked) {
			logger.Debug("parked", slog.String("status", string(p.Status)))
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status == before {
			return nil
		}
	}

	m.finish(ctx, &p, logger)
	return nil
}

// persist writes the record back; every state transition goes through here.
func (m *Machine) persist(ctx context.Context, p *domain.PathRecord) error {
	return m.store.Update(ctx, *p)
}

// investigate re-prices a bare record against fresh depth before any money
// moves. The books that made the cycle attractive at analysis time may be
// long gone by the time the scheduler picks it up; each trading leg gets the
// worst rate its quantity would actually fill at.
func (m *Machine) investigate(ctx context.Context, p *domain.PathRecord, logger *slog.Logger) error {
	clone := *p
	for step := 1; step <= 4; step++ {
		leg := clone.Leg(step)
		if leg.Market == leg.Coin {
			continue
		}
		triple := clone.Triple(step)
		side := domain.SideBuyers
		if domain.IsBuy(step) {
			side = domain.SideSellers
		}
		l, err := m.ladders.Ladder(ctx, triple, side, leg.Rate, m.minTrades[triple])
		if err != nil || l.Empty() {
			m.pauseFor(ctx, triple, false, logger)
			return errParked
		}
		if len(l.Entries) < 2 {
			m.pauseFor(ctx, triple, true, logger)
			return errParked
		}
		rate, err := depth.RateForQuantity(l, leg.CoinQuantity)
		if err != nil {
			m.pauseFor(ctx, triple, true, logger)
			return errParked
		}
		leg.Rate = rate
	}
	multipath.Calculate(&clone, m.cfg.Fees[p.Exchange])

	required := multipath.MinimumRequiredGain(&clone, m.cfg.MinGainPerStepPct)
	if clone.Gain < required {
		logger.Info("candidate no longer pays",
			slog.Float64("gain_pct", clone.Gain),
			slog.Float64("required_pct", required))
		p.Status = domain.StatusUnprofitable
		return m.persist(ctx, p)
	}

	clone.Status = domain.StatusProfitable
	*p = clone
	logger.Info("candidate confirmed", slog.Float64("gain_pct", p.Gain))
	return m.persist(ctx, p)
}

// beginLeg moves the record into the given leg. Pass-through legs trade
// nothing and advance straight to their balance-good state; the fifth leg is
// completion.
func (m *Machine) beginLeg(ctx context.Context, p *domain.PathRecord, step int) error {
	if step > 4 {
		p.Status = domain.StatusDone
		return m.persist(ctx, p)
	}
	leg := p.Leg(step)
	if leg.Market == leg.Coin {
		p.Status = domain.BalanceGoodStatus(step)
	} else {
		p.Status = domain.PlaceStatus(step)
	}
	return m.persist(ctx, p)
}

// placeLeg places the order for one leg: revalidate, check pauses and
// balances, nudge the rate for fill odds, and submit.
func (m *Machine) placeLeg(ctx context.Context, p *domain.PathRecord, step int, logger *slog.Logger) error {
	leg := p.Leg(step)
	buy := domain.IsBuy(step)
	triple := p.Triple(step)

	gw, ok := m.gateways[p.Exchange]
	if !ok {
		logger.Error("no gateway for exchange", slog.String("exchange", p.Exchange))
		p.Status = domain.StatusUnrecoverable
		return m.persist(ctx, p)
	}

	paused, err := m.isPaused(ctx, triple)
	if err != nil {
		return errParked
	}
	if paused {
		return errParked
	}

	// Past the first leg the prices that made this path profitable are
	// stale; confirm the remainder still pays before committing more.
	if step > 1 {
		ok, err := m.revalidate(ctx, p, step)
		if err != nil {
			var lerr *multipath.LiquidityError
			if errors.As(err, &lerr) {
				m.pauseFor(ctx, lerr.Triple, lerr.Thin, logger)
				return errParked
			}
			return errParked
		}
		if !ok {
			if buy {
				logger.Info("remaining legs no longer profitable", slog.Int("step", step))
				p.Status = domain.StatusUnprofitable
				return m.persist(ctx, p)
			}
			// A sell leg disposes of inventory already bought; walking
			// away here would leave the position open.
			logger.Warn("selling through to close out position", slog.Int("step", step))
		}
	}

	side := domain.SideBuyers
	if buy {
		side = domain.SideSellers
	}
	ladder, err := m.ladders.Ladder(ctx, triple, side, leg.Rate, m.minTrades[triple])
	if err != nil || ladder.Empty() {
		m.pauseFor(ctx, triple, false, logger)
		return errParked
	}
	if len(ladder.Entries) < 2 {
		m.pauseFor(ctx, triple, true, logger)
		return errParked
	}

	// Drift check: a small adverse move is normal churn, a large one that
	// the path's gain cannot absorb means the opportunity is gone.
	fresh := ladder.Best().Rate
	var driftPct float64
	if buy {
		driftPct = (fresh - leg.Rate) / leg.Rate * 100
	} else {
		driftPct = (leg.Rate - fresh) / leg.Rate * 100
	}
	if driftPct > m.cfg.MaxRateDriftPct && driftPct+2 > p.Gain {
		logger.Info("rate drifted away",
			slog.Int("step", step),
			slog.Float64("drift_pct", driftPct),
			slog.Float64("gain_pct", p.Gain))
		p.Status = domain.StatusError
		return m.persist(ctx, p)
	}

	// Venue minimum order size.
	if minQty := m.minTrades[triple]; minQty > 0 && leg.CoinQuantity < minQty {
		if buy {
			bumped := minQty * m.cfg.MinSizeMargin
			logger.Info("raising buy to venue minimum",
				slog.Int("step", step),
				slog.Float64("quantity", leg.CoinQuantity),
				slog.Float64("bumped", bumped))
			scaleFrom(p, step, bumped/leg.CoinQuantity)
		} else {
			// The holding cannot be grown to meet the minimum: it is
			// residue the venue will not let us sell.
			m.pause(ctx, triple, m.cfg.PauseDust, "below minimum order size", logger)
			p.Status = domain.StatusError
			return m.persist(ctx, p)
		}
	}

	// Funding check.
	spendAsset, spendQty := leg.Market, leg.MarketQuantity
	if !buy {
		spendAsset, spendQty = leg.Coin, leg.CoinQuantity
	}
	bal, err := m.balances.Get(ctx, gw, spendAsset)
	if err != nil {
		return errParked
	}
	if bal.Available < spendQty {
		logger.Warn("insufficient balance",
			slog.Int("step", step),
			slog.String("asset", spendAsset),
			slog.Float64("available", bal.Available),
			slog.Float64("needed", spendQty))
		if buy {
			m.pause(ctx, triple, m.cfg.PauseLowBalance, "insufficient balance for buy", logger)
		} else {
			m.pause(ctx, triple, m.cfg.PauseLowSell, "insufficient balance for sell", logger)
		}
		p.Status = domain.StatusError
		return m.persist(ctx, p)
	}

	// Snapshot the receiving side before the order goes out; the fill
	// check later measures what this order credited on top of it.
	recvAsset, _ := receivedSide(leg, buy)
	if pre, err := m.balances.Get(ctx, gw, recvAsset); err == nil {
		m.setBaseline(p.ID, step, pre.Available)
	}

	// Nudge the rate past the top of book so the order fills instead of
	// resting.
	rate := leg.Rate
	ease := gw.OrderEasePct()
	if buy {
		rate *= 1 + ease/100
	} else {
		rate *= 1 - ease/100
	}

	var orderID string
	if buy {
		orderID, err = gw.LimitBuy(ctx, leg.Market, leg.Coin, leg.CoinQuantity, rate)
	} else {
		orderID, err = gw.LimitSell(ctx, leg.Market, leg.Coin, leg.CoinQuantity, rate)
	}
	m.balances.Invalidate(p.Exchange, leg.Market)
	m.balances.Invalidate(p.Exchange, leg.Coin)

	if err != nil || orderID == "" {
		// The venue may or may not have accepted the order; assuming
		// either way risks a double trade or an abandoned one.
		if err != nil {
			logger.Warn("placement outcome unknown", slog.Int("step", step), slog.String("error", err.Error()))
		} else {
			logger.Warn("venue returned no order id", slog.Int("step", step))
		}
		p.Status = domain.UncertainStatus(step)
		return m.persist(ctx, p)
	}

	leg.OrderID = orderID
	leg.Rate = rate
	p.Status = domain.PlacedStatus(step)
	logger.Info("order placed",
		slog.Int("step", step),
		slog.String("order", orderID),
		slog.Float64("quantity", leg.CoinQuantity),
		slog.Float64("rate", rate))
	return m.persist(ctx, p)
}

// reconcile resolves an ambiguous placement by consulting the venue's open
// orders and balances.
func (m *Machine) reconcile(ctx context.Context, p *domain.PathRecord, step int, logger *slog.Logger) error {
	leg := p.Leg(step)
	buy := domain.IsBuy(step)
	gw := m.gateways[p.Exchange]

	open, err := gw.OpenOrders(ctx)
	if err != nil {
		return errParked
	}
	for _, o := range open {
		if o.Market != leg.Market || o.Coin != leg.Coin || o.Buy != buy {
			continue
		}
		if !closeTo(o.Quantity, leg.CoinQuantity) {
			continue
		}
		logger.Info("ambiguous order found resting", slog.Int("step", step), slog.String("order", o.ID))
		leg.OrderID = o.ID
		p.Status = domain.PlacedStatus(step)
		return m.persist(ctx, p)
	}

	// Not resting. If the balance gained since placement covers the leg
	// the order went through and filled; otherwise it never existed.
	recvAsset, recvQty := receivedSide(leg, buy)
	m.balances.Invalidate(p.Exchange, recvAsset)
	bal, err := m.balances.Get(ctx, gw, recvAsset)
	if err != nil {
		return errParked
	}
	gained := bal.Available
	if base, ok := m.baseline(p.ID, step); ok {
		gained -= base
	}
	if gained >= recvQty {
		logger.Info("ambiguous order turned out filled", slog.Int("step", step))
		p.Status = domain.PlacedStatus(step)
		return m.persist(ctx, p)
	}

	logger.Info("ambiguous order never reached the venue, replacing", slog.Int("step", step))
	p.Status = domain.PlaceStatus(step)
	return m.persist(ctx, p)
}

// verifyBalance confirms that a placed order has filled by watching the
// received asset's balance. A short fill within tolerance shrinks the rest
// of the path; anything worse after the retry budget is unrecoverable and
// needs an operator.
func (m *Machine) verifyBalance(ctx context.Context, p *domain.PathRecord, step int, logger *slog.Logger) error {
	leg := p.Leg(step)
	buy := domain.IsBuy(step)
	gw := m.gateways[p.Exchange]
	recvAsset, recvQty := receivedSide(leg, buy)

	// A still-resting order is simply not filled yet.
	if leg.OrderID != "" {
		open, err := gw.OpenOrders(ctx)
		if err != nil {
			return errParked
		}
		for _, o := range open {
			if o.ID == leg.OrderID {
				return errParked
			}
		}
	}

	for attempt := 0; attempt < m.cfg.BalanceRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.cfg.BalanceRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		m.balances.Invalidate(p.Exchange, recvAsset)
		bal, err := m.balances.Get(ctx, gw, recvAsset)
		if err != nil {
			continue
		}
		// The baseline from placement time isolates what this order
		// credited. A record resumed after a restart has none; the
		// absolute balance then stands in for the delta.
		gained := bal.Available
		if base, ok := m.baseline(p.ID, step); ok {
			gained -= base
		}
		factor := gained / recvQty
		if factor >= 1 {
			p.Status = domain.BalanceGoodStatus(step)
			return m.persist(ctx, p)
		}
		if factor >= 0.95 {
			logger.Warn("short fill, shrinking remaining legs",
				slog.Int("step", step),
				slog.Float64("factor", factor))
			scaleReceived(p, step, factor)
			p.Status = domain.BalanceGoodStatus(step)
			return m.persist(ctx, p)
		}
	}

	logger.Error("balance never confirmed the fill",
		slog.Int("step", step),
		slog.String("asset", recvAsset),
		slog.Float64("expected", recvQty))
	p.Status = domain.StatusUnrecoverable
	return m.persist(ctx, p)
}

// revalidate reprices the remaining legs from fresh order books and checks
// whether the path still clears its per-step margin.
func (m *Machine) revalidate(ctx context.Context, p *domain.PathRecord, step int) (bool, error) {
	clone := *p
	for s := step; s <= 4; s++ {
		leg := clone.Leg(s)
		if leg.Market == leg.Coin {
			continue
		}
		triple := clone.Triple(s)
		side := domain.SideBuyers
		if domain.IsBuy(s) {
			side = domain.SideSellers
		}
		l, err := m.ladders.Ladder(ctx, triple, side, leg.Rate, m.minTrades[triple])
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoLiquidity) {
				return false, &multipath.LiquidityError{Triple: triple}
			}
			return false, err
		}
		if l.Empty() {
			return false, &multipath.LiquidityError{Triple: triple}
		}
		leg.Rate = l.Best().Rate
	}
	multipath.Calculate(&clone, m.cfg.Fees[p.Exchange])
	required := float64(p.RemainingSteps(step)) * m.cfg.MinGainPerStepPct
	return clone.Gain >= required, nil
}

// isPaused reports whether a triple currently has an active pause.
func (m *Machine) isPaused(ctx context.Context, t domain.Triple) (bool, error) {
	active, err := m.pauses.Active(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range active {
		if a == t {
			return true, nil
		}
	}
	return false, nil
}

// pauseFor writes the pause matching a liquidity failure.
func (m *Machine) pauseFor(ctx context.Context, t domain.Triple, thin bool, logger *slog.Logger) {
	if thin {
		m.pause(ctx, t, m.cfg.PauseThinBook, "order book too thin", logger)
	} else {
		m.pause(ctx, t, m.cfg.PauseNoBook, "no order book", logger)
	}
}

func (m *Machine) pause(ctx context.Context, t domain.Triple, d time.Duration, reason string, logger *slog.Logger) {
	if err := m.pauses.Pause(ctx, t, d, reason); err != nil {
		logger.Warn("pause write failed",
			slog.String("market", t.Market),
			slog.String("coin", t.Coin),
			slog.String("error", err.Error()))
	}
}

// finish logs and notifies a terminal record.
func (m *Machine) finish(ctx context.Context, p *domain.PathRecord, logger *slog.Logger) {
	m.clearBaselines(p.ID)
	logger.Info("path finished",
		slog.String("status", string(p.Status)),
		slog.Float64("gain_pct", p.Gain))

	if m.notifier == nil {
		return
	}
	var event string
	switch p.Status {
	case domain.StatusDone:
		event = "path_done"
	case domain.StatusError:
		event = "path_error"
	case domain.StatusUnrecoverable:
		event = "path_unrecoverable"
	default:
		return
	}
	msg := fmt.Sprintf("path %d %s: %s (gain %.2f%%)", p.ID, p.Status, p.Describe(), p.Gain)
	if err := m.notifier.Notify(ctx, event, msg); err != nil {
		logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

// receivedSide returns the asset and quantity a leg receives when it fills.
func receivedSide(leg *domain.Leg, buy bool) (string, float64) {
	if buy {
		return leg.Coin, leg.CoinQuantity
	}
	return leg.Market, leg.MarketQuantity
}

// closeTo reports whether two quantities agree within a tenth of a percent,
// enough slack for venue rounding.
func closeTo(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a-b)/b < 0.001
}

// scaleFrom multiplies every quantity from the given leg onward. The chain
// is linear in its input, so a uniform factor keeps it consistent.
func scaleFrom(p *domain.PathRecord, step int, factor float64) {
	for s := step; s <= 4; s++ {
		leg := p.Leg(s)
		leg.MarketQuantity *= factor
		leg.CoinQuantity *= factor
	}
}

// scaleReceived shrinks the received side of a short-filled leg and every
// quantity after it.
func scaleReceived(p *domain.PathRecord, step int, factor float64) {
	leg := p.Leg(step)
	if domain.IsBuy(step) {
		leg.CoinQuantity *= factor
	} else {
		leg.MarketQuantity *= factor
	}
	for s := step + 1; s <= 4; s++ {
		next := p.Leg(s)
		next.MarketQuantity *= factor
		next.CoinQuantity *= factor
	}
}
