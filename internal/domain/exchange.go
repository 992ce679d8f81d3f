package domain

import "context"

// Balance is a venue's view of one asset.
type Balance struct {
	Total       float64
	Available   float64
	Reserved    float64
	Unconfirmed float64
}

// OpenOrder is one resting limit order as reported by a venue.
type OpenOrder struct {
	ID       string
	Market   string
	Coin     string
	Buy      bool
	Quantity float64
	Rate     float64
}

// ExchangeGateway is the per-venue trading API the engine consumes. The
// engine never implements a venue binding itself; gateways handle signing,
// transport and response parsing, and return errors rather than panicking.
// All calls must honor the context deadline: "unknown due to timeout" and
// "confirmed failure" get different handling upstream.
type ExchangeGateway interface {
	// Name returns the venue identifier, e.g. "bittrex".
	Name() string

	// Markets lists the base markets supported on this venue.
	Markets() []string

	// MarketSummaries returns the top-of-book quote for every coin trading
	// against the given market.
	MarketSummaries(ctx context.Context, market string) (map[string]Rate, error)

	// Buyers returns the bid ladder for a coin, best bid first.
	Buyers(ctx context.Context, market, coin string) (Ladder, error)

	// Sellers returns the ask ladder for a coin, best ask first.
	Sellers(ctx context.Context, market, coin string) (Ladder, error)

	// LimitBuy places a limit buy order and returns the venue order id. An
	// empty id with a nil error means the venue answered but the response
	// could not be parsed into a definite id; the caller must reconcile
	// before retrying, or it risks placing the order twice.
	LimitBuy(ctx context.Context, market, coin string, quantity, rate float64) (orderID string, err error)

	// LimitSell places a limit sell order; id semantics as for LimitBuy.
	LimitSell(ctx context.Context, market, coin string, quantity, rate float64) (orderID string, err error)

	// CancelOrder cancels a resting order, reporting whether it was found.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// OpenOrders lists the resting orders on this venue.
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// GetBalance returns the venue's balance for one asset.
	GetBalance(ctx context.Context, asset string) (Balance, error)

	// MinimumTradeSizes returns the venue's published minimum order
	// quantity per coin for the given market, for the out-of-band refresh
	// of the persisted minimum-trade-size table.
	MinimumTradeSizes(ctx context.Context, market string, coins []string) (map[string]float64, error)

	// TradeFee returns the venue's trading fee as a fraction, e.g. 0.0025.
	TradeFee() float64

	// OrderEasePct returns the percentage by which buy rates are raised and
	// sell rates lowered at placement time to improve fill odds.
	OrderEasePct() float64
}
