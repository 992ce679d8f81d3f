package trader

import (
	"context"
	"sync"
	"time"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// BalanceCache memoizes venue balance lookups for a short window. Placement
// checks several balances per leg; without the cache every check would be a
// venue round trip.
type BalanceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[balanceKey]balanceEntry
}

type balanceKey struct {
	exchange string
	asset    string
}

type balanceEntry struct {
	balance   domain.Balance
	fetchedAt time.Time
}

// NewBalanceCache creates a BalanceCache with the given entry lifetime.
func NewBalanceCache(ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		ttl:     ttl,
		entries: make(map[balanceKey]balanceEntry),
	}
}

// Get returns the balance of an asset on a venue, serving from the cache
// when the entry is younger than the TTL.
func (bc *BalanceCache) Get(ctx context.Context, gw domain.ExchangeGateway, asset string) (domain.Balance, error) {
	key := balanceKey{exchange: gw.Name(), asset: asset}

	bc.mu.Lock()
	e, ok := bc.entries[key]
	bc.mu.Unlock()
	if ok && time.Since(e.fetchedAt) < bc.ttl {
		return e.balance, nil
	}

	b, err := gw.GetBalance(ctx, asset)
	if err != nil {
		return domain.Balance{}, err
	}

	bc.mu.Lock()
	bc.entries[key] = balanceEntry{balance: b, fetchedAt: time.Now()}
	bc.mu.Unlock()
	return b, nil
}

// Invalidate drops the cached balance for an asset, forcing the next Get to
// hit the venue. Call it after placing an order that moves the asset.
func (bc *BalanceCache) Invalidate(exchange, asset string) {
	bc.mu.Lock()
	delete(bc.entries, balanceKey{exchange: exchange, asset: asset})
	bc.mu.Unlock()
}
