package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// BookCache implements domain.BookCache using one JSON blob per ladder.
//
// Key schema:
//
//	cryptobot:book:{exchange}:{market}:{coin}:{side}
//
// A ladder is read and written whole: the engine always evaluates a full
// depth snapshot, never individual levels, so a blob avoids the bookkeeping
// of per-level structures.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.rdb}
}

var _ domain.BookCache = (*BookCache)(nil)

func bookKey(t domain.Triple, side domain.BookSide) string {
	return keyspace + "book:" + t.Exchange + ":" + t.Market + ":" + t.Coin + ":" + string(side)
}

// cachedLadder is the wire form of a ladder. Field names are kept short since
// a busy engine writes hundreds of these per pass.
type cachedLadder struct {
	Entries   [][2]float64 `json:"e"` // [quantity, rate] per level
	Reference float64      `json:"ref"`
	FetchedAt int64        `json:"ts"` // unix nanoseconds
}

// Get returns the cached ladder for a triple and side, or domain.ErrNotFound.
func (bc *BookCache) Get(ctx context.Context, t domain.Triple, side domain.BookSide) (domain.Ladder, error) {
	data, err := bc.rdb.Get(ctx, bookKey(t, side)).Bytes()
	if err == redis.Nil {
		return domain.Ladder{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Ladder{}, fmt.Errorf("redis: get book %s: %w", bookKey(t, side), err)
	}

	var c cachedLadder
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Ladder{}, fmt.Errorf("redis: decode book %s: %w", bookKey(t, side), err)
	}

	l := domain.Ladder{
		Entries:        make([]domain.LadderEntry, len(c.Entries)),
		ReferencePrice: c.Reference,
		FetchedAt:      time.Unix(0, c.FetchedAt),
	}
	for i, e := range c.Entries {
		l.Entries[i] = domain.LadderEntry{Quantity: e[0], Rate: e[1]}
	}
	return l, nil
}

// Set stores a ladder with the given time-to-live.
func (bc *BookCache) Set(ctx context.Context, t domain.Triple, side domain.BookSide, l domain.Ladder, ttl time.Duration) error {
	c := cachedLadder{
		Entries:   make([][2]float64, len(l.Entries)),
		Reference: l.ReferencePrice,
		FetchedAt: l.FetchedAt.UnixNano(),
	}
	for i, e := range l.Entries {
		c.Entries[i] = [2]float64{e.Quantity, e.Rate}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", bookKey(t, side), err)
	}
	if err := bc.rdb.Set(ctx, bookKey(t, side), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", bookKey(t, side), err)
	}
	return nil
}
