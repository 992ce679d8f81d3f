package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// MinTradeStore implements domain.MinTradeStore using PostgreSQL.
type MinTradeStore struct {
	pool *pgxpool.Pool
}

// NewMinTradeStore creates a new MinTradeStore.
func NewMinTradeStore(pool *pgxpool.Pool) *MinTradeStore {
	return &MinTradeStore{pool: pool}
}

var _ domain.MinTradeStore = (*MinTradeStore)(nil)

// All returns every stored minimum order quantity, keyed by triple.
func (s *MinTradeStore) All(ctx context.Context) (map[domain.Triple]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT exchange, market, coin, quantity FROM mintrade`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list minimum trade sizes: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Triple]float64)
	for rows.Next() {
		var t domain.Triple
		var q float64
		if err := rows.Scan(&t.Exchange, &t.Market, &t.Coin, &q); err != nil {
			return nil, fmt.Errorf("postgres: scan minimum trade size: %w", err)
		}
		out[t] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Put replaces the stored minimum for one triple.
func (s *MinTradeStore) Put(ctx context.Context, t domain.Triple, quantity float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mintrade (exchange, market, coin, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (exchange, market, coin) DO UPDATE SET quantity = EXCLUDED.quantity`,
		t.Exchange, t.Market, t.Coin, quantity)
	if err != nil {
		return fmt.Errorf("postgres: put minimum trade size: %w", err)
	}
	return nil
}
