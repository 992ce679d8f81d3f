package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// PauseStore implements domain.PauseStore using PostgreSQL.
type PauseStore struct {
	pool *pgxpool.Pool
}

// NewPauseStore creates a new PauseStore.
func NewPauseStore(pool *pgxpool.Pool) *PauseStore {
	return &PauseStore{pool: pool}
}

var _ domain.PauseStore = (*PauseStore)(nil)

// Active returns the triples whose pause has not lapsed yet. Lapsed rows are
// swept opportunistically so the table stays small.
func (s *PauseStore) Active(ctx context.Context) ([]domain.Triple, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pausetrade WHERE until < NOW()`); err != nil {
		return nil, fmt.Errorf("postgres: sweep lapsed pauses: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT exchange, market, coin FROM pausetrade WHERE until >= NOW()`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pauses: %w", err)
	}
	defer rows.Close()

	var out []domain.Triple
	for rows.Next() {
		var t domain.Triple
		if err := rows.Scan(&t.Exchange, &t.Market, &t.Coin); err != nil {
			return nil, fmt.Errorf("postgres: scan pause: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause suspends trading on a triple for the given duration. A pause on an
// already-paused triple keeps whichever deadline is later.
func (s *PauseStore) Pause(ctx context.Context, t domain.Triple, d time.Duration, reason string) error {
	until := time.Now().Add(d)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pausetrade (exchange, market, coin, until, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (exchange, market, coin)
		DO UPDATE SET until = GREATEST(pausetrade.until, EXCLUDED.until), reason = EXCLUDED.reason`,
		t.Exchange, t.Market, t.Coin, until, reason)
	if err != nil {
		return fmt.Errorf("postgres: pause %s/%s/%s: %w", t.Exchange, t.Market, t.Coin, err)
	}
	return nil
}
