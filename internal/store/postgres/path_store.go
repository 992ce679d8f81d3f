package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// PathStore implements domain.PathStore using PostgreSQL.
type PathStore struct {
	pool *pgxpool.Pool
}

// NewPathStore creates a new PathStore.
func NewPathStore(pool *pgxpool.Pool) *PathStore {
	return &PathStore{pool: pool}
}

var _ domain.PathStore = (*PathStore)(nil)

const pathColumns = `
	id, stamp, exchange,
	market1, market1qty, rate1, coin1, coin1qty, order1,
	market2, market2qty, rate2, coin2, coin2qty, order2,
	market3, market3qty, rate3, coin3, coin3qty, order3,
	market4, market4qty, rate4, coin4, coin4qty, order4,
	gain, status, executing`

func scanPath(row pgx.Row) (domain.PathRecord, error) {
	var p domain.PathRecord
	var status string
	dest := []any{&p.ID, &p.Stamp, &p.Exchange}
	for i := range p.Legs {
		leg := &p.Legs[i]
		dest = append(dest, &leg.Market, &leg.MarketQuantity, &leg.Rate, &leg.Coin, &leg.CoinQuantity, &leg.OrderID)
	}
	dest = append(dest, &p.Gain, &status, &p.Executing)
	if err := row.Scan(dest...); err != nil {
		return domain.PathRecord{}, err
	}
	p.Status = domain.PathStatus(status)
	return p, nil
}

// Insert stores a new record and fills in its assigned id and stamp.
func (s *PathStore) Insert(ctx context.Context, p *domain.PathRecord) error {
	args := []any{p.Exchange}
	for i := range p.Legs {
		leg := &p.Legs[i]
		args = append(args, leg.Market, leg.MarketQuantity, leg.Rate, leg.Coin, leg.CoinQuantity, leg.OrderID)
	}
	args = append(args, p.Gain, string(p.Status), p.Executing)

	err := s.pool.QueryRow(ctx, `
		INSERT INTO multipath (
			exchange,
			market1, market1qty, rate1, coin1, coin1qty, order1,
			market2, market2qty, rate2, coin2, coin2qty, order2,
			market3, market3qty, rate3, coin3, coin3qty, order3,
			market4, market4qty, rate4, coin4, coin4qty, order4,
			gain, status, executing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING id, stamp`,
		args...,
	).Scan(&p.ID, &p.Stamp)
	if err != nil {
		return fmt.Errorf("postgres: insert path: %w", err)
	}
	return nil
}

// List returns all records ordered by id.
func (s *PathStore) List(ctx context.Context) ([]domain.PathRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pathColumns+` FROM multipath ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list paths: %w", err)
	}
	defer rows.Close()

	var out []domain.PathRecord
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan path: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns one record, or domain.ErrNotFound.
func (s *PathStore) GetByID(ctx context.Context, id int64) (domain.PathRecord, error) {
	p, err := scanPath(s.pool.QueryRow(ctx, `SELECT `+pathColumns+` FROM multipath WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PathRecord{}, domain.ErrNotFound
		}
		return domain.PathRecord{}, fmt.Errorf("postgres: get path %d: %w", id, err)
	}
	return p, nil
}

// Update rewrites a record's mutable columns.
func (s *PathStore) Update(ctx context.Context, p domain.PathRecord) error {
	args := []any{p.ID}
	for i := range p.Legs {
		leg := &p.Legs[i]
		args = append(args, leg.Market, leg.MarketQuantity, leg.Rate, leg.Coin, leg.CoinQuantity, leg.OrderID)
	}
	args = append(args, p.Gain, string(p.Status), p.Executing)

	tag, err := s.pool.Exec(ctx, `
		UPDATE multipath SET
			market1 = $2, market1qty = $3, rate1 = $4, coin1 = $5, coin1qty = $6, order1 = $7,
			market2 = $8, market2qty = $9, rate2 = $10, coin2 = $11, coin2qty = $12, order2 = $13,
			market3 = $14, market3qty = $15, rate3 = $16, coin3 = $17, coin3qty = $18, order3 = $19,
			market4 = $20, market4qty = $21, rate4 = $22, coin4 = $23, coin4qty = $24, order4 = $25,
			gain = $26, status = $27, executing = $28
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("postgres: update path %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *PathStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM multipath WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete path %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Claim atomically flags a record as executing. The WHERE clause makes the
// claim exclusive: two concurrent claims on the same id cannot both match a
// row with executing = false.
func (s *PathStore) Claim(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE multipath SET executing = TRUE WHERE id = $1 AND executing = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim path %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release clears the executing flag.
func (s *PathStore) Release(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE multipath SET executing = FALSE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: release path %d: %w", id, err)
	}
	return nil
}

// ListDoneBefore returns done records older than the cutoff.
func (s *PathStore) ListDoneBefore(ctx context.Context, cutoff time.Time) ([]domain.PathRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pathColumns+` FROM multipath WHERE status = $1 AND stamp < $2 ORDER BY id`,
		string(domain.StatusDone), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list done paths: %w", err)
	}
	defer rows.Close()

	var out []domain.PathRecord
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan path: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Expire deletes non-done records older than liveCutoff and done records
// older than doneCutoff, returning the number of rows removed.
func (s *PathStore) Expire(ctx context.Context, liveCutoff, doneCutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM multipath
		WHERE (status <> $1 AND stamp < $2)
		   OR (status = $1 AND stamp < $3)`,
		string(domain.StatusDone), liveCutoff, doneCutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire paths: %w", err)
	}
	return tag.RowsAffected(), nil
}
