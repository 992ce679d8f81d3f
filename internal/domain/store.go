package domain

import (
	"context"
	"time"
)

// PathStore persists PathRecords. All lookups are exact-match by key; List
// returns records ordered by id so older paths are driven to completion
// before newer ones are considered.
type PathStore interface {
	// Insert stores a new record and fills in its assigned id and stamp.
	Insert(ctx context.Context, p *PathRecord) error

	// List returns all records ordered by id.
	List(ctx context.Context) ([]PathRecord, error)

	// GetByID returns one record, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (PathRecord, error)

	// Update rewrites a record's mutable columns (quantities, rates, order
	// ids, gain, status, executing).
	Update(ctx context.Context, p PathRecord) error

	// Delete removes a record.
	Delete(ctx context.Context, id int64) error

	// Claim atomically sets executing=true on a record that is not already
	// executing. It reports whether the claim succeeded; a false return
	// means another worker holds the record.
	Claim(ctx context.Context, id int64) (bool, error)

	// Release clears the executing flag.
	Release(ctx context.Context, id int64) error

	// ListDoneBefore returns done records older than the cutoff, for
	// archiving ahead of deletion.
	ListDoneBefore(ctx context.Context, cutoff time.Time) ([]PathRecord, error)

	// Expire deletes non-done records older than liveCutoff and done
	// records older than doneCutoff. Stale opportunities must not be acted
	// on; done records stay longer for statistics.
	Expire(ctx context.Context, liveCutoff, doneCutoff time.Time) (int64, error)
}

// MinTradeStore persists the minimum order quantity per triple. The table is
// refreshed out-of-band from the venues and kept in the database so a venue
// outage does not remove the lower bound.
type MinTradeStore interface {
	// All returns every stored minimum, keyed by triple.
	All(ctx context.Context) (map[Triple]float64, error)

	// Put replaces the stored minimum for one triple.
	Put(ctx context.Context, t Triple, quantity float64) error
}

// PauseStore persists operator- and engine-imposed trading pauses. A pause
// suppresses new candidates and new legs on a triple until it lapses;
// already-placed orders are seen through regardless.
type PauseStore interface {
	// Active returns the triples whose pause has not lapsed yet.
	Active(ctx context.Context) ([]Triple, error)

	// Pause suspends trading on a triple for the given duration, recording
	// the reason. A second pause on the same triple extends it.
	Pause(ctx context.Context, t Triple, d time.Duration, reason string) error
}
