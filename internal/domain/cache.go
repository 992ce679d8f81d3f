package domain

import (
	"context"
	"time"
)

// BookCache stores recently fetched order-book ladders so repeated evaluations
// within a pass do not hammer the venues. Entries carry their fetch time and
// reference price; freshness policy lives with the reader.
type BookCache interface {
	// Get returns the cached ladder for a triple and side, or ErrNotFound.
	Get(ctx context.Context, t Triple, side BookSide) (Ladder, error)

	// Set stores a ladder with the given time-to-live.
	Set(ctx context.Context, t Triple, side BookSide, l Ladder, ttl time.Duration) error
}

// LockManager hands out short-lived exclusive locks, used to keep two engine
// instances from driving the same path record.
type LockManager interface {
	// Acquire takes the named lock for at most ttl and returns a release
	// function, or ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
