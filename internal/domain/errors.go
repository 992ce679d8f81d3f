package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNoLiquidity    = errors.New("no executable liquidity")
	ErrDuplicatePath  = errors.New("path already stored")
	ErrPaused         = errors.New("trading paused")
	ErrClash          = errors.New("clash with executing path")
	ErrUnprofitable   = errors.New("gain below required minimum")
	ErrLockHeld       = errors.New("lock already held")
	ErrAmbiguousOrder = errors.New("order placement ambiguous")
	ErrRateLimited    = errors.New("rate limited")
)
