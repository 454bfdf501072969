package storage

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any failure of the backing store.
var ErrUnavailable = errors.New("ledger unavailable")

// Ledger is the append-only set of article URLs already published.
type Ledger interface {
	Contains(ctx context.Context, url string) (bool, error)
	Add(ctx context.Context, url string) error
}

// ScopedLedger can derive a ledger for a single destination.
type ScopedLedger interface {
	Ledger
	Scope(destination string) Ledger
}
