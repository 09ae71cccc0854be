package domain

import "errors"

var (
	// ErrStoreCorrupt marks a seen-set medium that exists but cannot be
	// trusted. It must never be treated as an empty store.
	ErrStoreCorrupt = errors.New("listing store corrupt")

	// ErrStoreLocked is returned when another process holds the store.
	ErrStoreLocked = errors.New("listing store locked by another run")
)
