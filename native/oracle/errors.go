package oracle

import "errors"

var (
	// ErrPoolNotFound is returned when no reference-market pool with
	// liquidity exists for the pair across the probed fee tiers.
	ErrPoolNotFound = errors.New("price oracle: no reference pool found")
	// ErrAlreadySetup rejects a second setup for an already tracked pool.
	ErrAlreadySetup = errors.New("price oracle: pool already set up")
	// ErrNotTracked is returned when an operation references a pool that was
	// never set up.
	ErrNotTracked = errors.New("price oracle: pool not tracked")
	// ErrInvalidPrice is returned when a derived price is non-positive or the
	// reserves backing it are empty.
	ErrInvalidPrice = errors.New("price oracle: invalid price")
	// ErrInvalidAmount is returned for zero or negative query amounts.
	ErrInvalidAmount = errors.New("price oracle: amount must be positive")
	// ErrTickOutOfRange is returned when a tick or sqrt ratio leaves the
	// representable log-price domain.
	ErrTickOutOfRange = errors.New("price oracle: tick out of range")
	// ErrNilCollaborator rejects construction with missing collaborators.
	ErrNilCollaborator = errors.New("price oracle: nil collaborator")
)
