package order

import "errors"

var (
	// ErrMarketNotFound reports missing market metadata (unknown precision).
	ErrMarketNotFound = errors.New("order: market not found")
	// ErrCredentialsRequired reports an unset or incomplete account session.
	ErrCredentialsRequired = errors.New("order: credentials required")
	// ErrInvalidAmount reports a non-finite or non-positive size or price.
	ErrInvalidAmount = errors.New("order: invalid amount")
)
