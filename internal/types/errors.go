package types

import "errors"

// Sentinel errors for the execution controller.
var (
	// Order errors
	ErrSubmissionFailed = errors.New("order submission failed: no order id returned")
	ErrOrderTerminated  = errors.New("order cancelled or rejected by venue")
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidOrderSize = errors.New("invalid order size")

	// Position errors
	ErrPositionMissing = errors.New("position missing during sell reprice")

	// Data errors
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrStaleData       = errors.New("market data is stale")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Connection errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
