package engine

import "errors"

var (
	// ErrAuthentication marks an order whose signature does not recover to
	// the claimed maker. Rejected before any book mutation.
	ErrAuthentication = errors.New("order signature verification failed")

	// ErrMarketUnknown marks placement into a market the registry does not
	// know, or an outcome index out of range.
	ErrMarketUnknown = errors.New("unknown market or outcome")

	// ErrMarketInactive marks placement into a paused or resolved market.
	ErrMarketInactive = errors.New("market is not accepting orders")
)
