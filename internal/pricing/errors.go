package pricing

import "errors"

var (
	ErrUnknownPeriod      = errors.New("unknown_period")
	ErrUnknownTrafficTier = errors.New("unknown_traffic_tier")
	ErrDeviceLimitRange   = errors.New("device_limit_out_of_range")
	// ErrQuoteInconsistent means the itemized lines do not add up to the
	// total. Callers treat this as a bug, never as user input error.
	ErrQuoteInconsistent = errors.New("quote_inconsistent")
)
