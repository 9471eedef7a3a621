package book

import "errors"

// All three are report-only conditions: they surface to the submitting
// agent as a rejection and never abort the run.
var (
	// ErrInvalidOrder rejects malformed requests (non-positive quantity,
	// wrong symbol, wrong variant) before any book mutation.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNoLiquidity reports a market order that found an empty opposing
	// side, either immediately or after partial execution.
	ErrNoLiquidity = errors.New("no liquidity on opposing side")

	// ErrOrderNotFound reports a cancel/modify whose id is not resting,
	// e.g. because it already executed earlier in the same tick.
	ErrOrderNotFound = errors.New("order not found in book")
)
