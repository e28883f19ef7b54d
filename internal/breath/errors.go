package breath

import "errors"

var (
	// ErrInsufficientData indicates a window shorter than the minimum needed
	// for spectral analysis. It is an expected streaming condition: callers
	// log it and retry on the next tick.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidChannel indicates a query for a channel that has never been
	// observed in the frame stream.
	ErrInvalidChannel = errors.New("invalid channel")
)
