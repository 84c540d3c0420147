package fusion

import "errors"

var (
	// ErrDetectorFailure wraps any error returned by a detector.  The frame
	// it occurred on produces no result.
	ErrDetectorFailure = errors.New("detector failure")
	// ErrDegenerateGeometry is returned for boxes or frames without a
	// positive width
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrConfiguration is returned when thresholds or camera parameters are
	// malformed.  It is fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEmptyFrame is returned when Process is given an empty Mat
	ErrEmptyFrame = errors.New("empty frame")
)
