package estimator

import "errors"

// Resolution failures. They are recoverable: the ETA is 0 and callers may
// carry on.
var (
	ErrRegionNotFound = errors.New("estimator: region not found")
	ErrRegionEmpty    = errors.New("estimator: region has no nations")
	ErrUnitNotFound   = errors.New("estimator: first nation not found")
)

// IsResolution reports whether err is one of the recoverable lookup failures.
func IsResolution(err error) bool {
	return errors.Is(err, ErrRegionNotFound) || errors.Is(err, ErrRegionEmpty) || errors.Is(err, ErrUnitNotFound)
}

// ErrStaleEvent is an update visit from a cycle older than the anchored one.
var ErrStaleEvent = errors.New("estimator: event predates the current update cycle")
