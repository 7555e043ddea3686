package indicator

import "errors"

var (
	// ErrInvalidParameter is returned when a configuration value is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfOrder is returned when a bar does not directly follow the last processed bar.
	ErrOutOfOrder = errors.New("bar out of order")
)

// ErrBadSnapshot is returned when a checkpoint cannot be restored.
var ErrBadSnapshot = errors.New("bad snapshot")
