package metricfield

import "github.com/pkg/errors"

// ErrInvalidParameter is returned for a non-positive target_error, a
// non-positive min/max edge length, or a negative target element count.
var ErrInvalidParameter = errors.New("metricfield: invalid parameter")

// ErrShapeMismatch is returned when a caller-supplied field's length does
// not match the mesh's node count.
var ErrShapeMismatch = errors.New("metricfield: shape mismatch")

// ErrNotImplemented is returned by ApplyMaxAspectRatio, which is reserved
// but not yet implemented.
var ErrNotImplemented = errors.New("metricfield: not implemented")
