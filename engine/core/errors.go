package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnsupported is returned when the device does not expose the ray-tracing
	// pipeline or acceleration structure features/properties.
	ErrUnsupported = errors.New("ray tracing unsupported by device")
	// ErrInvalidShaderGroup is returned when a shader group index has no retrievable handle.
	ErrInvalidShaderGroup = errors.New("invalid shader group")
	// ErrAllocationFailure is returned when the device runs out of memory or a size is invalid.
	ErrAllocationFailure = errors.New("allocation failure")
	// ErrEmptyInstanceSet marks a top-level build requested with zero instances.
	ErrEmptyInstanceSet = errors.New("empty instance set")

	ErrCycle            = errors.New("pass dependency cycle")
	ErrAlreadySubmitted = errors.New("graph already submitted")
	ErrUnknownNode      = errors.New("unknown graph node")
	ErrUnknownPass      = errors.New("unknown graph pass")

	ErrUnknown = errors.New("unknown")
)
