package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

/**
 * @brief Lifecycle of an acceleration structure. States only move forward by
 * one step; a structure is never rebuilt in place.
 */
type BuildState int

const (
	BuildStateUnbuilt BuildState = iota
	BuildStateSizeQueried
	BuildStateAllocated
	BuildStateBuildScheduled
	BuildStateBuilt
)

func (s BuildState) String() string {
	switch s {
	case BuildStateUnbuilt:
		return "unbuilt"
	case BuildStateSizeQueried:
		return "size-queried"
	case BuildStateAllocated:
		return "allocated"
	case BuildStateBuildScheduled:
		return "build-scheduled"
	case BuildStateBuilt:
		return "built"
	}
	return fmt.Sprintf("BuildState(%d)", int(s))
}

// Advance returns the state that follows s when moving to next, or an error
// if next is not the immediate successor.
func (s BuildState) Advance(next BuildState) (BuildState, error) {
	if next != s+1 {
		return s, errors.Newf("invalid build state transition %s -> %s", s, next)
	}
	return next, nil
}
