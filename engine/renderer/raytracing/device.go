// Package raytracing builds the device objects a ray-tracing dispatch consumes:
// the shader binding table, bottom-level acceleration structures per mesh and
// the top-level acceleration structure per scene. Builds are declared as
// passes on a graph.Graph; nothing here talks to a queue directly.
package raytracing

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Buffer is a device buffer with a device address.
type Buffer interface {
	Name() string
	Size() uint64
	DeviceAddress() uint64
	// Write copies p into a host-visible buffer at offset.
	Write(offset uint64, p []byte) error
	Destroy()
}

// AccelerationStructure is an opaque device object placed in a storage buffer.
type AccelerationStructure interface {
	Type() metadata.AccelerationStructureType
	Size() uint64
	DeviceAddress() uint64
	Destroy()
}

// Device is the subset of a logical device the builders need.
type Device interface {
	// RayTracingProperties fails with core.ErrUnsupported when the device does
	// not report ray-tracing pipeline properties.
	RayTracingProperties() (metadata.AlignmentSpec, error)
	AccelerationStructureProperties() (metadata.AccelerationStructureProperties, error)
	CreateBuffer(desc metadata.BufferDescription) (Buffer, error)
	CreateAccelerationStructure(kind metadata.AccelerationStructureType, storage Buffer, size uint64) (AccelerationStructure, error)
	QueryBuildSizes(info metadata.BuildGeometryInfo) (metadata.BuildSizeInfo, error)
}

// Pipeline is a compiled ray-tracing pipeline.
type Pipeline interface {
	// GroupHandle returns the opaque handle of one shader group. It fails when
	// the index does not name a group of the pipeline.
	GroupHandle(group uint32) ([]byte, error)
}

// BuildCommand describes one acceleration structure build.
type BuildCommand struct {
	Geometry       metadata.BuildGeometryInfo
	Destination    AccelerationStructure
	ScratchAddress uint64
}

// CommandRecorder is the command buffer a build pass records into.
type CommandRecorder interface {
	graph.CommandBuffer
	BuildAccelerationStructure(cmd BuildCommand, ranges []metadata.BuildRange) error
}

func recorderFrom(cmd graph.CommandBuffer) (CommandRecorder, error) {
	rec, ok := cmd.(CommandRecorder)
	if !ok {
		return nil, errors.Wrapf(core.ErrUnsupported, "command buffer %T cannot record acceleration structure builds", cmd)
	}
	return rec, nil
}

// allocationError marks err as an allocation failure unless it already is one.
func allocationError(err error, format string, args ...interface{}) error {
	if errors.Is(err, core.ErrAllocationFailure) {
		return errors.Wrapf(err, format, args...)
	}
	return errors.Wrapf(errors.Mark(err, core.ErrAllocationFailure), format, args...)
}
