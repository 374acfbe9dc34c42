package metadata

/** @brief Vertex position formats accepted by bottom-level builds. */
type VertexFormat int

const (
	VertexFormatR32G32B32Sfloat VertexFormat = iota
	VertexFormatR32G32Sfloat
	VertexFormatR16G16B16A16Sfloat
)

func (f VertexFormat) String() string {
	switch f {
	case VertexFormatR32G32B32Sfloat:
		return "R32G32B32_SFLOAT"
	case VertexFormatR32G32Sfloat:
		return "R32G32_SFLOAT"
	case VertexFormatR16G16B16A16Sfloat:
		return "R16G16B16A16_SFLOAT"
	}
	return "UNKNOWN"
}

type IndexType int

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

func (t IndexType) Size() uint32 {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

/**
 * @brief Triangle geometry of one mesh, described by device addresses.
 * Only used to size and build a bottom-level acceleration structure.
 */
type GeometryDescription struct {
	/** @brief Device address of the index buffer. */
	IndexBufferAddress uint64
	/** @brief Device address of the vertex buffer. */
	VertexBufferAddress uint64
	/** @brief The distance in bytes between two vertices. */
	VertexStride uint32
	/** @brief Highest vertex index referenced by the index buffer. */
	MaxVertex uint32
	/** @brief Number of triangles. */
	PrimitiveCount uint32
	VertexFormat   VertexFormat
	IndexType      IndexType
	/** @brief Skip any-hit shaders for this geometry. */
	Opaque bool
}

/** @brief Which level of the hierarchy a structure belongs to. */
type AccelerationStructureType int

const (
	AccelerationStructureTypeBottomLevel AccelerationStructureType = iota
	AccelerationStructureTypeTopLevel
)

func (t AccelerationStructureType) String() string {
	if t == AccelerationStructureTypeTopLevel {
		return "top-level"
	}
	return "bottom-level"
}

/**
 * @brief Input of a build size query. Bottom-level builds carry the triangle
 * geometry, top-level builds the instance count and instance buffer address.
 */
type BuildGeometryInfo struct {
	Type                  AccelerationStructureType
	Triangles             GeometryDescription
	InstanceCount         uint32
	InstanceBufferAddress uint64
}

// PrimitiveCount is the count a size query or build range applies to.
func (i BuildGeometryInfo) PrimitiveCount() uint32 {
	if i.Type == AccelerationStructureTypeTopLevel {
		return i.InstanceCount
	}
	return i.Triangles.PrimitiveCount
}

/** @brief Sizes returned by the device for one build. */
type BuildSizeInfo struct {
	ResultSize       uint64
	BuildScratchSize uint64
}

/** @brief The primitive range consumed by one build command. */
type BuildRange struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}
