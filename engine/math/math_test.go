package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUpProperties(t *testing.T) {
	alignments := []uint64{1, 2, 4, 16, 32, 64, 256, 4096}
	values := []uint64{0, 1, 2, 3, 31, 32, 33, 63, 64, 65, 100, 255, 256, 1000, 4097}

	for _, a := range alignments {
		for _, v := range values {
			got := AlignUp(v, a)
			assert.GreaterOrEqual(t, got, v, "AlignUp(%d, %d)", v, a)
			assert.Zero(t, got%a, "AlignUp(%d, %d) = %d is not a multiple", v, a, got)
			assert.Less(t, got-v, a, "AlignUp(%d, %d) overshoots", v, a)
			assert.Equal(t, got, AlignUp(got, a), "AlignUp not idempotent for (%d, %d)", v, a)
			if v%a == 0 {
				assert.Equal(t, v, got)
			}
		}
	}
}

func TestAlignUpExamples(t *testing.T) {
	assert.Equal(t, uint32(32), AlignUp(uint32(32), 32))
	assert.Equal(t, uint32(64), AlignUp(uint32(32), 64))
	assert.Equal(t, uint32(64), AlignUp(uint32(64), 64))
	assert.Equal(t, uint32(64), AlignUp(uint32(2*32), 64))
	assert.Equal(t, uint32(0), AlignUp(uint32(0), 64))
	assert.Equal(t, uint8(16), AlignUp(uint8(9), 8))
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint32{1, 2, 4, 64, 1 << 31} {
		assert.True(t, IsPowerOfTwo(v), "%d", v)
	}
	for _, v := range []uint32{0, 3, 6, 48, 100} {
		assert.False(t, IsPowerOfTwo(v), "%d", v)
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, 0, Clamp(-1, 0, 3))
	assert.Equal(t, float32(1.5), Clamp(float32(1.5), 0, 3))
}

func TestMat4ToMat3x4(t *testing.T) {
	assert.Equal(t, NewMat3x4Identity(), NewMat4Identity().ToMat3x4())

	m := NewMat4Translation(NewVec3(1, 2, 3)).ToMat3x4()
	assert.Equal(t, Mat3x4{
		{1, 0, 0, 1},
		{0, 1, 0, 2},
		{0, 0, 1, 3},
	}, m)
}

func TestTransformInstanceMatrix(t *testing.T) {
	tr := TransformFromPositionRotationScale(NewVec3(4, 5, 6), NewQuatIdentity(), NewVec3(2, 2, 2))
	m := tr.InstanceMatrix()

	assert.Equal(t, [4]float32{2, 0, 0, 4}, m[0])
	assert.Equal(t, [4]float32{0, 2, 0, 5}, m[1])
	assert.Equal(t, [4]float32{0, 0, 2, 6}, m[2])
	assert.False(t, tr.IsDirty)

	child := TransformFromPosition(NewVec3(1, 0, 0))
	child.Parent = TransformFromPosition(NewVec3(0, 10, 0))
	cm := child.InstanceMatrix()
	assert.Equal(t, float32(1), cm[0][3])
	assert.Equal(t, float32(10), cm[1][3])

	var nilTransform *Transform
	assert.Equal(t, NewMat3x4Identity(), nilTransform.InstanceMatrix())
}

func TestQuaternionRotation(t *testing.T) {
	// A quarter turn around Z moves the X axis entirely onto Y.
	q := NewQuatFromAxisAngle(NewVec3(0, 0, 1), 3.14159265/2, true)
	m := q.ToMat4().ToMat3x4()
	assert.InDelta(t, 0, m[0][0], 1e-5)
	assert.InDelta(t, 1, m[1][0]*m[1][0], 1e-5)
	assert.InDelta(t, 1, m[2][2], 1e-5)
	assert.InDelta(t, 1, NewQuatIdentity().Mul(q).Normal(), 1e-5)
}

func TestTransformRotate(t *testing.T) {
	tr := TransformCreate()
	_ = tr.GetLocal()
	q := NewQuatFromAxisAngle(NewVec3(0, 1, 0), 0.25, true)
	tr.Rotate(q)
	assert.True(t, tr.IsDirty)
	tr.Rotate(q)
	want := NewQuatFromAxisAngle(NewVec3(0, 1, 0), 0.5, true)
	assert.InDelta(t, want.Y, tr.Rotation.Y, 1e-5)
	assert.InDelta(t, want.W, tr.Rotation.W, 1e-5)
}

func TestTransformSetters(t *testing.T) {
	tr := TransformCreate()
	tr.SetPosition(NewVec3(1, 2, 3))
	tr.Translate(NewVec3(1, 1, 1))
	tr.SetScale(NewVec3(2, 2, 2))
	tr.SetRotation(NewQuatIdentity())
	assert.True(t, tr.IsDirty)

	m := tr.InstanceMatrix()
	assert.Equal(t, [4]float32{2, 0, 0, 2}, m[0])
	assert.Equal(t, [4]float32{0, 2, 0, 3}, m[1])
	assert.Equal(t, [4]float32{0, 0, 2, 4}, m[2])
	assert.False(t, tr.IsDirty)
}
