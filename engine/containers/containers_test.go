package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meshKey uint32

func TestArenaReusesFreedSlots(t *testing.T) {
	a := NewArena[meshKey, string](4)
	k0 := a.Insert("cube")
	k1 := a.Insert("sphere")
	assert.Equal(t, meshKey(0), k0)
	assert.Equal(t, meshKey(1), k1)
	assert.Equal(t, 2, a.Len())

	v, err := a.Remove(k0)
	require.NoError(t, err)
	assert.Equal(t, "cube", v)
	_, ok := a.Get(k0)
	assert.False(t, ok)

	k2 := a.Insert("plane")
	assert.Equal(t, k0, k2)
	assert.EqualValues(t, 2, a.Generation(k2))

	got, ok := a.Get(k2)
	require.True(t, ok)
	assert.Equal(t, "plane", got)
}

func TestArenaRemoveErrors(t *testing.T) {
	a := NewArena[meshKey, int](0)
	_, err := a.Remove(3)
	assert.Error(t, err)

	k := a.Insert(7)
	_, err = a.Remove(k)
	require.NoError(t, err)
	_, err = a.Remove(k)
	assert.Error(t, err)
}

func TestArenaEach(t *testing.T) {
	a := NewArena[meshKey, int](0)
	for i := 0; i < 4; i++ {
		a.Insert(i * 10)
	}
	_, err := a.Remove(1)
	require.NoError(t, err)

	var keys []meshKey
	a.Each(func(k meshKey, _ int) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []meshKey{0, 2, 3}, keys)

	visited := 0
	a.Each(func(meshKey, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestRingQueue(t *testing.T) {
	q := NewRingQueue[int](2)
	assert.True(t, q.IsEmpty())

	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue(3), ErrQueueFull)

	v, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, q.Enqueue(3))
	assert.Equal(t, 2, q.Len())

	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestArenaSet(t *testing.T) {
	a := NewArena[meshKey, string](2)
	k := a.Insert("cube")
	assert.True(t, a.Set(k, "box"))
	got, _ := a.Get(k)
	assert.Equal(t, "box", got)
	assert.EqualValues(t, 1, a.Generation(k))

	_, err := a.Remove(k)
	require.NoError(t, err)
	assert.False(t, a.Set(k, "gone"))
	assert.False(t, a.Set(9, "out of range"))
}
