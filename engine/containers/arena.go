package containers

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type arenaSlot[T any] struct {
	value      T
	occupied   bool
	generation uint32
}

// Arena stores values of one type in a slice and hands out typed integer keys.
// Freed slots are reused by later inserts.
type Arena[K constraints.Unsigned, T any] struct {
	slots []arenaSlot[T]
	count int
}

func NewArena[K constraints.Unsigned, T any](capacity int) *Arena[K, T] {
	return &Arena[K, T]{
		slots: make([]arenaSlot[T], 0, capacity),
	}
}

// Insert places value in the first free slot, appending when none is free.
func (a *Arena[K, T]) Insert(value T) K {
	for i := range a.slots {
		// Existing free spot. Take it.
		if !a.slots[i].occupied {
			a.slots[i].value = value
			a.slots[i].occupied = true
			a.slots[i].generation++
			a.count++
			return K(i)
		}
	}

	a.slots = append(a.slots, arenaSlot[T]{value: value, occupied: true, generation: 1})
	a.count++
	return K(len(a.slots) - 1)
}

func (a *Arena[K, T]) Get(key K) (T, bool) {
	if uint64(key) >= uint64(len(a.slots)) || !a.slots[key].occupied {
		var zero T
		return zero, false
	}
	return a.slots[key].value, true
}

// Set replaces the value behind an occupied key. It reports false when key is free.
func (a *Arena[K, T]) Set(key K, value T) bool {
	if uint64(key) >= uint64(len(a.slots)) || !a.slots[key].occupied {
		return false
	}
	a.slots[key].value = value
	return true
}

// Generation is incremented every time the slot behind key is reused.
func (a *Arena[K, T]) Generation(key K) uint32 {
	if uint64(key) >= uint64(len(a.slots)) {
		return 0
	}
	return a.slots[key].generation
}

func (a *Arena[K, T]) Remove(key K) (T, error) {
	var zero T
	if uint64(key) >= uint64(len(a.slots)) {
		return zero, errors.Newf("arena: key '%d' out of range (max=%d)", key, len(a.slots))
	}
	if !a.slots[key].occupied {
		return zero, errors.Newf("arena: key '%d' is not occupied", key)
	}
	value := a.slots[key].value
	a.slots[key].value = zero
	a.slots[key].occupied = false
	a.count--
	return value, nil
}

func (a *Arena[K, T]) Len() int {
	return a.count
}

// Each visits occupied slots in key order until fn returns false.
func (a *Arena[K, T]) Each(fn func(key K, value T) bool) {
	for i := range a.slots {
		if !a.slots[i].occupied {
			continue
		}
		if !fn(K(i), a.slots[i].value) {
			return
		}
	}
}
