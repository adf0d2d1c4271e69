package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minInt(a, b int) bool { return a < b }

func TestHeapMapEmptyOperations(t *testing.T) {
	hm := NewHeapMap[string, int](minInt)

	_, ok := hm.Peek()
	assert.False(t, ok, "Peek on empty heap should return false")

	_, ok = hm.Pop()
	assert.False(t, ok, "Pop on empty heap should return false")

	_, ok = hm.Get("nonexistent")
	assert.False(t, ok)

	assert.False(t, hm.Remove("nonexistent"))
	assert.Zero(t, hm.Len())
}

func TestHeapMapPriorityOrdering(t *testing.T) {
	hm := NewHeapMap[string, int](minInt)
	hm.Push("c", 3)
	hm.Push("a", 1)
	hm.Push("b", 2)

	for _, exp := range []string{"a", "b", "c"} {
		entry, ok := hm.Pop()
		require.True(t, ok)
		assert.Equal(t, exp, entry.Key)
	}
}

func TestHeapMapUpdatePriority(t *testing.T) {
	hm := NewHeapMap[string, int](minInt)
	hm.Push("a", 3)
	hm.Push("b", 2)
	hm.Push("a", 1)

	assert.Equal(t, 2, hm.Len(), "pushing an existing key must not add an entry")
	peek, ok := hm.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", peek.Key)
	assert.Equal(t, 1, peek.Priority)
}

func TestHeapMapRemove(t *testing.T) {
	hm := NewHeapMap[string, int](minInt)
	hm.Push("a", 1)
	hm.Push("b", 2)
	hm.Push("c", 3)

	assert.True(t, hm.Remove("b"))
	_, ok := hm.Get("b")
	assert.False(t, ok)

	first, _ := hm.Pop()
	second, _ := hm.Pop()
	assert.Equal(t, "a", first.Key)
	assert.Equal(t, "c", second.Key)
}

func TestHeapMapSortedDoesNotMutate(t *testing.T) {
	hm := NewHeapMap[int, int](minInt)
	for _, p := range []int{5, 1, 4, 2, 3} {
		hm.Push(p*10, p)
	}

	sorted := hm.Sorted()
	keys := make([]int, len(sorted))
	for i, e := range sorted {
		keys[i] = e.Key
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50}, keys)
	assert.Equal(t, 5, hm.Len())
}

func TestHeapMapStressTest(t *testing.T) {
	hm := NewHeapMap[int, int](minInt)
	for i := 1000; i >= 0; i-- {
		hm.Push(i, i)
	}

	last := -1
	for i := 0; i <= 1000; i++ {
		entry, ok := hm.Pop()
		require.True(t, ok, "Failed to pop element")
		assert.GreaterOrEqual(t, entry.Priority, last)
		last = entry.Priority
	}
}
