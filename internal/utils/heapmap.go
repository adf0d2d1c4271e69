package utils

import (
	"container/heap"
	"sort"
)

// Entry is a single element in the heap-map: a key and its priority.
type Entry[K comparable, P any] struct {
	Key      K
	Priority P
	i        int
}

// HeapMap is a priority queue that holds at most one entry per key.
// K is the key type and P is the priority type.
type HeapMap[K comparable, P any] interface {
	// Peek returns the element with the highest priority.
	Peek() (Entry[K, P], bool)
	// Push adds a new element, overwriting the priority of an existing key.
	Push(key K, priority P)
	// Pop removes and returns the element with the highest priority.
	Pop() (Entry[K, P], bool)
	// Get returns the element with the given key.
	Get(key K) (Entry[K, P], bool)
	// Remove removes the element with the given key, reporting whether it was present.
	Remove(key K) bool
	// Len returns the number of elements.
	Len() int
	// Sorted returns a snapshot of the elements from highest to lowest priority.
	Sorted() []Entry[K, P]
}

type heapMap[K comparable, P any] struct {
	heap  byPriority[K, P]
	index map[K]*Entry[K, P]
}

// NewHeapMap returns an empty heap-map. less(a, b) reports whether a has a higher priority than b.
func NewHeapMap[K comparable, P any](less func(P, P) bool) HeapMap[K, P] {
	return &heapMap[K, P]{
		heap:  byPriority[K, P]{less: less},
		index: make(map[K]*Entry[K, P]),
	}
}

func (hm *heapMap[K, P]) Peek() (Entry[K, P], bool) {
	if len(hm.index) == 0 {
		return Entry[K, P]{}, false
	}

	return *hm.heap.entries[0], true
}

func (hm *heapMap[K, P]) Pop() (Entry[K, P], bool) {
	if len(hm.index) == 0 {
		return Entry[K, P]{}, false
	}

	entry := *heap.Pop(&hm.heap).(*Entry[K, P])
	delete(hm.index, entry.Key)
	return entry, true
}

func (hm *heapMap[K, P]) Push(key K, priority P) {
	if entry, ok := hm.index[key]; ok {
		entry.Priority = priority
		heap.Fix(&hm.heap, entry.i)
		return
	}

	entry := &Entry[K, P]{Key: key, Priority: priority}
	heap.Push(&hm.heap, entry)
	hm.index[key] = entry
}

func (hm *heapMap[K, P]) Get(key K) (Entry[K, P], bool) {
	if entry, ok := hm.index[key]; ok {
		return *entry, true
	}

	return Entry[K, P]{}, false
}

func (hm *heapMap[K, P]) Remove(key K) bool {
	entry, ok := hm.index[key]
	if !ok {
		return false
	}
	heap.Remove(&hm.heap, entry.i)
	delete(hm.index, key)
	return true
}

func (hm *heapMap[K, P]) Len() int {
	return len(hm.index)
}

func (hm *heapMap[K, P]) Sorted() []Entry[K, P] {
	out := make([]Entry[K, P], 0, len(hm.heap.entries))
	for _, e := range hm.heap.entries {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return hm.heap.less(out[i].Priority, out[j].Priority)
	})
	return out
}

// implementation of heap.Interface to store entries by priority
type byPriority[K comparable, P any] struct {
	entries []*Entry[K, P]
	less    func(P, P) bool
}

func (h byPriority[K, P]) Len() int {
	return len(h.entries)
}

func (h byPriority[K, P]) Less(i, j int) bool {
	return h.less(h.entries[i].Priority, h.entries[j].Priority)
}

func (h byPriority[K, P]) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].i = i
	h.entries[j].i = j
}

func (h *byPriority[K, P]) Push(x any) {
	entry := x.(*Entry[K, P])
	entry.i = len(h.entries)
	h.entries = append(h.entries, entry)
}

func (h *byPriority[K, P]) Pop() any {
	old := h.entries
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	return entry
}
