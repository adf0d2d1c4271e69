package mutex

import (
	"strings"

	"pipemesh/internal/common"
	"pipemesh/internal/utils"
)

// Queue holds the pending critical-section requests of the mesh, at most one
// per peer, ordered by timestamp with ties broken by pid.
type Queue struct {
	entries  utils.HeapMap[Pid, timestamp]
	capacity int
}

// NewQueue returns an empty queue holding at most capacity requests.
func NewQueue(capacity int) *Queue {
	return &Queue{
		entries:  utils.NewHeapMap[Pid, timestamp](func(a, b timestamp) bool { return a.LessThan(b) }),
		capacity: capacity,
	}
}

// Insert adds the request ts. A peer already present or a full queue is a
// protocol violation.
func (q *Queue) Insert(ts timestamp) error {
	if _, ok := q.entries.Get(ts.Pid); ok {
		return common.Violationf("%v already has a request queued", ts.Pid)
	}
	if q.entries.Len() >= q.capacity {
		return common.Violationf("request queue full (%d entries), cannot insert %v", q.capacity, ts)
	}
	q.entries.Push(ts.Pid, ts)
	return nil
}

// Remove drops the request of pid, which must be present.
func (q *Queue) Remove(pid Pid) error {
	if !q.entries.Remove(pid) {
		return common.Violationf("%v has no request queued", pid)
	}
	return nil
}

// Head returns the oldest request.
func (q *Queue) Head() (timestamp, bool) {
	e, ok := q.entries.Peek()
	return e.Priority, ok
}

// Pop removes and returns the oldest request.
func (q *Queue) Pop() (timestamp, bool) {
	e, ok := q.entries.Pop()
	return e.Priority, ok
}

// Contains reports whether pid has a request queued.
func (q *Queue) Contains(pid Pid) bool {
	_, ok := q.entries.Get(pid)
	return ok
}

func (q *Queue) Len() int {
	return q.entries.Len()
}

func (q *Queue) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range q.entries.Sorted() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Priority.String())
	}
	b.WriteByte(']')
	return b.String()
}
