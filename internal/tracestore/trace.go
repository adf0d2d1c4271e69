// Package tracestore records the critical sections executed during a run,
// in Lamport time, and checks that no two of them overlap.
package tracestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pipemesh/internal/common"
	"pipemesh/internal/lamport"
)

// ErrOverlap is returned by Verify when two recorded critical sections overlap.
var ErrOverlap = errors.New("critical sections overlap")

// Interval is one critical-section execution. Enter is the clock when the
// worker was admitted, Exit the clock after it released.
type Interval struct {
	RunID     string
	Pid       common.Pid
	Iteration int
	Enter     lamport.Time
	Exit      lamport.Time
}

func (iv Interval) String() string {
	return fmt.Sprintf("%v#%d[%d,%d]", iv.Pid, iv.Iteration, iv.Enter, iv.Exit)
}

// Recorder stores intervals as workers execute them.
type Recorder interface {
	Record(ctx context.Context, iv Interval) error
}

// Reader lists the intervals of a run ordered by entry time.
type Reader interface {
	Intervals(ctx context.Context, runID string) ([]Interval, error)
}

// Overlap is a pair of intervals sharing at least one instant.
type Overlap struct {
	First, Second Interval
}

// FindOverlaps returns every pair of overlapping intervals.
func FindOverlaps(intervals []Interval) []Overlap {
	sorted := append([]Interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Enter < sorted[j].Enter
	})

	var overlaps []Overlap
	for i := range sorted {
		for j := i + 1; j < len(sorted) && sorted[j].Enter <= sorted[i].Exit; j++ {
			overlaps = append(overlaps, Overlap{First: sorted[i], Second: sorted[j]})
		}
	}
	return overlaps
}

// Verify loads the intervals of a run and fails with [ErrOverlap] if any two
// overlap.
func Verify(ctx context.Context, r Reader, runID string) error {
	intervals, err := r.Intervals(ctx, runID)
	if err != nil {
		return err
	}
	if overlaps := FindOverlaps(intervals); len(overlaps) > 0 {
		o := overlaps[0]
		return fmt.Errorf("%w: %v and %v (%d pairs)", ErrOverlap, o.First, o.Second, len(overlaps))
	}
	return nil
}

// Memory keeps intervals in memory. It is safe for concurrent use, which
// lets in-process workers share one.
type Memory struct {
	mu        sync.Mutex
	intervals []Interval
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, iv Interval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervals = append(m.intervals, iv)
	return nil
}

func (m *Memory) Intervals(_ context.Context, runID string) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Interval
	for _, iv := range m.intervals {
		if iv.RunID == runID {
			out = append(out, iv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Enter < out[j].Enter
	})
	return out, nil
}
