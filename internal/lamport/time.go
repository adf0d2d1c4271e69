package lamport

import (
	"fmt"

	"pipemesh/internal/common"
)

// Time is a Lamport logical time value.
type Time int64

// WithPid pairs the time with a process id, giving a totally ordered timestamp.
func (t Time) WithPid(pid common.Pid) Timestamp {
	return Timestamp{Time: t, Pid: pid}
}

// Timestamp is a Lamport time together with the pid that produced it.
type Timestamp struct {
	Time Time
	// Pid breaks ties between equal times.
	Pid common.Pid
}

// LessThan orders timestamps by time, then by ascending pid.
func (ts Timestamp) LessThan(other Timestamp) bool {
	return ts.Time < other.Time || (ts.Time == other.Time && ts.Pid < other.Pid)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("TS(%v:%d)", ts.Pid, ts.Time)
}
