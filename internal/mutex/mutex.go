package mutex

import (
	"context"
	"errors"

	"pipemesh/internal/common"
	"pipemesh/internal/lamport"
)

type Pid = common.Pid
type timestamp = lamport.Timestamp

var (
	// ErrMutexInUse is returned when a peer requests the mutex it is already waiting for or holding.
	ErrMutexInUse = errors.New("mutex is already in use")
	// ErrMutexNotHeld is returned when a peer releases a mutex it does not hold.
	ErrMutexNotHeld = errors.New("mutex is not held")
)

/*
Interface for a mutex that can be acquired and released.
*/
type Mutex interface {
	/*
		Request permission to enter critical section.

		Blocks until the critical section may be entered, handling the protocol
		traffic that arrives in the meantime. The returned function must be
		called to leave the critical section.
	*/
	Request(ctx context.Context) (release func() error, err error)
}
