package peer

import (
	"context"

	"pipemesh/internal/logging"
)

// state is one step of a lifecycle. Next runs it to completion and returns
// the following state, or nil once the lifecycle reached Stopped.
type state[T any] interface {
	Next(ctx context.Context, owner *T) (state[T], error)
	String() string
}

// run drives a lifecycle until it stops. Any error terminates it.
func run[T any](ctx context.Context, self Pid, log *logging.Logger, s state[T], owner *T) error {
	for s != nil {
		log.Infof("Entering state %v", s)
		next, err := s.Next(ctx, owner)
		if err != nil {
			terr := &TerminateError{Pid: self, State: s.String(), Err: err}
			log.Error(terr)
			return terr
		}
		s = next
	}
	log.Info("Stopped")
	return nil
}
