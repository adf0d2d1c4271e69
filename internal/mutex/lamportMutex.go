package mutex

import (
	"context"

	"pipemesh/internal/common"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
	"pipemesh/internal/logging"
	"pipemesh/internal/transport"
)

// Engine implements mutual exclusion among the workers of a mesh with
// Lamport's request queue and Ricart-Agrawala style replies.
//
// The engine has no goroutine of its own: it only makes progress while its
// peer is inside RequestCS or calls Handle. Every other worker, including
// one that already finished its workload, keeps answering requests, so the
// reply quorum is always total-2.
type Engine struct {
	log   *logging.Logger
	net   transport.Network
	clock lamport.Clock

	self    Pid
	total   int
	enabled bool

	queue    *Queue
	replies  int
	waiting  bool
	held     bool
	retired  bool
	finished map[Pid]bool
}

var _ Mutex = (*Engine)(nil)

/*
NewEngine constructs the mutual exclusion engine of a worker.

Parameters:
  - logger: The logger to use for logging messages.
  - net: The network of the worker, used to exchange requests, replies and releases.
  - clock: The Lamport clock of the worker, shared with the rest of its lifecycle.
  - enabled: Whether locking is enabled. A disabled engine grants every request immediately without any traffic.
*/
func NewEngine(logger *logging.Logger, net transport.Network, clock lamport.Clock, enabled bool) *Engine {
	capacity := net.Total() - 1
	if capacity < 1 {
		capacity = 1
	}
	return &Engine{
		log:      logger,
		net:      net,
		clock:    clock,
		self:     net.Self(),
		total:    net.Total(),
		enabled:  enabled,
		queue:    NewQueue(capacity),
		finished: make(map[Pid]bool),
	}
}

// Enabled reports whether the engine actually exchanges messages.
func (e *Engine) Enabled() bool {
	return e.enabled
}

// Finished returns how many other peers announced DONE.
func (e *Engine) Finished() int {
	return len(e.finished)
}

// HasFinished reports whether pid announced DONE.
func (e *Engine) HasFinished(pid Pid) bool {
	return e.finished[pid]
}

// Queue exposes the request queue for inspection.
func (e *Engine) Queue() *Queue {
	return e.queue
}

func (e *Engine) Request(ctx context.Context) (release func() error, err error) {
	if err := e.RequestCS(ctx); err != nil {
		return nil, err
	}
	return e.ReleaseCS, nil
}

// RequestCS blocks until the worker may enter the critical section. Messages
// received while waiting are dispatched to Handle.
func (e *Engine) RequestCS(ctx context.Context) error {
	if !e.enabled {
		return nil
	}
	if e.waiting || e.held {
		return ErrMutexInUse
	}

	t := e.clock.Tick()
	if err := e.queue.Insert(t.WithPid(e.self)); err != nil {
		return err
	}
	e.waiting = true
	e.replies = 0

	e.log.Infof("Requesting the mutex at %v", t.WithPid(e.self))
	if err := e.net.BroadcastWorkers(ipc.Empty(ipc.CSRequest, t)); err != nil {
		return err
	}

	for !e.admissible() {
		from, msg, err := transport.Await(ctx, e.net, e.clock)
		if err != nil {
			return err
		}
		if err := e.Handle(from, msg); err != nil {
			return err
		}
	}

	e.waiting = false
	e.held = true
	e.log.Infof("Entering critical section with queue %v", e.queue)
	return nil
}

// ReleaseCS leaves the critical section and tells the other workers.
func (e *Engine) ReleaseCS() error {
	if !e.enabled {
		return nil
	}
	if !e.held {
		return ErrMutexNotHeld
	}

	t := e.clock.Tick()
	if err := e.queue.Remove(e.self); err != nil {
		return err
	}
	e.held = false

	e.log.Infof("Releasing the mutex at %v", t.WithPid(e.self))
	return e.net.BroadcastWorkers(ipc.Empty(ipc.CSRelease, t))
}

// Retire marks the end of the worker's own workload. From then on requests
// are answered without being queued and releases are ignored.
func (e *Engine) Retire() {
	e.retired = true
}

// admissible checks if the worker can enter the critical section.
func (e *Engine) admissible() bool {
	if e.total < 3 {
		return true
	}
	head, ok := e.queue.Head()
	if !ok || head.Pid != e.self {
		return false
	}
	return e.replies >= e.total-2
}

// Handle applies one message received from a peer. The clock must already
// have witnessed it.
func (e *Engine) Handle(from Pid, msg ipc.Message) error {
	switch msg.Type {
	case ipc.CSRequest:
		e.log.Infof("Received request from %v at %d", from, msg.Time)
		if !e.retired {
			if err := e.queue.Insert(msg.Time.WithPid(from)); err != nil {
				return err
			}
		}
		t := e.clock.Tick()
		return e.net.Send(from, ipc.Empty(ipc.CSReply, t))

	case ipc.CSReply:
		if !e.waiting {
			return common.Violationf("unsolicited %v from %v", msg.Type, from)
		}
		e.replies++
		return nil

	case ipc.CSRelease:
		if e.retired {
			return nil
		}
		e.log.Infof("Received release from %v at %d", from, msg.Time)
		return e.queue.Remove(from)

	case ipc.Done:
		if from.IsCoordinator() || e.finished[from] {
			return common.Violationf("unexpected %v from %v", msg.Type, from)
		}
		e.finished[from] = true
		return nil

	default:
		return common.Violationf("unexpected %v from %v", msg.Type, from)
	}
}
