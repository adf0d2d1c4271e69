// Package peer runs the lifecycle of the members of a mesh: the workers,
// which start, contend for the critical section and stop together, and the
// coordinator, which watches them and reaps them.
package peer

import (
	"context"
	"fmt"
	"os"

	"pipemesh/internal/common"
	"pipemesh/internal/fabric"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
	"pipemesh/internal/logging"
	"pipemesh/internal/mutex"
	"pipemesh/internal/tracestore"
	"pipemesh/internal/transport"
)

type Pid = common.Pid

// TerminateError is returned when a lifecycle stops before reaching its
// final state.
type TerminateError struct {
	Pid   Pid
	State string
	Err   error
}

func (e *TerminateError) Error() string {
	return fmt.Sprintf("%v terminated in state %s: %v", e.Pid, e.State, e.Err)
}

func (e *TerminateError) Unwrap() error {
	return e.Err
}

// Config gathers what a worker needs to run.
type Config struct {
	Network transport.Network
	// Fabric, when set, has its foreign ends discarded when the worker starts.
	Fabric *fabric.Fabric
	Log    *logging.Logger
	Events *logging.EventLog
	// Recorder, when set, receives every critical section the worker executes.
	Recorder   tracestore.Recorder
	RunID      string
	Mutexl     bool
	Iterations int
}

// Peer is a worker of the mesh.
type Peer struct {
	self   Pid
	total  int
	net    transport.Network
	fabric *fabric.Fabric
	clock  *lamport.LamportClock
	mutex  *mutex.Engine
	log    *logging.Logger
	events *logging.EventLog

	recorder   tracestore.Recorder
	runID      string
	iterations int
	started    map[Pid]bool
}

// New builds a worker from its configuration.
func New(cfg Config) *Peer {
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	clock := lamport.NewLamportClock()
	self := cfg.Network.Self()

	return &Peer{
		self:       self,
		total:      cfg.Network.Total(),
		net:        cfg.Network,
		fabric:     cfg.Fabric,
		clock:      clock,
		mutex:      mutex.NewEngine(log.WithPostfix("mutex"), cfg.Network, clock, cfg.Mutexl),
		log:        log,
		events:     cfg.Events,
		recorder:   cfg.Recorder,
		runID:      cfg.RunID,
		iterations: cfg.Iterations,
		started:    make(map[Pid]bool),
	}
}

// Clock returns the current Lamport time of the worker.
func (p *Peer) Clock() lamport.Time {
	return p.clock.Time()
}

// Run drives the worker from Init to Stopped.
func (p *Peer) Run(ctx context.Context) error {
	return run[Peer](ctx, p.self, p.log, initState{}, p)
}

// others is the number of workers besides this one.
func (p *Peer) others() int {
	return p.total - 2
}

func (p *Peer) announce(t ipc.Type, at lamport.Time, line string) error {
	msg, err := ipc.New(t, at, []byte(line))
	if err != nil {
		return err
	}
	return p.net.Broadcast(msg)
}

type initState struct{}

func (initState) String() string { return "Init" }

func (initState) Next(_ context.Context, p *Peer) (state[Peer], error) {
	if p.fabric != nil {
		if err := p.fabric.DiscardForeign(p.self); err != nil {
			return nil, err
		}
	}

	t := p.clock.Tick()
	line := p.events.Started(t, p.self, os.Getpid(), os.Getppid())
	if err := p.announce(ipc.Started, t, line); err != nil {
		return nil, err
	}
	return startingState{}, nil
}

// startingState waits for STARTED from every other worker. A worker that
// already started may be ahead and send DONE or critical-section traffic,
// which goes to the mutex engine.
type startingState struct{}

func (startingState) String() string { return "Starting" }

func (startingState) Next(ctx context.Context, p *Peer) (state[Peer], error) {
	for len(p.started) < p.others() {
		from, msg, err := transport.Await(ctx, p.net, p.clock)
		if err != nil {
			return nil, err
		}

		switch {
		case msg.Type == ipc.Started && !from.IsCoordinator() && !p.started[from]:
			p.started[from] = true
		case msg.Type != ipc.Started && p.started[from]:
			if err := p.mutex.Handle(from, msg); err != nil {
				return nil, err
			}
		default:
			return nil, common.Violationf("unexpected %v from %v while starting", msg.Type, from)
		}
	}

	p.events.ReceivedAllStarted(p.clock.Time(), p.self)
	return workingState{}, nil
}

type workingState struct{}

func (workingState) String() string { return "Working" }

func (workingState) Next(ctx context.Context, p *Peer) (state[Peer], error) {
	for i := 1; i <= p.iterations; i++ {
		release, err := p.mutex.Request(ctx)
		if err != nil {
			return nil, err
		}
		enter := p.clock.Time()

		p.events.LoopOperation(p.self, i, p.iterations)

		if err := release(); err != nil {
			return nil, err
		}

		if p.recorder != nil {
			iv := tracestore.Interval{
				RunID:     p.runID,
				Pid:       p.self,
				Iteration: i,
				Enter:     enter,
				Exit:      p.clock.Time(),
			}
			if err := p.recorder.Record(ctx, iv); err != nil {
				return nil, err
			}
		}
	}

	p.mutex.Retire()
	t := p.clock.Tick()
	line := p.events.Done(t, p.self)
	if err := p.announce(ipc.Done, t, line); err != nil {
		return nil, err
	}
	return stoppingState{}, nil
}

// stoppingState waits for DONE from every other worker while still
// answering their requests.
type stoppingState struct{}

func (stoppingState) String() string { return "Stopping" }

func (stoppingState) Next(ctx context.Context, p *Peer) (state[Peer], error) {
	for p.mutex.Finished() < p.others() {
		from, msg, err := transport.Await(ctx, p.net, p.clock)
		if err != nil {
			return nil, err
		}
		if err := p.mutex.Handle(from, msg); err != nil {
			return nil, err
		}
	}

	p.events.ReceivedAllDone(p.clock.Time(), p.self)
	return nil, nil
}
