package peer

import (
	"context"

	"pipemesh/internal/common"
	"pipemesh/internal/fabric"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
	"pipemesh/internal/logging"
	"pipemesh/internal/transport"
)

// Reaper waits for every worker to exit.
type Reaper interface {
	Reap(ctx context.Context) error
}

// CoordinatorConfig gathers what the coordinator needs to run.
type CoordinatorConfig struct {
	Network transport.Network
	Fabric  *fabric.Fabric
	Log     *logging.Logger
	Events  *logging.EventLog
	Reaper  Reaper
}

// Coordinator is pid 0. It never contends for the critical section: it
// counts STARTED and DONE from every worker, then reaps them.
type Coordinator struct {
	net    transport.Network
	fabric *fabric.Fabric
	clock  *lamport.LamportClock
	log    *logging.Logger
	events *logging.EventLog
	reaper Reaper

	started map[Pid]bool
	done    map[Pid]bool
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{
		net:     cfg.Network,
		fabric:  cfg.Fabric,
		clock:   lamport.NewLamportClock(),
		log:     log,
		events:  cfg.Events,
		reaper:  cfg.Reaper,
		started: make(map[Pid]bool),
		done:    make(map[Pid]bool),
	}
}

// Run drives the coordinator from Init to Stopped.
func (c *Coordinator) Run(ctx context.Context) error {
	return run[Coordinator](ctx, common.Coordinator, c.log, coordinatorInit{}, c)
}

func (c *Coordinator) workers() int {
	return c.net.Total() - 1
}

// collect applies one message to the STARTED and DONE counts. A DONE may
// overtake the other workers' STARTED but never its sender's own.
func (c *Coordinator) collect(from Pid, msg ipc.Message) error {
	switch {
	case from.IsCoordinator():
	case msg.Type == ipc.Started && !c.started[from]:
		c.started[from] = true
		return nil
	case msg.Type == ipc.Done && c.started[from] && !c.done[from]:
		c.done[from] = true
		return nil
	}
	return common.Violationf("unexpected %v from %v", msg.Type, from)
}

type coordinatorInit struct{}

func (coordinatorInit) String() string { return "Init" }

func (coordinatorInit) Next(_ context.Context, c *Coordinator) (state[Coordinator], error) {
	if c.fabric != nil {
		if err := c.fabric.DiscardForeign(common.Coordinator); err != nil {
			return nil, err
		}
	}
	return collectingStarted{}, nil
}

type collectingStarted struct{}

func (collectingStarted) String() string { return "CollectingStarted" }

func (collectingStarted) Next(ctx context.Context, c *Coordinator) (state[Coordinator], error) {
	for len(c.started) < c.workers() {
		from, msg, err := transport.Await(ctx, c.net, c.clock)
		if err != nil {
			return nil, err
		}
		if err := c.collect(from, msg); err != nil {
			return nil, err
		}
	}
	c.events.ReceivedAllStarted(c.clock.Time(), common.Coordinator)
	return collectingDone{}, nil
}

type collectingDone struct{}

func (collectingDone) String() string { return "CollectingDone" }

func (collectingDone) Next(ctx context.Context, c *Coordinator) (state[Coordinator], error) {
	for len(c.done) < c.workers() {
		from, msg, err := transport.Await(ctx, c.net, c.clock)
		if err != nil {
			return nil, err
		}
		if err := c.collect(from, msg); err != nil {
			return nil, err
		}
	}
	c.events.ReceivedAllDone(c.clock.Time(), common.Coordinator)
	return reaping{}, nil
}

type reaping struct{}

func (reaping) String() string { return "Reaping" }

func (reaping) Next(ctx context.Context, c *Coordinator) (state[Coordinator], error) {
	if c.reaper == nil {
		return nil, nil
	}
	return nil, c.reaper.Reap(ctx)
}
