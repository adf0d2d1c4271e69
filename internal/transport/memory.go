package transport

import (
	"context"
	"math/rand"
	"sync"

	"pipemesh/internal/common"
)

type route struct {
	src, dst Pid
}

// MemoryHub is an in-process stand-in for a fabric: FIFO queues per ordered
// pair of peers, no descriptors. With a non-zero seed, ReceiveAny serves a
// random non-empty channel instead of going round-robin, which lets tests
// explore many interleavings of the same run.
type MemoryHub struct {
	total     int
	mu        sync.Mutex
	queues    map[route][]Message
	endpoints []*MemoryNetwork
	rnd       *rand.Rand
}

// NewMemoryHub creates a hub for a mesh of total peers.
func NewMemoryHub(total int, seed int64) *MemoryHub {
	h := &MemoryHub{
		total:  total,
		queues: make(map[route][]Message),
	}
	if seed != 0 {
		h.rnd = rand.New(rand.NewSource(seed))
	}
	for i := 0; i < total; i++ {
		h.endpoints = append(h.endpoints, &MemoryNetwork{
			hub:    h,
			self:   Pid(i),
			last:   Pid(i),
			signal: make(chan struct{}, 1),
		})
	}
	return h
}

// Endpoint returns the network of the given peer.
func (h *MemoryHub) Endpoint(self Pid) *MemoryNetwork {
	return h.endpoints[self]
}

// Pending returns the number of messages not yet received.
func (h *MemoryHub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, q := range h.queues {
		n += len(q)
	}
	return n
}

// MemoryNetwork is one peer's view of a [MemoryHub]. It implements [Network].
type MemoryNetwork struct {
	hub    *MemoryHub
	self   Pid
	last   Pid
	signal chan struct{}
}

func (n *MemoryNetwork) Self() Pid {
	return n.self
}

func (n *MemoryNetwork) Total() int {
	return n.hub.total
}

func (n *MemoryNetwork) Send(dst Pid, msg Message) error {
	if dst == n.self {
		return &Error{Op: "send", Peer: dst, Err: ErrSendToSelf}
	}
	if dst < 0 || int(dst) >= n.hub.total {
		return &Error{Op: "send", Peer: dst, Err: ErrNoChannel}
	}

	h := n.hub
	h.mu.Lock()
	r := route{src: n.self, dst: dst}
	h.queues[r] = append(h.queues[r], msg)
	h.mu.Unlock()

	select {
	case h.endpoints[dst].signal <- struct{}{}:
	default:
	}
	return nil
}

func (n *MemoryNetwork) Broadcast(msg Message) error {
	for _, dst := range common.Peers(n.hub.total, n.self) {
		if err := n.Send(dst, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *MemoryNetwork) BroadcastWorkers(msg Message) error {
	for _, dst := range common.Workers(n.hub.total, n.self) {
		if err := n.Send(dst, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *MemoryNetwork) ReceiveAny(ctx context.Context) (Pid, Message, error) {
	for {
		if from, msg, ok := n.take(); ok {
			return from, msg, nil
		}
		select {
		case <-n.signal:
		case <-ctx.Done():
			return 0, Message{}, ctx.Err()
		}
	}
}

func (n *MemoryNetwork) take() (Pid, Message, bool) {
	h := n.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	var ready []Pid
	for step := 1; step <= h.total; step++ {
		from := Pid((int(n.last) + step) % h.total)
		if len(h.queues[route{src: from, dst: n.self}]) > 0 {
			ready = append(ready, from)
		}
	}
	if len(ready) == 0 {
		return 0, Message{}, false
	}

	from := ready[0]
	if h.rnd != nil {
		from = ready[h.rnd.Intn(len(ready))]
	}
	r := route{src: from, dst: n.self}
	msg := h.queues[r][0]
	h.queues[r] = h.queues[r][1:]
	n.last = from
	return from, msg, true
}
