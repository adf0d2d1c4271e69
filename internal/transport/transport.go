// Package transport sends and receives framed messages over the ends of a
// fabric that a peer retained.
//
// Every inbound channel is drained by its own reader goroutine into a
// per-source buffer. ReceiveAny sweeps those buffers round-robin, starting
// just after the last peer it served, and sleeps on a wake-up signal when a
// whole sweep found nothing. Per-channel FIFO order is preserved.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"pipemesh/internal/common"
	"pipemesh/internal/fabric"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
	"pipemesh/internal/logging"
)

type Pid = common.Pid
type Message = ipc.Message

var (
	// ErrSendToSelf is returned when a peer addresses itself.
	ErrSendToSelf = errors.New("cannot send to self")
	// ErrNoChannel is returned when the fabric holds no usable end for a peer.
	ErrNoChannel = errors.New("no channel to peer")
	// ErrChannelsClosed is returned by ReceiveAny once every inbound channel
	// reached end of file and nothing is left to deliver.
	ErrChannelsClosed = errors.New("every inbound channel is closed")
)

// Error is a transport failure, distinct from "no data yet". It is fatal
// for the peer: the mesh has no redundant path.
type Error struct {
	Op   string
	Peer Pid
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Peer, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Network is what the protocol layers need from a transport.
type Network interface {
	Self() Pid
	Total() int
	Send(dst Pid, msg Message) error
	Broadcast(msg Message) error
	BroadcastWorkers(msg Message) error
	ReceiveAny(ctx context.Context) (Pid, Message, error)
}

// inbound buffers the frames decoded from one channel. err is written
// before frames is closed and read only after; eof belongs to the consumer.
type inbound struct {
	frames chan Message
	err    error
	eof    bool
}

// Transport is the messaging endpoint of one peer.
type Transport struct {
	self   Pid
	total  int
	fabric *fabric.Fabric
	log    *logging.Logger
	pipes  *logging.PipeLog

	inbox   []*inbound
	signal  chan struct{}
	closing chan struct{}
	last    Pid
	wg      sync.WaitGroup
	once    sync.Once
}

// New starts a transport over a fabric whose foreign ends were already
// discarded. The transport takes ownership of the fabric.
func New(f *fabric.Fabric, log *logging.Logger, pipes *logging.PipeLog) *Transport {
	if log == nil {
		log = logging.Discard()
	}
	t := &Transport{
		self:    f.Owner(),
		total:   f.Peers(),
		fabric:  f,
		log:     log,
		pipes:   pipes,
		inbox:   make([]*inbound, f.Peers()),
		signal:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		last:    f.Owner(),
	}

	for i := 0; i < t.total; i++ {
		src := Pid(i)
		r, ok := f.Sender(src).Unpack()
		if !ok {
			continue
		}
		in := &inbound{frames: make(chan Message, 64)}
		t.inbox[i] = in
		t.wg.Add(1)
		go t.readLoop(src, r, in)
	}

	return t
}

// readLoop decodes frames from one channel until end of file or failure.
func (t *Transport) readLoop(src Pid, r io.Reader, in *inbound) {
	defer t.wg.Done()
	defer t.wake()
	defer close(in.frames)

	for {
		msg, err := ipc.ReadMessage(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			default:
				t.log.Warnf("channel from %v failed: %v", src, err)
				in.err = err
			}
			return
		}
		select {
		case in.frames <- msg:
		case <-t.closing:
			return
		}
		t.wake()
	}
}

func (t *Transport) wake() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *Transport) Self() Pid {
	return t.self
}

func (t *Transport) Total() int {
	return t.total
}

// Send writes msg to dst's channel.
func (t *Transport) Send(dst Pid, msg Message) error {
	if dst == t.self {
		return &Error{Op: "send", Peer: dst, Err: ErrSendToSelf}
	}
	w, ok := t.fabric.Recipient(dst).Unpack()
	if !ok {
		return &Error{Op: "send", Peer: dst, Err: ErrNoChannel}
	}
	if _, err := msg.WriteTo(w); err != nil {
		return &Error{Op: "send", Peer: dst, Err: err}
	}
	t.pipes.Sent(t.self, dst, msg)
	return nil
}

// Broadcast sends msg to every peer but self, stopping at the first failure.
// Peers before the failing one already got the message.
func (t *Transport) Broadcast(msg Message) error {
	return t.multicast(common.Peers(t.total, t.self), msg)
}

// BroadcastWorkers is Broadcast without the coordinator.
func (t *Transport) BroadcastWorkers(msg Message) error {
	return t.multicast(common.Workers(t.total, t.self), msg)
}

func (t *Transport) multicast(dsts []Pid, msg Message) error {
	for _, dst := range dsts {
		if err := t.Send(dst, msg); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the next message from src without blocking. ok is false
// when no complete message is available, including after end of file.
func (t *Transport) Receive(from Pid) (msg Message, ok bool, err error) {
	if from < 0 || int(from) >= t.total || t.inbox[from] == nil {
		return Message{}, false, &Error{Op: "receive", Peer: from, Err: ErrNoChannel}
	}
	in := t.inbox[from]

	select {
	case msg, open := <-in.frames:
		if !open {
			in.eof = true
			if in.err != nil {
				return Message{}, false, &Error{Op: "receive", Peer: from, Err: in.err}
			}
			return Message{}, false, nil
		}
		t.pipes.Received(t.self, from, msg)
		return msg, true, nil
	default:
		return Message{}, false, nil
	}
}

// ReceiveAny blocks until a message is available from some peer. Peers are
// served round-robin starting after the last one served. The context is the
// only way out of a wait on a silent peer.
func (t *Transport) ReceiveAny(ctx context.Context) (Pid, Message, error) {
	for {
		for step := 1; step <= t.total; step++ {
			from := Pid((int(t.last) + step) % t.total)
			if t.inbox[from] == nil {
				continue
			}
			msg, ok, err := t.Receive(from)
			if err != nil {
				return from, Message{}, err
			}
			if ok {
				t.last = from
				return from, msg, nil
			}
		}

		if t.drained() {
			return 0, Message{}, &Error{Op: "receive", Peer: t.self, Err: ErrChannelsClosed}
		}

		select {
		case <-t.signal:
		case <-ctx.Done():
			return 0, Message{}, ctx.Err()
		}
	}
}

// Await receives the next message and applies the Lamport receive rule to
// clock before returning it.
func (t *Transport) Await(ctx context.Context, clock lamport.Clock) (Pid, Message, error) {
	return Await(ctx, t, clock)
}

// Await is ReceiveAny on any network followed by observe-then-tick.
func Await(ctx context.Context, net Network, clock lamport.Clock) (Pid, Message, error) {
	from, msg, err := net.ReceiveAny(ctx)
	if err != nil {
		return from, msg, err
	}
	lamport.Witness(clock, msg.Time)
	return from, msg, nil
}

// drained reports whether every inbound channel was seen closed and empty.
func (t *Transport) drained() bool {
	for _, in := range t.inbox {
		if in != nil && !in.eof {
			return false
		}
	}
	return true
}

// Close closes the retained ends and waits for the readers to stop.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closing)
		err = t.fabric.Close()
		t.wg.Wait()
	})
	return err
}
