// Package fabric builds the full mesh of unidirectional pipes that connects
// every pair of peers, and lets each peer keep only the ends it owns.
//
// The arena holds one pipe per ordered pair (src, dst). Its position is given
// by [Index], so a peer derives its inbound and outbound channels without any
// lookup table. Closed ends are represented by an empty [option.Option].
package fabric

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"pipemesh/internal/common"
	"pipemesh/internal/utils/option"
)

// End is one side of a pipe, or None once it has been closed.
type End = option.Option[*os.File]

// ErrTooSmall is returned when a mesh with fewer than two peers is requested.
var ErrTooSmall = errors.New("a mesh needs at least two peers")

// ErrIncomplete is returned when an operation needs every end of the arena
// but some were already discarded.
var ErrIncomplete = errors.New("fabric has discarded ends")

// ConstructionError reports a failure to allocate the arena. No partial
// fabric survives it.
type ConstructionError struct {
	Peers   int
	Channel int
	Err     error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("fabric of %d peers: channel %d: %v", e.Peers, e.Channel, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Channel is a single pipe of the arena.
type Channel struct {
	Read  End
	Write End
}

// Fabric is an arena of n·(n-1) pipes, seen from the point of view of its owner.
type Fabric struct {
	n        int
	owner    common.Pid
	channels []Channel
}

// Index returns the arena position of the channel carrying messages from src to dst.
func Index(n int, src, dst common.Pid) int {
	if src == dst || src < 0 || dst < 0 || int(src) >= n || int(dst) >= n {
		panic(fmt.Sprintf("fabric: no channel %v -> %v in a mesh of %d", src, dst, n))
	}
	slot := int(dst)
	if dst > src {
		slot--
	}
	return int(src)*(n-1) + slot
}

// Size returns the number of channels of a mesh of n peers.
func Size(n int) int {
	return n * (n - 1)
}

// Build allocates the whole arena for n peers. The returned fabric is owned
// by the coordinator until [Fabric.DiscardForeign] is called.
func Build(n int) (*Fabric, error) {
	if n < 2 {
		return nil, &ConstructionError{Peers: n, Channel: -1, Err: ErrTooSmall}
	}

	f := &Fabric{n: n, owner: common.Coordinator, channels: make([]Channel, Size(n))}
	for src := 0; src < n; src++ {
		for dst := 0; dst < n; dst++ {
			if src == dst {
				continue
			}
			i := Index(n, common.Pid(src), common.Pid(dst))
			r, w, err := newPipe(common.Pid(src), common.Pid(dst))
			if err != nil {
				f.Close()
				return nil, &ConstructionError{Peers: n, Channel: i, Err: err}
			}
			f.channels[i] = Channel{Read: option.Some(r), Write: option.Some(w)}
		}
	}

	return f, nil
}

func newPipe(src, dst common.Pid) (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, nil, os.NewSyscallError("pipe2", err)
	}
	r = os.NewFile(uintptr(fds[0]), endName(src, dst, "r"))
	w = os.NewFile(uintptr(fds[1]), endName(src, dst, "w"))
	return r, w, nil
}

func endName(src, dst common.Pid, side string) string {
	return fmt.Sprintf("|%v->%v|%s", src, dst, side)
}

// Peers returns the number of peers of the mesh.
func (f *Fabric) Peers() int {
	return f.n
}

// Owner returns the pid the lookups are relative to.
func (f *Fabric) Owner() common.Pid {
	return f.owner
}

// DiscardForeign closes every end that self does not own: all ends of the
// channels between two other peers, the read end of self's outbound channels
// and the write end of self's inbound ones. Afterwards exactly 2·(n-1) ends
// remain. Calling it again is a no-op.
func (f *Fabric) DiscardForeign(self common.Pid) error {
	if self < 0 || int(self) >= f.n {
		return fmt.Errorf("fabric: pid %v outside mesh of %d", self, f.n)
	}
	f.owner = self

	var result *multierror.Error
	for src := 0; src < f.n; src++ {
		for dst := 0; dst < f.n; dst++ {
			if src == dst {
				continue
			}
			ch := &f.channels[Index(f.n, common.Pid(src), common.Pid(dst))]
			if common.Pid(src) != self {
				result = multierror.Append(result, closeEnd(&ch.Write))
			}
			if common.Pid(dst) != self {
				result = multierror.Append(result, closeEnd(&ch.Read))
			}
		}
	}
	return result.ErrorOrNil()
}

// closeEnd closes the handle if present and leaves None behind, so an end is
// never closed twice.
func closeEnd(end *End) error {
	if h, ok := end.Take().Unpack(); ok {
		return h.Close()
	}
	return nil
}

// Recipient returns the end the owner writes to in order to reach dst.
func (f *Fabric) Recipient(dst common.Pid) End {
	if dst == f.owner || dst < 0 || int(dst) >= f.n {
		return option.None[*os.File]()
	}
	return f.channels[Index(f.n, f.owner, dst)].Write
}

// Sender returns the end the owner reads from to receive messages from src.
func (f *Fabric) Sender(src common.Pid) End {
	if src == f.owner || src < 0 || int(src) >= f.n {
		return option.None[*os.File]()
	}
	return f.channels[Index(f.n, src, f.owner)].Read
}

// Live returns the number of ends still open.
func (f *Fabric) Live() int {
	return len(f.Handles())
}

// Handles returns every open end, in arena order.
func (f *Fabric) Handles() []*os.File {
	var out []*os.File
	for _, ch := range f.channels {
		if h, ok := ch.Read.Unpack(); ok {
			out = append(out, h)
		}
		if h, ok := ch.Write.Unpack(); ok {
			out = append(out, h)
		}
	}
	return out
}

// Close closes every end still open.
func (f *Fabric) Close() error {
	var result *multierror.Error
	for i := range f.channels {
		result = multierror.Append(result, closeEnd(&f.channels[i].Read))
		result = multierror.Append(result, closeEnd(&f.channels[i].Write))
	}
	return result.ErrorOrNil()
}
