package fabric

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"pipemesh/internal/common"
	"pipemesh/internal/utils/option"
)

// Clone duplicates every open end into a new fabric owned by owner. This is
// the descriptor table a forked worker would start with: closing an end of the
// clone leaves the original untouched.
func (f *Fabric) Clone(owner common.Pid) (*Fabric, error) {
	c := &Fabric{n: f.n, owner: owner, channels: make([]Channel, len(f.channels))}
	for i, ch := range f.channels {
		r, err := dupEnd(ch.Read)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("clone channel %d: %w", i, err)
		}
		c.channels[i].Read = r

		w, err := dupEnd(ch.Write)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("clone channel %d: %w", i, err)
		}
		c.channels[i].Write = w
	}
	return c, nil
}

func dupEnd(end End) (End, error) {
	h, ok := end.Unpack()
	if !ok {
		return option.None[*os.File](), nil
	}

	// The duplicate shares the open file description, O_NONBLOCK included.
	rc, err := h.SyscallConn()
	if err != nil {
		return End{}, err
	}
	var nfd int
	var dupErr error
	if err := rc.Control(func(fd uintptr) {
		nfd, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return End{}, err
	}
	if dupErr != nil {
		return End{}, os.NewSyscallError("fcntl", dupErr)
	}
	return option.Some(os.NewFile(uintptr(nfd), h.Name())), nil
}

// Files returns every end in arena order (read then write for each channel),
// ready to be handed to a child process through exec.Cmd.ExtraFiles.
//
// Every end was non-blocking when wrapped, so os/exec passes it on as is: Fd
// only restores blocking mode on files the runtime itself made non-blocking.
// The child, the coordinator and any clone share that flag.
func (f *Fabric) Files() ([]*os.File, error) {
	files := make([]*os.File, 0, 2*len(f.channels))
	for i, ch := range f.channels {
		r, rok := ch.Read.Unpack()
		w, wok := ch.Write.Unpack()
		if !rok || !wok {
			return nil, fmt.Errorf("channel %d: %w", i, ErrIncomplete)
		}
		files = append(files, r, w)
	}
	return files, nil
}

// Inherit rebuilds the arena of n peers from descriptors passed by a parent
// process in the order produced by [Fabric.Files], starting at firstFD. On
// failure every descriptor of the range is closed.
func Inherit(n int, owner common.Pid, firstFD uintptr) (*Fabric, error) {
	if n < 2 {
		return nil, &ConstructionError{Peers: n, Channel: -1, Err: ErrTooSmall}
	}

	f := &Fabric{n: n, owner: owner, channels: make([]Channel, Size(n))}
	adopted := make([]bool, 2*Size(n))
	fail := func(i int, err error) (*Fabric, error) {
		f.Close()
		for k, done := range adopted {
			if !done {
				unix.Close(int(firstFD) + k)
			}
		}
		return nil, &ConstructionError{Peers: n, Channel: i, Err: err}
	}

	for src := 0; src < n; src++ {
		for dst := 0; dst < n; dst++ {
			if src == dst {
				continue
			}
			i := Index(n, common.Pid(src), common.Pid(dst))
			rfd := int(firstFD) + 2*i
			r, err := adopt(rfd, endName(common.Pid(src), common.Pid(dst), "r"))
			if err != nil {
				return fail(i, err)
			}
			f.channels[i].Read = option.Some(r)
			adopted[2*i] = true

			w, err := adopt(rfd+1, endName(common.Pid(src), common.Pid(dst), "w"))
			if err != nil {
				return fail(i, err)
			}
			f.channels[i].Write = option.Some(w)
			adopted[2*i+1] = true
		}
	}
	return f, nil
}

// adopt wraps an inherited descriptor. A parent other than the launcher may
// hand it over in blocking mode; O_NONBLOCK is set so the runtime poller can
// wait on it.
func adopt(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("fcntl", err)
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), name), nil
}
