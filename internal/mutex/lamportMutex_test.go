package mutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemesh/internal/common"
	"pipemesh/internal/ipc"
	"pipemesh/internal/lamport"
	"pipemesh/internal/logging"
	"pipemesh/internal/transport"
)

func newLogger() *logging.Logger {
	return logging.Discard()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// expectMessage waits for the next message addressed to the given endpoint.
func expectMessage(t *testing.T, net *transport.MemoryNetwork, from Pid, typ ipc.Type) ipc.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	src, msg, err := net.ReceiveAny(ctx)
	require.NoError(t, err)
	require.Equal(t, from, src)
	require.Equal(t, typ, msg.Type)
	return msg
}

func TestDisabledEngineIsSilent(t *testing.T) {
	hub := transport.NewMemoryHub(4, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), false)
	assert.False(t, m.Enabled())

	release, err := m.Request(testContext(t))
	require.NoError(t, err)
	require.NoError(t, release())
	assert.Zero(t, hub.Pending())
}

func TestSingleWorkerIsAdmittedImmediately(t *testing.T) {
	hub := transport.NewMemoryHub(2, 0)
	clock := lamport.NewLamportClock()
	m := NewEngine(newLogger(), hub.Endpoint(1), clock, true)

	release, err := m.Request(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Queue().Len())
	require.NoError(t, release())
	assert.Zero(t, m.Queue().Len())
	assert.Zero(t, hub.Pending(), "the coordinator never takes part")
	assert.Equal(t, lamport.Time(2), clock.Time())
}

func TestWaitsForEveryReply(t *testing.T) {
	hub := transport.NewMemoryHub(4, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)

	entered := make(chan error, 1)
	go func() {
		entered <- m.RequestCS(testContext(t))
	}()

	req2 := expectMessage(t, hub.Endpoint(2), 1, ipc.CSRequest)
	req3 := expectMessage(t, hub.Endpoint(3), 1, ipc.CSRequest)
	assert.Equal(t, lamport.Time(1), req2.Time)
	assert.Equal(t, req2.Time, req3.Time)

	require.NoError(t, hub.Endpoint(2).Send(1, ipc.Empty(ipc.CSReply, 2)))
	select {
	case <-entered:
		t.Fatal("entered the critical section with a single reply")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, hub.Endpoint(3).Send(1, ipc.Empty(ipc.CSReply, 2)))
	select {
	case err := <-entered:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("did not enter the critical section")
	}

	require.NoError(t, m.ReleaseCS())
	rel := expectMessage(t, hub.Endpoint(2), 1, ipc.CSRelease)
	expectMessage(t, hub.Endpoint(3), 1, ipc.CSRelease)
	assert.Greater(t, rel.Time, lamport.Time(3))
	assert.Zero(t, hub.Pending(), "the coordinator is left out")
}

func TestOlderRequestGoesFirst(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	m := NewEngine(newLogger(), hub.Endpoint(2), lamport.NewLamportClock(), true)

	// P1's request is already queued at P2 when P2 asks for the mutex.
	clock := lamport.NewLamportClock()
	require.NoError(t, m.Handle(1, ipc.Empty(ipc.CSRequest, 1)))
	expectMessage(t, hub.Endpoint(1), 2, ipc.CSReply)

	entered := make(chan error, 1)
	go func() {
		entered <- m.RequestCS(testContext(t))
	}()
	req := expectMessage(t, hub.Endpoint(1), 2, ipc.CSRequest)
	lamport.Witness(clock, req.Time)

	require.NoError(t, hub.Endpoint(1).Send(2, ipc.Empty(ipc.CSReply, clock.Tick())))
	select {
	case <-entered:
		t.Fatal("entered ahead of an older request")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, hub.Endpoint(1).Send(2, ipc.Empty(ipc.CSRelease, clock.Tick())))
	select {
	case err := <-entered:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("did not enter after the older request was released")
	}
}

func TestReplyUsesTickedClock(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	clock := lamport.NewLamportClock()
	m := NewEngine(newLogger(), hub.Endpoint(1), clock, true)

	lamport.Witness(clock, 10)
	require.NoError(t, m.Handle(2, ipc.Empty(ipc.CSRequest, 10)))
	reply := expectMessage(t, hub.Endpoint(2), 1, ipc.CSReply)
	assert.Equal(t, lamport.Time(12), reply.Time)
	assert.True(t, m.Queue().Contains(2))
}

func TestRetiredEngineStillReplies(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)
	m.Retire()

	require.NoError(t, m.Handle(2, ipc.Empty(ipc.CSRequest, 4)))
	expectMessage(t, hub.Endpoint(2), 1, ipc.CSReply)
	assert.Zero(t, m.Queue().Len())
	require.NoError(t, m.Handle(2, ipc.Empty(ipc.CSRelease, 6)))
}

func TestDoneIsRecorded(t *testing.T) {
	hub := transport.NewMemoryHub(4, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)

	require.NoError(t, m.Handle(3, ipc.Empty(ipc.Done, 2)))
	assert.True(t, m.HasFinished(3))
	assert.False(t, m.HasFinished(2))
	assert.Equal(t, 1, m.Finished())
	assert.Zero(t, hub.Pending())
}

func TestHandleViolations(t *testing.T) {
	tests := []struct {
		name string
		from Pid
		msgs []ipc.Message
	}{
		{"unsolicited reply", 2, []ipc.Message{ipc.Empty(ipc.CSReply, 1)}},
		{"release without request", 2, []ipc.Message{ipc.Empty(ipc.CSRelease, 1)}},
		{"second request", 2, []ipc.Message{ipc.Empty(ipc.CSRequest, 1), ipc.Empty(ipc.CSRequest, 3)}},
		{"second done", 2, []ipc.Message{ipc.Empty(ipc.Done, 1), ipc.Empty(ipc.Done, 2)}},
		{"done from coordinator", common.Coordinator, []ipc.Message{ipc.Empty(ipc.Done, 1)}},
		{"started", 2, []ipc.Message{ipc.Empty(ipc.Started, 1)}},
		{"reserved tag", 2, []ipc.Message{ipc.Empty(ipc.Transfer, 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := transport.NewMemoryHub(3, 0)
			m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)

			var err error
			for _, msg := range tt.msgs {
				if err = m.Handle(tt.from, msg); err != nil {
					break
				}
			}
			assert.ErrorIs(t, err, common.ErrProtocolViolation)
		})
	}
}

func TestRequestWhileHolding(t *testing.T) {
	hub := transport.NewMemoryHub(2, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)

	require.NoError(t, m.RequestCS(testContext(t)))
	assert.ErrorIs(t, m.RequestCS(testContext(t)), ErrMutexInUse)
	require.NoError(t, m.ReleaseCS())
	assert.ErrorIs(t, m.ReleaseCS(), ErrMutexNotHeld)
}

func TestStalledPeerBlocksUntilDeadline(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	m := NewEngine(newLogger(), hub.Endpoint(1), lamport.NewLamportClock(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.RequestCS(ctx), context.DeadlineExceeded)
}

// runWorker drives one worker the way the peer lifecycle does: a number of
// critical sections, DONE to every other worker, then replies until every
// other worker is done too.
func runWorker(ctx context.Context, hub *transport.MemoryHub, self Pid, iterations int, inside *atomic.Int32, overlaps *atomic.Int32) error {
	net := hub.Endpoint(self)
	clock := lamport.NewLamportClock()
	m := NewEngine(newLogger(), net, clock, true)

	for i := 0; i < iterations; i++ {
		release, err := m.Request(ctx)
		if err != nil {
			return err
		}
		if inside.Add(1) != 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		inside.Add(-1)
		if err := release(); err != nil {
			return err
		}
	}

	m.Retire()
	if err := net.BroadcastWorkers(ipc.Empty(ipc.Done, clock.Tick())); err != nil {
		return err
	}
	for m.Finished() < net.Total()-2 {
		from, msg, err := transport.Await(ctx, net, clock)
		if err != nil {
			return err
		}
		if err := m.Handle(from, msg); err != nil {
			return err
		}
	}
	return nil
}

func TestMutualExclusionUnderRandomSchedules(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 42, 1337, 2024} {
		for _, total := range []int{3, 4, 6} {
			hub := transport.NewMemoryHub(total, seed)
			ctx := testContext(t)

			var inside, overlaps atomic.Int32
			var wg sync.WaitGroup
			errs := make([]error, total)
			for pid := 1; pid < total; pid++ {
				wg.Add(1)
				go func(pid Pid) {
					defer wg.Done()
					errs[pid] = runWorker(ctx, hub, pid, int(pid)+1, &inside, &overlaps)
				}(Pid(pid))
			}
			wg.Wait()

			for pid, err := range errs {
				assert.NoError(t, err, "seed %d, total %d, worker %d", seed, total, pid)
			}
			assert.Zero(t, overlaps.Load(), "seed %d, total %d", seed, total)
			assert.Zero(t, hub.Pending(), "seed %d, total %d: every message was consumed", seed, total)
		}
	}
}
