package peer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemesh/internal/common"
	"pipemesh/internal/ipc"
	"pipemesh/internal/logging"
	"pipemesh/internal/tracestore"
	"pipemesh/internal/transport"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type countingReaper struct {
	calls int
}

func (r *countingReaper) Reap(context.Context) error {
	r.calls++
	return nil
}

// runMesh runs a coordinator and total-1 workers over an in-memory hub and
// returns the error of every peer, indexed by pid.
func runMesh(t *testing.T, hub *transport.MemoryHub, total int, mutexl bool, events *logging.EventLog, rec tracestore.Recorder) []error {
	t.Helper()
	ctx := testContext(t)

	errs := make([]error, total)
	var wg sync.WaitGroup
	for i := 1; i < total; i++ {
		wg.Add(1)
		go func(pid Pid) {
			defer wg.Done()
			p := New(Config{
				Network:    hub.Endpoint(pid),
				Events:     events,
				Recorder:   rec,
				RunID:      "test-run",
				Mutexl:     mutexl,
				Iterations: 5 * int(pid),
			})
			errs[pid] = p.Run(ctx)
		}(Pid(i))
	}

	reaper := &countingReaper{}
	c := NewCoordinator(CoordinatorConfig{
		Network: hub.Endpoint(common.Coordinator),
		Events:  events,
		Reaper:  reaper,
	})
	errs[0] = c.Run(ctx)
	wg.Wait()

	if errs[0] == nil {
		assert.Equal(t, 1, reaper.calls)
	}
	return errs
}

func TestScenarioWithoutLocking(t *testing.T) {
	var out bytes.Buffer
	events := logging.NewEventLog(&out, nil)
	hub := transport.NewMemoryHub(3, 0)

	for pid, err := range runMesh(t, hub, 3, false, events, nil) {
		assert.NoError(t, err, "peer %d", pid)
	}

	log := out.String()
	for _, line := range []string{
		"process 1 received all STARTED messages",
		"process 2 received all STARTED messages",
		"process 0 received all STARTED messages",
		"process 1 has DONE",
		"process 2 has DONE",
		"process 0 received all DONE messages",
		"process 2 is doing 10 iteration out of 10",
	} {
		assert.Contains(t, log, line)
	}
	assert.Equal(t, 15, strings.Count(log, "iteration out of"))
	assert.Equal(t, 2, strings.Count(log, "has STARTED"))
}

func TestScenarioWithLocking(t *testing.T) {
	for _, seed := range []int64{0, 5, 99} {
		hub := transport.NewMemoryHub(4, seed)
		rec := tracestore.NewMemory()

		for pid, err := range runMesh(t, hub, 4, true, nil, rec) {
			require.NoError(t, err, "seed %d, peer %d", seed, pid)
		}

		intervals, err := rec.Intervals(context.Background(), "test-run")
		require.NoError(t, err)
		assert.Len(t, intervals, 5+10+15)
		assert.Empty(t, tracestore.FindOverlaps(intervals), "seed %d", seed)
	}
}

func TestSingleWorker(t *testing.T) {
	hub := transport.NewMemoryHub(2, 0)
	for _, err := range runMesh(t, hub, 2, true, nil, nil) {
		assert.NoError(t, err)
	}
}

func TestWorkerAcceptsEarlyTrafficFromStartedPeer(t *testing.T) {
	hub := transport.NewMemoryHub(4, 0)
	p := New(Config{Network: hub.Endpoint(1)})

	result := make(chan error, 1)
	go func() { result <- p.Run(testContext(t)) }()

	require.NoError(t, hub.Endpoint(2).Send(1, ipc.Empty(ipc.Started, 1)))
	require.NoError(t, hub.Endpoint(2).Send(1, ipc.Empty(ipc.Done, 2)))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, hub.Endpoint(3).Send(1, ipc.Empty(ipc.Started, 1)))
	require.NoError(t, hub.Endpoint(3).Send(1, ipc.Empty(ipc.Done, 2)))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Greater(t, int64(p.Clock()), int64(4))
}

func TestWorkerRejectsTrafficFromUnstartedPeer(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	p := New(Config{Network: hub.Endpoint(1), Mutexl: true, Iterations: 1})

	require.NoError(t, hub.Endpoint(2).Send(1, ipc.Empty(ipc.CSRelease, 1)))
	err := p.Run(testContext(t))

	var terr *TerminateError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Starting", terr.State)
	assert.Equal(t, Pid(1), terr.Pid)
	assert.ErrorIs(t, err, common.ErrProtocolViolation)
}

func TestWorkerRejectsStartedFromCoordinator(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	p := New(Config{Network: hub.Endpoint(1)})

	require.NoError(t, hub.Endpoint(0).Send(1, ipc.Empty(ipc.Started, 1)))
	assert.ErrorIs(t, p.Run(testContext(t)), common.ErrProtocolViolation)
}

func TestCoordinatorCountsEarlyDone(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	reaper := &countingReaper{}
	c := NewCoordinator(CoordinatorConfig{Network: hub.Endpoint(0), Reaper: reaper})

	require.NoError(t, hub.Endpoint(1).Send(0, ipc.Empty(ipc.Started, 1)))
	require.NoError(t, hub.Endpoint(1).Send(0, ipc.Empty(ipc.Done, 5)))
	require.NoError(t, hub.Endpoint(2).Send(0, ipc.Empty(ipc.Started, 1)))
	require.NoError(t, hub.Endpoint(2).Send(0, ipc.Empty(ipc.Done, 7)))

	require.NoError(t, c.Run(testContext(t)))
	assert.Equal(t, 1, reaper.calls)
}

func TestCoordinatorViolations(t *testing.T) {
	tests := []struct {
		name  string
		from  Pid
		msgs  []ipc.Message
		state string
	}{
		{"done before started", 1, []ipc.Message{ipc.Empty(ipc.Done, 1)}, "CollectingStarted"},
		{"critical section traffic", 1, []ipc.Message{ipc.Empty(ipc.CSRequest, 1)}, "CollectingStarted"},
		{"started twice", 2, []ipc.Message{ipc.Empty(ipc.Started, 1), ipc.Empty(ipc.Started, 2)}, "CollectingStarted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := transport.NewMemoryHub(3, 0)
			c := NewCoordinator(CoordinatorConfig{Network: hub.Endpoint(0)})
			for _, msg := range tt.msgs {
				require.NoError(t, hub.Endpoint(tt.from).Send(0, msg))
			}

			err := c.Run(testContext(t))
			var terr *TerminateError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.state, terr.State)
			assert.ErrorIs(t, err, common.ErrProtocolViolation)
		})
	}
}

func TestCoordinatorGivesUpOnSilentWorkers(t *testing.T) {
	hub := transport.NewMemoryHub(3, 0)
	c := NewCoordinator(CoordinatorConfig{Network: hub.Endpoint(0)})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
