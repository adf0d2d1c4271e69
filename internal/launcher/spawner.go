package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"

	"pipemesh/internal/common"
	"pipemesh/internal/config"
	"pipemesh/internal/fabric"
	"pipemesh/internal/peer"
	"pipemesh/internal/tracestore"
	"pipemesh/internal/transport"
)

// WorkerError is the failure of one worker.
type WorkerError struct {
	Pid common.Pid
	Err error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %v: %v", e.Pid, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Spawner starts workers and waits for them. Reap may be called more than
// once and always returns the same result.
type Spawner interface {
	Spawn(ctx context.Context, pid common.Pid) error
	Reap(ctx context.Context) error
}

// reaper collects the outcome of every spawned worker. A failing worker
// triggers onFailure, which lets the launcher stop the others instead of
// leaving them waiting for it forever.
type reaper struct {
	results   chan error
	spawned   int
	onFailure func()

	once sync.Once
	err  error
}

func newReaper(workers int, onFailure func()) *reaper {
	return &reaper{
		results:   make(chan error, workers),
		onFailure: onFailure,
	}
}

func (r *reaper) started(pid common.Pid, wait func() error) {
	r.spawned++
	go func() {
		err := wait()
		if err != nil {
			err = &WorkerError{Pid: pid, Err: err}
			if r.onFailure != nil {
				r.onFailure()
			}
		}
		r.results <- err
	}()
}

func (r *reaper) Reap(context.Context) error {
	r.once.Do(func() {
		var result *multierror.Error
		for i := 0; i < r.spawned; i++ {
			result = multierror.Append(result, <-r.results)
		}
		r.err = result.ErrorOrNil()
	})
	return r.err
}

// TaskSpawner runs every worker as a goroutine of the launcher process. Each
// one works on its own copy of the fabric, as a forked child would.
type TaskSpawner struct {
	*reaper

	fabric   *fabric.Fabric
	cfg      *config.Config
	runID    string
	logs     *runLogs
	recorder tracestore.Recorder
}

func newTaskSpawner(f *fabric.Fabric, cfg *config.Config, runID string, logs *runLogs, rec tracestore.Recorder, onFailure func()) *TaskSpawner {
	return &TaskSpawner{
		reaper:   newReaper(cfg.Procs, onFailure),
		fabric:   f,
		cfg:      cfg,
		runID:    runID,
		logs:     logs,
		recorder: rec,
	}
}

func (s *TaskSpawner) Spawn(ctx context.Context, pid common.Pid) error {
	view, err := s.fabric.Clone(pid)
	if err != nil {
		return err
	}
	if err := view.DiscardForeign(pid); err != nil {
		view.Close()
		return err
	}

	log := s.logs.logger(pid)
	tr := transport.New(view, log.WithPostfix("transport"), s.logs.pipes)
	p := peer.New(peer.Config{
		Network:    tr,
		Fabric:     view,
		Log:        log,
		Events:     s.logs.events,
		Recorder:   s.recorder,
		RunID:      s.runID,
		Mutexl:     s.cfg.Mutexl,
		Iterations: s.cfg.Iterations(pid),
	})

	s.started(pid, func() error {
		defer tr.Close()
		return p.Run(ctx)
	})
	return nil
}

// ProcessSpawner runs every worker as a child process executing the hidden
// peer command. The whole arena is handed over through ExtraFiles; the child
// discards what it does not own.
type ProcessSpawner struct {
	*reaper

	fabric     *fabric.Fabric
	cfg        *config.Config
	runID      string
	executable string
	env        []string
	stdout     io.Writer
	stderr     io.Writer
}

func newProcessSpawner(f *fabric.Fabric, cfg *config.Config, runID, executable string, env []string, stdout, stderr io.Writer, onFailure func()) *ProcessSpawner {
	return &ProcessSpawner{
		reaper:     newReaper(cfg.Procs, onFailure),
		fabric:     f,
		cfg:        cfg,
		runID:      runID,
		executable: executable,
		env:        env,
		stdout:     stdout,
		stderr:     stderr,
	}
}

// FirstInheritedFD is the descriptor number of the first fabric end in a
// worker process, right after stdin, stdout and stderr.
const FirstInheritedFD = 3

// WorkerArgs returns the command line that makes the binary run worker pid.
func WorkerArgs(cfg *config.Config, pid common.Pid, runID string) []string {
	args := []string{
		"peer",
		"--id", strconv.Itoa(int(pid)),
		"-p", strconv.Itoa(cfg.Procs),
		"--run-id", runID,
		"--events-log", cfg.EventsLog,
		"--pipes-log", cfg.PipesLog,
		"--work-factor", strconv.Itoa(cfg.WorkFactor),
	}
	if cfg.Mutexl {
		args = append(args, "--mutexl")
	}
	if cfg.TraceDB != "" {
		args = append(args, "--trace-db", cfg.TraceDB)
	}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	return args
}

func (s *ProcessSpawner) Spawn(ctx context.Context, pid common.Pid) error {
	files, err := s.fabric.Files()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, s.executable, WorkerArgs(s.cfg, pid, s.runID)...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.ExtraFiles = files
	cmd.Env = append(os.Environ(), s.env...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %v: %w", pid, err)
	}

	s.started(pid, cmd.Wait)
	return nil
}

// syncWriter serializes the coordinator's output with the copies os/exec makes
// of worker output when the destination is not a file.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func shareWriter(w io.Writer) io.Writer {
	if _, ok := w.(*os.File); ok {
		return w
	}
	return &syncWriter{w: w}
}
