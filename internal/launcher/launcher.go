// Package launcher turns a configuration into a run: it builds the fabric,
// spawns the workers, plays the coordinator and reports how it all ended.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"pipemesh/internal/common"
	"pipemesh/internal/config"
	"pipemesh/internal/fabric"
	"pipemesh/internal/peer"
	"pipemesh/internal/tracestore"
	"pipemesh/internal/transport"
)

// Options tune a run beyond its configuration. The zero value is usable.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer

	// Build allocates the fabric; fabric.Build when nil.
	Build func(n int) (*fabric.Fabric, error)

	// Executable is the binary re-executed for process workers; the running
	// one when empty. Env is appended to the environment of the workers.
	Executable string
	Env        []string

	// RunID keys the trace of the run; a fresh UUIDv7 when empty.
	RunID string
}

// Run executes a whole run and returns once every worker was reaped. The
// error aggregates every failure: a *config.Error if nothing was started,
// a *fabric.ConstructionError if the fabric could not be built, otherwise
// the coordinator's and the workers' errors.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	build := opts.Build
	if build == nil {
		build = fabric.Build
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stdout, stderr = shareWriter(stdout), shareWriter(stderr)

	logs, err := openRunLogs(cfg.EventsLog, cfg.PipesLog, true, stdout, stderr, cfg.Verbose)
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.logger(common.Coordinator)
	log.Infof("Run %s with %d workers in %s mode", runID, cfg.Procs, cfg.Mode)

	var recorder tracestore.Recorder
	var reader tracestore.Reader
	if cfg.TraceDB != "" {
		store, err := tracestore.Open(cfg.TraceDB)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder, reader = store, store
	} else if cfg.Mode == config.ModeTask {
		mem := tracestore.NewMemory()
		recorder, reader = mem, mem
	}

	f, err := build(cfg.Total())
	if err != nil {
		return err
	}
	// The coordinator keeps its own descriptors so the arena can be closed
	// once every worker holds a copy. They share open file descriptions with
	// the workers' ends, O_NONBLOCK included, so nothing may clear that flag.
	own, err := f.Clone(common.Coordinator)
	if err != nil {
		f.Close()
		return err
	}
	if err := own.DiscardForeign(common.Coordinator); err != nil {
		f.Close()
		own.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var spawner Spawner
	switch cfg.Mode {
	case config.ModeTask:
		spawner = newTaskSpawner(f, cfg, runID, logs, recorder, cancel)
	default:
		exe := opts.Executable
		if exe == "" {
			if exe, err = os.Executable(); err != nil {
				f.Close()
				own.Close()
				return fmt.Errorf("locate executable: %w", err)
			}
		}
		spawner = newProcessSpawner(f, cfg, runID, exe, opts.Env, stdout, stderr, cancel)
	}

	var result *multierror.Error
	for pid := 1; pid <= cfg.Procs; pid++ {
		if err := spawner.Spawn(ctx, common.Pid(pid)); err != nil {
			result = multierror.Append(result, err)
			cancel()
			break
		}
	}
	// Every worker holds its own copy of the arena by now.
	result = multierror.Append(result, f.Close())

	tr := transport.New(own, log.WithPostfix("transport"), logs.pipes)
	var coordinatorErr error
	if result.ErrorOrNil() == nil {
		coordinator := peer.NewCoordinator(peer.CoordinatorConfig{
			Network: tr,
			Fabric:  own,
			Log:     log,
			Events:  logs.events,
			Reaper:  spawner,
		})
		if coordinatorErr = coordinator.Run(ctx); coordinatorErr != nil {
			result = multierror.Append(result, coordinatorErr)
			cancel()
		}
	}
	// The coordinator reaps on success; a reaping failure is already in its error.
	if reapErr := spawner.Reap(ctx); reapErr != nil && !errors.Is(coordinatorErr, reapErr) {
		result = multierror.Append(result, reapErr)
	}
	tr.Close()

	if result.ErrorOrNil() == nil && cfg.Mutexl && reader != nil {
		result = multierror.Append(result, tracestore.Verify(context.Background(), reader, runID))
	}

	if err := result.ErrorOrNil(); err != nil {
		log.Errorf("Run %s failed: %v", runID, err)
		return err
	}
	log.Infof("Run %s succeeded", runID)
	return nil
}
