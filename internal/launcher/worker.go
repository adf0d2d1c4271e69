package launcher

import (
	"context"
	"fmt"
	"io"

	"pipemesh/internal/common"
	"pipemesh/internal/config"
	"pipemesh/internal/fabric"
	"pipemesh/internal/peer"
	"pipemesh/internal/tracestore"
	"pipemesh/internal/transport"
)

// RunWorker is the body of a worker process: it adopts the arena inherited
// from the launcher, keeps its own ends and runs the worker lifecycle.
func RunWorker(ctx context.Context, cfg *config.Config, pid common.Pid, runID string, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if pid < 1 || int(pid) > cfg.Procs {
		return &config.Error{Field: "worker id", Value: int(pid), Reason: fmt.Sprintf("must be in [1, %d]", cfg.Procs)}
	}

	f, err := fabric.Inherit(cfg.Total(), pid, FirstInheritedFD)
	if err != nil {
		return err
	}
	if err := f.DiscardForeign(pid); err != nil {
		f.Close()
		return err
	}

	logs, err := openRunLogs(cfg.EventsLog, cfg.PipesLog, false, stdout, stderr, cfg.Verbose)
	if err != nil {
		f.Close()
		return err
	}
	defer logs.Close()
	log := logs.logger(pid)

	var recorder tracestore.Recorder
	if cfg.TraceDB != "" {
		store, err := tracestore.Open(cfg.TraceDB)
		if err != nil {
			f.Close()
			return err
		}
		defer store.Close()
		recorder = store
	}

	tr := transport.New(f, log.WithPostfix("transport"), logs.pipes)
	defer tr.Close()

	p := peer.New(peer.Config{
		Network:    tr,
		Fabric:     f,
		Log:        log,
		Events:     logs.events,
		Recorder:   recorder,
		RunID:      runID,
		Mutexl:     cfg.Mutexl,
		Iterations: cfg.Iterations(pid),
	})
	return p.Run(ctx)
}
