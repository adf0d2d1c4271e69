package launcher

import (
	"fmt"
	"io"
	"os"

	"pipemesh/internal/common"
	"pipemesh/internal/logging"
)

// runLogs are the log sinks of one process of a run.
type runLogs struct {
	eventsFile *logging.LogFile
	pipesFile  *logging.LogFile
	events     *logging.EventLog
	pipes      *logging.PipeLog
	level      logging.LogLevel
	stderr     io.Writer
}

// openRunLogs opens the events and pipes logs. The launcher truncates them
// once, workers append.
func openRunLogs(eventsPath, pipesPath string, truncate bool, stdout, stderr io.Writer, verbose bool) (*runLogs, error) {
	open := logging.OpenLogFile
	if truncate {
		open = logging.CreateLogFile
	}

	eventsFile, err := open(eventsPath)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}
	pipesFile, err := open(pipesPath)
	if err != nil {
		eventsFile.Close()
		return nil, fmt.Errorf("open pipes log: %w", err)
	}

	level := logging.WARN
	if verbose {
		level = logging.INFO
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	return &runLogs{
		eventsFile: eventsFile,
		pipesFile:  pipesFile,
		events:     logging.NewEventLog(stdout, eventsFile),
		pipes:      logging.NewPipeLog(pipesFile),
		level:      level,
		stderr:     stderr,
	}, nil
}

func (l *runLogs) logger(pid common.Pid) *logging.Logger {
	return logging.NewLogger(l.stderr, nil, pid.String()).WithLogLevel(l.level)
}

func (l *runLogs) Close() {
	l.eventsFile.Close()
	l.pipesFile.Close()
}
