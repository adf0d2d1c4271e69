package logging

import (
	"os"
	"sync"
)

// LogFile describes a file that can be written to by a logger. Writes are
// queued and flushed by a single goroutine, so a LogFile may be shared by
// every peer task of a process.
type LogFile struct {
	channel chan string
	file    *os.File
	done    chan struct{}
	once    sync.Once
}

// CreateLogFile truncates (or creates) the file at path and opens it for appending.
func CreateLogFile(path string) (*LogFile, error) {
	return openLogFile(path, os.O_TRUNC)
}

// OpenLogFile opens the file at path for appending, creating it if needed.
// Several processes may append to the same file.
func OpenLogFile(path string) (*LogFile, error) {
	return openLogFile(path, 0)
}

func openLogFile(path string, extra int) (*LogFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|extra, 0644)
	if err != nil {
		return nil, err
	}

	lf := &LogFile{
		channel: make(chan string, 100),
		file:    file,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(lf.done)
		defer file.Close()
		for s := range lf.channel {
			lf.file.WriteString(s)
		}
	}()

	return lf, nil
}

// Print writes a string to the log file.
func (lf *LogFile) Print(s string) {
	lf.channel <- s
}

// Close flushes every pending line and closes the file.
func (lf *LogFile) Close() {
	lf.once.Do(func() { close(lf.channel) })
	<-lf.done
}
