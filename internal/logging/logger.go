package logging

import (
	"fmt"
	"io"
	"sync"
)

// LogLevel describes the level of importance of a log message.
type LogLevel uint8

const (
	// INFO is the lowest logging level. Used for general information messages.
	INFO LogLevel = 1
	// WARN is important information that may indicate a problem.
	WARN LogLevel = 2
	// ERR is the highest logging level. Used for error messages.
	ERR LogLevel = 3
)

var levelNames = map[LogLevel]string{INFO: "INFO", WARN: "WARN", ERR: "ERROR"}

// Logger logs messages to a stream and/or a file.
type Logger struct {
	out      io.Writer
	mu       *sync.Mutex
	file     *LogFile
	name     string
	logLevel LogLevel
}

// NewLogger constructs and returns a new logger instance. out may be nil when
// only the file should be written.
func NewLogger(out io.Writer, file *LogFile, name string) *Logger {
	return &Logger{
		out:      out,
		mu:       &sync.Mutex{},
		file:     file,
		name:     name,
		logLevel: INFO,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLogger(nil, nil, "").WithLogLevel(ERR + 1)
}

// WithLogLevel returns a new logger with the same configuration, but with a filter on the log level: only messages of higher or equal level will be logged.
func (l *Logger) WithLogLevel(level LogLevel) *Logger {
	c := *l
	c.logLevel = level
	return &c
}

// WithPostfix returns a new logger with the same configuration, but with the given postfix appended to the name.
func (l *Logger) WithPostfix(postfix string) *Logger {
	c := *l
	c.name = fmt.Sprintf("%s|%s", l.name, postfix)
	return &c
}

func (l *Logger) log(level LogLevel, args ...interface{}) {
	if l.logLevel > level {
		return
	}
	s := fmt.Sprintf("[%s|%s] %s\n", levelNames[level], l.name, fmt.Sprint(args...))
	if l.file != nil {
		l.file.Print(s)
	}
	if l.out != nil {
		l.mu.Lock()
		io.WriteString(l.out, s)
		l.mu.Unlock()
	}
}

// Info logs a message with the INFO level.
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, args...)
}

// Infof logs a formatted message with the INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn logs a message with the WARN level.
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, args...)
}

// Warnf logs a formatted message with the WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error logs a message with the ERR level.
func (l *Logger) Error(args ...interface{}) {
	l.log(ERR, args...)
}

// Errorf logs a formatted message with the ERR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERR, fmt.Sprintf(format, args...))
}
