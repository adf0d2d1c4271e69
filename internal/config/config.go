// Package config holds the settings of a run: how many workers, whether
// they lock, how they are spawned and where the logs go.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pipemesh/internal/common"
)

// Mode selects how workers are spawned.
type Mode string

const (
	// ModeProcess runs every worker as a child OS process.
	ModeProcess Mode = "process"
	// ModeTask runs every worker as a goroutine with its own copy of the fabric.
	ModeTask Mode = "task"
)

// DefaultWorkFactor is the number of critical sections per unit of pid.
const DefaultWorkFactor = 5

// Config is the configuration of a run, as read from a YAML file and
// overridden by flags.
type Config struct {
	// Procs is the number of workers. The mesh holds Procs+1 peers.
	Procs      int    `yaml:"procs"`
	Mutexl     bool   `yaml:"mutexl"`
	Mode       Mode   `yaml:"mode"`
	EventsLog  string `yaml:"events_log"`
	PipesLog   string `yaml:"pipes_log"`
	TraceDB    string `yaml:"trace_db,omitempty"`
	WorkFactor int    `yaml:"work_factor"`
	Verbose    bool   `yaml:"verbose"`
}

// Error reports an invalid setting. No fabric is built for a configuration
// that fails validation.
type Error struct {
	Field  string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Default returns the configuration used when neither file nor flag says otherwise.
func Default() Config {
	return Config{
		Mode:       ModeProcess,
		EventsLog:  "events.log",
		PipesLog:   "pipes.log",
		WorkFactor: DefaultWorkFactor,
	}
}

// Load reads a YAML configuration file on top of the defaults. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if c.Procs < 1 || c.Procs > common.MaxWorkers {
		return &Error{Field: "proc_count", Value: c.Procs, Reason: fmt.Sprintf("must be in [1, %d]", common.MaxWorkers)}
	}
	if c.Mode != ModeProcess && c.Mode != ModeTask {
		return &Error{Field: "mode", Value: c.Mode, Reason: fmt.Sprintf("must be %q or %q", ModeProcess, ModeTask)}
	}
	if c.WorkFactor < 0 {
		return &Error{Field: "work_factor", Value: c.WorkFactor, Reason: "must not be negative"}
	}
	if c.EventsLog == "" || c.PipesLog == "" {
		return &Error{Field: "log path", Value: `""`, Reason: "events and pipes logs need a path"}
	}
	return nil
}

// Total returns the number of peers in the mesh, coordinator included.
func (c *Config) Total() int {
	return c.Procs + 1
}

// Iterations returns the number of critical sections the worker pid runs.
func (c *Config) Iterations(pid common.Pid) int {
	return c.WorkFactor * int(pid)
}
