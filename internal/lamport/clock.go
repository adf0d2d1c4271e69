package lamport

// Clock is an interface for Lamport logical clocks
type Clock interface {
	// Time is a getter for the current Lamport time value
	Time() Time
	// Tick increments the Lamport time, returning the new value
	Tick() Time
	// Observe is called to move the local time forward, if necessary,
	// after witnessing a clock value from another process
	Observe(remote Time)
}
