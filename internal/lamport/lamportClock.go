package lamport

// LamportClock is the clock of a single peer. It is not safe for concurrent
// use: it belongs to the control flow of the peer that owns it.
type LamportClock struct {
	time Time
}

// NewLamportClock creates a new Clock starting at time 0.
func NewLamportClock() *LamportClock {
	return &LamportClock{}
}

func (c *LamportClock) Time() Time {
	return c.time
}

func (c *LamportClock) Tick() Time {
	c.time++
	return c.time
}

func (c *LamportClock) Observe(remote Time) {
	c.time = max(c.time, remote)
}

// Witness applies the receive rule: observe the remote time, then tick.
// The returned time is strictly greater than both the previous local time
// and the remote one.
func Witness(c Clock, remote Time) Time {
	c.Observe(remote)
	return c.Tick()
}
