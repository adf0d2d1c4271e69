package common

import "fmt"

// Pid identifies a peer in the mesh. Pids are dense in [0, total).
type Pid int

// Coordinator is the pid of the peer that launches the workers. It never
// contends for the critical section.
const Coordinator Pid = 0

// MaxWorkers is the largest number of worker peers a mesh may hold.
const MaxWorkers = 10

// IsCoordinator reports whether the pid is the coordinator's.
func (p Pid) IsCoordinator() bool {
	return p == Coordinator
}

func (p Pid) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// Peers returns every pid of a mesh of the given size, self excluded.
func Peers(total int, self Pid) []Pid {
	peers := make([]Pid, 0, total)
	for i := 0; i < total; i++ {
		if Pid(i) != self {
			peers = append(peers, Pid(i))
		}
	}
	return peers
}

// Workers returns every worker pid of a mesh of the given size, self excluded.
func Workers(total int, self Pid) []Pid {
	workers := make([]Pid, 0, total)
	for i := 1; i < total; i++ {
		if Pid(i) != self {
			workers = append(workers, Pid(i))
		}
	}
	return workers
}
