package fabric

import (
	"fmt"
	"strings"

	"pipemesh/internal/common"
)

// Layout renders the arena of a mesh of n peers: which route each channel
// carries and which channels every peer keeps after discarding the others.
func Layout(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mesh of %d peers, %d channels\n", n, Size(n))
	b.WriteString("chan  route\n")
	for src := 0; src < n; src++ {
		for dst := 0; dst < n; dst++ {
			if src == dst {
				continue
			}
			fmt.Fprintf(&b, "%4d  %v -> %v\n", Index(n, common.Pid(src), common.Pid(dst)), common.Pid(src), common.Pid(dst))
		}
	}

	for self := 0; self < n; self++ {
		var writes, reads []string
		for _, other := range common.Peers(n, common.Pid(self)) {
			writes = append(writes, fmt.Sprint(Index(n, common.Pid(self), other)))
			reads = append(reads, fmt.Sprint(Index(n, other, common.Pid(self))))
		}
		fmt.Fprintf(&b, "%v writes %s reads %s\n", common.Pid(self), strings.Join(writes, " "), strings.Join(reads, " "))
	}
	return b.String()
}
