//go:build unix && !linux

package engine

import "os"

// Memory is reported as absent where procfs is unavailable and
// Maxrss units differ between kernels.
func sampleRSSBytes(pid int) (int64, bool) {
	return 0, false
}

func rusagePeakBytes(state *os.ProcessState) (int64, bool) {
	return 0, false
}
