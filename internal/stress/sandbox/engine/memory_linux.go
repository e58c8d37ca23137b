//go:build linux

package engine

import (
	"os"
	"syscall"

	"github.com/prometheus/procfs"
)

func sampleRSSBytes(pid int) (int64, bool) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return 0, false
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, false
	}
	return int64(stat.ResidentMemory()), true
}

// Maxrss is reported in kilobytes on linux.
func rusagePeakBytes(state *os.ProcessState) (int64, bool) {
	if state == nil {
		return 0, false
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || usage == nil {
		return 0, false
	}
	return int64(usage.Maxrss) * 1024, true
}
