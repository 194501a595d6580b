//go:build unix

package progress

import (
	"runtime"
	"syscall"
	"time"
)

func readRusage(usage *ResourceUsage) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return
	}
	usage.CPUUser = time.Duration(ru.Utime.Nano())
	usage.CPUSystem = time.Duration(ru.Stime.Nano())
	// Maxrss is reported in bytes on darwin and kilobytes elsewhere.
	maxRSS := uint64(ru.Maxrss)
	if runtime.GOOS != "darwin" {
		maxRSS *= 1024
	}
	usage.MaxRSSBytes = maxRSS
}
