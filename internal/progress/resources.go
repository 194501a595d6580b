package progress

import "runtime"

// ReadResourceUsage samples the Go heap and, where the platform supports it, process CPU time.
func ReadResourceUsage() ResourceUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := ResourceUsage{
		HeapUsedBytes:  ms.HeapAlloc,
		HeapTotalBytes: ms.HeapSys,
		SysBytes:       ms.Sys,
	}
	readRusage(&usage)
	return usage
}
