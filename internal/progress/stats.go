package progress

import (
	"encoding/json"
	"time"
)

// Stats is a point-in-time view of a run.
type Stats struct {
	Processed        int64
	Total            int64 // 0 when unknown
	Percentage       float64
	RecordsPerSecond float64
	Batches          int64
	AvgBatchLatency  time.Duration
	Elapsed          time.Duration
	Resources        ResourceUsage
}

// ResourceUsage is passed through from the host process.
type ResourceUsage struct {
	HeapUsedBytes  uint64
	HeapTotalBytes uint64
	SysBytes       uint64
	MaxRSSBytes    uint64
	CPUUser        time.Duration
	CPUSystem      time.Duration
}

type statsJSON struct {
	RPS float64 `json:"rps"`
	DB  struct {
		AvgTimeMs float64 `json:"avgTimeMs"`
		Batches   int64   `json:"batches"`
	} `json:"db"`
	Records struct {
		Percentage float64 `json:"percentage"`
		Processed  int64   `json:"processed"`
		Total      int64   `json:"total"`
	} `json:"records"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	Memory         struct {
		HeapUsedMB  uint64 `json:"heapUsed"`
		HeapTotalMB uint64 `json:"heapTotal"`
		SysMB       uint64 `json:"sys"`
		MaxRSSMB    uint64 `json:"maxRss"`
	} `json:"memory"`
	CPU struct {
		UserMicros   int64 `json:"user"`
		SystemMicros int64 `json:"system"`
	} `json:"cpu"`
}

const mb = 1024 * 1024

// MarshalJSON renders the shape served on /stats.
func (s Stats) MarshalJSON() ([]byte, error) {
	var v statsJSON
	v.RPS = s.RecordsPerSecond
	v.DB.AvgTimeMs = float64(s.AvgBatchLatency.Round(time.Millisecond).Milliseconds())
	v.DB.Batches = s.Batches
	v.Records.Percentage = s.Percentage
	v.Records.Processed = s.Processed
	v.Records.Total = s.Total
	v.ElapsedSeconds = round2(s.Elapsed.Seconds())
	v.Memory.HeapUsedMB = s.Resources.HeapUsedBytes / mb
	v.Memory.HeapTotalMB = s.Resources.HeapTotalBytes / mb
	v.Memory.SysMB = s.Resources.SysBytes / mb
	v.Memory.MaxRSSMB = s.Resources.MaxRSSBytes / mb
	v.CPU.UserMicros = s.Resources.CPUUser.Microseconds()
	v.CPU.SystemMicros = s.Resources.CPUSystem.Microseconds()
	return json.Marshal(v)
}
