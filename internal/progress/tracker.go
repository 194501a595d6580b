package progress

import (
	"math"
	"sync/atomic"
	"time"
)

// Tracker holds the counters and timers of one ingestion run. The pipeline is the only writer;
// any number of goroutines may call Snapshot concurrently. Every field is an atomic so readers see
// a possibly stale but never torn value.
type Tracker struct {
	now   func() time.Time
	usage func() ResourceUsage

	total      atomic.Int64
	processed  atomic.Int64
	startedAt  atomic.Int64 // unix nanos, 0 until Start
	stoppedAt  atomic.Int64 // unix nanos, 0 until Stop
	batchStart atomic.Int64
	batchTime  atomic.Int64 // cumulative nanos spent in flushes
	batches    atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now, usage: ReadResourceUsage}
}

// Start resets the tracker. totalExpected is 0 when the total is unknown.
func (t *Tracker) Start(totalExpected int64) {
	t.total.Store(totalExpected)
	t.processed.Store(0)
	t.batchTime.Store(0)
	t.batches.Store(0)
	t.stoppedAt.Store(0)
	t.startedAt.Store(t.now().UnixNano())
}

func (t *Tracker) UpdateProgress(processed int64) {
	t.processed.Store(processed)
}

// StartBatch and EndBatch bracket one flush to the sink.
func (t *Tracker) StartBatch() {
	t.batchStart.Store(t.now().UnixNano())
}

func (t *Tracker) EndBatch() {
	elapsed := t.now().UnixNano() - t.batchStart.Load()
	t.batchTime.Add(elapsed)
	t.batches.Add(1)
}

// Stop freezes the elapsed time used for throughput.
func (t *Tracker) Stop() {
	t.stoppedAt.CompareAndSwap(0, t.now().UnixNano())
}

// Snapshot computes the derived metrics from the current counters.
func (t *Tracker) Snapshot() Stats {
	processed := t.processed.Load()
	total := t.total.Load()
	batches := t.batches.Load()
	batchTime := time.Duration(t.batchTime.Load())

	var elapsed time.Duration
	if started := t.startedAt.Load(); started != 0 {
		end := t.stoppedAt.Load()
		if end == 0 {
			end = t.now().UnixNano()
		}
		elapsed = time.Duration(end - started)
	}

	stats := Stats{
		Processed: processed,
		Total:     total,
		Batches:   batches,
		Elapsed:   elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.RecordsPerSecond = round2(float64(processed) / secs)
	}
	if total > 0 {
		stats.Percentage = round2(float64(processed) / float64(total) * 100)
	}
	if batches > 0 {
		stats.AvgBatchLatency = batchTime / time.Duration(batches)
	}
	if t.usage != nil {
		stats.Resources = t.usage()
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
