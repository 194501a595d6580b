// Package metrics exposes the progress of a run as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/file-ingester/internal/progress"
)

const namespace = "ingester"

var (
	processedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "records_processed_total"),
		"Lines handed to the parser in the current run.", nil, nil)
	totalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "records_expected"),
		"Pre-counted number of lines in the input, 0 when unknown.", nil, nil)
	percentageDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "progress_percent"),
		"Percentage of the input processed.", nil, nil)
	rpsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "records_per_second"),
		"Throughput since the start of the run.", nil, nil)
	batchesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "batches_total"),
		"Batches handed to the sink.", nil, nil)
	batchLatencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "batch_latency_avg_seconds"),
		"Average time spent writing one batch.", nil, nil)
	elapsedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "run_elapsed_seconds"),
		"Wall clock time since the run started.", nil, nil)
)

// Collector reads one tracker snapshot per scrape.
type Collector struct {
	tracker progress.Snapshotter
}

func NewCollector(tracker progress.Snapshotter) *Collector {
	return &Collector{tracker: tracker}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- processedDesc
	ch <- totalDesc
	ch <- percentageDesc
	ch <- rpsDesc
	ch <- batchesDesc
	ch <- batchLatencyDesc
	ch <- elapsedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.tracker.Snapshot()
	ch <- prometheus.MustNewConstMetric(processedDesc, prometheus.CounterValue, float64(s.Processed))
	ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(percentageDesc, prometheus.GaugeValue, s.Percentage)
	ch <- prometheus.MustNewConstMetric(rpsDesc, prometheus.GaugeValue, s.RecordsPerSecond)
	ch <- prometheus.MustNewConstMetric(batchesDesc, prometheus.CounterValue, float64(s.Batches))
	ch <- prometheus.MustNewConstMetric(batchLatencyDesc, prometheus.GaugeValue, s.AvgBatchLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(elapsedDesc, prometheus.GaugeValue, s.Elapsed.Seconds())
}

// NewRegistry returns a registry holding the run collector plus the Go runtime and process
// collectors, which cover memory and CPU usage.
func NewRegistry(tracker progress.Snapshotter) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(tracker),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
