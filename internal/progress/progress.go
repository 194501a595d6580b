// Package progress tracks the counters of an ingestion run and periodically renders them.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	defaultInterval = 2 * time.Second
	barWidth        = 20
)

// Snapshotter is implemented by Tracker.
type Snapshotter interface {
	Snapshot() Stats
}

// Run redraws the progress line on w every interval until ctx is done, then draws it one last time
// followed by a newline.
func Run(ctx context.Context, tracker Snapshotter, interval time.Duration, w io.Writer) {
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\r"+FormatLine(tracker.Snapshot())+"\n")
			return
		case <-ticker.C:
		}
		fmt.Fprint(w, "\r"+FormatLine(tracker.Snapshot()))
	}
}

// FormatLine renders a single progress line.
func FormatLine(s Stats) string {
	total := "?"
	if s.Total > 0 {
		total = humanize.Comma(s.Total)
	}
	return fmt.Sprintf("Progress: %s %6.2f%% | %s/%s | RPS: %.2f | DB avg: %dms | Heap: %s",
		Bar(s.Percentage, barWidth),
		s.Percentage,
		humanize.Comma(s.Processed),
		total,
		s.RecordsPerSecond,
		s.AvgBatchLatency.Milliseconds(),
		humanize.IBytes(s.Resources.HeapUsedBytes),
	)
}

// Bar draws "[=====>..........]" for a percentage in [0, 100].
func Bar(percentage float64, width int) string {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	completed := int(float64(width)*percentage/100 + 0.5)
	remaining := width - completed
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.Repeat("=", completed))
	if remaining > 0 {
		b.WriteString(">")
		b.WriteString(strings.Repeat(".", remaining-1))
	}
	b.WriteString("]")
	return b.String()
}
