package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle of a Pipeline. A pipeline only ever moves forward through these states.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateDraining means the source is exhausted and the final partial batch is being flushed.
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RunStats is the outcome of a single run.
type RunStats struct {
	RunID string
	// LinesRead counts non-blank lines handed to the parser.
	LinesRead int64
	Succeeded int64
	Failed    int64
	// Batches and Persisted only count successful flushes.
	Batches    int
	Persisted  int64
	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration
}

// Pending is the number of valid records that were never persisted.
func (s RunStats) Pending() int64 {
	return s.Succeeded - s.Persisted
}

func (s RunStats) Fields() log.Fields {
	return log.Fields{
		"linesRead": s.LinesRead,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"batches":   s.Batches,
		"persisted": s.Persisted,
		"elapsed":   s.Elapsed.Round(time.Millisecond).String(),
	}
}

// WriteSummary renders the run outcome as a table.
func (s RunStats) WriteSummary(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Ingestion summary")
	tw.AppendHeader(table.Row{"Metric", "Value"})
	if s.RunID != "" {
		tw.AppendRow(table.Row{"Run", s.RunID})
	}
	tw.AppendRows([]table.Row{
		{"Lines read", humanize.Comma(s.LinesRead)},
		{"Succeeded", humanize.Comma(s.Succeeded)},
		{"Failed", humanize.Comma(s.Failed)},
		{"Batches", humanize.Comma(int64(s.Batches))},
		{"Persisted", humanize.Comma(s.Persisted)},
		{"Not persisted", humanize.Comma(s.Pending())},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	})
	if secs := s.Elapsed.Seconds(); secs > 0 {
		tw.AppendRow(table.Row{"Lines/s", fmt.Sprintf("%.2f", float64(s.LinesRead)/secs)})
	}
	tw.Render()
}
