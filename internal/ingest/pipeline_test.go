package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
	"github.com/file-ingester/internal/parser"
	"github.com/file-ingester/internal/source"
)

const validLine = "Maria|Gomez|45678901|Active|11/13/2021|true|false"

type recordingSink struct {
	mu       sync.Mutex
	batches  [][]model.ClientRecord
	failOn   int // 1-based batch index that fails, 0 never
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
	onSave   func()
}

func (s *recordingSink) SaveBatch(ctx context.Context, records []model.ClientRecord) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	if s.onSave != nil {
		s.onSave()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == len(s.batches)+1 {
		return errors.New("database unavailable")
	}
	s.batches = append(s.batches, append([]model.ClientRecord(nil), records...))
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

type countingTracker struct {
	started    atomic.Int64
	total      atomic.Int64
	processed  atomic.Int64
	batchStart atomic.Int64
	batchEnd   atomic.Int64
	stopped    atomic.Int64
}

func (t *countingTracker) Start(total int64) {
	t.started.Add(1)
	t.total.Store(total)
}
func (t *countingTracker) UpdateProgress(n int64) { t.processed.Store(n) }
func (t *countingTracker) StartBatch()            { t.batchStart.Add(1) }
func (t *countingTracker) EndBatch()              { t.batchEnd.Add(1) }
func (t *countingTracker) Stop()                  { t.stopped.Add(1) }

func lines(n int, line string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func newPipeline(input string, batchSize int, sink Sink, tracker Tracker) *Pipeline {
	return NewPipeline(Config{BatchSize: batchSize, RunID: "test"}, source.NewLineSource(strings.NewReader(input)), sink, tracker)
}

func TestPipeline_FlushesFullBatchesThenRemainder(t *testing.T) {
	sink := &recordingSink{}
	tracker := &countingTracker{}
	p := newPipeline(lines(2500, validLine), 1000, sink, tracker)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1000, 500}, sink.sizes())
	assert.Equal(t, int64(2500), stats.LinesRead)
	assert.Equal(t, int64(2500), stats.Succeeded)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, int64(2500), stats.Persisted)
	assert.Equal(t, int64(0), stats.Pending())
	assert.Equal(t, StateTerminated, p.State())

	assert.Equal(t, int64(1), tracker.started.Load())
	assert.Equal(t, int64(2500), tracker.processed.Load())
	assert.Equal(t, int64(3), tracker.batchStart.Load())
	assert.Equal(t, int64(3), tracker.batchEnd.Load())
	assert.Equal(t, int64(1), tracker.stopped.Load())
	assert.False(t, sink.overlap.Load())
}

func TestPipeline_ExactMultipleHasNoEmptyFlush(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(lines(6, validLine), 3, sink, &countingTracker{})

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, sink.sizes())
	assert.Equal(t, 2, stats.Batches)
}

func TestPipeline_NothingToPersist(t *testing.T) {
	tests := map[string]string{
		"empty file":        "",
		"only blank lines":  "\n\n   \r\n\t\n",
		"sole invalid line": "only|three|fields\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			tracker := &countingTracker{}
			p := newPipeline(input, 10, sink, tracker)

			stats, err := p.Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, sink.sizes())
			assert.Equal(t, 0, stats.Batches)
			assert.Equal(t, int64(0), stats.Succeeded)
			assert.Equal(t, int64(0), tracker.batchStart.Load())
			assert.Equal(t, int64(1), tracker.stopped.Load())
		})
	}
}

func TestPipeline_InvalidLinesAreCountedAndSkipped(t *testing.T) {
	input := validLine + "\n" +
		"A|B|abc|Active|01/15/2020|true|false\n" +
		"\n" +
		validLine + "\n" +
		"A|B|1|Pending|01/15/2020|true|false\n" +
		"A|B|1|Active|02/30/2020|true|false\n" +
		validLine + "\n"
	sink := &recordingSink{}
	p := newPipeline(input, 2, sink, &countingTracker{})

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.LinesRead)
	assert.Equal(t, int64(3), stats.Succeeded)
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, []int{2, 1}, sink.sizes())
	assert.Equal(t, stats.LinesRead, stats.Succeeded+stats.Failed)
}

func TestPipeline_PreservesOrder(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "CLIENT|%d|%d|Active|01/15/2020|true|false\n", i, i)
	}
	sink := &recordingSink{}
	_, err := newPipeline(b.String(), 3, sink, &countingTracker{}).Run(context.Background())
	require.NoError(t, err)

	var ids []int64
	for _, batch := range sink.batches {
		for _, r := range batch {
			ids = append(ids, r.NationalID)
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids)
}

func TestPipeline_PersistenceFailureIsFatal(t *testing.T) {
	sink := &recordingSink{failOn: 2}
	tracker := &countingTracker{}
	p := newPipeline(lines(10, validLine), 3, sink, tracker)

	stats, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ingesterrors.KindPersistence, ingesterrors.KindOf(err))

	var persistErr *ingesterrors.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, 2, persistErr.Batch)
	assert.Equal(t, 3, persistErr.Records)

	assert.Equal(t, []int{3}, sink.sizes())
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, int64(3), stats.Persisted)
	assert.Equal(t, int64(6), stats.LinesRead, "reading stops at the failed batch")
	assert.Equal(t, int64(2), tracker.batchEnd.Load())
	assert.Equal(t, int64(1), tracker.stopped.Load())
	assert.Equal(t, StateTerminated, p.State())
}

func TestPipeline_AtMostOneFlushInFlight(t *testing.T) {
	sink := &recordingSink{delay: time.Millisecond}
	_, err := newPipeline(lines(50, validLine), 5, sink, &countingTracker{}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.batches, 10)
	assert.False(t, sink.overlap.Load())
}

func TestPipeline_UnexpectedErrorsDoNotAbort(t *testing.T) {
	calls := 0
	p := newPipeline(lines(4, validLine), 10, &recordingSink{}, &countingTracker{}).
		WithParser(func(line string) (model.ClientRecord, error) {
			calls++
			switch calls {
			case 2:
				panic("corrupt state")
			case 3:
				return model.ClientRecord{}, errors.New("lookup failed")
			}
			return model.ClientRecord{FullName: "X"}, nil
		})

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(2), stats.Persisted)
}

func TestPipeline_CancellationDropsPartialBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	sink.onSave = cancel
	p := newPipeline(lines(10, validLine), 3, sink, &countingTracker{})

	stats, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ingesterrors.KindInterrupted, ingesterrors.KindOf(err))
	assert.Equal(t, 130, ingesterrors.ExitCode(err))

	// The flush that observed the cancel still completes.
	assert.Equal(t, []int{3}, sink.sizes())
	assert.Equal(t, int64(3), stats.Persisted)
	assert.Equal(t, StateTerminated, p.State())
}

func TestPipeline_FixtureLinesParse(t *testing.T) {
	_, err := parser.Parse(validLine)
	require.NoError(t, err)

	rules := map[string]parser.Rule{
		"A|B|abc|Active|01/15/2020|true|false": parser.RuleNationalID,
		"A|B|1|Pending|01/15/2020|true|false":  parser.RuleStatus,
		"A|B|1|Active|02/30/2020|true|false":   parser.RuleEntryDate,
	}
	for line, rule := range rules {
		_, err := parser.Parse(line)
		var validationErr *parser.ValidationError
		require.ErrorAs(t, err, &validationErr, line)
		assert.Equal(t, rule, validationErr.Rule, line)
	}
}

func TestPipeline_OverlongLineIsSkipped(t *testing.T) {
	input := validLine + "\n" + strings.Repeat("x", source.MaxLineSize+1) + "\n" + validLine + "\n"
	sink := &recordingSink{}
	p := newPipeline(input, 10, sink, &countingTracker{})

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.LinesRead)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, []int{2}, sink.sizes())
}

// cancellingSource cancels the run while handing out line n.
type cancellingSource struct {
	LineSource
	n      int
	read   int
	cancel context.CancelFunc
}

func (s *cancellingSource) Next(ctx context.Context) (model.RawLine, error) {
	line, err := s.LineSource.Next(ctx)
	s.read++
	if s.read == s.n {
		s.cancel()
	}
	return line, err
}

func TestPipeline_CancellationSkipsFurtherBatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lineSource := &cancellingSource{
		LineSource: source.NewLineSource(strings.NewReader(lines(10, validLine))),
		n:          6,
		cancel:     cancel,
	}
	sink := &recordingSink{}
	p := NewPipeline(Config{BatchSize: 3}, lineSource, sink, &countingTracker{})

	stats, err := p.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, ingesterrors.KindInterrupted, ingesterrors.KindOf(err))
	// Line 6 would complete the second batch; it is read but never flushed.
	assert.Equal(t, []int{3}, sink.sizes())
	assert.Equal(t, int64(3), stats.Persisted)
	assert.Equal(t, int64(6), stats.LinesRead)
}

func TestPipeline_RunsOnce(t *testing.T) {
	p := newPipeline(lines(1, validLine), 1, &recordingSink{}, &countingTracker{})
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

type failingSource struct{}

func (failingSource) Next(context.Context) (model.RawLine, error) {
	return model.RawLine{}, io.ErrUnexpectedEOF
}

func TestPipeline_SourceError(t *testing.T) {
	p := NewPipeline(Config{BatchSize: 1}, failingSource{}, &recordingSink{}, &countingTracker{})
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRunStats_WriteSummary(t *testing.T) {
	stats := RunStats{RunID: "abc", LinesRead: 2500, Succeeded: 2400, Failed: 100, Batches: 3, Persisted: 2400, Elapsed: 2 * time.Second}
	var buf bytes.Buffer
	stats.WriteSummary(&buf)

	out := buf.String()
	assert.Contains(t, out, "Ingestion summary")
	assert.Contains(t, out, "2,500")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "1250.00")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "State(9)", State(9).String())
}
