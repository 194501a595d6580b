// Package ingest wires a line source, the record parser and a sink into one ingestion run.
//
// A run reads lines strictly in order, parses each one, accumulates valid records into batches of
// BatchSize and hands every full batch to the sink before reading further. Bad lines are counted
// and logged but never stop the run; a sink failure does.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
	"github.com/file-ingester/internal/parser"
)

const DefaultBatchSize = 1000

// ErrAlreadyRun is returned when Run is called on a pipeline that has already been started.
var ErrAlreadyRun = errors.New("pipeline has already been run")

// Sink durably stores a batch. The whole batch is stored or the call fails.
type Sink interface {
	SaveBatch(ctx context.Context, records []model.ClientRecord) error
}

// LineSource yields non-blank lines and io.EOF once exhausted.
type LineSource interface {
	Next(ctx context.Context) (model.RawLine, error)
}

// Tracker is notified of every stage transition of the run.
type Tracker interface {
	Start(totalExpected int64)
	UpdateProgress(processed int64)
	StartBatch()
	EndBatch()
	Stop()
}

type ParseFunc func(line string) (model.ClientRecord, error)

type Config struct {
	BatchSize int
	// TotalExpected is the pre-counted number of lines, or 0 when unknown.
	TotalExpected int64
	RunID         string
}

type Pipeline struct {
	source  LineSource
	sink    Sink
	tracker Tracker
	parse   ParseFunc
	config  Config
	log     *log.Entry
	state   atomic.Int32
	stats   RunStats
}

func NewPipeline(config Config, source LineSource, sink Sink, tracker Tracker) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	logger := log.NewEntry(log.StandardLogger())
	if config.RunID != "" {
		logger = logger.WithField("run", config.RunID)
	}
	return &Pipeline{
		source:  source,
		sink:    sink,
		tracker: tracker,
		parse:   parser.Parse,
		config:  config,
		log:     logger,
	}
}

// WithParser replaces the line parser. Errors that are not *parser.ValidationError are treated as
// unexpected.
func (p *Pipeline) WithParser(parse ParseFunc) *Pipeline {
	p.parse = parse
	return p
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run processes the source until it is exhausted, ctx is cancelled or the sink fails. The returned
// stats are always populated, including on error. When ctx is cancelled the records accumulated
// since the last flush are dropped; a flush already in progress is allowed to finish.
func (p *Pipeline) Run(ctx context.Context) (stats RunStats, err error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return RunStats{}, ErrAlreadyRun
	}

	p.stats = RunStats{RunID: p.config.RunID, StartedAt: time.Now()}
	p.tracker.Start(p.config.TotalExpected)
	p.log.WithField("batchSize", p.config.BatchSize).Info("Starting ingestion")

	defer func() {
		p.tracker.Stop()
		p.stats.FinishedAt = time.Now()
		p.stats.Elapsed = p.stats.FinishedAt.Sub(p.stats.StartedAt)
		p.state.Store(int32(StateTerminated))
		stats = p.stats
		p.logSummary(stats, err)
	}()

	batcher := NewBatcher[model.ClientRecord](p.config.BatchSize, p.flush)
	for {
		line, err := p.source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return p.stats, p.interrupted(ctx, batcher.Len())
			}
			return p.stats, errors.WithMessage(err, "reading input")
		}

		p.stats.LinesRead++
		record, err := p.handle(line)
		p.tracker.UpdateProgress(p.stats.LinesRead)
		if err != nil {
			p.stats.Failed++
			p.logRecordError(line, err)
			continue
		}
		p.stats.Succeeded++
		if ctx.Err() != nil {
			return p.stats, p.interrupted(ctx, batcher.Len()+1)
		}
		if err := batcher.Add(ctx, record); err != nil {
			return p.stats, err
		}
	}

	p.state.Store(int32(StateDraining))
	if err := batcher.Flush(ctx); err != nil {
		return p.stats, err
	}
	return p.stats, nil
}

func (p *Pipeline) interrupted(ctx context.Context, pending int) error {
	p.log.WithField("pending", pending).Warn("Ingestion interrupted, unflushed records are discarded")
	return errors.Wrap(ctx.Err(), "ingestion interrupted")
}

// handle parses one line. Panics and non-validation errors become *UnexpectedRecordError so a
// single faulty record can never abort the run.
func (p *Pipeline) handle(line model.RawLine) (record model.ClientRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ingesterrors.UnexpectedRecordError{LineNumber: line.LineNumber, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if line.TooLong {
		return model.ClientRecord{}, &parser.ValidationError{
			Rule:    parser.RuleLineLength,
			Message: fmt.Sprintf("line is %d bytes, over the size limit", line.Length),
		}
	}
	record, err = p.parse(line.Text)
	if err != nil && ingesterrors.KindOf(err) != ingesterrors.KindValidation {
		err = &ingesterrors.UnexpectedRecordError{LineNumber: line.LineNumber, Err: err}
	}
	return record, err
}

func (p *Pipeline) flush(ctx context.Context, records []model.ClientRecord) error {
	batch := p.stats.Batches + 1
	p.tracker.StartBatch()
	start := time.Now()
	err := p.sink.SaveBatch(context.WithoutCancel(ctx), records)
	p.tracker.EndBatch()
	if err != nil {
		err = &ingesterrors.PersistenceError{Batch: batch, Records: len(records), Err: err}
		p.log.WithError(err).Error("Failed to persist batch")
		return err
	}
	p.stats.Batches++
	p.stats.Persisted += int64(len(records))
	p.log.WithFields(log.Fields{
		"batch":    batch,
		"records":  len(records),
		"duration": time.Since(start),
	}).Debug("Batch persisted")
	return nil
}

func (p *Pipeline) logRecordError(line model.RawLine, err error) {
	switch ingesterrors.KindOf(err) {
	case ingesterrors.KindValidation:
		var validationErr *parser.ValidationError
		errors.As(err, &validationErr)
		p.log.WithFields(log.Fields{
			"line": line.LineNumber,
			"rule": validationErr.Rule.String(),
			"raw":  line.Text,
		}).Warnf("Validation error: %v", err)
	default:
		p.log.WithError(err).WithFields(log.Fields{
			"line": line.LineNumber,
			"raw":  line.Text,
		}).Error("Unexpected error handling record")
	}
}

func (p *Pipeline) logSummary(stats RunStats, err error) {
	entry := p.log.WithFields(stats.Fields())
	if err != nil {
		entry.WithError(err).WithField("kind", ingesterrors.KindOf(err).String()).Error("Ingestion finished with errors")
		return
	}
	entry.Info("Ingestion finished")
}
