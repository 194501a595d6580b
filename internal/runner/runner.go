// Package runner assembles and runs one ingestion: it opens the input and the sink, starts the
// progress reporter and the HTTP surface, runs the pipeline and tears everything down again.
package runner

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/ingest"
	"github.com/file-ingester/internal/metrics"
	"github.com/file-ingester/internal/progress"
	"github.com/file-ingester/internal/server"
	"github.com/file-ingester/internal/sink"
	"github.com/file-ingester/internal/source"
)

// Options carries what the configuration does not.
type Options struct {
	// Out receives the progress line and the summary table. Nil disables both.
	Out io.Writer
	// RunID identifies the run in logs and stored rows; generated when empty.
	RunID string
	// OpenSink replaces sink.Open, mainly for tests.
	OpenSink func(ctx context.Context, cfg config.DBConfig, runID string) (sink.Sink, error)
}

// Run ingests cfg.File.Path into the configured sink. It returns once the pipeline has finished
// and, when cfg.Server.KeepAlive is set, ctx has been cancelled as well.
func Run(ctx context.Context, cfg *config.Config, opts Options) (stats ingest.RunStats, err error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	openSink := opts.OpenSink
	if openSink == nil {
		openSink = sink.Open
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	logger := log.WithField("run", runID)
	logger.WithFields(log.Fields{
		"file":      cfg.File.Path,
		"backend":   cfg.DB.Backend,
		"batchSize": cfg.Processing.BatchSize,
	}).Info("Preparing ingestion")

	var total int64
	if cfg.Metrics.PrecountLines {
		total, err = source.CountRecords(ctx, cfg.File.Path)
		if err != nil {
			return stats, err
		}
		logger.WithField("total", total).Info("Pre-counted input lines")
	}

	lines, err := source.Open(cfg.File.Path)
	if err != nil {
		return stats, err
	}
	defer lines.Close()

	recordSink, err := openSink(ctx, cfg.DB, runID)
	if err != nil {
		return stats, err
	}
	defer func() {
		if closeErr := recordSink.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close sink")
			err = multierror.Append(err, errors.WithMessage(closeErr, "closing sink"))
		}
	}()

	tracker := progress.NewTracker()
	pipeline := ingest.NewPipeline(ingest.Config{
		BatchSize:     cfg.Processing.BatchSize,
		TotalExpected: total,
		RunID:         runID,
	}, lines, recordSink, tracker)

	g, gctx := errgroup.WithContext(ctx)
	reportCtx, stopReporter := context.WithCancel(gctx)
	defer stopReporter()
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.Server.Enabled {
		checker := server.NewMultiChecker(server.CheckerFunc(recordSink.Ping))
		srv := server.New(cfg.Server.Port, checker, tracker, metrics.NewRegistry(tracker))
		g.Go(func() error {
			// The HTTP surface is optional; losing it must not stop the ingestion.
			if err := srv.Run(serverCtx); err != nil {
				logger.WithError(err).Warn("HTTP server unavailable, continuing without it")
			}
			return nil
		})
	}
	g.Go(func() error {
		progress.Run(reportCtx, tracker, cfg.Metrics.Interval, out)
		return nil
	})
	g.Go(func() error {
		var runErr error
		stats, runErr = pipeline.Run(gctx)
		stopReporter()
		if runErr == nil && cfg.Server.Enabled && cfg.Server.KeepAlive {
			logger.Info("Ingestion complete, server stays up until interrupted")
			return nil
		}
		stopServer()
		return runErr
	})

	err = g.Wait()
	// The reporter has drawn its final line by now.
	stats.WriteSummary(out)
	return stats, err
}
