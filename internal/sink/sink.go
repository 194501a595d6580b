// Package sink selects the record sink configured for a run.
package sink

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/file-ingester/internal/clickhouse"
	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
	"github.com/file-ingester/internal/postgres"
	"github.com/file-ingester/internal/sqlite"
)

// Sink is a record sink that can also be health checked and released.
type Sink interface {
	SaveBatch(ctx context.Context, records []model.ClientRecord) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Sink = (*postgres.Sink)(nil)
	_ Sink = (*clickhouse.Sink)(nil)
	_ Sink = (*sqlite.Sink)(nil)
	_ Sink = (*Discard)(nil)
)

// Open builds the sink named by cfg.Backend. Failures are *ingesterrors.InitializationError.
func Open(ctx context.Context, cfg config.DBConfig, runID string) (Sink, error) {
	var (
		s   Sink
		err error
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		s, err = postgres.New(ctx, cfg, runID)
	case config.BackendClickHouse:
		s, err = clickhouse.New(ctx, cfg, runID)
	case config.BackendSQLite:
		s, err = sqlite.New(ctx, cfg.SQLitePath, cfg.Table, runID, cfg.MaxRetries)
	case config.BackendDiscard:
		s = &Discard{}
	default:
		err = &ingesterrors.InitializationError{
			Component: "sink",
			Err:       errors.Errorf("unknown backend %q", cfg.Backend),
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Discard accepts every batch without storing it. It is used for dry runs.
type Discard struct {
	batches atomic.Int64
	records atomic.Int64
}

func (d *Discard) SaveBatch(ctx context.Context, records []model.ClientRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.batches.Add(1)
	d.records.Add(int64(len(records)))
	return nil
}

func (d *Discard) Batches() int64 { return d.batches.Load() }

func (d *Discard) Records() int64 { return d.records.Load() }

func (d *Discard) Ping(context.Context) error { return nil }

func (d *Discard) Close() error { return nil }
