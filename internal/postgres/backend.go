package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
)

const (
	defaultPort = 5432
	retryDelay  = 200 * time.Millisecond
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGSERIAL PRIMARY KEY,
    full_name VARCHAR(100) NOT NULL,
    national_id BIGINT NOT NULL,
    status VARCHAR(10) NOT NULL,
    entry_date DATE NOT NULL,
    is_pep BOOLEAN NOT NULL,
    is_obligated_subject BOOLEAN,
    created_at TIMESTAMPTZ NOT NULL,
    run_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(national_id);
`

// Columns is the column order used by CopyFrom. It matches the values returned by row.
var Columns = []string{
	"full_name", "national_id", "status", "entry_date", "is_pep", "is_obligated_subject", "created_at", "run_id",
}

// Sink writes batches of client records to a PostgreSQL table. Every batch is copied inside its own
// transaction, so a batch is either fully visible or not at all.
type Sink struct {
	pool       *pgxpool.Pool
	table      string
	runID      string
	maxRetries int
	now        func() time.Time
}

// New creates the pool, checks connectivity and makes sure the target table exists.
func New(ctx context.Context, cfg config.DBConfig, runID string) (*Sink, error) {
	pool, err := CreatePool(ctx, cfg)
	if err != nil {
		return nil, &ingesterrors.InitializationError{Component: "postgres sink", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ingesterrors.InitializationError{Component: "postgres sink", Err: errors.WithStack(err)}
	}
	if err := InitSchema(ctx, pool, cfg.Table); err != nil {
		pool.Close()
		return nil, &ingesterrors.InitializationError{Component: "postgres sink", Err: err}
	}
	return &Sink{
		pool:       pool,
		table:      cfg.Table,
		runID:      runID,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
	}, nil
}

// CreatePool creates a pgx connection pool of cfg.PoolSize connections.
func CreatePool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	poolConfig.MaxConns = int32(cfg.PoolSize)
	log.Infof("Creating PostgreSQL connection pool at %s:%d (%d connections)", cfg.Host, port(cfg.Port), cfg.PoolSize)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	return pool, errors.WithStack(err)
}

// ConnString builds a postgres:// URL, escaping credentials.
func ConnString(cfg config.DBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port(cfg.Port))),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

func port(p int) int {
	if p <= 0 {
		return defaultPort
	}
	return p
}

// InitSchema creates the client table if it does not exist yet.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if _, err := pool.Exec(ctx, schemaSQL(table)); err != nil {
		var pgErr *pgconn.PgError
		// A concurrent run created it first.
		if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.DuplicateTable || pgErr.Code == pgerrcode.UniqueViolation) {
			return nil
		}
		return errors.Wrapf(err, "creating table %s", table)
	}
	log.Infof("Table %s ready (PostgreSQL)", table)
	return nil
}

func schemaSQL(table string) string {
	return fmt.Sprintf(createTableSQL, pgx.Identifier{table}.Sanitize(), pgx.Identifier{"idx_" + table + "_national_id"}.Sanitize())
}

// SaveBatch copies records into the table in a single transaction. Retryable failures (lost
// connections, serialization failures, server restarts) are retried up to maxRetries times. If the
// table was dropped since start up it is recreated once.
func (s *Sink) SaveBatch(ctx context.Context, records []model.ClientRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	createdAt := s.now().UTC()
	err := retry.Do(
		func() error {
			err := s.copyBatch(ctx, records, createdAt)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
				if err := InitSchema(ctx, s.pool, s.table); err != nil {
					return err
				}
				err = s.copyBatch(ctx, records, createdAt)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.maxRetries+1)),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("Retrying PostgreSQL batch")
		}),
	)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"records": len(records), "duration": time.Since(start)}).Debug("Batch committed (PostgreSQL)")
	return nil
}

func (s *Sink) copyBatch(ctx context.Context, records []model.ClientRecord, createdAt time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{s.table},
			Columns,
			pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
				return row(records[i], createdAt, s.runID), nil
			}),
		)
		if err != nil {
			return err
		}
		if n != int64(len(records)) {
			return errors.Errorf("copied %d of %d records", n, len(records))
		}
		return nil
	})
	return errors.WithStack(err)
}

func row(r model.ClientRecord, createdAt time.Time, runID string) []interface{} {
	var obligated interface{}
	if r.IsObligatedSubject != nil {
		obligated = *r.IsObligatedSubject
	}
	return []interface{}{
		r.FullName,
		r.NationalID,
		string(r.Status),
		r.EntryDate,
		r.IsPoliticallyExposed,
		obligated,
		createdAt,
		runID,
	}
}

// IsRetryable reports whether a failed batch may succeed if written again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func (s *Sink) Ping(ctx context.Context) error {
	return errors.WithStack(s.pool.Ping(ctx))
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}
