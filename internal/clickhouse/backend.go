package clickhouse

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
)

const (
	defaultPort = 9000
	dialTimeout = 10 * time.Second
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
	full_name String,
	national_id Int64,
	status LowCardinality(String),
	entry_date Date32,
	is_pep Bool,
	is_obligated_subject Nullable(Bool),
	created_at DateTime64(3),
	run_id String
) ENGINE = MergeTree
ORDER BY (national_id, created_at)`

// Sink appends batches of client records to a ClickHouse MergeTree table. A batch is sent as a
// single native INSERT block.
type Sink struct {
	conn  driver.Conn
	table string
	runID string
	now   func() time.Time
}

func New(ctx context.Context, cfg config.DBConfig, runID string) (*Sink, error) {
	conn, err := Open(ctx, cfg)
	if err != nil {
		return nil, &ingesterrors.InitializationError{Component: "clickhouse sink", Err: err}
	}
	table := QualifiedTable(cfg)
	if err := InitSchema(ctx, conn, cfg.Name, table); err != nil {
		conn.Close()
		return nil, &ingesterrors.InitializationError{Component: "clickhouse sink", Err: err}
	}
	return &Sink{conn: conn, table: table, runID: runID, now: time.Now}, nil
}

// Open connects to ClickHouse and pings it.
func Open(ctx context.Context, cfg config.DBConfig) (driver.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port(cfg.Port)))
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Name,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:  dialTimeout,
		MaxOpenConns: cfg.PoolSize,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.WithStack(err)
	}
	log.Infof("Connected to ClickHouse at %s", addr)
	return conn, nil
}

func port(p int) int {
	if p <= 0 {
		return defaultPort
	}
	return p
}

// QualifiedTable returns `database`.`table`.
func QualifiedTable(cfg config.DBConfig) string {
	if cfg.Name == "" {
		return quote(cfg.Table)
	}
	return quote(cfg.Name) + "." + quote(cfg.Table)
}

func quote(identifier string) string {
	escaped := make([]rune, 0, len(identifier)+2)
	escaped = append(escaped, '`')
	for _, r := range identifier {
		if r == '`' || r == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	return string(append(escaped, '`'))
}

// InitSchema creates the database and the client table if they do not exist.
func InitSchema(ctx context.Context, conn driver.Conn, database, table string) error {
	if database != "" {
		if err := conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quote(database)); err != nil {
			return errors.Wrapf(err, "creating database %s", database)
		}
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTableSQL, table)); err != nil {
		return errors.Wrapf(err, "creating table %s", table)
	}
	log.Infof("Table %s ready (ClickHouse)", table)
	return nil
}

// SaveBatch sends records as one block. Append is all or nothing: on any error the batch is
// aborted and nothing is inserted.
func (s *Sink) SaveBatch(ctx context.Context, records []model.ClientRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	createdAt := s.now().UTC()
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return errors.WithStack(err)
	}
	for i := range records {
		if err := batch.Append(row(records[i], createdAt, s.runID)...); err != nil {
			_ = batch.Abort()
			return errors.Wrapf(err, "appending record %d of batch", i)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.WithStack(err)
	}
	log.WithFields(log.Fields{"records": len(records), "duration": time.Since(start)}).Debug("Batch committed (ClickHouse)")
	return nil
}

func row(r model.ClientRecord, createdAt time.Time, runID string) []interface{} {
	return []interface{}{
		r.FullName,
		r.NationalID,
		string(r.Status),
		r.EntryDate,
		r.IsPoliticallyExposed,
		r.IsObligatedSubject,
		createdAt,
		runID,
	}
}

func (s *Sink) Ping(ctx context.Context) error {
	return errors.WithStack(s.conn.Ping(ctx))
}

func (s *Sink) Close() error {
	return s.conn.Close()
}
