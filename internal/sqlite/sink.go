// Package sqlite stores client records in a local SQLite database file. It needs no server and
// backs dry runs that should still leave an inspectable result behind.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
)

const (
	dateLayout = "2006-01-02"
	// Bound parameters per statement stay well under SQLITE_MAX_VARIABLE_NUMBER.
	rowsPerStatement = 500
	retryDelay       = 50 * time.Millisecond
)

var dialect = goqu.Dialect("sqlite3")

var columns = []interface{}{
	"full_name", "national_id", "status", "entry_date", "is_pep", "is_obligated_subject", "created_at", "run_id",
}

type Sink struct {
	db         *sql.DB
	table      string
	runID      string
	maxRetries int
	now        func() time.Time
}

// New opens (creating if needed) the database at path and ensures the table exists.
func New(ctx context.Context, path, table, runID string, maxRetries int) (*Sink, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, &ingesterrors.InitializationError{Component: "sqlite sink", Err: err}
	}
	if err := InitSchema(ctx, db, table); err != nil {
		db.Close()
		return nil, &ingesterrors.InitializationError{Component: "sqlite sink", Err: err}
	}
	return &Sink{db: db, table: table, runID: runID, maxRetries: maxRetries, now: time.Now}, nil
}

func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating directory for %s", path)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %s", path)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "executing %s", pragma)
		}
	}
	return db, nil
}

func InitSchema(ctx context.Context, db *sql.DB, table string) error {
	quoted := quote(table)
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+quoted+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		national_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		is_pep INTEGER NOT NULL,
		is_obligated_subject INTEGER,
		created_at TEXT NOT NULL,
		run_id TEXT NOT NULL)`)
	if err != nil {
		return errors.Wrapf(err, "creating table %s", table)
	}
	log.Infof("Table %s ready (SQLite)", table)
	return nil
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// SaveBatch inserts records inside a single transaction. Busy or locked database errors are
// retried up to maxRetries times.
func (s *Sink) SaveBatch(ctx context.Context, records []model.ClientRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	createdAt := s.now().UTC()
	statements, err := s.insertStatements(records, createdAt)
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error { return s.exec(ctx, statements) },
		retry.Context(ctx),
		retry.Attempts(uint(s.maxRetries+1)),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
	)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"records": len(records), "duration": time.Since(start)}).Debug("Batch committed (SQLite)")
	return nil
}

type statement struct {
	sql  string
	args []interface{}
}

func (s *Sink) insertStatements(records []model.ClientRecord, createdAt time.Time) ([]statement, error) {
	var statements []statement
	for lo := 0; lo < len(records); lo += rowsPerStatement {
		hi := lo + rowsPerStatement
		if hi > len(records) {
			hi = len(records)
		}
		insert := dialect.Insert(s.table).Cols(columns...).Prepared(true)
		for _, r := range records[lo:hi] {
			insert = insert.Vals(row(r, createdAt, s.runID))
		}
		query, args, err := insert.ToSQL()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		statements = append(statements, statement{sql: query, args: args})
	}
	return statements, nil
}

func (s *Sink) exec(ctx context.Context, statements []statement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, st := range statements {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			_ = tx.Rollback()
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(tx.Commit())
}

func row(r model.ClientRecord, createdAt time.Time, runID string) goqu.Vals {
	var obligated interface{}
	if r.IsObligatedSubject != nil {
		obligated = *r.IsObligatedSubject
	}
	return goqu.Vals{
		r.FullName,
		r.NationalID,
		string(r.Status),
		r.EntryDate.Format(dateLayout),
		r.IsPoliticallyExposed,
		obligated,
		createdAt.Format(time.RFC3339Nano),
		runID,
	}
}

// IsRetryable reports whether err is a transient SQLITE_BUSY or SQLITE_LOCKED condition.
func IsRetryable(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func (s *Sink) Ping(ctx context.Context) error {
	return errors.WithStack(s.db.PingContext(ctx))
}

func (s *Sink) Close() error {
	return s.db.Close()
}
