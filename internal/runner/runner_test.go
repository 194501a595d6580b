package runner

import (
	"bytes"
	"context"
	"database/sql"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/file-ingester/internal/clientgen"
	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
	"github.com/file-ingester/internal/sink"
)

func testConfig(t *testing.T, lines int, invalidRatio float64) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.dat")
	_, err := clientgen.GenerateFile(path, clientgen.Options{Lines: lines, InvalidRatio: invalidRatio, Seed: 1, BlankEvery: 50})
	require.NoError(t, err)

	return &config.Config{
		File:       config.FileConfig{Path: path},
		Processing: config.ProcessingConfig{BatchSize: 100},
		Metrics:    config.MetricsConfig{PrecountLines: true, Interval: 10 * time.Millisecond},
		Log:        config.LogConfig{Level: "info", Format: "text"},
		DB: config.DBConfig{
			Backend:    config.BackendSQLite,
			SQLitePath: filepath.Join(dir, "out.db"),
			Table:      "clients",
		},
	}
}

func TestRun_SQLite(t *testing.T) {
	cfg := testConfig(t, 1050, 0)
	var out bytes.Buffer

	stats, err := Run(context.Background(), cfg, Options{Out: &out, RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", stats.RunID)
	assert.Equal(t, int64(1050), stats.LinesRead)
	assert.Equal(t, int64(1050), stats.Succeeded)
	assert.Equal(t, 11, stats.Batches)
	assert.Equal(t, int64(1050), stats.Persisted)
	assert.Contains(t, out.String(), "Ingestion summary")
	assert.Contains(t, out.String(), "100.00%")

	db, err := sql.Open("sqlite", cfg.DB.SQLitePath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM clients WHERE run_id = 'run-1'`).Scan(&n))
	assert.Equal(t, 1050, n)
}

func TestRun_CountsInvalidLines(t *testing.T) {
	cfg := testConfig(t, 500, 0.2)
	cfg.DB.Backend = config.BackendDiscard

	stats, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(500), stats.LinesRead)
	assert.Greater(t, stats.Failed, int64(0))
	assert.Equal(t, stats.Succeeded, stats.Persisted)
}

func TestRun_MissingInput(t *testing.T) {
	cfg := testConfig(t, 1, 0)
	cfg.File.Path = filepath.Join(t.TempDir(), "missing.dat")
	cfg.Metrics.PrecountLines = false

	_, err := Run(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Equal(t, ingesterrors.KindInitialization, ingesterrors.KindOf(err))
	assert.Equal(t, 1, ingesterrors.ExitCode(err))
}

type failingSink struct {
	sink.Discard
	closed bool
}

func (f *failingSink) SaveBatch(context.Context, []model.ClientRecord) error {
	return errors.New("disk full")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestRun_PersistenceFailure(t *testing.T) {
	cfg := testConfig(t, 300, 0)
	fs := &failingSink{}

	stats, err := Run(context.Background(), cfg, Options{
		OpenSink: func(context.Context, config.DBConfig, string) (sink.Sink, error) { return fs, nil },
	})
	require.Error(t, err)
	assert.Equal(t, ingesterrors.KindPersistence, ingesterrors.KindOf(err))
	assert.Equal(t, 0, stats.Batches)
	assert.True(t, fs.closed)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRun_KeepAliveServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t, 10, 0)
	cfg.DB.Backend = config.BackendDiscard
	cfg.Server = config.ServerConfig{Enabled: true, Port: freePort(t), KeepAlive: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, cfg, Options{})
		done <- err
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port) + "/stats"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case <-done:
		t.Fatal("run returned before it was cancelled")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRun_PortInUseDoesNotStopIngestion(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t, 250, 0)
	cfg.Server = config.ServerConfig{Enabled: true, Port: busy.Addr().(*net.TCPAddr).Port}

	stats, err := Run(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.Persisted)
}

func TestRun_Interrupted(t *testing.T) {
	cfg := testConfig(t, 100, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, Options{})
	require.Error(t, err)
	assert.Equal(t, 130, ingesterrors.ExitCode(err))
}
