package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/config"
	"github.com/example/business-ledger/pkg/audit"
)

var quietLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Database.Driver = "sqlite3"
	cfg.Database.URL = filepath.Join(dir, "ledger.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.AuditLogFile = filepath.Join(dir, "audit.log")
	cfg.Webhook.PollInterval = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenStorageUnknownDriver(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.Database{Driver: "mysql", URL: "x", MaxConns: 1})
	assert.Error(t, err)
}

func TestStorageMigrateIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := OpenStorage(ctx, cfg.Database)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx, quietLogger))
	require.NoError(t, s.Migrate(ctx, quietLogger))
	require.NoError(t, s.Ledger.Ping(ctx))
}

func TestRuntimeServesAndAudits(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	rt, err := NewRuntime(ctx, cfg, quietLogger)
	require.NoError(t, err)

	key, _, err := auth.Issue(ctx, rt.storage.Keys, "Acme")
	require.NoError(t, err)

	srv := httptest.NewServer(rt.httpServer.Handler)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"account_name": "Main"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/accounts", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rt.Close()

	f, err := os.Open(cfg.AuditLogFile)
	require.NoError(t, err)
	defer f.Close()
	entries, err := audit.ReadEntries(f)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, audit.VerifyChain(entries))
	assert.Contains(t, entries[0].Payload, "path=/api/v1/accounts status=201")
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)

	rt, err := NewRuntime(context.Background(), cfg, quietLogger)
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
