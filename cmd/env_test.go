package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/townmap/internal/config"
	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/store"
	"github.com/sells-group/townmap/internal/syncer"
)

func testConfig(t *testing.T, sheetURL string) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Sheet.URL = sheetURL
	c.Sheet.Format = "csv"
	c.Sheet.PollIntervalMs = 5000
	c.Sheet.MaxRetries = 1
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "townmap.db")
	c.Server.Port = 8080
	return c
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sheetServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitSync_PersistsAndWarmStarts(t *testing.T) {
	body := sampleCSV
	srv := sheetServer(t, &body)
	withConfig(t, testConfig(t, srv.URL))
	ctx := context.Background()

	env, err := initSync(ctx, "sync")
	require.NoError(t, err)

	entry, ran := env.Controller.Tick(ctx)
	require.True(t, ran)
	assert.Equal(t, model.SyncStatusUpdated, entry.Status)
	assert.Equal(t, 2, entry.Accepted)
	env.Close()

	// A fresh environment starts from the persisted snapshot.
	env, err = initSync(ctx, "sync")
	require.NoError(t, err)
	defer env.Close()

	assert.Len(t, env.Controller.Snapshot(), 2)
	assert.Equal(t, entry.Fingerprint, env.Controller.State().LastFingerprint)

	entry, _ = env.Controller.Tick(ctx)
	assert.Equal(t, model.SyncStatusUnchanged, entry.Status)

	cycles, err := env.Store.ListCycles(ctx, store.CycleFilter{})
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
}

func TestInitSync_KeepsSnapshotOnFailure(t *testing.T) {
	body := sampleCSV
	srv := sheetServer(t, &body)
	c := testConfig(t, srv.URL)
	withConfig(t, c)
	ctx := context.Background()

	env, err := initSync(ctx, "sync")
	require.NoError(t, err)
	defer env.Close()
	_, _ = env.Controller.Tick(ctx)

	srv.Close()
	entry, _ := env.Controller.Tick(ctx)
	assert.Equal(t, model.SyncStatusError, entry.Status)
	assert.Len(t, env.Controller.Snapshot(), 2)
	assert.Equal(t, 1, env.Alerter.Streak())
}

func TestInitSync_ValidationError(t *testing.T) {
	c := testConfig(t, "")
	withConfig(t, c)

	_, err := initSync(context.Background(), "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet.url")
}

func TestInitSync_ServeAddsBus(t *testing.T) {
	c := testConfig(t, "https://example.test/towns.csv")
	c.Store.Driver = "none"
	withConfig(t, c)

	env, err := initSync(context.Background(), "serve")
	require.NoError(t, err)
	defer env.Close()
	assert.NotNil(t, env.Bus)
	assert.Nil(t, env.Store)
	assert.Equal(t, 5*time.Second, env.Controller.Interval())
}

func TestControllerOptions(t *testing.T) {
	c := testConfig(t, "https://example.test/towns.xlsx")
	c.Sheet.Format = "xlsx"
	c.Sheet.SheetName = "Pueblos"
	c.Sheet.PollIntervalMs = 250

	cols := filepath.Join(t.TempDir(), "columns.yaml")
	require.NoError(t, os.WriteFile(cols, []byte("columns:\n  name: 2\n"), 0644))
	c.Sheet.ColumnsFile = cols

	opts, err := controllerOptions(c)
	require.NoError(t, err)
	assert.Equal(t, syncer.FormatXLSX, opts.Format)
	assert.Equal(t, "Pueblos", opts.Sheet.SheetName)
	assert.Equal(t, 250*time.Millisecond, opts.Interval)
	assert.Equal(t, 2, opts.Columns.Name)

	c.Sheet.Format = "ods"
	_, err = controllerOptions(c)
	assert.Error(t, err)
}

func TestFormatCycle(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	formatCycle(&buf, model.CycleEntry{
		Status:      model.SyncStatusError,
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
		Error:       "download: unexpected status 404",
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "⚠️"))
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "unexpected status 404")
}

func TestFormatCycleList(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	formatCycleList(&buf, []model.CycleEntry{
		{Status: model.SyncStatusUpdated, Manual: true, StartedAt: start, CompletedAt: start, Accepted: 3, Fingerprint: "deadbeef"},
		{Status: model.SyncStatusError, StartedAt: start, CompletedAt: start, Error: strings.Repeat("x", 100)},
	})
	out := buf.String()
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "deadbeef")
	assert.Contains(t, out, "…")
	assert.NotContains(t, out, strings.Repeat("x", 61))
}

func TestPrintSummary_SubHourWindow(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now().UTC()
	recent := model.CycleEntry{ID: "a", Status: model.SyncStatusUpdated, StartedAt: now.Add(-10 * time.Minute), CompletedAt: now.Add(-10 * time.Minute)}
	old := model.CycleEntry{ID: "b", Status: model.SyncStatusError, StartedAt: now.Add(-2 * time.Hour), CompletedAt: now.Add(-2 * time.Hour), Error: "boom"}
	require.NoError(t, m.RecordCycle(ctx, recent))
	require.NoError(t, m.RecordCycle(ctx, old))

	var buf bytes.Buffer
	require.NoError(t, printSummary(ctx, &buf, m, 30*time.Minute))
	out := buf.String()
	assert.Contains(t, out, "Cycles (last 30m0s): 1")
	assert.Contains(t, out, "Updated:   1")
	assert.NotContains(t, out, "boom")

	buf.Reset()
	require.NoError(t, printSummary(ctx, &buf, m, 24*time.Hour))
	assert.Contains(t, buf.String(), "Cycles (last 24h): 2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "-", orDash(""))
}
