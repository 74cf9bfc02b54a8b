package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/townmap/internal/config"
	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/syncer"
)

var (
	_ syncer.Observer = (*Alerter)(nil)
	_ syncer.Observer = (*Metrics)(nil)
)

type webhookRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (w *webhookRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		w.mu.Lock()
		w.alerts = append(w.alerts, a)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (w *webhookRecorder) types() []AlertType {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]AlertType, 0, len(w.alerts))
	for _, a := range w.alerts {
		out = append(out, a.Type)
	}
	return out
}

func failed(msg string) model.CycleEntry {
	return model.CycleEntry{Status: model.SyncStatusError, Error: msg}
}

func TestAlerter_ConsecutiveFailures(t *testing.T) {
	rec := &webhookRecorder{}
	srv := rec.server(t)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL, ConsecutiveFailures: 3})
	ctx := context.Background()

	a.ObserveCycle(ctx, failed("timeout"))
	a.ObserveCycle(ctx, failed("timeout"))
	assert.Empty(t, rec.types())

	a.ObserveCycle(ctx, failed("404"))
	require.Equal(t, []AlertType{AlertConsecutiveFailures}, rec.types())
	assert.Equal(t, "404", rec.alerts[0].Details["last_error"])
	assert.Equal(t, "high", rec.alerts[0].Severity)

	// Posted once per streak.
	a.ObserveCycle(ctx, failed("404"))
	assert.Len(t, rec.types(), 1)
	assert.Equal(t, 4, a.Streak())

	a.ObserveCycle(ctx, model.CycleEntry{Status: model.SyncStatusUnchanged})
	assert.Equal(t, []AlertType{AlertConsecutiveFailures, AlertRecovered}, rec.types())
	assert.Equal(t, 0, a.Streak())

	// A new streak alerts again.
	for i := 0; i < 3; i++ {
		a.ObserveCycle(ctx, failed("x"))
	}
	assert.Len(t, rec.types(), 3)
}

func TestAlerter_SuccessWithoutAlertIsQuiet(t *testing.T) {
	rec := &webhookRecorder{}
	srv := rec.server(t)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL, ConsecutiveFailures: 3})
	ctx := context.Background()

	a.ObserveCycle(ctx, failed("x"))
	a.ObserveCycle(ctx, model.CycleEntry{Status: model.SyncStatusUpdated})
	assert.Empty(t, rec.types())
}

func TestAlerter_DisabledThreshold(t *testing.T) {
	rec := &webhookRecorder{}
	srv := rec.server(t)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})

	for i := 0; i < 10; i++ {
		a.ObserveCycle(context.Background(), failed("x"))
	}
	assert.Empty(t, rec.types())
	assert.Equal(t, 10, a.Streak())
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, StaleAfterMinutes: 60})
	last := time.Now().UTC().Add(-time.Minute)

	alerts := a.Evaluate(&MetricsSnapshot{
		Total: 10, Updated: 2, Unchanged: 7, Failed: 1, FailRate: 0.1,
		LastSuccessAt: &last, Lookback: 24 * time.Hour,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	alerts := a.Evaluate(&MetricsSnapshot{
		Total: 10, Unchanged: 2, Failed: 8, FailRate: 0.8, Lookback: 24 * time.Hour,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "80.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	alerts := a.Evaluate(&MetricsSnapshot{Total: 2, Failed: 2, FailRate: 1, Lookback: 24 * time.Hour})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterMinutes: 30})
	old := time.Now().UTC().Add(-2 * time.Hour)

	alerts := a.Evaluate(&MetricsSnapshot{Total: 3, Failed: 3, FailRate: 1, LastSuccessAt: &old, Lookback: 24 * time.Hour})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStale, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "No successful sync since")

	alerts = a.Evaluate(&MetricsSnapshot{Total: 3, Failed: 3, FailRate: 1, Lookback: 24 * time.Hour})
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "last 24h")
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}, {Type: AlertFailureRate}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(2), calls.Load())
}
