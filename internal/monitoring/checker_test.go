package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/config"
	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/store"
)

func TestChecker_Check(t *testing.T) {
	rec := &webhookRecorder{}
	srv := rec.server(t)
	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.5, LookbackWindowHours: 24}

	now := time.Now().UTC()
	var entries []model.CycleEntry
	for i := 0; i < 6; i++ {
		entries = append(entries, cycleAt(model.SyncStatusError, now.Add(-time.Duration(i)*time.Minute), time.Millisecond))
	}
	ch := NewChecker(NewCollector(&fakeLister{entries: entries}), NewAlerter(cfg), cfg)

	sent := ch.check(context.Background(), zap.NewNop())
	assert.Equal(t, 1, sent)
	assert.Equal(t, []AlertType{AlertFailureRate}, rec.types())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cfg := config.MonitoringConfig{WebhookURL: srv.URL, CheckIntervalSecs: 1}
	ch := NewChecker(NewCollector(&fakeLister{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ch.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestChecker_PrunesPastRetention(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now().UTC()
	for _, age := range []time.Duration{time.Hour, 30 * time.Hour, 200 * time.Hour} {
		require.NoError(t, m.RecordCycle(ctx, cycleAt(model.SyncStatusUnchanged, now.Add(-age), time.Millisecond)))
	}

	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	ch := NewChecker(NewCollector(m), NewAlerter(cfg), cfg).WithRetention(m, 168*time.Hour)
	assert.Equal(t, int64(1), ch.prune(ctx, zap.NewNop()))

	left, err := m.ListCycles(ctx, store.CycleFilter{Limit: store.NoLimit})
	require.NoError(t, err)
	assert.Len(t, left, 2)

	assert.Zero(t, NewChecker(NewCollector(m), NewAlerter(cfg), cfg).prune(ctx, zap.NewNop()))
}
