package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/config"
	"github.com/sells-group/townmap/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "sync_consecutive_failures"
	AlertRecovered           AlertType = "sync_recovered"
	AlertFailureRate         AlertType = "sync_failure_rate"
	AlertStale               AlertType = "sync_stale"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter watches finished cycles and posts webhook alerts. A failure
// streak alerts once when it reaches the configured length and once more
// when the next successful cycle ends it.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	streak  int
	alerted bool
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Streak returns the current number of consecutive failed cycles.
func (a *Alerter) Streak() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streak
}

// ObserveCycle updates the failure streak and sends streak alerts.
func (a *Alerter) ObserveCycle(ctx context.Context, entry model.CycleEntry) {
	if alert, ok := a.track(entry); ok {
		a.SendAlerts(ctx, []Alert{alert})
	}
}

func (a *Alerter) track(entry model.CycleEntry) (Alert, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	if entry.Status != model.SyncStatusError {
		streak, alerted := a.streak, a.alerted
		a.streak, a.alerted = 0, false
		if !alerted {
			return Alert{}, false
		}
		return Alert{
			Type:      AlertRecovered,
			Severity:  "info",
			Message:   fmt.Sprintf("Sync recovered after %d failed cycle(s)", streak),
			Details:   map[string]any{"failed_cycles": streak, "status": string(entry.Status)},
			Timestamp: now,
		}, true
	}

	a.streak++
	if a.alerted || a.cfg.ConsecutiveFailures <= 0 || a.streak < a.cfg.ConsecutiveFailures {
		return Alert{}, false
	}
	a.alerted = true
	return Alert{
		Type:     AlertConsecutiveFailures,
		Severity: "high",
		Message:  fmt.Sprintf("%d consecutive sync cycles failed; serving last-known-good data", a.streak),
		Details: map[string]any{
			"failed_cycles": a.streak,
			"threshold":     a.cfg.ConsecutiveFailures,
			"last_error":    entry.Error,
		},
		Timestamp: now,
	}, true
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.Updated + snap.Unchanged + snap.Failed
	if finished >= 5 && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d cycles in last %s)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.Window(),
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterMinutes > 0 && finished > 0 {
		limit := time.Duration(a.cfg.StaleAfterMinutes) * time.Minute
		if snap.LastSuccessAt == nil || now.Sub(*snap.LastSuccessAt) > limit {
			details := map[string]any{"stale_after_minutes": a.cfg.StaleAfterMinutes}
			msg := fmt.Sprintf("No successful sync in last %s", snap.Window())
			if snap.LastSuccessAt != nil {
				details["last_success_at"] = snap.LastSuccessAt
				msg = fmt.Sprintf("No successful sync since %s", snap.LastSuccessAt.Format(time.RFC3339))
			}
			alerts = append(alerts, Alert{
				Type:      AlertStale,
				Severity:  "medium",
				Message:   msg,
				Details:   details,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
