package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/config"
)

// CyclePruner deletes old cycle history.
type CyclePruner interface {
	PruneCycles(ctx context.Context, before time.Time) (int64, error)
}

// Checker runs periodic alert checks in the background and, when a
// retention is set, prunes cycle history older than it.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	pruner    CyclePruner
	retention time.Duration
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// WithRetention makes every check delete cycles older than keep.
func (c *Checker) WithRetention(p CyclePruner, keep time.Duration) *Checker {
	c.pruner = p
	c.retention = keep
	return c
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.prune(ctx, log)
			c.check(ctx, log)
		}
	}
}

func (c *Checker) prune(ctx context.Context, log *zap.Logger) int64 {
	if c.pruner == nil || c.retention <= 0 {
		return 0
	}
	n, err := c.pruner.PruneCycles(ctx, time.Now().UTC().Add(-c.retention))
	if err != nil {
		log.Warn("monitoring: failed to prune cycle history", zap.Error(err))
		return 0
	}
	if n > 0 {
		log.Debug("monitoring: pruned cycle history", zap.Int64("deleted", n), zap.Duration("retention", c.retention))
	}
	return n
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, time.Duration(c.cfg.LookbackWindowHours)*time.Hour)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
