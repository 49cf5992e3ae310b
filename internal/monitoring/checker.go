package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically collects a snapshot and notifies on alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	log       *zap.Logger
}

// NewChecker wires a collector and alerter on the configured schedule.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once immediately, then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("quality checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("quality checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collect/evaluate/notify cycle and returns the alerts raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("no alerts",
			zap.Int("cases", snap.CasesTotal),
			zap.Float64("review_rate", snap.ReviewRate),
			zap.Float64("reject_rate", snap.RejectRate),
		)
		return nil
	}

	if err := c.alerter.Notify(ctx, snap, alerts); err != nil {
		c.log.Error("notify alerts", zap.Int("alerts", len(alerts)), zap.Error(err))
	}
	return alerts
}
