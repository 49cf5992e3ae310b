package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReviewBacklog  AlertType = "review_backlog"
	AlertRejectRate     AlertType = "reject_rate"
	AlertTrailIntegrity AlertType = "trail_integrity"
)

// Severity levels.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// minCasesForRates keeps rate alerts quiet until enough cases were seen.
const minCasesForRates = 5

// Alert is one breached threshold.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Notification is the webhook body: every alert from one check plus the
// snapshot that raised them.
type Notification struct {
	Alerts   []Alert          `json:"alerts"`
	Snapshot *MetricsSnapshot `json:"snapshot"`
	SentAt   time.Time        `json:"sent_at"`
}

// Alerter turns snapshots into alerts and delivers them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for the configured thresholds and webhook.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts the snapshot raises. Integrity alerts always
// fire; rate alerts need minCasesForRates cases and a non-zero threshold.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert

	if n := len(snap.BrokenTrails); n > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertTrailIntegrity,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d audit trail(s) failed hash chain verification in last %dh", n, snap.LookbackHours),
			Details:  map[string]any{"case_ids": snap.BrokenTrails},
		})
	}

	if snap.CasesTotal < minCasesForRates {
		return alerts
	}

	rates := []struct {
		typ       AlertType
		severity  string
		label     string
		rate      float64
		threshold float64
		count     int
	}{
		{AlertReviewBacklog, SeverityMedium, "Review", snap.ReviewRate, a.cfg.ReviewRateThreshold, snap.NeedsReview},
		{AlertRejectRate, SeverityHigh, "Reject", snap.RejectRate, a.cfg.RejectRateThreshold, snap.Rejected},
	}
	for _, r := range rates {
		if r.threshold <= 0 || r.rate <= r.threshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     r.typ,
			Severity: r.severity,
			Message: fmt.Sprintf("%s rate %.1f%% exceeds threshold %.1f%% (%d of %d fields across %d cases in last %dh)",
				r.label, r.rate*100, r.threshold*100, r.count, snap.FieldsTotal, snap.CasesTotal, snap.LookbackHours),
			Details: map[string]any{
				"rate":      r.rate,
				"threshold": r.threshold,
				"fields":    r.count,
				"cases":     snap.CasesTotal,
			},
		})
	}
	return alerts
}

// Notify posts alerts to the webhook as one Notification. It is a no-op
// without a webhook URL or alerts.
func (a *Alerter) Notify(ctx context.Context, snap *MetricsSnapshot, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	payload, err := json.Marshal(Notification{Alerts: alerts, Snapshot: snap, SentAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
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

	zap.L().Info("monitoring: alerts sent", zap.Int("alerts", len(alerts)))
	return nil
}
