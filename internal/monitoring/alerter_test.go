package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clinical-abstraction/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		ReviewRateThreshold: 0.5,
		RejectRateThreshold: 0.3,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		CasesTotal:    20,
		FieldsTotal:   100,
		Populated:     80,
		NeedsReview:   15,
		Rejected:      5,
		ReviewRate:    0.15,
		RejectRate:    0.05,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		CasesTotal:    10,
		FieldsTotal:   50,
		NeedsReview:   30,
		ReviewRate:    0.6,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "60.0%")
	assert.Equal(t, 30, alerts[0].Details["fields"])
}

func TestAlerter_Evaluate_RejectRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		CasesTotal:    10,
		FieldsTotal:   50,
		Rejected:      20,
		RejectRate:    0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRejectRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_TrailIntegrityIgnoresMinimum(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		CasesTotal:    1,
		FieldsTotal:   2,
		NeedsReview:   2,
		ReviewRate:    1.0,
		BrokenTrails:  []string{"case-1"},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTrailIntegrity, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, []string{"case-1"}, alerts[0].Details["case_ids"])
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		CasesTotal:    8,
		FieldsTotal:   40,
		NeedsReview:   22,
		Rejected:      14,
		ReviewRate:    0.55,
		RejectRate:    0.35,
		BrokenTrails:  []string{"case-3"},
		LookbackHours: 12,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertTrailIntegrity])
	assert.True(t, types[AlertReviewBacklog])
	assert.True(t, types[AlertRejectRate])
}

func TestAlerter_Evaluate_MinimumCasesRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	// Every field rejected, but too few cases to be meaningful.
	snap := &MetricsSnapshot{
		CasesTotal:    minCasesForRates - 1,
		FieldsTotal:   8,
		Rejected:      8,
		RejectRate:    1.0,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ZeroThresholdDisables(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := &MetricsSnapshot{
		CasesTotal:  10,
		ReviewRate:  0.9,
		RejectRate:  0.9,
		FieldsTotal: 50,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Notify_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var n Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Len(t, n.Alerts, 2)
		if assert.NotNil(t, n.Snapshot) {
			assert.Equal(t, 7, n.Snapshot.CasesTotal)
		}
		assert.False(t, n.SentAt.IsZero())

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := thresholds()
	cfg.WebhookURL = ts.URL
	a := NewAlerter(cfg)

	alerts := []Alert{
		{Type: AlertTrailIntegrity, Severity: SeverityCritical, Message: "one"},
		{Type: AlertRejectRate, Severity: SeverityHigh, Message: "two"},
	}

	require.NoError(t, a.Notify(context.Background(), &MetricsSnapshot{CasesTotal: 7}, alerts))
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_Notify_EmptyURL(t *testing.T) {
	a := NewAlerter(thresholds())
	assert.NoError(t, a.Notify(context.Background(), &MetricsSnapshot{}, []Alert{{Type: AlertRejectRate}}))
}

func TestAlerter_Notify_NoAlerts(t *testing.T) {
	cfg := thresholds()
	cfg.WebhookURL = "http://127.0.0.1:1"
	a := NewAlerter(cfg)
	assert.NoError(t, a.Notify(context.Background(), &MetricsSnapshot{}, nil))
}

func TestAlerter_Notify_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := thresholds()
	cfg.WebhookURL = ts.URL
	a := NewAlerter(cfg)

	err := a.Notify(context.Background(), &MetricsSnapshot{}, []Alert{{Type: AlertReviewBacklog}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
