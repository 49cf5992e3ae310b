// Package monitoring watches adjudication quality over recently processed
// cases: review backlog, rejection rate and audit chain integrity.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/store"
)

// pageSize is the ListCases page used while scanning the lookback window.
const pageSize = 500

// MetricsSnapshot holds a point-in-time view of adjudication outcomes.
type MetricsSnapshot struct {
	// Case metrics (within lookback window).
	CasesTotal int `json:"cases_total"`

	// Field dispositions across those cases.
	FieldsTotal    int     `json:"fields_total"`
	Populated      int     `json:"populated"`
	NeedsReview    int     `json:"needs_review"`
	Rejected       int     `json:"rejected"`
	ReviewRate     float64 `json:"review_rate"`
	RejectRate     float64 `json:"reject_rate"`
	CompletionRate float64 `json:"completion_rate"`

	// Trails that failed hash chain verification.
	BrokenTrails []string `json:"broken_trails,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CaseReader abstracts the store methods needed by the collector.
type CaseReader interface {
	ListCases(ctx context.Context, filter store.CaseFilter) ([]model.CaseResult, error)
	Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error)
}

// Collector gathers metrics from the case store.
type Collector struct {
	store CaseReader
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st CaseReader) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over cases processed within the lookback
// window and re-verifies each of their audit trails.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// The window's upper edge is pinned to now so cases committed while
	// paging cannot shift later pages; seen guards the rest.
	filter := store.CaseFilter{ProcessedSince: cutoff, ProcessedUntil: now, Limit: pageSize}
	seen := make(map[string]bool)
	for {
		page, err := c.store.ListCases(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list cases")
		}

		for i := range page {
			r := &page[i]
			if seen[r.CaseID] || r.ProcessedAt.Before(cutoff) || r.ProcessedAt.After(now) {
				continue
			}
			seen[r.CaseID] = true
			c.add(snap, r)

			if err := c.verify(ctx, snap, r.CaseID); err != nil {
				return nil, err
			}
		}
		if len(page) < pageSize {
			break
		}
		filter.Offset += pageSize
	}

	if snap.FieldsTotal > 0 {
		total := float64(snap.FieldsTotal)
		snap.ReviewRate = float64(snap.NeedsReview) / total
		snap.RejectRate = float64(snap.Rejected) / total
		snap.CompletionRate = float64(snap.Populated) / total
	}
	return snap, nil
}

func (c *Collector) add(snap *MetricsSnapshot, r *model.CaseResult) {
	snap.CasesTotal++
	counts := r.Counts()
	snap.FieldsTotal += len(r.Results)
	snap.Populated += counts[model.DispositionPopulated]
	snap.NeedsReview += counts[model.DispositionNeedsReview]
	snap.Rejected += counts[model.DispositionRejected]
}

// verify re-checks one case's hash chain. Only a chain that fails
// verification, or is missing, marks the trail broken; a failed read is
// logged and skipped. The returned error is the context's, once it is done.
func (c *Collector) verify(ctx context.Context, snap *MetricsSnapshot, caseID string) error {
	entries, err := c.store.Trail(ctx, caseID)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "monitoring: verify trails")
		}
		zap.L().Warn("monitoring: read audit trail",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
		return nil
	}

	if len(entries) == 0 {
		err = eris.Errorf("monitoring: case %s has no audit entries", caseID)
	} else {
		err = ledger.Verify(entries)
	}
	if err != nil {
		zap.L().Warn("monitoring: audit trail failed verification",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
		snap.BrokenTrails = append(snap.BrokenTrails, caseID)
	}
	return nil
}
