package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// CaseFilter specifies criteria for listing processed cases.
type CaseFilter struct {
	PatientID string           `json:"patient_id,omitempty"`
	Status    model.CaseStatus `json:"status,omitempty"`

	// ProcessedSince and ProcessedUntil bound processed_at inclusively;
	// zero values leave that side open.
	ProcessedSince time.Time `json:"processed_since,omitzero"`
	ProcessedUntil time.Time `json:"processed_until,omitzero"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// DefaultListLimit bounds ListCases when the filter sets no limit.
const DefaultListLimit = 100

// Store persists case results and their audit trails. Audit entries are
// append-only: a case's trail is written once, together with its result.
type Store interface {
	// SaveCase writes the result and its full trail in one transaction.
	// It returns model.ErrCaseAlreadyAudited if the case id already exists.
	SaveCase(ctx context.Context, result *model.CaseResult, trail []model.AuditEntry) error
	// GetCase returns model.ErrCaseNotFound for unknown ids.
	GetCase(ctx context.Context, caseID string) (*model.CaseResult, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]model.CaseResult, error)
	// Trail returns a case's entries in sequence order; empty if unknown.
	Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOf(f CaseFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func validateSave(result *model.CaseResult, trail []model.AuditEntry) error {
	if result == nil || result.CaseID == "" {
		return eris.New("store: case result without id")
	}
	for i, e := range trail {
		if e.CaseID != result.CaseID {
			return eris.Errorf("store: entry %d belongs to case %s, not %s", i+1, e.CaseID, result.CaseID)
		}
	}
	return nil
}

func anchorString(d *model.Date) *string {
	if d == nil || d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}

func decodeResult(raw []byte) (*model.CaseResult, error) {
	var r model.CaseResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal case result")
	}
	return &r, nil
}

func decodeEntry(raw []byte) (model.AuditEntry, error) {
	var e model.AuditEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.AuditEntry{}, eris.Wrap(err, "store: unmarshal audit entry")
	}
	return e, nil
}
