package model

import "time"

// Disposition is the outcome of adjudicating a field.
type Disposition string

const (
	DispositionPopulated   Disposition = "POPULATED"
	DispositionNeedsReview Disposition = "NEEDS_REVIEW"
	DispositionRejected    Disposition = "REJECTED"
)

// Decision is the write-once adjudication outcome for one field of one case.
// Value is the accepted value for POPULATED decisions and the proposed value
// for NEEDS_REVIEW decisions; it is always nil when REJECTED.
type Decision struct {
	Field                   FieldID     `json:"field"`
	Value                   *string     `json:"value"`
	Disposition             Disposition `json:"disposition"`
	RuleID                  string      `json:"rule_id"`
	SourceDocumentID        *string     `json:"source_document_id"`
	CorroboratingDocumentID *string     `json:"corroborating_document_id,omitempty"`
	Confidence              Confidence  `json:"confidence,omitempty"`
	Rationale               string      `json:"rationale"`
}

// ResultEntry is one row of a case's result set.
type ResultEntry struct {
	Field            FieldID     `json:"field"`
	Value            *string     `json:"value"`
	Disposition      Disposition `json:"disposition"`
	SourceDocumentID *string     `json:"source_document_id"`
	RuleID           string      `json:"rule_id"`
	Rationale        string      `json:"rationale"`
}

// ResultEntryFrom projects a decision into the result set. Only POPULATED
// decisions expose a value.
func ResultEntryFrom(d Decision) ResultEntry {
	e := ResultEntry{
		Field:            d.Field,
		Disposition:      d.Disposition,
		SourceDocumentID: d.SourceDocumentID,
		RuleID:           d.RuleID,
		Rationale:        d.Rationale,
	}
	if d.Disposition == DispositionPopulated {
		e.Value = d.Value
	}
	return e
}

// CaseStatus is the lifecycle state of a persisted patient case.
type CaseStatus string

const (
	CaseStatusProcessed CaseStatus = "processed"
)

// CaseResult is the persisted outcome of one patient case run.
type CaseResult struct {
	CaseID      string        `json:"case_id"`
	PatientID   string        `json:"patient_id"`
	AnchorDate  *Date         `json:"anchor_date,omitempty"`
	Status      CaseStatus    `json:"status"`
	Results     []ResultEntry `json:"results"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// Value returns the populated value of a field and whether one exists.
func (r *CaseResult) Value(f FieldID) (string, bool) {
	for _, e := range r.Results {
		if e.Field == f && e.Value != nil {
			return *e.Value, true
		}
	}
	return "", false
}

// Entry returns the result-set row for a field.
func (r *CaseResult) Entry(f FieldID) (ResultEntry, bool) {
	for _, e := range r.Results {
		if e.Field == f {
			return e, true
		}
	}
	return ResultEntry{}, false
}

// Counts tallies the result set by disposition.
func (r *CaseResult) Counts() map[Disposition]int {
	out := map[Disposition]int{
		DispositionPopulated:   0,
		DispositionNeedsReview: 0,
		DispositionRejected:    0,
	}
	for _, e := range r.Results {
		out[e.Disposition]++
	}
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
