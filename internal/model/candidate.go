package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the wire layout for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate builds a Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, eris.Wrapf(err, "model: parse date %q", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "model: unmarshal date")
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CandidateValue is one extracted value for one field from one document.
type CandidateValue struct {
	Field         FieldID      `json:"field"`
	Value         string       `json:"value"`
	DocumentID    string       `json:"document_id"`
	DocumentType  DocumentType `json:"document_type"`
	AuthorRole    AuthorRole   `json:"author_role,omitempty"`
	EffectiveDate Date         `json:"effective_date"`
	Confidence    Confidence   `json:"confidence"`
}

// CaseBundle is everything the extraction collaborator hands over for one
// patient case.
type CaseBundle struct {
	CaseID     string           `json:"case_id"`
	PatientID  string           `json:"patient_id"`
	AnchorDate *Date            `json:"anchor_date,omitempty"`
	Candidates []CandidateValue `json:"candidates"`
}

// HasAnchor reports whether the case has an established anchor date.
func (b CaseBundle) HasAnchor() bool {
	return b.AnchorDate != nil && !b.AnchorDate.IsZero()
}

// NormalizeValue canonicalizes a raw value for the given kind. Dates become
// YYYY-MM-DD, booleans become "yes" or "no", other kinds are trimmed with
// inner whitespace collapsed.
func NormalizeValue(kind ValueKind, raw string) (string, error) {
	v := strings.Join(strings.Fields(raw), " ")
	if v == "" {
		return "", eris.New("model: empty value")
	}
	switch kind {
	case KindDate:
		d, err := ParseDate(v)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case KindBoolean:
		switch strings.ToLower(v) {
		case "yes", "y", "true", "present", "positive":
			return "yes", nil
		case "no", "n", "false", "absent", "negative":
			return "no", nil
		}
		// Free-text affirmations such as "Yes - documented in visit 1".
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "yes ") || strings.HasPrefix(lower, "yes-") {
			return "yes", nil
		}
		if strings.HasPrefix(lower, "no ") || strings.HasPrefix(lower, "no-") {
			return "no", nil
		}
		return "", eris.Errorf("model: %q is not a boolean", raw)
	}
	return v, nil
}

// SameValue reports whether two normalized values agree, ignoring case.
func SameValue(a, b string) bool {
	return strings.EqualFold(a, b)
}
