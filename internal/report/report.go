// Package report renders adjudicated cases as section-grouped forms,
// summaries, and JSON or XLSX exports.
package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// Summary tallies the dispositions of one case.
type Summary struct {
	CaseID         string  `json:"case_id"`
	Total          int     `json:"total"`
	Populated      int     `json:"populated"`
	NeedsReview    int     `json:"needs_review"`
	Rejected       int     `json:"rejected"`
	CompletionRate float64 `json:"completion_rate"`
}

// Summarize counts dispositions. CompletionRate is the populated share of
// all fields, 0 for an empty result.
func Summarize(r *model.CaseResult) Summary {
	counts := r.Counts()
	s := Summary{
		CaseID:      r.CaseID,
		Total:       len(r.Results),
		Populated:   counts[model.DispositionPopulated],
		NeedsReview: counts[model.DispositionNeedsReview],
		Rejected:    counts[model.DispositionRejected],
	}
	if s.Total > 0 {
		s.CompletionRate = float64(s.Populated) / float64(s.Total)
	}
	return s
}

// FormSection is one section of the research form.
type FormSection struct {
	Section model.Section       `json:"section"`
	Title   string              `json:"title"`
	Entries []model.ResultEntry `json:"entries"`
}

// Form is a case result grouped by form section in display order.
type Form struct {
	CaseID     string        `json:"case_id"`
	PatientID  string        `json:"patient_id"`
	AnchorDate *model.Date   `json:"anchor_date,omitempty"`
	Sections   []FormSection `json:"sections"`
	Summary    Summary       `json:"summary"`
}

// BuildForm groups result entries by section. Entries keep schema order;
// sections without entries are omitted.
func BuildForm(r *model.CaseResult) Form {
	bySection := make(map[model.Section][]model.ResultEntry)
	for _, e := range r.Results {
		sec := e.Field.Section()
		bySection[sec] = append(bySection[sec], e)
	}

	f := Form{
		CaseID:     r.CaseID,
		PatientID:  r.PatientID,
		AnchorDate: r.AnchorDate,
		Summary:    Summarize(r),
	}
	for _, sec := range model.Sections() {
		entries := bySection[sec]
		if len(entries) == 0 {
			continue
		}
		sortByPosition(entries)
		f.Sections = append(f.Sections, FormSection{
			Section: sec,
			Title:   SectionTitle(sec),
			Entries: entries,
		})
	}
	return f
}

// SectionTitle renders a section id for display, e.g. "Comorbidities".
func SectionTitle(s model.Section) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// FieldLabel renders a field name for display, e.g. "Date Of Diagnosis".
func FieldLabel(f model.FieldID) string {
	return cases.Title(language.English).String(strings.ReplaceAll(f.Name(), "_", " "))
}

// FormatText renders a form as a markdown report for terminals.
func FormatText(f Form) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Case %s\n", f.CaseID)
	if f.PatientID != "" {
		fmt.Fprintf(&b, "Patient: %s\n", f.PatientID)
	}
	if f.AnchorDate != nil {
		fmt.Fprintf(&b, "Anchor date: %s\n", f.AnchorDate)
	}
	b.WriteString("\n## Summary\n")
	fmt.Fprintf(&b, "- Populated: %d\n", f.Summary.Populated)
	fmt.Fprintf(&b, "- Needs review: %d\n", f.Summary.NeedsReview)
	fmt.Fprintf(&b, "- Rejected: %d\n", f.Summary.Rejected)
	fmt.Fprintf(&b, "- Completion: %.0f%%\n", f.Summary.CompletionRate*100)

	for _, sec := range f.Sections {
		fmt.Fprintf(&b, "\n## %s\n", sec.Title)
		for _, e := range sec.Entries {
			value := "-"
			if e.Value != nil {
				value = *e.Value
			}
			fmt.Fprintf(&b, "- **%s**: %s [%s, %s]", FieldLabel(e.Field), value, e.Disposition, e.RuleID)
			if e.SourceDocumentID != nil {
				fmt.Fprintf(&b, " source %s", *e.SourceDocumentID)
			}
			b.WriteString("\n")
			if e.Disposition != model.DispositionPopulated {
				fmt.Fprintf(&b, "  %s\n", e.Rationale)
			}
		}
	}
	return b.String()
}

func sortByPosition(entries []model.ResultEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Field.Position() < entries[j].Field.Position()
	})
}
