package report

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// Sheet names used by WriteXLSX.
const (
	SheetResults = "Results"
	SheetSummary = "Summary"
	SheetTrail   = "Audit Trail"
)

var resultHeader = []string{"case_id", "patient_id", "section", "field", "value", "disposition", "source_document_id", "rule_id", "rationale"}

var summaryHeader = []string{"case_id", "patient_id", "processed_at", "total", "populated", "needs_review", "rejected", "completion_rate"}

var trailHeader = []string{"case_id", "sequence", "field", "disposition", "rule_id", "source_document_id", "corroborating_document_id", "confidence", "rationale", "recorded_at", "prev_hash", "hash"}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "report: write json")
}

// WriteXLSX writes a workbook with one results row per case field and one
// summary row per case. When trails is non-empty an audit trail sheet is
// added, one row per entry.
func WriteXLSX(w io.Writer, results []model.CaseResult, trails map[string][]model.AuditEntry) error {
	f := xlsx.NewFile()

	resSheet, err := addSheet(f, SheetResults, resultHeader)
	if err != nil {
		return err
	}
	sumSheet, err := addSheet(f, SheetSummary, summaryHeader)
	if err != nil {
		return err
	}

	for i := range results {
		r := &results[i]
		for _, e := range r.Results {
			addRow(resSheet,
				r.CaseID, r.PatientID, string(e.Field.Section()), string(e.Field),
				deref(e.Value), string(e.Disposition), deref(e.SourceDocumentID), e.RuleID, e.Rationale,
			)
		}
		s := Summarize(r)
		addRow(sumSheet,
			r.CaseID, r.PatientID, r.ProcessedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(s.Total), strconv.Itoa(s.Populated), strconv.Itoa(s.NeedsReview),
			strconv.Itoa(s.Rejected), strconv.FormatFloat(s.CompletionRate, 'f', 4, 64),
		)
	}

	if len(trails) > 0 {
		trailSheet, err := addSheet(f, SheetTrail, trailHeader)
		if err != nil {
			return err
		}
		for i := range results {
			for _, e := range trails[results[i].CaseID] {
				d := e.Decision
				addRow(trailSheet,
					e.CaseID, strconv.Itoa(e.Sequence), string(d.Field), string(d.Disposition), d.RuleID,
					deref(d.SourceDocumentID), deref(d.CorroboratingDocumentID), string(d.Confidence),
					d.Rationale, e.RecordedAt.UTC().Format(time.RFC3339Nano), e.PrevHash, e.Hash,
				)
			}
		}
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func addSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sh, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "report: add sheet %s", name)
	}
	addRow(sh, header...)
	return sh, nil
}

func addRow(sh *xlsx.Sheet, values ...string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
