// Package provenance decides whether a candidate's source document satisfies
// a rule: document type, authoring role, timing and corroboration, checked in
// that order and short-circuiting on the first failure.
package provenance

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// Failure reasons. They are carried verbatim into decision rationales.
const (
	ReasonDocumentType              = "document type not admissible"
	ReasonAuthorRole                = "authoring role not admissible"
	ReasonOutsideWindow             = "outside required window"
	ReasonAnchorMissing             = "anchor date missing"
	ReasonInsufficientCorroboration = "insufficient corroboration"
)

// ComplianceResult is the outcome of evaluating one candidate against one rule.
type ComplianceResult struct {
	Compliant bool
	Reason    string
	Detail    string
	// Corroborator is the second qualifying candidate of a dual-source match.
	Corroborator *model.CandidateValue
	// Err carries the typed internal signal behind a failure, if any.
	Err error
}

// Explain renders the reason with its detail.
func (r ComplianceResult) Explain() string {
	if r.Compliant && r.Reason == "" {
		return "compliant"
	}
	if r.Detail == "" {
		return r.Reason
	}
	return r.Reason + " (" + r.Detail + ")"
}

func fail(reason, detail string, err error) ComplianceResult {
	return ComplianceResult{Reason: reason, Detail: detail, Err: err}
}

// CheckSource applies the document type, authoring role and temporal window
// checks to a single candidate.
func CheckSource(rule model.Rule, c model.CandidateValue, anchor *model.Date) ComplianceResult {
	if !rule.AdmitsType(c.DocumentType) {
		return fail(ReasonDocumentType,
			fmt.Sprintf("%s %s; rule %s admits %s", c.DocumentType, c.DocumentID, rule.ID, joinTypes(rule.AllowedTypes)), nil)
	}

	if !rule.AdmitsRole(c.AuthorRole) {
		role := string(c.AuthorRole)
		if role == "" {
			role = "unknown"
		}
		return fail(ReasonAuthorRole,
			fmt.Sprintf("%s authored by %s; rule %s requires %s", c.DocumentID, role, rule.ID, joinRoles(rule.AllowedRoles)), nil)
	}

	if rule.Window != nil {
		if anchor == nil || anchor.IsZero() {
			return fail(ReasonAnchorMissing,
				fmt.Sprintf("rule %s needs a diagnosis anchor date for its %s window", rule.ID, windowString(*rule.Window)),
				&model.MissingAnchorDateError{RuleID: rule.ID})
		}
		if c.EffectiveDate.IsZero() {
			return fail(ReasonOutsideWindow,
				fmt.Sprintf("%s has no effective date; window %s", c.DocumentID, windowString(*rule.Window)), nil)
		}
		lower := addMonths(anchor.Time, rule.Window.StartMonths)
		upper := addMonths(anchor.Time, rule.Window.EndMonths)
		eff := c.EffectiveDate.Time
		if eff.Before(lower) || eff.After(upper) {
			return fail(ReasonOutsideWindow,
				fmt.Sprintf("%s dated %s; window %s to %s (%s from anchor %s)",
					c.DocumentID, c.EffectiveDate, lower.Format(model.DateLayout), upper.Format(model.DateLayout),
					windowString(*rule.Window), anchor),
				nil)
		}
	}

	return ComplianceResult{Compliant: true}
}

// addMonths moves t by k calendar months, clamping the day to the end of a
// shorter target month: Aug 31 plus 6 months is Feb 29 (or 28), not Mar 2.
func addMonths(t time.Time, k int) time.Time {
	y, m, d := t.Date()
	target := m + time.Month(k)
	last := time.Date(y, target+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, target, min(d, last), 0, 0, 0, 0, t.Location())
}

// Evaluate runs every provenance check for candidate c under rule. For
// dual-source rules, pool supplies the other candidates of the same field
// from which an independent corroborating source is assembled; pool is
// scanned in order and the first qualifying partner wins.
func Evaluate(rule model.Rule, c model.CandidateValue, anchor *model.Date, pool []model.CandidateValue) ComplianceResult {
	res := CheckSource(rule, c, anchor)
	if !res.Compliant || !rule.RequiresCorroboration() {
		return res
	}

	value, err := model.NormalizeValue(rule.Field.Kind(), c.Value)
	if err != nil {
		value = c.Value
	}

	detail := "no second qualifying source from a distinct document type"
	for i := range pool {
		q := pool[i]
		if q.DocumentID == c.DocumentID || q.DocumentType == c.DocumentType {
			continue
		}
		if !CheckSource(rule, q, anchor).Compliant {
			continue
		}
		if !covers(rule.Corroboration.RequiredTypes, c.DocumentType, q.DocumentType) {
			detail = fmt.Sprintf("%s and %s do not cover required %s",
				c.DocumentType, q.DocumentType, strings.Join(rule.Corroboration.RequiredTypes, " and "))
			continue
		}
		other, err := model.NormalizeValue(rule.Field.Kind(), q.Value)
		if err != nil {
			other = q.Value
		}
		if !model.SameValue(value, other) {
			detail = fmt.Sprintf("%s reports %q but %s reports %q", c.DocumentID, value, q.DocumentID, other)
			continue
		}
		return ComplianceResult{Compliant: true, Corroborator: &q}
	}

	return fail(ReasonInsufficientCorroboration, detail,
		&model.InsufficientCorroborationError{RuleID: rule.ID, Detail: detail})
}

// covers reports whether the pair a, b satisfies every required type
// entry. Entries may list alternatives separated by "|".
func covers(required []string, a, b model.DocumentType) bool {
	for _, req := range required {
		ok := false
		for _, alt := range strings.Split(req, "|") {
			dt := model.DocumentType(strings.TrimSpace(alt))
			if dt == a || dt == b {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func windowString(w model.Window) string {
	return fmt.Sprintf("%d-%d months", w.StartMonths, w.EndMonths)
}

func joinTypes(types []model.DocumentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func joinRoles(roles []model.AuthorRole) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
