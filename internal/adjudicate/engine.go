// Package adjudicate turns candidate values into one decision per form field,
// combining the rule catalog, the provenance evaluator and the confidence gate.
package adjudicate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clinical-abstraction/internal/gate"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/provenance"
)

// ReasonNoSource is the rationale for a field without any candidate.
const ReasonNoSource = "no qualifying source found"

// ReasonInvalidValue rejects a compliant source whose value does not parse
// as the field's declared kind.
const ReasonInvalidValue = "value not valid for field type"

// Rules is the read-only rule lookup the engine depends on.
type Rules interface {
	Lookup(f model.FieldID) ([]model.Rule, error)
	AlwaysReview(f model.FieldID) bool
}

// Engine adjudicates fields. It holds no per-case state and is safe for
// concurrent use across cases.
type Engine struct {
	rules          Rules
	maxConcurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrency bounds how many fields of one case are adjudicated at
// once. Values below 1 mean one field at a time.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.maxConcurrency = max(n, 1)
	}
}

// New creates an Engine over the given rules.
func New(rules Rules, opts ...Option) *Engine {
	e := &Engine{rules: rules, maxConcurrency: 8}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt is the last evaluated candidate, kept for the rejection rationale.
type attempt struct {
	rule      model.Rule
	candidate model.CandidateValue
	result    provenance.ComplianceResult
}

// Adjudicate produces the single decision for field f. Candidates for other
// fields are ignored. Only structural problems (an unknown field) return an
// error; every provenance, timing or confidence failure is a decision.
func (e *Engine) Adjudicate(f model.FieldID, candidates []model.CandidateValue, anchor *model.Date) (model.Decision, error) {
	rules, err := e.rules.Lookup(f)
	if err != nil {
		return model.Decision{}, err
	}
	if len(rules) == 0 {
		return model.Decision{}, eris.Errorf("adjudicate: field %s has no rules", f)
	}
	alwaysReview := e.rules.AlwaysReview(f)

	var own []model.CandidateValue
	for _, c := range candidates {
		if c.Field == f {
			own = append(own, c)
		}
	}

	if len(own) == 0 {
		d := model.Decision{
			Field:       f,
			Disposition: model.DispositionRejected,
			RuleID:      rules[0].ID,
			Rationale:   fmt.Sprintf("rule %s: %s", rules[0].ID, ReasonNoSource),
		}
		if alwaysReview {
			d.Disposition = model.DispositionNeedsReview
			d.Rationale += "; always-review field left empty for human review"
		}
		return d, nil
	}

	var last *attempt
	for _, rule := range rules {
		ordered := orderCandidates(rule, own)
		for _, c := range ordered {
			res := provenance.Evaluate(rule, c, anchor, ordered)
			if res.Compliant {
				value, err := model.NormalizeValue(f.Kind(), c.Value)
				if err == nil {
					return decide(f, rule, c, res, value, alwaysReview), nil
				}
				res = provenance.ComplianceResult{
					Reason: ReasonInvalidValue,
					Detail: fmt.Sprintf("%s reports %q, expected %s", c.DocumentID, c.Value, f.Kind()),
				}
			}
			last = &attempt{rule: rule, candidate: c, result: res}
		}
	}

	disposition := gate.Decide(last.result, last.candidate.Confidence, alwaysReview, last.rule.MinConfidence)
	rationale := fmt.Sprintf("rule %s: %s", last.rule.ID, last.result.Explain())
	if alwaysReview {
		rationale = fmt.Sprintf("rule %s: always-review field; no compliant source: %s", last.rule.ID, last.result.Explain())
	}
	return model.Decision{
		Field:       f,
		Disposition: disposition,
		RuleID:      last.rule.ID,
		Confidence:  last.candidate.Confidence,
		Rationale:   rationale,
	}, nil
}

func decide(f model.FieldID, rule model.Rule, c model.CandidateValue, res provenance.ComplianceResult, value string, alwaysReview bool) model.Decision {
	disposition := gate.Decide(res, c.Confidence, alwaysReview, rule.MinConfidence)

	var b strings.Builder
	fmt.Fprintf(&b, "rule %s: %s %s", rule.ID, c.DocumentType, c.DocumentID)
	if c.AuthorRole != "" {
		fmt.Fprintf(&b, " by %s", c.AuthorRole)
	}
	if !c.EffectiveDate.IsZero() {
		fmt.Fprintf(&b, " dated %s", c.EffectiveDate)
	}
	b.WriteString(" is compliant")
	if res.Corroborator != nil {
		fmt.Fprintf(&b, ", corroborated by %s %s", res.Corroborator.DocumentType, res.Corroborator.DocumentID)
	}

	switch {
	case alwaysReview:
		b.WriteString("; always-review field, proposed value held for human review")
	case disposition == model.DispositionNeedsReview:
		fmt.Fprintf(&b, "; confidence %s below minimum %s", confidenceLabel(c.Confidence), rule.MinConfidence)
	default:
		fmt.Fprintf(&b, "; confidence %s meets minimum %s", confidenceLabel(c.Confidence), rule.MinConfidence)
	}

	d := model.Decision{
		Field:            f,
		Value:            model.StringPtr(value),
		Disposition:      disposition,
		RuleID:           rule.ID,
		SourceDocumentID: model.StringPtr(c.DocumentID),
		Confidence:       c.Confidence,
		Rationale:        b.String(),
	}
	if res.Corroborator != nil {
		d.CorroboratingDocumentID = model.StringPtr(res.Corroborator.DocumentID)
	}
	return d
}

func confidenceLabel(c model.Confidence) string {
	if c == "" {
		return string(model.ConfidenceNone)
	}
	return string(c)
}

// orderCandidates sorts candidates by the rule's document priority, then by
// earliest effective date, then by document id. Undated documents sort last
// within their type.
func orderCandidates(rule model.Rule, candidates []model.CandidateValue) []model.CandidateValue {
	out := make([]model.CandidateValue, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := rule.TypePriority(a.DocumentType), rule.TypePriority(b.DocumentType); pa != pb {
			return pa < pb
		}
		if az, bz := a.EffectiveDate.IsZero(), b.EffectiveDate.IsZero(); az != bz {
			return bz
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate.Time) {
			return a.EffectiveDate.Before(b.EffectiveDate.Time)
		}
		return a.DocumentID < b.DocumentID
	})
	return out
}

// AdjudicateCase produces exactly one decision per form field, in form
// order. Candidate fields are validated first; an unknown field fails the
// whole case. Fields are adjudicated concurrently.
func (e *Engine) AdjudicateCase(ctx context.Context, bundle model.CaseBundle) ([]model.Decision, error) {
	byField := make(map[model.FieldID][]model.CandidateValue)
	for _, c := range bundle.Candidates {
		f, err := model.ParseFieldID(string(c.Field))
		if err != nil {
			return nil, eris.Wrapf(err, "adjudicate: case %s", bundle.CaseID)
		}
		c.Field = f
		byField[f] = append(byField[f], c)
	}

	fields := model.Fields()
	decisions := make([]model.Decision, len(fields))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for i, f := range fields {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			d, err := e.Adjudicate(f, byField[f], bundle.AnchorDate)
			if err != nil {
				return eris.Wrapf(err, "adjudicate: field %s", f)
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("adjudicate: case adjudicated",
		zap.String("case_id", bundle.CaseID),
		zap.Int("candidates", len(bundle.Candidates)),
		zap.Int("decisions", len(decisions)),
	)
	return decisions, nil
}
