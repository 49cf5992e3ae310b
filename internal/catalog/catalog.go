// Package catalog holds the immutable registry of abstraction rules. Rules are
// data: adding one means adding a definition, which is validated structurally
// when the catalog is built.
package catalog

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// RuleDefinition is the raw form of a rule as supplied by a rule source. A
// definition targets one field, an explicit list of fields, or a whole
// section (group); it expands to one bound rule per field.
type RuleDefinition struct {
	ID                   string               `json:"id" yaml:"id"`
	Field                string               `json:"field,omitempty" yaml:"field,omitempty"`
	Fields               []string             `json:"fields,omitempty" yaml:"fields,omitempty"`
	Group                string               `json:"group,omitempty" yaml:"group,omitempty"`
	Description          string               `json:"description" yaml:"description"`
	AllowedDocumentTypes []string             `json:"allowed_document_types" yaml:"allowed_document_types"`
	AllowedRoles         []string             `json:"allowed_roles,omitempty" yaml:"allowed_roles,omitempty"`
	Window               *model.Window        `json:"window,omitempty" yaml:"window,omitempty"`
	Corroboration        *model.Corroboration `json:"corroboration,omitempty" yaml:"corroboration,omitempty"`
	AlwaysReview         bool                 `json:"always_review" yaml:"always_review"`
	MinConfidence        string               `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	Priority             int                  `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// DefaultMinConfidence applies when a definition names no threshold.
const DefaultMinConfidence = model.ConfidenceMedium

// Catalog is a read-only, validated rule registry. It is safe for
// concurrent use.
type Catalog struct {
	rules        []model.Rule
	byField      map[model.FieldID][]model.Rule
	ids          map[string]bool
	alwaysReview map[model.FieldID]bool
}

// New validates defs and builds a Catalog. Every problem found is reported
// in a single CatalogValidationError.
func New(defs []RuleDefinition) (*Catalog, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c := &Catalog{
		byField:      make(map[model.FieldID][]model.Rule),
		ids:          make(map[string]bool, len(defs)),
		alwaysReview: make(map[model.FieldID]bool),
	}

	for i, d := range defs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			addf("definition %d: missing id", i)
			continue
		}
		if c.ids[id] {
			addf("rule %s: duplicate id", id)
			continue
		}
		c.ids[id] = true

		rules, errs := expand(id, d)
		problems = append(problems, errs...)
		for _, r := range rules {
			c.byField[r.Field] = append(c.byField[r.Field], r)
		}
	}

	for _, f := range model.Fields() {
		rules := c.byField[f]
		if len(rules) == 0 {
			addf("field %s: no rule", f)
			continue
		}
		review, auto := 0, 0
		for _, r := range rules {
			if r.AlwaysReview {
				review++
			} else {
				auto++
			}
		}
		if review > 0 && auto > 0 {
			addf("field %s: always-review and auto-eligible rules are mutually exclusive", f)
		}
		c.alwaysReview[f] = review > 0

		sort.SliceStable(rules, func(a, b int) bool {
			if rules[a].Priority != rules[b].Priority {
				return rules[a].Priority < rules[b].Priority
			}
			return rules[a].ID < rules[b].ID
		})
		c.byField[f] = rules
		c.rules = append(c.rules, rules...)
	}

	if len(problems) > 0 {
		return nil, &model.CatalogValidationError{Problems: problems}
	}
	return c, nil
}

// expand binds a definition to each field it targets and validates it.
func expand(id string, d RuleDefinition) ([]model.Rule, []string) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("rule %s: "+format, append([]any{id}, args...)...))
	}

	var targets []model.FieldID
	if d.Field != "" {
		d.Fields = append([]string{d.Field}, d.Fields...)
	}
	for _, raw := range d.Fields {
		f, err := model.ParseFieldID(raw)
		if err != nil {
			addf("references unknown field %q", raw)
			continue
		}
		targets = append(targets, f)
	}
	if d.Group != "" {
		if !model.IsSection(d.Group) {
			addf("references unknown field group %q", d.Group)
		} else {
			targets = append(targets, model.FieldsInSection(model.Section(d.Group))...)
		}
	}
	if len(targets) == 0 && len(problems) == 0 {
		addf("targets no field")
	}

	base := model.Rule{
		ID:            id,
		Description:   d.Description,
		AlwaysReview:  d.AlwaysReview,
		Priority:      d.Priority,
		Corroboration: model.Corroboration{Mode: model.CorroborationSingle},
	}

	if len(d.AllowedDocumentTypes) == 0 {
		addf("no allowed document types")
	}
	for _, raw := range d.AllowedDocumentTypes {
		dt, err := model.ParseDocumentType(raw)
		if err != nil {
			addf("%v", err)
			continue
		}
		if !slices.Contains(base.AllowedTypes, dt) {
			base.AllowedTypes = append(base.AllowedTypes, dt)
		}
	}
	for _, raw := range d.AllowedRoles {
		role, err := model.ParseAuthorRole(raw)
		if err != nil {
			addf("%v", err)
			continue
		}
		base.AllowedRoles = append(base.AllowedRoles, role)
	}

	if d.Window != nil {
		w := *d.Window
		if w.StartMonths > w.EndMonths {
			addf("window start %d is after end %d", w.StartMonths, w.EndMonths)
		}
		base.Window = &w
	}

	if d.Corroboration != nil {
		switch d.Corroboration.Mode {
		case "", model.CorroborationSingle:
		case model.CorroborationDual:
			base.Corroboration.Mode = model.CorroborationDual
			if len(base.AllowedTypes) < 2 {
				addf("dual corroboration needs at least two allowed document types")
			}
		default:
			addf("unknown corroboration mode %q", d.Corroboration.Mode)
		}
		for _, req := range d.Corroboration.RequiredTypes {
			for _, alt := range strings.Split(req, "|") {
				dt, err := model.ParseDocumentType(alt)
				if err != nil {
					addf("required type: %v", err)
					continue
				}
				if !slices.Contains(base.AllowedTypes, dt) {
					addf("required type %s is not an allowed document type", dt)
				}
			}
		}
		if len(d.Corroboration.RequiredTypes) > 0 && base.Corroboration.Mode != model.CorroborationDual {
			addf("required types need dual corroboration")
		}
		base.Corroboration.RequiredTypes = slices.Clone(d.Corroboration.RequiredTypes)
	}

	base.MinConfidence = DefaultMinConfidence
	if d.MinConfidence != "" {
		conf, err := model.ParseConfidence(d.MinConfidence)
		if err != nil {
			addf("%v", err)
		} else {
			base.MinConfidence = conf
		}
	}

	rules := make([]model.Rule, 0, len(targets))
	for _, f := range targets {
		r := cloneRule(base)
		r.Field = f
		rules = append(rules, r)
	}
	return rules, problems
}

// Lookup returns the rules bound to a field in evaluation order.
func (c *Catalog) Lookup(f model.FieldID) ([]model.Rule, error) {
	if !f.IsKnown() {
		return nil, &model.UnknownFieldError{Field: string(f)}
	}
	rules := c.byField[f]
	out := make([]model.Rule, len(rules))
	for i, r := range rules {
		out[i] = cloneRule(r)
	}
	return out, nil
}

// All returns every bound rule, ordered by form field then priority.
func (c *Catalog) All() []model.Rule {
	out := make([]model.Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = cloneRule(r)
	}
	return out
}

// AlwaysReview reports whether a field is categorically human-gated.
func (c *Catalog) AlwaysReview(f model.FieldID) bool {
	return c.alwaysReview[f]
}

// HasRule reports whether a rule id was loaded.
func (c *Catalog) HasRule(id string) bool {
	return c.ids[id]
}

// Resolve checks that ruleID is bound to field f.
func (c *Catalog) Resolve(f model.FieldID, ruleID string) error {
	if !f.IsKnown() {
		return &model.UnknownFieldError{Field: string(f)}
	}
	for _, r := range c.byField[f] {
		if r.ID == ruleID {
			return nil
		}
	}
	return eris.Errorf("catalog: rule %q is not bound to field %s", ruleID, f)
}

// Len returns the number of bound rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

func cloneRule(r model.Rule) model.Rule {
	r.AllowedTypes = slices.Clone(r.AllowedTypes)
	r.AllowedRoles = slices.Clone(r.AllowedRoles)
	r.Corroboration.RequiredTypes = slices.Clone(r.Corroboration.RequiredTypes)
	if r.Window != nil {
		w := *r.Window
		r.Window = &w
	}
	return r
}
