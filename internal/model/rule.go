package model

import "slices"

// CorroborationMode states how many independent sources a rule demands.
type CorroborationMode string

const (
	CorroborationSingle CorroborationMode = "single"
	CorroborationDual   CorroborationMode = "dual"
)

// Window is an inclusive temporal window, in calendar months relative to
// the anchor date. Negative months reach before the anchor.
type Window struct {
	StartMonths int `json:"start_months" yaml:"start_months"`
	EndMonths   int `json:"end_months" yaml:"end_months"`
}

// Corroboration is a rule's source-count requirement.
type Corroboration struct {
	Mode CorroborationMode `json:"mode" yaml:"mode"`
	// RequiredTypes, when set, must each be covered by the corroborating
	// pair. Any entry may list alternatives separated by "|".
	RequiredTypes []string `json:"required_types,omitempty" yaml:"required_types,omitempty"`
}

// Rule is one abstraction rule bound to a single form field. Rules are
// immutable once the catalog is built.
type Rule struct {
	ID            string         `json:"id"`
	Field         FieldID        `json:"field"`
	Description   string         `json:"description"`
	AllowedTypes  []DocumentType `json:"allowed_document_types"`
	AllowedRoles  []AuthorRole   `json:"allowed_roles,omitempty"`
	Window        *Window        `json:"window,omitempty"`
	Corroboration Corroboration  `json:"corroboration"`
	AlwaysReview  bool           `json:"always_review"`
	MinConfidence Confidence     `json:"min_confidence"`
	Priority      int            `json:"priority"`
}

// AdmitsType reports whether d is in the rule's allowed document types.
func (r Rule) AdmitsType(d DocumentType) bool {
	return slices.Contains(r.AllowedTypes, d)
}

// AdmitsRole reports whether the rule accepts documents authored by role.
// A rule without role restrictions admits every role.
func (r Rule) AdmitsRole(role AuthorRole) bool {
	if len(r.AllowedRoles) == 0 {
		return true
	}
	return slices.Contains(r.AllowedRoles, role)
}

// TypePriority returns the document priority of d under this rule; lower
// ranks first. Inadmissible types rank after every admissible one.
func (r Rule) TypePriority(d DocumentType) int {
	if i := slices.Index(r.AllowedTypes, d); i >= 0 {
		return i
	}
	return len(r.AllowedTypes)
}

// RequiresCorroboration reports whether the rule is dual-source.
func (r Rule) RequiresCorroboration() bool {
	return r.Corroboration.Mode == CorroborationDual
}
