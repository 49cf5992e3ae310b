package model

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownFieldError reports a field outside the form schema. It is fatal to
// the request that raised it.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// MissingAnchorDateError reports that a temporal rule was evaluated without
// an anchor date. It never escapes adjudication; the rule fails closed.
type MissingAnchorDateError struct {
	RuleID string
}

func (e *MissingAnchorDateError) Error() string {
	return fmt.Sprintf("rule %s: anchor date missing", e.RuleID)
}

// InsufficientCorroborationError is the internal signal for a dual-source
// rule that found no qualifying pair. It surfaces as a REJECTED decision.
type InsufficientCorroborationError struct {
	RuleID string
	Detail string
}

func (e *InsufficientCorroborationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rule %s: insufficient corroboration", e.RuleID)
	}
	return fmt.Sprintf("rule %s: insufficient corroboration (%s)", e.RuleID, e.Detail)
}

// CatalogValidationError lists every inconsistency found while loading rule
// definitions.
type CatalogValidationError struct {
	Problems []string
}

func (e *CatalogValidationError) Error() string {
	return "catalog validation failed: " + strings.Join(e.Problems, "; ")
}

// ErrCaseAlreadyAudited is returned when a case id already has a trail.
// Corrections require a new case run.
var ErrCaseAlreadyAudited = errors.New("case already audited")

// ErrCaseNotFound is returned when a case id has no persisted result.
var ErrCaseNotFound = errors.New("case not found")

// IsUnknownField reports whether err carries an UnknownFieldError.
func IsUnknownField(err error) bool {
	var u *UnknownFieldError
	return errors.As(err, &u)
}
