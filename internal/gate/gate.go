// Package gate maps rule compliance and extraction confidence to a field
// disposition. An empty field is always preferred to an unverifiable one.
package gate

import (
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/provenance"
)

// Decide applies the gate policy; the first matching step wins:
//  1. always-review fields need review regardless of anything else
//  2. non-compliant sources are rejected
//  3. confidence below the field minimum needs review
//  4. otherwise the value is populated
func Decide(compliance provenance.ComplianceResult, confidence model.Confidence, alwaysReview bool, minConfidence model.Confidence) model.Disposition {
	switch {
	case alwaysReview:
		return model.DispositionNeedsReview
	case !compliance.Compliant:
		return model.DispositionRejected
	case !confidence.AtLeast(minConfidence):
		return model.DispositionNeedsReview
	default:
		return model.DispositionPopulated
	}
}
