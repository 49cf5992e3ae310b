package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DocumentType classifies a source document.
type DocumentType string

const (
	DocClinicianNote     DocumentType = "clinician_note"
	DocNursingNote       DocumentType = "nursing_note"
	DocPathologyReport   DocumentType = "pathology_report"
	DocRadiologyReport   DocumentType = "radiology_report"
	DocImaging           DocumentType = "imaging"
	DocGeneticTestReport DocumentType = "genetic_test_report"
	DocPharmacyRecord    DocumentType = "pharmacy_record"
	DocPatientRecord     DocumentType = "patient_record"
	DocLabReport         DocumentType = "lab_report"
)

var documentTypes = []DocumentType{
	DocClinicianNote,
	DocNursingNote,
	DocPathologyReport,
	DocRadiologyReport,
	DocImaging,
	DocGeneticTestReport,
	DocPharmacyRecord,
	DocPatientRecord,
	DocLabReport,
}

// ParseDocumentType normalizes and validates a document type label.
func ParseDocumentType(raw string) (DocumentType, error) {
	d := DocumentType(normalizeLabel(raw))
	for _, known := range documentTypes {
		if d == known {
			return d, nil
		}
	}
	return "", eris.Errorf("model: unknown document type %q", raw)
}

// AuthorRole is the clinical role of a document's author.
type AuthorRole string

const (
	RoleMD               AuthorRole = "md"
	RoleNP               AuthorRole = "np"
	RoleRN               AuthorRole = "rn"
	RolePharmacist       AuthorRole = "pharmacist"
	RolePathologist      AuthorRole = "pathologist"
	RoleRadiologist      AuthorRole = "radiologist"
	RoleGeneticCounselor AuthorRole = "genetic_counselor"
	RoleOther            AuthorRole = "other"
)

var authorRoles = []AuthorRole{
	RoleMD,
	RoleNP,
	RoleRN,
	RolePharmacist,
	RolePathologist,
	RoleRadiologist,
	RoleGeneticCounselor,
	RoleOther,
}

// ParseAuthorRole normalizes and validates an author role label.
func ParseAuthorRole(raw string) (AuthorRole, error) {
	r := AuthorRole(normalizeLabel(raw))
	for _, known := range authorRoles {
		if r == known {
			return r, nil
		}
	}
	return "", eris.Errorf("model: unknown author role %q", raw)
}

// Confidence is the extraction confidence label attached to a candidate.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence labels; unknown labels rank with none.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c meets the min label.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.Rank() >= min.Rank()
}

// ParseConfidence validates a confidence label. Empty input is none.
func ParseConfidence(raw string) (Confidence, error) {
	c := Confidence(normalizeLabel(raw))
	switch c {
	case "":
		return ConfidenceNone, nil
	case ConfidenceNone, ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, nil
	}
	return "", eris.Errorf("model: unknown confidence label %q", raw)
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
