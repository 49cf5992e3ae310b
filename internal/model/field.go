package model

import (
	"strings"
)

// FieldID identifies a research-form field as "section.name".
type FieldID string

// Section returns the form section a field belongs to.
func (f FieldID) Section() Section {
	s, _, _ := strings.Cut(string(f), ".")
	return Section(s)
}

// Name returns the field name without its section prefix.
func (f FieldID) Name() string {
	_, n, _ := strings.Cut(string(f), ".")
	return n
}

// Section groups related form fields.
type Section string

const (
	SectionTimeline      Section = "timeline"
	SectionStaging       Section = "staging"
	SectionPathology     Section = "pathology"
	SectionComorbidities Section = "comorbidities"
	SectionGermline      Section = "germline"
	SectionMedications   Section = "medications"
)

// ValueKind is the declared type of a field's value.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindEnum    ValueKind = "enum"
	KindDate    ValueKind = "date"
	KindBoolean ValueKind = "boolean"
)

// Form fields.
const (
	FieldDateOfDiagnosis FieldID = "timeline.date_of_diagnosis"
	FieldDateOfLastVisit FieldID = "timeline.date_of_last_visit"
	FieldDateOfLastScan  FieldID = "timeline.date_of_last_scan"
	FieldDateOfDeath     FieldID = "timeline.date_of_death"

	FieldPrimaryCancer FieldID = "staging.primary_cancer"
	FieldLaterality    FieldID = "staging.laterality"
	FieldTStage        FieldID = "staging.t_stage"
	FieldNStage        FieldID = "staging.n_stage"
	FieldMStage        FieldID = "staging.m_stage"
	FieldOverallStage  FieldID = "staging.overall_stage"
	FieldMetastasis    FieldID = "staging.metastasis"

	FieldSpecimenSite FieldID = "pathology.specimen_site"
	FieldQuadrant     FieldID = "pathology.quadrant"
	FieldERStatus     FieldID = "pathology.er_status"
	FieldPRStatus     FieldID = "pathology.pr_status"
	FieldHER2Status   FieldID = "pathology.her2_status"
	FieldKi67         FieldID = "pathology.ki67_percentage"
	FieldGrade        FieldID = "pathology.grade"
	FieldDiagnosis    FieldID = "pathology.diagnosis"

	FieldHypertension   FieldID = "comorbidities.hypertension"
	FieldDiabetes       FieldID = "comorbidities.diabetes"
	FieldHypothyroidism FieldID = "comorbidities.hypothyroidism"
	FieldComorbidOther  FieldID = "comorbidities.other"

	FieldBRCA1Status    FieldID = "germline.brca1_status"
	FieldBRCA2Status    FieldID = "germline.brca2_status"
	FieldVariantFound   FieldID = "germline.variant_found"
	FieldClassification FieldID = "germline.classification"

	FieldLineOfTreatment FieldID = "medications.line_of_treatment"
	FieldIntent          FieldID = "medications.intent"
	FieldRegimen         FieldID = "medications.regimen"
	FieldDrugs           FieldID = "medications.drugs"
)

// FieldSpec describes one field of the form schema.
type FieldSpec struct {
	ID   FieldID   `json:"id"`
	Kind ValueKind `json:"kind"`
}

// schema is the research form in display order.
var schema = []FieldSpec{
	{FieldDateOfDiagnosis, KindDate},
	{FieldDateOfLastVisit, KindDate},
	{FieldDateOfLastScan, KindDate},
	{FieldDateOfDeath, KindDate},

	{FieldPrimaryCancer, KindString},
	{FieldLaterality, KindEnum},
	{FieldTStage, KindEnum},
	{FieldNStage, KindEnum},
	{FieldMStage, KindEnum},
	{FieldOverallStage, KindEnum},
	{FieldMetastasis, KindBoolean},

	{FieldSpecimenSite, KindString},
	{FieldQuadrant, KindString},
	{FieldERStatus, KindString},
	{FieldPRStatus, KindString},
	{FieldHER2Status, KindString},
	{FieldKi67, KindString},
	{FieldGrade, KindString},
	{FieldDiagnosis, KindString},

	{FieldHypertension, KindBoolean},
	{FieldDiabetes, KindBoolean},
	{FieldHypothyroidism, KindBoolean},
	{FieldComorbidOther, KindString},

	{FieldBRCA1Status, KindEnum},
	{FieldBRCA2Status, KindEnum},
	{FieldVariantFound, KindString},
	{FieldClassification, KindEnum},

	{FieldLineOfTreatment, KindEnum},
	{FieldIntent, KindEnum},
	{FieldRegimen, KindString},
	{FieldDrugs, KindString},
}

var schemaIndex = func() map[FieldID]int {
	m := make(map[FieldID]int, len(schema))
	for i, f := range schema {
		m[f.ID] = i
	}
	return m
}()

// Schema returns a copy of the form schema in display order.
func Schema() []FieldSpec {
	out := make([]FieldSpec, len(schema))
	copy(out, schema)
	return out
}

// Fields returns every field id in display order.
func Fields() []FieldID {
	out := make([]FieldID, len(schema))
	for i, f := range schema {
		out[i] = f.ID
	}
	return out
}

// Sections returns the form sections in display order.
func Sections() []Section {
	return []Section{
		SectionTimeline,
		SectionStaging,
		SectionPathology,
		SectionComorbidities,
		SectionGermline,
		SectionMedications,
	}
}

// FieldsInSection returns the fields of a section in display order.
func FieldsInSection(s Section) []FieldID {
	var out []FieldID
	for _, f := range schema {
		if f.ID.Section() == s {
			out = append(out, f.ID)
		}
	}
	return out
}

// ParseFieldID validates a raw field identifier against the schema.
func ParseFieldID(raw string) (FieldID, error) {
	id := FieldID(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := schemaIndex[id]; !ok {
		return "", &UnknownFieldError{Field: raw}
	}
	return id, nil
}

// IsKnown reports whether f is part of the schema.
func (f FieldID) IsKnown() bool {
	_, ok := schemaIndex[f]
	return ok
}

// Kind returns the declared value kind of f. Unknown fields are strings.
func (f FieldID) Kind() ValueKind {
	if i, ok := schemaIndex[f]; ok {
		return schema[i].Kind
	}
	return KindString
}

// Position returns the display position of f, or -1 if unknown.
func (f FieldID) Position() int {
	if i, ok := schemaIndex[f]; ok {
		return i
	}
	return -1
}

// IsSection reports whether s names a form section.
func IsSection(s string) bool {
	for _, sec := range Sections() {
		if string(sec) == s {
			return true
		}
	}
	return false
}
