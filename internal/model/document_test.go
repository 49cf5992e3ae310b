package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentType(t *testing.T) {
	t.Parallel()

	d, err := ParseDocumentType(" Pathology Report ")
	require.NoError(t, err)
	assert.Equal(t, DocPathologyReport, d)

	d, err = ParseDocumentType("genetic-test-report")
	require.NoError(t, err)
	assert.Equal(t, DocGeneticTestReport, d)

	_, err = ParseDocumentType("fax")
	assert.Error(t, err)
}

func TestParseAuthorRole(t *testing.T) {
	t.Parallel()

	r, err := ParseAuthorRole("MD")
	require.NoError(t, err)
	assert.Equal(t, RoleMD, r)

	r, err = ParseAuthorRole("genetic counselor")
	require.NoError(t, err)
	assert.Equal(t, RoleGeneticCounselor, r)

	_, err = ParseAuthorRole("scribe")
	assert.Error(t, err)
}

func TestConfidence_Order(t *testing.T) {
	t.Parallel()

	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceMedium))
	assert.True(t, ConfidenceMedium.AtLeast(ConfidenceMedium))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceMedium))
	assert.False(t, Confidence("bogus").AtLeast(ConfidenceLow))
	assert.True(t, ConfidenceNone.AtLeast(ConfidenceNone))
}

func TestParseConfidence(t *testing.T) {
	t.Parallel()

	c, err := ParseConfidence("")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceNone, c)

	c, err = ParseConfidence(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, c)

	_, err = ParseConfidence("certain")
	assert.Error(t, err)
}

func TestRule_Admits(t *testing.T) {
	t.Parallel()

	r := Rule{
		AllowedTypes: []DocumentType{DocPathologyReport, DocRadiologyReport},
		AllowedRoles: []AuthorRole{RolePathologist},
	}
	assert.True(t, r.AdmitsType(DocRadiologyReport))
	assert.False(t, r.AdmitsType(DocClinicianNote))
	assert.True(t, r.AdmitsRole(RolePathologist))
	assert.False(t, r.AdmitsRole(RoleMD))
	assert.True(t, Rule{}.AdmitsRole(RoleOther))

	assert.Equal(t, 0, r.TypePriority(DocPathologyReport))
	assert.Equal(t, 1, r.TypePriority(DocRadiologyReport))
	assert.Equal(t, 2, r.TypePriority(DocImaging))

	assert.False(t, r.RequiresCorroboration())
	r.Corroboration.Mode = CorroborationDual
	assert.True(t, r.RequiresCorroboration())
}

func TestResultEntryFrom_HidesNonPopulatedValue(t *testing.T) {
	t.Parallel()

	d := Decision{
		Field:       FieldBRCA1Status,
		Value:       StringPtr("pathogenic"),
		Disposition: DispositionNeedsReview,
		RuleID:      "R005-AR",
	}
	assert.Nil(t, ResultEntryFrom(d).Value)

	d.Disposition = DispositionPopulated
	e := ResultEntryFrom(d)
	require.NotNil(t, e.Value)
	assert.Equal(t, "pathogenic", *e.Value)
}

func TestCaseResult_Counts(t *testing.T) {
	t.Parallel()

	r := &CaseResult{Results: []ResultEntry{
		{Field: FieldHypertension, Disposition: DispositionPopulated, Value: StringPtr("yes")},
		{Field: FieldDiabetes, Disposition: DispositionRejected},
		{Field: FieldBRCA1Status, Disposition: DispositionNeedsReview},
		{Field: FieldDrugs, Disposition: DispositionRejected},
	}}

	counts := r.Counts()
	assert.Equal(t, 1, counts[DispositionPopulated])
	assert.Equal(t, 1, counts[DispositionNeedsReview])
	assert.Equal(t, 2, counts[DispositionRejected])

	v, ok := r.Value(FieldHypertension)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
	_, ok = r.Value(FieldDiabetes)
	assert.False(t, ok)
}
