package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// sectionDefs covers every form field with one permissive rule per section.
func sectionDefs() []RuleDefinition {
	var defs []RuleDefinition
	for _, s := range model.Sections() {
		defs = append(defs, RuleDefinition{
			ID:                   "S-" + string(s),
			Group:                string(s),
			AllowedDocumentTypes: []string{"clinician_note"},
		})
	}
	return defs
}

func validationProblems(t *testing.T, err error) []string {
	t.Helper()
	var ve *model.CatalogValidationError
	require.True(t, errors.As(err, &ve), "want CatalogValidationError, got %v", err)
	return ve.Problems
}

func TestDefault_Valid(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, len(c.All()), c.Len())
	for _, f := range model.Fields() {
		rules, err := c.Lookup(f)
		require.NoError(t, err)
		assert.NotEmpty(t, rules, "field %s has no rule", f)
		for _, r := range rules {
			assert.Equal(t, f, r.Field)
			assert.NotEmpty(t, r.AllowedTypes)
		}
	}
}

func TestDefault_AlwaysReviewFields(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, f := range []model.FieldID{
		model.FieldDiagnosis,
		model.FieldOverallStage,
		model.FieldMetastasis,
		model.FieldBRCA1Status,
		model.FieldVariantFound,
	} {
		assert.True(t, c.AlwaysReview(f), f)
	}
	assert.False(t, c.AlwaysReview(model.FieldHypertension))
	assert.False(t, c.AlwaysReview(model.FieldBRCA2Status))
}

func TestDefault_GroupExpansion(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, f := range model.FieldsInSection(model.SectionComorbidities) {
		rules, err := c.Lookup(f)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		r := rules[0]
		assert.Equal(t, "R001", r.ID)
		require.NotNil(t, r.Window)
		assert.Equal(t, model.Window{StartMonths: 3, EndMonths: 6}, *r.Window)
		assert.Equal(t, []model.AuthorRole{model.RoleMD}, r.AllowedRoles)
		assert.Equal(t, model.ConfidenceHigh, r.MinConfidence)
	}
}

func TestDefault_DualCorroboration(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	rules, err := c.Lookup(model.FieldTStage)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].RequiresCorroboration())
	assert.Equal(t, []string{"imaging|radiology_report", "clinician_note"}, rules[0].Corroboration.RequiredTypes)
}

func TestLookup_UnknownField(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	_, err = c.Lookup("pathology.mitoses")
	require.Error(t, err)
	assert.True(t, model.IsUnknownField(err))
}

func TestLookup_ReturnsCopies(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	rules, err := c.Lookup(model.FieldHypertension)
	require.NoError(t, err)
	rules[0].AllowedTypes[0] = model.DocPharmacyRecord
	rules[0].Window.EndMonths = 99

	again, err := c.Lookup(model.FieldHypertension)
	require.NoError(t, err)
	assert.Equal(t, model.DocClinicianNote, again[0].AllowedTypes[0])
	assert.Equal(t, 6, again[0].Window.EndMonths)
}

func TestResolve(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.NoError(t, c.Resolve(model.FieldHypertension, "R001"))
	assert.Error(t, c.Resolve(model.FieldHypertension, "R003"))
	assert.True(t, model.IsUnknownField(c.Resolve("x.y", "R001")))

	assert.True(t, c.HasRule("R004-OS"))
	assert.False(t, c.HasRule("R404"))
}

func TestNew_DefaultsAndOrdering(t *testing.T) {
	defs := sectionDefs()
	defs = append(defs, RuleDefinition{
		ID:                   "A-first",
		Field:                string(model.FieldHypertension),
		AllowedDocumentTypes: []string{"patient_record"},
		Priority:             -1,
	})

	c, err := New(defs)
	require.NoError(t, err)

	rules, err := c.Lookup(model.FieldHypertension)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "A-first", rules[0].ID)
	assert.Equal(t, "S-comorbidities", rules[1].ID)
	assert.Equal(t, DefaultMinConfidence, rules[1].MinConfidence)
	assert.Equal(t, model.CorroborationSingle, rules[1].Corroboration.Mode)
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		def  RuleDefinition
		want string
	}{
		{
			name: "unknown field",
			def:  RuleDefinition{ID: "X1", Field: "pathology.mitoses", AllowedDocumentTypes: []string{"pathology_report"}},
			want: `rule X1: references unknown field "pathology.mitoses"`,
		},
		{
			name: "unknown group",
			def:  RuleDefinition{ID: "X2", Group: "vitals", AllowedDocumentTypes: []string{"clinician_note"}},
			want: `rule X2: references unknown field group "vitals"`,
		},
		{
			name: "no target",
			def:  RuleDefinition{ID: "X3", AllowedDocumentTypes: []string{"clinician_note"}},
			want: "rule X3: targets no field",
		},
		{
			name: "no document types",
			def:  RuleDefinition{ID: "X4", Field: string(model.FieldGrade)},
			want: "rule X4: no allowed document types",
		},
		{
			name: "unknown document type",
			def:  RuleDefinition{ID: "X5", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"fax"}},
			want: `unknown document type "fax"`,
		},
		{
			name: "inverted window",
			def: RuleDefinition{ID: "X6", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"},
				Window: &model.Window{StartMonths: 6, EndMonths: 3}},
			want: "rule X6: window start 6 is after end 3",
		},
		{
			name: "dual with one type",
			def: RuleDefinition{ID: "X7", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"},
				Corroboration: &model.Corroboration{Mode: model.CorroborationDual}},
			want: "rule X7: dual corroboration needs at least two allowed document types",
		},
		{
			name: "required type not allowed",
			def: RuleDefinition{ID: "X8", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report", "clinician_note"},
				Corroboration: &model.Corroboration{Mode: model.CorroborationDual, RequiredTypes: []string{"imaging"}}},
			want: "rule X8: required type imaging is not an allowed document type",
		},
		{
			name: "required types without dual",
			def: RuleDefinition{ID: "X9", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"},
				Corroboration: &model.Corroboration{RequiredTypes: []string{"pathology_report"}}},
			want: "rule X9: required types need dual corroboration",
		},
		{
			name: "unknown corroboration mode",
			def: RuleDefinition{ID: "X10", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"},
				Corroboration: &model.Corroboration{Mode: "triple"}},
			want: `rule X10: unknown corroboration mode "triple"`,
		},
		{
			name: "bad confidence",
			def:  RuleDefinition{ID: "X11", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"}, MinConfidence: "certain"},
			want: `unknown confidence label "certain"`,
		},
		{
			name: "bad role",
			def:  RuleDefinition{ID: "X12", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"pathology_report"}, AllowedRoles: []string{"scribe"}},
			want: `unknown author role "scribe"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append(sectionDefs(), tt.def))
			require.Error(t, err)

			problems := validationProblems(t, err)
			found := false
			for _, p := range problems {
				if strings.Contains(p, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "problems %v do not mention %q", problems, tt.want)
		})
	}
}

func TestNew_DuplicateAndMissingID(t *testing.T) {
	defs := append(sectionDefs(), sectionDefs()[0], RuleDefinition{Group: "timeline", AllowedDocumentTypes: []string{"clinician_note"}})

	_, err := New(defs)
	problems := validationProblems(t, err)
	assert.Contains(t, problems, "rule S-timeline: duplicate id")
	assert.Contains(t, problems, "definition 7: missing id")
}

func TestNew_UncoveredField(t *testing.T) {
	defs := sectionDefs()[1:] // drop timeline

	_, err := New(defs)
	problems := validationProblems(t, err)
	for _, f := range model.FieldsInSection(model.SectionTimeline) {
		assert.Contains(t, problems, "field "+string(f)+": no rule")
	}
}

func TestNew_MixedReviewAndAutoRejected(t *testing.T) {
	defs := append(sectionDefs(), RuleDefinition{
		ID:                   "REV",
		Field:                string(model.FieldGrade),
		AllowedDocumentTypes: []string{"pathology_report"},
		AlwaysReview:         true,
	})

	_, err := New(defs)
	problems := validationProblems(t, err)
	assert.Contains(t, problems, "field pathology.grade: always-review and auto-eligible rules are mutually exclusive")
}

func TestNew_ReportsEveryProblem(t *testing.T) {
	defs := append(sectionDefs(),
		RuleDefinition{ID: "B1", Field: "nope.one", AllowedDocumentTypes: []string{"clinician_note"}},
		RuleDefinition{ID: "B2", Field: string(model.FieldGrade), AllowedDocumentTypes: []string{"fax"}},
	)

	_, err := New(defs)
	assert.GreaterOrEqual(t, len(validationProblems(t, err)), 2)
}
