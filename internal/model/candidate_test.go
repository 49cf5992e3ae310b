package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    ValueKind
		raw     string
		want    string
		wantErr bool
	}{
		{"string collapses whitespace", KindString, "  invasive   ductal\ncarcinoma ", "invasive ductal carcinoma", false},
		{"enum kept as is", KindEnum, "T2", "T2", false},
		{"date canonical", KindDate, " 2024-03-09 ", "2024-03-09", false},
		{"date bad layout", KindDate, "03/09/2024", "", true},
		{"boolean yes", KindBoolean, "Yes", "yes", false},
		{"boolean present", KindBoolean, "present", "yes", false},
		{"boolean negative", KindBoolean, "NEGATIVE", "no", false},
		{"boolean free text yes", KindBoolean, "Yes - documented in visit 1", "yes", false},
		{"boolean free text no", KindBoolean, "no-history noted", "no", false},
		{"boolean unknown", KindBoolean, "maybe", "", true},
		{"empty", KindString, "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeValue(tt.kind, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSameValue(t *testing.T) {
	t.Parallel()

	assert.True(t, SameValue("T2", "t2"))
	assert.False(t, SameValue("T2", "T3"))
}

func TestDate_JSON(t *testing.T) {
	t.Parallel()

	d := NewDate(2024, time.January, 15)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-15"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, d.Equal(back.Time))

	b, err = json.Marshal(Date{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var empty Date
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsZero())
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"15/01/2024"`), &empty))
	assert.Error(t, json.Unmarshal([]byte(`20240115`), &empty))
}

func TestCaseBundle_HasAnchor(t *testing.T) {
	t.Parallel()

	assert.False(t, CaseBundle{}.HasAnchor())
	assert.False(t, CaseBundle{AnchorDate: &Date{}}.HasAnchor())

	d := NewDate(2024, time.January, 15)
	assert.True(t, CaseBundle{AnchorDate: &d}.HasAnchor())
}

func TestCaseBundle_DecodeCandidates(t *testing.T) {
	t.Parallel()

	raw := `{"case_id":"c1","anchor_date":"2024-01-15","candidates":[
		{"field":"staging.t_stage","value":"T2","document_id":"img-1","document_type":"imaging","effective_date":"2024-01-10","confidence":"high"}
	]}`
	var b CaseBundle
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	require.Len(t, b.Candidates, 1)
	assert.Equal(t, FieldTStage, b.Candidates[0].Field)
	assert.Equal(t, DocImaging, b.Candidates[0].DocumentType)
	assert.Equal(t, "2024-01-10", b.Candidates[0].EffectiveDate.String())
	assert.Empty(t, b.Candidates[0].AuthorRole)
}
