package adjudicate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, *ledger.Ledger, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat := mustDefault(t)
	l := ledger.New(st, cat)
	return NewProcessor(New(cat), l), l, st
}

func scenarioBundle(caseID string) model.CaseBundle {
	return model.CaseBundle{
		CaseID:     caseID,
		PatientID:  "patient-1",
		AnchorDate: &testAnchor,
		Candidates: []model.CandidateValue{
			candidate(model.FieldHypertension, "Yes", "note-1", model.DocClinicianNote, model.RoleMD, model.NewDate(2024, 5, 15), model.ConfidenceHigh),
			candidate(model.FieldDiabetes, "Yes", "nurse-1", model.DocNursingNote, model.RoleRN, model.NewDate(2024, 5, 15), model.ConfidenceHigh),
			candidate(model.FieldHypothyroidism, "Yes", "note-8", model.DocClinicianNote, model.RoleMD, model.NewDate(2024, 9, 15), model.ConfidenceHigh),
			candidate(model.FieldTStage, "T2", "img-1", model.DocImaging, "", model.NewDate(2024, 1, 10), model.ConfidenceHigh),
			candidate(model.FieldBRCA1Status, "Negative", "gt-1", model.DocGeneticTestReport, model.RoleGeneticCounselor, model.NewDate(2024, 2, 1), model.ConfidenceHigh),
			candidate(model.FieldDrugs, "Letrozole", "rx-1", model.DocPharmacyRecord, model.RolePharmacist, model.NewDate(2024, 2, 1), model.ConfidenceHigh),
		},
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	p, l, st := newTestProcessor(t)
	ctx := context.Background()

	out, err := p.Process(ctx, scenarioBundle("case-1"))
	require.NoError(t, err)

	fields := model.Fields()
	require.Len(t, out.Result.Results, len(fields))
	require.Len(t, out.Trail, len(fields))
	require.NoError(t, ledger.Verify(out.Trail))

	for i, e := range out.Trail {
		assert.Equal(t, i+1, e.Sequence)
		assert.Equal(t, fields[i], e.Decision.Field)
	}

	v, ok := out.Result.Value(model.FieldHypertension)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)

	for _, f := range []model.FieldID{model.FieldDiabetes, model.FieldHypothyroidism, model.FieldTStage, model.FieldDrugs} {
		entry, ok := out.Result.Entry(f)
		require.True(t, ok)
		assert.Equal(t, model.DispositionRejected, entry.Disposition, f)
		assert.Nil(t, entry.Value, f)
	}

	brca, ok := out.Result.Entry(model.FieldBRCA1Status)
	require.True(t, ok)
	assert.Equal(t, model.DispositionNeedsReview, brca.Disposition)
	assert.Nil(t, brca.Value)

	saved, err := st.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, out.Result.Counts(), saved.Counts())

	trail, err := l.Trail(ctx, "case-1")
	require.NoError(t, err)
	require.NoError(t, ledger.Verify(trail))
	assert.Equal(t, out.Trail[len(out.Trail)-1].Hash, trail[len(trail)-1].Hash)
}

func TestProcess_RerunIsAlreadyAudited(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.Process(ctx, scenarioBundle("case-1"))
	require.NoError(t, err)

	_, err = p.Process(ctx, scenarioBundle("case-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCaseAlreadyAudited)
}

func TestProcess_UnknownFieldPersistsNothing(t *testing.T) {
	p, _, st := newTestProcessor(t)
	ctx := context.Background()

	bundle := scenarioBundle("case-1")
	bundle.Candidates = append(bundle.Candidates,
		candidate("staging.ecog", "1", "note-1", model.DocClinicianNote, model.RoleMD, model.NewDate(2024, 5, 1), model.ConfidenceHigh))

	_, err := p.Process(ctx, bundle)
	require.Error(t, err)
	assert.True(t, model.IsUnknownField(err))

	_, err = st.GetCase(ctx, "case-1")
	assert.ErrorIs(t, err, model.ErrCaseNotFound)
}

func TestProcess_CancelledPersistsNothing(t *testing.T) {
	p, _, st := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, scenarioBundle("case-1"))
	require.Error(t, err)

	_, err = st.GetCase(context.Background(), "case-1")
	assert.ErrorIs(t, err, model.ErrCaseNotFound)
}

func TestProcess_GeneratesCaseID(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	bundle := scenarioBundle("")

	out, err := p.Process(context.Background(), bundle)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Result.CaseID)
	assert.Equal(t, out.Result.CaseID, out.Trail[0].CaseID)
}

func TestProcessBatch_IndependentCases(t *testing.T) {
	p, _, st := newTestProcessor(t)
	ctx := context.Background()

	bad := scenarioBundle("case-bad")
	bad.Candidates = append(bad.Candidates,
		candidate("staging.ecog", "1", "note-1", model.DocClinicianNote, model.RoleMD, model.NewDate(2024, 5, 1), model.ConfidenceHigh))
	bundles := []model.CaseBundle{
		scenarioBundle("case-1"),
		bad,
		scenarioBundle("case-2"),
		scenarioBundle("case-3"),
	}

	items := p.ProcessBatch(ctx, bundles, 3)
	require.Len(t, items, 4)
	assert.Equal(t, "case-1", items[0].CaseID)
	assert.Equal(t, "case-bad", items[1].CaseID)

	for i, item := range items {
		if i == 1 {
			require.Error(t, item.Err)
			assert.Nil(t, item.Outcome)
			continue
		}
		require.NoError(t, item.Err, item.CaseID)
		require.NoError(t, ledger.Verify(item.Outcome.Trail))
	}

	cases, err := st.ListCases(ctx, store.CaseFilter{PatientID: "patient-1"})
	require.NoError(t, err)
	assert.Len(t, cases, 3)
}
