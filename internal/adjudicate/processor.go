package adjudicate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clinical-abstraction/internal/ledger"
	"github.com/sells-group/clinical-abstraction/internal/model"
)

// Processor runs one patient case end to end: adjudicate every field,
// record each decision in the ledger, and commit the result with its trail.
type Processor struct {
	engine *Engine
	ledger *ledger.Ledger
	now    func() time.Time
}

// NewProcessor wires an engine to a ledger.
func NewProcessor(engine *Engine, l *ledger.Ledger) *Processor {
	return &Processor{engine: engine, ledger: l, now: time.Now}
}

// Outcome is the persisted result of one case together with its trail.
type Outcome struct {
	Result *model.CaseResult  `json:"result"`
	Trail  []model.AuditEntry `json:"trail"`
}

// Process adjudicates and commits a single case. A bundle without a case id
// gets a generated one. Nothing is persisted unless every field was decided
// and recorded; cancellation before commit leaves no trace.
func (p *Processor) Process(ctx context.Context, bundle model.CaseBundle) (*Outcome, error) {
	if bundle.CaseID == "" {
		bundle.CaseID = uuid.New().String()
	}
	log := zap.L().With(zap.String("case_id", bundle.CaseID))
	if !bundle.HasAnchor() {
		log.Warn("adjudicate: case has no anchor date; windowed rules will fail closed")
	}

	decisions, err := p.engine.AdjudicateCase(ctx, bundle)
	if err != nil {
		return nil, err
	}

	w, err := p.ledger.Begin(ctx, bundle.CaseID)
	if err != nil {
		return nil, err
	}
	defer w.Discard()

	result := &model.CaseResult{
		CaseID:      bundle.CaseID,
		PatientID:   bundle.PatientID,
		AnchorDate:  bundle.AnchorDate,
		Status:      model.CaseStatusProcessed,
		Results:     make([]model.ResultEntry, 0, len(decisions)),
		ProcessedAt: p.now().UTC(),
	}
	for _, d := range decisions {
		if _, err := w.Record(d); err != nil {
			return nil, eris.Wrapf(err, "adjudicate: record case %s", bundle.CaseID)
		}
		result.Results = append(result.Results, model.ResultEntryFrom(d))
	}

	trail, err := w.Commit(ctx, result)
	if err != nil {
		return nil, err
	}

	counts := result.Counts()
	log.Info("adjudicate: case processed",
		zap.Int("populated", counts[model.DispositionPopulated]),
		zap.Int("needs_review", counts[model.DispositionNeedsReview]),
		zap.Int("rejected", counts[model.DispositionRejected]),
	)
	return &Outcome{Result: result, Trail: trail}, nil
}

// BatchItem is the outcome of one case in a batch.
type BatchItem struct {
	CaseID  string
	Outcome *Outcome
	Err     error
}

// ProcessBatch processes independent cases concurrently, at most
// concurrency at a time. A failing case does not stop the others; results
// are returned in input order.
func (p *Processor) ProcessBatch(ctx context.Context, bundles []model.CaseBundle, concurrency int) []BatchItem {
	items := make([]BatchItem, len(bundles))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, b := range bundles {
		if b.CaseID == "" {
			b.CaseID = uuid.New().String()
		}
		items[i].CaseID = b.CaseID
		g.Go(func() error {
			out, err := p.Process(gCtx, b)
			items[i].Outcome = out
			items[i].Err = err
			if err != nil {
				zap.L().Error("adjudicate: case failed", zap.String("case_id", b.CaseID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
