// Package ledger is the append-only audit trail of field decisions. Entries
// are staged per case by a CaseWriter and become durable together, with the
// case result, when the writer commits.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/internal/resilience"
)

// ErrWriterClosed is returned when a committed or discarded writer is reused.
var ErrWriterClosed = errors.New("ledger: case writer closed")

// Store persists a case result and its trail atomically.
type Store interface {
	SaveCase(ctx context.Context, result *model.CaseResult, trail []model.AuditEntry) error
	Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error)
}

// Resolver confirms that a rule id is bound to a field.
type Resolver interface {
	Resolve(f model.FieldID, ruleID string) error
}

// Ledger hands out case writers and reads back committed trails.
type Ledger struct {
	store Store
	rules Resolver
	retry resilience.RetryConfig
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetry sets the retry policy for commits.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(l *Ledger) { l.retry = cfg }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store. Recorded decisions are checked against
// rules.
func New(store Store, rules Resolver, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		rules: rules,
		retry: resilience.DefaultRetryConfig(),
		now:   time.Now,
		locks: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin opens the writer for a case. Writers for the same case are
// serialized: Begin waits until any open writer for caseID commits or
// discards, or until ctx is done.
func (l *Ledger) Begin(ctx context.Context, caseID string) (*CaseWriter, error) {
	if caseID == "" {
		return nil, eris.New("ledger: empty case id")
	}
	for {
		l.mu.Lock()
		held, busy := l.locks[caseID]
		if !busy {
			l.locks[caseID] = make(chan struct{})
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "ledger: begin case %s", caseID)
		}
	}

	return &CaseWriter{
		ledger: l,
		caseID: caseID,
		fields: make(map[model.FieldID]bool),
	}, nil
}

func (l *Ledger) release(caseID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.locks[caseID]; ok {
		close(ch)
		delete(l.locks, caseID)
	}
}

// Trail returns the committed entries of a case in sequence order.
func (l *Ledger) Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error) {
	entries, err := l.store.Trail(ctx, caseID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: trail %s", caseID)
	}
	if len(entries) == 0 {
		return nil, eris.Wrapf(model.ErrCaseNotFound, "ledger: trail %s", caseID)
	}
	return entries, nil
}

// CaseWriter stages the entries of one case. It is safe for concurrent use;
// sequence numbers follow the order in which Record calls are serialized.
type CaseWriter struct {
	ledger *Ledger
	caseID string

	mu      sync.Mutex
	entries []model.AuditEntry
	fields  map[model.FieldID]bool
	closed  bool
}

// CaseID returns the case this writer records for.
func (w *CaseWriter) CaseID() string {
	return w.caseID
}

// Record stages a decision and returns its entry. Each field may be
// recorded once per case, and the decision's rule must be bound to its
// field. Nothing is durable until Commit.
func (w *CaseWriter) Record(d model.Decision) (model.AuditEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return model.AuditEntry{}, ErrWriterClosed
	}
	if err := w.ledger.rules.Resolve(d.Field, d.RuleID); err != nil {
		return model.AuditEntry{}, eris.Wrapf(err, "ledger: record %s", d.Field)
	}
	if w.fields[d.Field] {
		return model.AuditEntry{}, eris.Errorf("ledger: field %s already recorded for case %s", d.Field, w.caseID)
	}

	prev := ""
	if n := len(w.entries); n > 0 {
		prev = w.entries[n-1].Hash
	}
	e := model.AuditEntry{
		ID:         uuid.New().String(),
		CaseID:     w.caseID,
		Sequence:   len(w.entries) + 1,
		Decision:   d,
		RecordedAt: w.ledger.now().UTC(),
		PrevHash:   prev,
	}
	hash, err := HashEntry(e)
	if err != nil {
		return model.AuditEntry{}, err
	}
	e.Hash = hash

	w.entries = append(w.entries, e)
	w.fields[d.Field] = true
	return e, nil
}

// Len returns the number of staged entries.
func (w *CaseWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Commit persists the case result and every staged entry as one unit.
// Every field in the result set must have been recorded. If ctx is done
// before the store confirms, nothing is persisted and the staged entries
// are discarded. The writer is closed after Commit returns.
func (w *CaseWriter) Commit(ctx context.Context, result *model.CaseResult) ([]model.AuditEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWriterClosed
	}
	defer w.closeLocked()

	if result == nil || result.CaseID != w.caseID {
		return nil, eris.Errorf("ledger: result does not belong to case %s", w.caseID)
	}
	for _, r := range result.Results {
		if !w.fields[r.Field] {
			return nil, eris.Errorf("ledger: result field %s has no audit entry", r.Field)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "ledger: commit case %s", w.caseID)
	}

	trail := make([]model.AuditEntry, len(w.entries))
	copy(trail, w.entries)

	cfg := w.ledger.retry
	cfg.OnRetry = resilience.RetryLogger("ledger", "commit")
	attempt := 0
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		err := w.ledger.store.SaveCase(ctx, result, trail)
		if attempt > 1 && errors.Is(err, model.ErrCaseAlreadyAudited) {
			// An earlier attempt may have committed before its
			// acknowledgement was lost.
			return w.reconcile(ctx, trail, err)
		}
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: commit case %s", w.caseID)
	}

	zap.L().Info("ledger: case committed",
		zap.String("case_id", w.caseID),
		zap.Int("entries", len(trail)),
	)
	return trail, nil
}

// reconcile returns nil when the stored trail is the staged one, entry for
// entry by hash, and saveErr otherwise.
func (w *CaseWriter) reconcile(ctx context.Context, trail []model.AuditEntry, saveErr error) error {
	stored, err := w.ledger.store.Trail(ctx, w.caseID)
	if err != nil {
		zap.L().Warn("ledger: read trail after duplicate commit",
			zap.String("case_id", w.caseID),
			zap.Error(err),
		)
		return saveErr
	}
	if len(stored) != len(trail) {
		return saveErr
	}
	for i := range trail {
		if stored[i].Sequence != trail[i].Sequence || stored[i].Hash != trail[i].Hash {
			return saveErr
		}
	}
	zap.L().Info("ledger: commit already persisted by an earlier attempt",
		zap.String("case_id", w.caseID),
	)
	return nil
}

// Discard drops every staged entry. It is a no-op on a closed writer.
func (w *CaseWriter) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if len(w.entries) > 0 {
		zap.L().Debug("ledger: discarding staged entries",
			zap.String("case_id", w.caseID),
			zap.Int("entries", len(w.entries)),
		)
	}
	w.closeLocked()
}

func (w *CaseWriter) closeLocked() {
	w.closed = true
	w.entries = nil
	w.ledger.release(w.caseID)
}
