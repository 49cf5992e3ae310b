package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// chainRecord is the hashed projection of an audit entry. Timestamps are
// rendered in UTC so the digest does not depend on the reader's location.
type chainRecord struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"case_id"`
	Sequence   int            `json:"sequence"`
	Decision   model.Decision `json:"decision"`
	RecordedAt string         `json:"recorded_at"`
	PrevHash   string         `json:"prev_hash"`
}

// HashEntry returns the hex SHA-256 of the RFC 8785 canonical JSON of e,
// excluding e.Hash itself.
func HashEntry(e model.AuditEntry) (string, error) {
	raw, err := json.Marshal(chainRecord{
		ID:         e.ID,
		CaseID:     e.CaseID,
		Sequence:   e.Sequence,
		Decision:   e.Decision,
		RecordedAt: e.RecordedAt.UTC().Format(time.RFC3339Nano),
		PrevHash:   e.PrevHash,
	})
	if err != nil {
		return "", eris.Wrap(err, "ledger: marshal entry")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", eris.Wrap(err, "ledger: canonicalize entry")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify checks that a case trail is dense, ordered and hash-linked. It
// returns the first inconsistency found.
func Verify(entries []model.AuditEntry) error {
	prev := ""
	for i, e := range entries {
		if e.Sequence != i+1 {
			return eris.Errorf("ledger: entry %s has sequence %d, want %d", e.ID, e.Sequence, i+1)
		}
		if i > 0 && e.CaseID != entries[0].CaseID {
			return eris.Errorf("ledger: entry %s belongs to case %s, want %s", e.ID, e.CaseID, entries[0].CaseID)
		}
		if e.PrevHash != prev {
			return eris.Errorf("ledger: entry %d does not link to its predecessor", e.Sequence)
		}
		want, err := HashEntry(e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return eris.Errorf("ledger: entry %d hash mismatch", e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}
