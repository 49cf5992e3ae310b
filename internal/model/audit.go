package model

import "time"

// AuditEntry is one immutable ledger record: a decision, its position in the
// case trail and the hash chain linking it to its predecessor.
type AuditEntry struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Sequence   int       `json:"sequence"`
	Decision   Decision  `json:"decision"`
	RecordedAt time.Time `json:"recorded_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash,omitempty"`
}
