package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: SQLite has a single writer and pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cases (
	case_id      TEXT PRIMARY KEY,
	patient_id   TEXT NOT NULL DEFAULT '',
	anchor_date  TEXT,
	status       TEXT NOT NULL,
	result       TEXT NOT NULL,
	processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL REFERENCES cases(case_id),
	sequence    INTEGER NOT NULL,
	field       TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	disposition TEXT NOT NULL,
	entry       TEXT NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	recorded_at DATETIME NOT NULL,
	UNIQUE (case_id, sequence),
	UNIQUE (case_id, field)
);

CREATE INDEX IF NOT EXISTS idx_cases_patient_id ON cases(patient_id);
CREATE INDEX IF NOT EXISTS idx_cases_processed_at ON cases(processed_at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_case_id ON audit_entries(case_id);

CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
BEFORE UPDATE ON audit_entries
BEGIN
	SELECT RAISE(ABORT, 'audit entries are append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
BEFORE DELETE ON audit_entries
BEGIN
	SELECT RAISE(ABORT, 'audit entries are append-only');
END;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveCase(ctx context.Context, result *model.CaseResult, trail []model.AuditEntry) error {
	if err := validateSave(result, trail); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal case result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO cases (case_id, patient_id, anchor_date, status, result, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (case_id) DO NOTHING`,
		result.CaseID, result.PatientID, anchorString(result.AnchorDate), string(result.Status),
		string(resultJSON), result.ProcessedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert case %s", result.CaseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrCaseAlreadyAudited, "sqlite: case %s", result.CaseID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_entries (id, case_id, sequence, field, rule_id, disposition, entry, prev_hash, hash, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare audit insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range trail {
		entryJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit entry")
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.CaseID, e.Sequence, string(e.Decision.Field), e.Decision.RuleID,
			string(e.Decision.Disposition), string(entryJSON), e.PrevHash, e.Hash, e.RecordedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert audit entry %d", e.Sequence)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit case")
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.CaseResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM cases WHERE case_id = ?`, caseID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrCaseNotFound, "sqlite: get case %s", caseID)
		}
		return nil, eris.Wrapf(err, "sqlite: get case %s", caseID)
	}
	return decodeResult([]byte(raw))
}

func (s *SQLiteStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.CaseResult, error) {
	query := `SELECT result FROM cases WHERE 1=1`
	var args []any

	if filter.PatientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, filter.PatientID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.ProcessedSince.IsZero() {
		query += ` AND processed_at >= ?`
		args = append(args, filter.ProcessedSince.UTC())
	}
	if !filter.ProcessedUntil.IsZero() {
		query += ` AND processed_at <= ?`
		args = append(args, filter.ProcessedUntil.UTC())
	}
	query += ` ORDER BY processed_at DESC, case_id LIMIT ? OFFSET ?`
	args = append(args, limitOf(filter), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cases")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CaseResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case")
		}
		r, err := decodeResult([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list cases iterate")
}

func (s *SQLiteStore) Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM audit_entries WHERE case_id = ? ORDER BY sequence`, caseID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: trail %s", caseID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: trail iterate")
}
