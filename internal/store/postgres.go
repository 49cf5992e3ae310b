package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-abstraction/internal/db"
	"github.com/sells-group/clinical-abstraction/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// auditColumns is the COPY column order for audit_entries.
var auditColumns = []string{
	"id", "case_id", "sequence", "field", "rule_id", "disposition",
	"entry", "prev_hash", "hash", "recorded_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cases (
	case_id      TEXT PRIMARY KEY,
	patient_id   TEXT NOT NULL DEFAULT '',
	anchor_date  DATE,
	status       TEXT NOT NULL,
	result       JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL REFERENCES cases(case_id),
	sequence    INTEGER NOT NULL,
	field       TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	disposition TEXT NOT NULL,
	entry       JSONB NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, sequence),
	UNIQUE (case_id, field)
);

CREATE INDEX IF NOT EXISTS idx_cases_patient_id ON cases(patient_id);
CREATE INDEX IF NOT EXISTS idx_cases_processed_at ON cases(processed_at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_case_id ON audit_entries(case_id);

CREATE OR REPLACE FUNCTION audit_entries_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit entries are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_entries_append_only ON audit_entries;
CREATE TRIGGER audit_entries_append_only
	BEFORE UPDATE OR DELETE ON audit_entries
	FOR EACH ROW EXECUTE FUNCTION audit_entries_append_only();
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveCase(ctx context.Context, result *model.CaseResult, trail []model.AuditEntry) error {
	if err := validateSave(result, trail); err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal case result")
	}

	rows := make([][]any, 0, len(trail))
	for _, e := range trail {
		entryJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit entry")
		}
		rows = append(rows, []any{
			e.ID, e.CaseID, int32(e.Sequence), string(e.Decision.Field), e.Decision.RuleID,
			string(e.Decision.Disposition), entryJSON, e.PrevHash, e.Hash, e.RecordedAt.UTC(),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO cases (case_id, patient_id, anchor_date, status, result, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (case_id) DO NOTHING`,
		result.CaseID, result.PatientID, anchorString(result.AnchorDate), string(result.Status),
		resultJSON, result.ProcessedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert case %s", result.CaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrCaseAlreadyAudited, "postgres: case %s", result.CaseID)
	}

	if _, err := db.CopyFrom(ctx, tx, "audit_entries", auditColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: write trail for case %s", result.CaseID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit case")
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*model.CaseResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM cases WHERE case_id = $1`, caseID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrCaseNotFound, "postgres: get case %s", caseID)
		}
		return nil, eris.Wrapf(err, "postgres: get case %s", caseID)
	}
	return decodeResult(raw)
}

func (s *PostgresStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.CaseResult, error) {
	query := `SELECT result FROM cases WHERE true`
	args := []any{}
	argIdx := 1

	if filter.PatientID != "" {
		query += fmt.Sprintf(` AND patient_id = $%d`, argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.ProcessedSince.IsZero() {
		query += fmt.Sprintf(` AND processed_at >= $%d`, argIdx)
		args = append(args, filter.ProcessedSince.UTC())
		argIdx++
	}
	if !filter.ProcessedUntil.IsZero() {
		query += fmt.Sprintf(` AND processed_at <= $%d`, argIdx)
		args = append(args, filter.ProcessedUntil.UTC())
		argIdx++
	}
	query += ` ORDER BY processed_at DESC, case_id`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limitOf(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cases")
	}
	defer rows.Close()

	var out []model.CaseResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case")
		}
		r, err := decodeResult(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cases iterate")
}

func (s *PostgresStore) Trail(ctx context.Context, caseID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry FROM audit_entries WHERE case_id = $1 ORDER BY sequence`, caseID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: trail %s", caseID)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: trail iterate")
}
