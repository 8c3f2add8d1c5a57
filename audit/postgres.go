package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRecorder writes records to the decision_audit table
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a PostgreSQL-backed Recorder
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record inserts rec
func (p *PostgresRecorder) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO decision_audit
			(id, rule_name, rule_version, workflow_name, run_id, step_id, input_hash, output, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.RuleName, rec.RuleVersion, nullString(rec.Workflow), nullString(rec.RunID),
		nullString(rec.StepID), rec.InputHash, []byte(rec.Output), rec.Confidence, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// ListByRule returns the most recent records of a rule, newest first
func (p *PostgresRecorder) ListByRule(ctx context.Context, ruleName string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, rule_name, rule_version, workflow_name, run_id, step_id, input_hash, output, confidence, created_at
		FROM decision_audit
		WHERE rule_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ruleName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByRun returns the records of one workflow run in write order
func (p *PostgresRecorder) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, rule_name, rule_version, workflow_name, run_id, step_id, input_hash, output, confidence, created_at
		FROM decision_audit
		WHERE run_id = $1
		ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		var rec Record
		var workflow, runID, stepID sql.NullString
		var output []byte
		if err := rows.Scan(&rec.ID, &rec.RuleName, &rec.RuleVersion, &workflow, &runID, &stepID,
			&rec.InputHash, &output, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Workflow = workflow.String
		rec.RunID = runID.String
		rec.StepID = stepID.String
		rec.Output = output
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
