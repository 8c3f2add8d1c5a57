package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSpecStore implements SpecStore backed by the rule_definitions table
type PostgresSpecStore struct {
	db *sql.DB
}

// NewPostgresSpecStore creates a new PostgreSQL-backed SpecStore
func NewPostgresSpecStore(db *sql.DB) *PostgresSpecStore {
	return &PostgresSpecStore{db: db}
}

// Add inserts a new spec into the database
func (s *PostgresSpecStore) Add(spec *ExpressionSpec) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rule_definitions WHERE name = $1 AND version = $2)
	`, spec.Name, spec.Version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return &DuplicateRuleError{Name: spec.Name, Version: spec.Version}
	}

	definition, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rule_definitions (name, version, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, spec.Name, spec.Version, definition, spec.Active, spec.CreatedAt, spec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule definition: %w", err)
	}

	return nil
}

// Get retrieves a spec by name and version
func (s *PostgresSpecStore) Get(name, version string) (*ExpressionSpec, error) {
	row := s.db.QueryRow(`
		SELECT definition, active, created_at, updated_at
		FROM rule_definitions
		WHERE name = $1 AND version = $2
	`, name, version)

	spec, err := scanSpec(row)
	if err == sql.ErrNoRows {
		return nil, &RuleNotFoundError{Name: name, Version: version}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule definition: %w", err)
	}
	return spec, nil
}

// ListActive returns all active specs, oldest first
func (s *PostgresSpecStore) ListActive() ([]*ExpressionSpec, error) {
	rows, err := s.db.Query(`
		SELECT definition, active, created_at, updated_at
		FROM rule_definitions
		WHERE active = true
		ORDER BY created_at ASC, name ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rule definitions: %w", err)
	}
	defer rows.Close()

	var specs []*ExpressionSpec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule definition: %w", err)
		}
		specs = append(specs, spec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule definitions: %w", err)
	}

	return specs, nil
}

// Update modifies an existing spec
func (s *PostgresSpecStore) Update(spec *ExpressionSpec) error {
	definition, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal rule definition: %w", err)
	}

	spec.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE rule_definitions
		SET definition = $1, active = $2, updated_at = $3
		WHERE name = $4 AND version = $5
	`, definition, spec.Active, spec.UpdatedAt, spec.Name, spec.Version)
	if err != nil {
		return fmt.Errorf("failed to update rule definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &RuleNotFoundError{Name: spec.Name, Version: spec.Version}
	}

	return nil
}

// Delete removes a spec from the database
func (s *PostgresSpecStore) Delete(name, version string) error {
	result, err := s.db.Exec(`
		DELETE FROM rule_definitions
		WHERE name = $1 AND version = $2
	`, name, version)
	if err != nil {
		return fmt.Errorf("failed to delete rule definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &RuleNotFoundError{Name: name, Version: version}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpec(row rowScanner) (*ExpressionSpec, error) {
	var (
		definition []byte
		spec       ExpressionSpec
		active     bool
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&definition, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(definition, &spec); err != nil {
		return nil, fmt.Errorf("invalid stored definition: %w", err)
	}
	spec.Active = active
	spec.CreatedAt = createdAt
	spec.UpdatedAt = updatedAt
	return &spec, nil
}
