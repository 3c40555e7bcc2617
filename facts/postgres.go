package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresSource reads facts from the facts table created by the migrations
// in migrations/
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a PostgreSQL-backed source
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Set inserts or replaces a fact
func (s *PostgresSource) Set(ctx context.Context, subject, name string, value any) error {
	b, err := encodeValue(value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (subject, name, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subject, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, subject, strings.ToLower(name), string(b))
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}
	return nil
}

// Delete removes a fact
func (s *PostgresSource) Delete(ctx context.Context, subject, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM facts
		WHERE subject = $1 AND name = $2
	`, subject, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrFactNotFound, subject, name)
	}
	return nil
}

// Fetch returns the fact of subject
func (s *PostgresSource) Fetch(ctx context.Context, subject, name string) (any, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM facts
		WHERE subject = $1 AND name = $2
	`, subject, strings.ToLower(name)).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFactNotFound, subject, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact: %w", err)
	}

	return decodeValue(raw)
}

// Names returns the distinct fact names, sorted
func (s *PostgresSource) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT name
		FROM facts
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan fact name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact names: %w", err)
	}

	return names, nil
}
