package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines binding persistence operations.
type Repository interface {
	// List retrieves all bindings ordered by name.
	List(ctx context.Context) ([]Binding, error)

	// Get retrieves a binding by display name (case-insensitive).
	// Returns ErrBindingNotFound if it does not exist.
	Get(ctx context.Context, name string) (*Binding, error)

	// Upsert inserts a binding or replaces the entity of an existing one.
	Upsert(ctx context.Context, b Binding) error

	// Delete removes a binding by display name.
	// Returns ErrBindingNotFound if it does not exist.
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves all bindings ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Binding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, entity_id, entity_type
		FROM bindings
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying bindings: %w", err)
	}
	defer rows.Close()

	var bindings []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Name, &b.Ref.ID, &b.Ref.EntityType); err != nil {
			return nil, fmt.Errorf("scanning binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bindings: %w", err)
	}
	return bindings, nil
}

// Get retrieves a binding by display name.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (*Binding, error) {
	var b Binding
	err := r.db.QueryRowContext(ctx, `
		SELECT name, entity_id, entity_type
		FROM bindings
		WHERE name_key = ?`, NormalizeName(name)).Scan(&b.Name, &b.Ref.ID, &b.Ref.EntityType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("querying binding: %w", err)
	}
	return &b, nil
}

// Upsert inserts a binding or updates the entity of an existing one.
func (r *SQLiteRepository) Upsert(ctx context.Context, b Binding) error {
	name := strings.TrimSpace(b.Name)
	ref := normalizeRef(b.Ref)
	if name == "" || ref.IsZero() {
		return fmt.Errorf("%w: name and entity id are required", ErrInvalidBinding)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bindings (name_key, name, entity_id, entity_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			name = excluded.name,
			entity_id = excluded.entity_id,
			entity_type = excluded.entity_type,
			updated_at = excluded.updated_at`,
		NormalizeName(name), name, ref.ID, ref.EntityType, now, now)
	if err != nil {
		return fmt.Errorf("upserting binding: %w", err)
	}
	return nil
}

// Delete removes a binding by display name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bindings WHERE name_key = ?`, NormalizeName(name))
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrBindingNotFound
	}
	return nil
}
