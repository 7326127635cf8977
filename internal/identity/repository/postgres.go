package repository

import (
	"context"
	"database/sql"
	"errors"

	"kiosk-control-plane/backend/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a person directory that reads from db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetPerson returns the person for personID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetPerson(ctx context.Context, personID string) (*domain.Person, error) {
	p := &domain.Person{ID: personID}
	err := r.db.QueryRowContext(ctx, `SELECT role_id FROM people WHERE id = $1`, personID).Scan(&p.RoleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE person_id = $1 ORDER BY group_id`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		p.GroupIDs = append(p.GroupIDs, g)
	}
	return p, rows.Err()
}
