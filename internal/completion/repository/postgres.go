package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kiosk-control-plane/backend/internal/completion"
	"kiosk-control-plane/backend/internal/db"
)

// PostgresRepository stores completions in task_completions and reads tasks from tasks.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a completion repository and task source backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetTask returns the task, or nil if not found.
func (r *PostgresRepository) GetTask(ctx context.Context, id string) (*completion.Task, error) {
	var (
		t        completion.Task
		taskType string
		target   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, role_id, type, target_value FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.RoleID, &taskType, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Type = completion.TaskType(taskType)
	if target.Valid {
		v := int(target.Int64)
		t.TargetValue = &v
	}
	return &t, nil
}

// GetByID returns the completion, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*completion.Completion, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, task_id, person_id, completed_at, value FROM task_completions WHERE id = $1`, id)
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) ListInPeriod(ctx context.Context, taskID, personID string, resetDate time.Time) ([]completion.Completion, error) {
	return listInPeriod(ctx, r.db, taskID, personID, resetDate)
}

// Append holds a transaction-scoped advisory lock on (task, person) while it reads the period and inserts.
func (r *PostgresRepository) Append(ctx context.Context, c completion.Completion, resetDate time.Time, admit func([]completion.Completion) error) ([]completion.Completion, error) {
	var period []completion.Completion
	err := db.WithTx(ctx, r.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.TaskID+":"+c.PersonID); err != nil {
			return err
		}
		existing, err := listInPeriod(ctx, tx, c.TaskID, c.PersonID, resetDate)
		if err != nil {
			return err
		}
		if err := admit(existing); err != nil {
			return err
		}
		var value sql.NullString
		if c.Value != nil {
			value = sql.NullString{String: *c.Value, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_completions (id, task_id, person_id, completed_at, value) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.TaskID, c.PersonID, c.CompletedAt, value); err != nil {
			return err
		}
		period = append(existing, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_completions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func listInPeriod(ctx context.Context, q db.Querier, taskID, personID string, resetDate time.Time) ([]completion.Completion, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, task_id, person_id, completed_at, value FROM task_completions
		 WHERE task_id = $1 AND person_id = $2 AND completed_at >= $3
		 ORDER BY completed_at, id`, taskID, personID, resetDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []completion.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompletion(s scanner) (completion.Completion, error) {
	var (
		c     completion.Completion
		value sql.NullString
	)
	if err := s.Scan(&c.ID, &c.TaskID, &c.PersonID, &c.CompletedAt, &value); err != nil {
		return completion.Completion{}, err
	}
	if value.Valid {
		v := value.String
		c.Value = &v
	}
	return c, nil
}
