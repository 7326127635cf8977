package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kiosk-control-plane/backend/internal/db"
	"kiosk-control-plane/backend/internal/kioskcode/domain"
)

const codeColumns = `id, owner_role_id, scope_type, scope_target_id, secret_hash, status, created_by,
	created_at, expires_at, session_duration_days, used_at, revoked_at`

// PostgresRepository stores kiosk codes in the kiosk_codes table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a kiosk code repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the code for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Code, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM kiosk_codes WHERE id = $1`, id)
	return scanOne(row)
}

// GetBySecretHash returns the code whose secret hashes to secretHash, or nil if not found.
func (r *PostgresRepository) GetBySecretHash(ctx context.Context, secretHash string) (*domain.Code, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+codeColumns+` FROM kiosk_codes WHERE secret_hash = $1`, secretHash)
	return scanOne(row)
}

// ListByRole returns all codes of the role, newest first.
func (r *PostgresRepository) ListByRole(ctx context.Context, roleID string) ([]*domain.Code, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+codeColumns+` FROM kiosk_codes WHERE owner_role_id = $1 ORDER BY created_at DESC`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountActive counts usable codes of the role at now.
func (r *PostgresRepository) CountActive(ctx context.Context, roleID string, now time.Time) (int, error) {
	return countActive(ctx, r.db, roleID, now)
}

// CreateWithinLimit takes a per-role advisory lock so concurrent issues cannot both pass the count.
func (r *PostgresRepository) CreateWithinLimit(ctx context.Context, c *domain.Code, limit int, now time.Time) (bool, error) {
	created := false
	err := db.WithTx(ctx, r.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.OwnerRoleID); err != nil {
			return err
		}
		n, err := countActive(ctx, tx, c.OwnerRoleID, now)
		if err != nil {
			return err
		}
		if n >= limit {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kiosk_codes (`+codeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			c.ID, c.OwnerRoleID, string(c.Scope.Type), nullString(c.Scope.TargetID), c.SecretHash, string(c.Status),
			c.CreatedBy, c.CreatedAt, c.ExpiresAt, c.SessionDurationDays, nullTime(c.UsedAt), nullTime(c.RevokedAt),
		)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Revoke sets status REVOKED when the code is still usable at at.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE kiosk_codes SET status = 'REVOKED', revoked_at = $2
		 WHERE id = $1 AND status IN ('PENDING', 'ACTIVE') AND expires_at > $2`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireStale marks expired codes. Running it again changes nothing.
func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE kiosk_codes SET status = 'EXPIRED'
		 WHERE status IN ('PENDING', 'ACTIVE') AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func countActive(ctx context.Context, q db.Querier, roleID string, now time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM kiosk_codes
		 WHERE owner_role_id = $1 AND status IN ('PENDING', 'ACTIVE') AND expires_at > $2`, roleID, now).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*domain.Code, error) {
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanCode(s scanner) (*domain.Code, error) {
	var (
		c                 domain.Code
		scopeType, status string
		target            sql.NullString
		usedAt, revokedAt sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.OwnerRoleID, &scopeType, &target, &c.SecretHash, &status, &c.CreatedBy,
		&c.CreatedAt, &c.ExpiresAt, &c.SessionDurationDays, &usedAt, &revokedAt); err != nil {
		return nil, err
	}
	c.Scope = domain.Scope{Type: domain.ScopeType(scopeType), TargetID: target.String}
	c.Status = domain.Status(status)
	c.UsedAt = nullTimeToPtr(usedAt)
	c.RevokedAt = nullTimeToPtr(revokedAt)
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
