package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kiosk-control-plane/backend/internal/db"
	"kiosk-control-plane/backend/internal/kiosksession/domain"
)

const sessionColumns = `id, code_id, role_id, device_id, started_at, last_active_at, expires_at,
	ended_at, terminated_by, termination_reason, ip_address, user_agent`

// errCodeNotUsable aborts the promotion transaction when the code swap matches no row.
var errCodeNotUsable = errors.New("code not usable")

// PostgresRepository stores kiosk sessions in kiosk_sessions and consumes codes in kiosk_codes.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateFromCode swaps the code to USED and inserts the session in one transaction.
// Concurrent callers for the same code serialize on the code row; only one sees the swap succeed.
// s.RoleID is set from the code's owner role.
func (r *PostgresRepository) CreateFromCode(ctx context.Context, s *domain.Session, now time.Time) (bool, error) {
	err := db.WithTx(ctx, r.db, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		var roleID string
		err := tx.QueryRowContext(ctx,
			`UPDATE kiosk_codes SET status = 'USED', used_at = $2
			 WHERE id = $1 AND status IN ('PENDING', 'ACTIVE') AND expires_at > $2
			 RETURNING owner_role_id`, s.CodeID, now).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return errCodeNotUsable
		}
		if err != nil {
			return err
		}
		s.RoleID = roleID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kiosk_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			s.ID, s.CodeID, s.RoleID, s.DeviceID, s.StartedAt, s.LastActiveAt, s.ExpiresAt,
			nullTime(s.EndedAt), nullString(s.TerminatedBy), nullString(s.TerminationReason),
			nullString(s.IPAddress), nullString(s.UserAgent))
		return err
	})
	if errors.Is(err, errCodeNotUsable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM kiosk_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListActiveByRole returns the role's active sessions, most recently active first.
func (r *PostgresRepository) ListActiveByRole(ctx context.Context, roleID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM kiosk_sessions
		 WHERE role_id = $1 AND ended_at IS NULL AND expires_at > $2
		 ORDER BY last_active_at DESC`, roleID, now)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PostgresRepository) CountActiveByCode(ctx context.Context, codeID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM kiosk_sessions WHERE code_id = $1 AND ended_at IS NULL AND expires_at > $2`,
		codeID, now).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CountActiveByRole(ctx context.Context, roleID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM kiosk_sessions WHERE role_id = $1 AND ended_at IS NULL AND expires_at > $2`,
		roleID, now).Scan(&n)
	return n, err
}

// End sets ended_at once. A second call for the same session matches no row.
func (r *PostgresRepository) End(ctx context.Context, id string, at time.Time, actorID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE kiosk_sessions SET ended_at = $2, terminated_by = $3, termination_reason = $4
		 WHERE id = $1 AND ended_at IS NULL`, id, at, actorID, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) EndAllForCode(ctx context.Context, codeID string, at time.Time, actorID, reason string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE kiosk_sessions SET ended_at = $2, terminated_by = $3, termination_reason = $4
		 WHERE code_id = $1 AND ended_at IS NULL
		 RETURNING `+sessionColumns, codeID, at, actorID, reason)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// EndExpired ends sessions whose lifetime has passed. ended_at is the sweep time, not the expiry time.
func (r *PostgresRepository) EndExpired(ctx context.Context, now time.Time, actorID, reason string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE kiosk_sessions SET ended_at = $1, terminated_by = $2, termination_reason = $3
		 WHERE ended_at IS NULL AND expires_at <= $1
		 RETURNING `+sessionColumns, now, actorID, reason)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE kiosk_sessions SET last_active_at = $2 WHERE id = $1 AND ended_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]*domain.Session, error) {
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(sc scanner) (*domain.Session, error) {
	var (
		s                                      domain.Session
		endedAt                                sql.NullTime
		terminatedBy, reason, ipAddress, agent sql.NullString
	)
	if err := sc.Scan(&s.ID, &s.CodeID, &s.RoleID, &s.DeviceID, &s.StartedAt, &s.LastActiveAt, &s.ExpiresAt,
		&endedAt, &terminatedBy, &reason, &ipAddress, &agent); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	s.TerminatedBy = terminatedBy.String
	s.TerminationReason = reason.String
	s.IPAddress = ipAddress.String
	s.UserAgent = agent.String
	return &s, nil
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
