// Package billing supplies the per-role tier limit on simultaneously active kiosk codes.
// Tier purchase is owned elsewhere; this package only reads the result.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/logger"
)

// TierLimits returns how many active kiosk codes a role may hold.
type TierLimits interface {
	KioskCodeLimit(ctx context.Context, roleID string) (int, error)
}

// Static returns the same limit for every role.
type Static int

func (s Static) KioskCodeLimit(context.Context, string) (int, error) { return int(s), nil }

// PostgresLimits reads role_tier_limits and falls back to a default for roles without a row.
type PostgresLimits struct {
	db           *sql.DB
	defaultLimit int
}

// NewPostgresLimits returns limits backed by db.
func NewPostgresLimits(db *sql.DB, defaultLimit int) *PostgresLimits {
	return &PostgresLimits{db: db, defaultLimit: defaultLimit}
}

func (p *PostgresLimits) KioskCodeLimit(ctx context.Context, roleID string) (int, error) {
	var limit int
	err := p.db.QueryRowContext(ctx,
		`SELECT kiosk_code_limit FROM role_tier_limits WHERE role_id = $1`, roleID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return p.defaultLimit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("billing: read tier limit: %w", err)
	}
	return limit, nil
}

// SetLimit upserts a role's limit. Used by cmd/seed and tier sync jobs.
func (p *PostgresLimits) SetLimit(ctx context.Context, roleID string, limit int) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO role_tier_limits (role_id, kiosk_code_limit, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (role_id) DO UPDATE SET kiosk_code_limit = EXCLUDED.kiosk_code_limit, updated_at = now()`,
		roleID, limit)
	return err
}

const cacheKeyPrefix = "kiosk:tier-limit:"

// CachedLimits is a Redis read-through cache in front of another TierLimits.
// Redis failures are logged and the request falls through to the wrapped source.
type CachedLimits struct {
	next   TierLimits
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLimits wraps next with a cache entry per role that lives for ttl.
func NewCachedLimits(next TierLimits, client redis.Cmdable, ttl time.Duration, log *zap.Logger) *CachedLimits {
	return &CachedLimits{next: next, client: client, ttl: ttl, logger: logger.OrNop(log)}
}

func (c *CachedLimits) KioskCodeLimit(ctx context.Context, roleID string) (int, error) {
	key := cacheKeyPrefix + roleID
	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(val); convErr == nil {
			return n, nil
		}
		c.logger.Warn("billing: ignoring malformed cached limit", zap.String("role_id", roleID), zap.String("value", val))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("billing: cache read failed", zap.String("role_id", roleID), zap.Error(err))
	}

	limit, err := c.next.KioskCodeLimit(ctx, roleID)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, limit, c.ttl).Err(); err != nil {
		c.logger.Warn("billing: cache write failed", zap.String("role_id", roleID), zap.Error(err))
	}
	return limit, nil
}

// Invalidate drops the cached limit for a role, e.g. after a tier change.
func (c *CachedLimits) Invalidate(ctx context.Context, roleID string) error {
	return c.client.Del(ctx, cacheKeyPrefix+roleID).Err()
}
