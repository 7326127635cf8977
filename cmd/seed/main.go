// seed inserts development sample data for local testing. Run via ./scripts/seed.sh.
// Idempotent for the fixed rows; each run issues one fresh kiosk code and prints its secret.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"kiosk-control-plane/backend/internal/billing"
	"kiosk-control-plane/backend/internal/config"
	"kiosk-control-plane/backend/internal/db"
	codedomain "kiosk-control-plane/backend/internal/kioskcode/domain"
	coderepo "kiosk-control-plane/backend/internal/kioskcode/repository"
	codeservice "kiosk-control-plane/backend/internal/kioskcode/service"
	"kiosk-control-plane/backend/internal/security"
)

const (
	devRoleID   = "dev-role-001"
	devOwnerID  = "dev-owner-001"
	devGroupID  = "dev-group-morning"
	devTierSize = 5
)

var devPeople = []struct {
	id     string
	groups []string
}{
	{"dev-person-ada", []string{devGroupID}},
	{"dev-person-ben", []string{devGroupID}},
	{"dev-person-cy", nil},
}

var devTasks = []struct {
	id, taskType string
	target       *int
}{
	{"dev-task-brush-teeth", "SIMPLE", nil},
	{"dev-task-water", "MULTIPLE_CHECKIN", nil},
	{"dev-task-reading", "PROGRESS", intPtr(30)},
}

func intPtr(v int) *int { return &v }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	limits := billing.NewPostgresLimits(conn, cfg.DefaultCodeLimit)
	if err := limits.SetLimit(ctx, devRoleID, devTierSize); err != nil {
		log.Fatalf("set tier limit: %v", err)
	}

	err = db.WithTx(ctx, conn, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		for _, p := range devPeople {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO people (id, role_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
				p.id, devRoleID); err != nil {
				return fmt.Errorf("person %s: %w", p.id, err)
			}
			for _, g := range p.groups {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO group_members (group_id, person_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
					g, p.id); err != nil {
					return fmt.Errorf("group member %s: %w", p.id, err)
				}
			}
		}
		for _, t := range devTasks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, role_id, type, target_value) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
				t.id, devRoleID, t.taskType, t.target); err != nil {
				return fmt.Errorf("task %s: %w", t.id, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed rows: %v", err)
	}

	registry := codeservice.NewRegistry(coderepo.NewPostgresRepository(conn), limits, nil, nil)
	code, secret, err := registry.Issue(ctx, codeservice.IssueInput{
		RoleID:              devRoleID,
		Scope:               codedomain.Scope{Type: codedomain.ScopeGroup, TargetID: devGroupID},
		ExpiresInMinutes:    60,
		SessionDurationDays: 7,
		CreatedBy:           devOwnerID,
	})
	if err != nil {
		log.Fatalf("issue code (revoke old dev codes if the tier limit is reached): %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Kiosk code: %s (id %s, expires %s)\n", secret, code.ID, code.ExpiresAt.Format(time.RFC3339))

	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		return
	}
	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("keys: %v", err)
	}
	token, exp, err := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, 24*time.Hour).
		IssueOwner(devOwnerID, devRoleID)
	if err != nil {
		log.Fatalf("owner token: %v", err)
	}
	fmt.Printf("Owner token (until %s):\n%s\n", exp.Format(time.RFC3339), token)
}
