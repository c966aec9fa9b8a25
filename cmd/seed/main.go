// seed inserts development accounts and a sample access policy. Run via go run ./cmd/seed.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ledgerguard/backend/internal/config"
	"ledgerguard/backend/internal/db"
	policydomain "ledgerguard/backend/internal/policy/domain"
	policyrepo "ledgerguard/backend/internal/policy/repository"
	"ledgerguard/backend/internal/security"
	userdomain "ledgerguard/backend/internal/user/domain"
	userrepo "ledgerguard/backend/internal/user/repository"
)

// auditorPolicy lets the auditor role pull compliance reports on top of the built-in admin and compliance roles.
const auditorPolicy = `package ledgerguard.access

allow if {
	input.action == "compliance_report"
	some role in input.roles
	role == "auditor"
}
`

const (
	devPassword   = "Dev-Password-123!"
	devUserEmail  = "dev@example.com"
	auditorEmail  = "auditor@example.com"
	memberEmail   = "member@example.com"
	devPolicyID   = "dev-policy-auditor"
	devUserID     = "dev-user-001"
	auditorUserID = "dev-user-002"
	memberUserID  = "dev-user-003"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	policies := policyrepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	for _, u := range []*userdomain.User{
		{ID: devUserID, Email: devUserEmail, Name: "Dev Admin", Roles: []string{userdomain.RoleAdmin}},
		{ID: auditorUserID, Email: auditorEmail, Name: "Dev Auditor", Roles: []string{"auditor"}},
		{ID: memberUserID, Email: memberEmail, Name: "Member User", Roles: []string{userdomain.RoleUser}},
	} {
		u.PasswordHash = passwordHash
		u.Status = userdomain.UserStatusActive
		u.CreatedAt, u.UpdatedAt = now, now
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create user %s: %v", u.Email, err)
		}
	}

	if err := policies.Create(ctx, &policydomain.Policy{
		ID:        devPolicyID,
		Name:      "auditor compliance access",
		Module:    auditorPolicy,
		Enabled:   true,
		CreatedAt: now,
	}); err != nil {
		log.Fatalf("create policy: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Admin login: %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("Auditor login: %s / %s\n", auditorEmail, devPassword)
	fmt.Printf("Member login: %s / %s\n", memberEmail, devPassword)
}
