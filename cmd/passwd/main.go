package main

import (
	"context"
	"os"

	"github.com/safar/dental-lab-orders/internal/api"
	"github.com/safar/dental-lab-orders/internal/config"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/store"
	log "github.com/sirupsen/logrus"
)

// Sets the login password of an existing active user.
func main() {
	if len(os.Args) != 3 {
		log.Fatal("Usage: go run ./cmd/passwd <email> <password>")
	}
	email, password := os.Args[1], os.Args[2]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	user, _, err := st.FindUserByEmail(ctx, email)
	if err != nil {
		log.Fatalf("Find user %s: %v", email, err)
	}

	hash, err := api.HashPassword(password)
	if err != nil {
		log.Fatalf("Hash password: %v", err)
	}
	if err := st.SetPasswordHash(ctx, user.ID, hash); err != nil {
		log.Fatalf("Set password: %v", err)
	}

	log.WithField("user_id", user.ID).Info("Password updated")
}
