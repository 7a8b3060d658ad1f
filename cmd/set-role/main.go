package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dimitrije/mise-api/internal/config"
	"github.com/dimitrije/mise-api/internal/database"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/profiles"
	"github.com/google/uuid"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: set-role <user-id> <student|instructor|admin>")
		os.Exit(1)
	}

	userID, err := uuid.Parse(os.Args[1])
	if err != nil {
		log.Fatalf("Invalid user id: %v", err)
	}

	role := os.Args[2]
	if !models.IsValidRole(role) {
		log.Fatalf("Invalid role: %s", role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	p, err := profiles.NewStore(db).Update(ctx, userID, models.ProfileUpdate{Role: &role})
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			log.Fatalf("No profile found for user: %s", userID)
		}
		log.Fatalf("Failed to update profile: %v", err)
	}

	fmt.Printf("Successfully set role of %s (%s) to %s\n", p.ID, p.Name, p.Role)
}
