package database

import (
	"context"
	"fmt"
)

// The profiles table is normally provisioned by the backend project itself.
// Migrate only exists for local setups and tests; the service keeps working
// without it in degraded mode.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'student',
		bio TEXT,
		avatar_url VARCHAR(500),
		year_level VARCHAR(50),
		specialization VARCHAR(255),
		phone VARCHAR(50),
		location VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`DO $$ BEGIN
		ALTER TABLE profiles ADD CONSTRAINT profiles_role_check
			CHECK (role IN ('student', 'instructor', 'admin'));
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,

	`CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
