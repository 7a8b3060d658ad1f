package profiles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means the table exists but has no row for the id.
	ErrNotFound = errors.New("profile not found")
	// ErrTableMissing means the profiles relation is not provisioned.
	ErrTableMissing = errors.New("profiles table is not available")
)

// SQLSTATE and PostgREST codes that mean the relation or its schema is absent.
var tableMissingCodes = map[string]bool{
	"42P01":    true, // undefined_table
	"3F000":    true, // invalid_schema_name
	"PGRST205": true,
	"PGRST106": true,
}

var tableMissingMessages = []string{
	"could not find the table",
	"schema cache",
}

// IsTableMissing reports whether err says the profiles relation does not exist.
// Backends disagree on how they say it, so several detectors are checked.
func IsTableMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTableMissing) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && tableMissingCodes[pgErr.Code] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for code := range tableMissingCodes {
		if strings.Contains(msg, strings.ToLower(code)) {
			return true
		}
	}
	if strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist") && !strings.Contains(msg, "column") {
		return true
	}
	for _, m := range tableMissingMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a missing row.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "PGRST116" {
		return true
	}
	return false
}

// normalize maps driver errors onto the store's error classes while keeping
// the original error in the chain.
func normalize(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsTableMissing(err):
		return fmt.Errorf("%s: %w: %w", op, ErrTableMissing, err)
	case IsNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
