package profiles

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimitrije/mise-api/internal/database"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const profileColumns = `id, name, role, bio, avatar_url, year_level, specialization, phone, location, created_at, updated_at`

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, err := scanProfile(s.db.Pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles WHERE id = $1
	`, id))
	if err != nil {
		return nil, normalize("get profile", err)
	}
	return p, nil
}

// Upsert inserts p, or returns the row that already exists for p.ID without
// changing it. Concurrent first logins for one identity converge on one row.
func (s *Store) Upsert(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	row, err := scanProfile(s.db.Pool.QueryRow(ctx, `
		INSERT INTO profiles (id, name, role, bio, avatar_url, year_level, specialization, phone, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING `+profileColumns,
		p.ID, p.Name, p.Role, p.Bio, p.AvatarURL, p.YearLevel, p.Specialization, p.Phone, p.Location,
	))
	if err != nil {
		return nil, normalize("upsert profile", err)
	}
	return row, nil
}

// Save writes every field of p, creating the row if needed.
func (s *Store) Save(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	row, err := scanProfile(s.db.Pool.QueryRow(ctx, `
		INSERT INTO profiles (id, name, role, bio, avatar_url, year_level, specialization, phone, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, bio = EXCLUDED.bio,
			avatar_url = EXCLUDED.avatar_url, year_level = EXCLUDED.year_level,
			specialization = EXCLUDED.specialization, phone = EXCLUDED.phone,
			location = EXCLUDED.location, updated_at = NOW()
		RETURNING `+profileColumns,
		p.ID, p.Name, p.Role, p.Bio, p.AvatarURL, p.YearLevel, p.Specialization, p.Phone, p.Location,
	))
	if err != nil {
		return nil, normalize("save profile", err)
	}
	return row, nil
}

// Update applies the non-nil fields of upd. A missing row yields ErrNotFound.
func (s *Store) Update(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error) {
	sets, args := updateAssignments(upd)
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE profiles SET %s
		WHERE id = $%d
		RETURNING %s`, strings.Join(sets, ", "), len(args), profileColumns)

	p, err := scanProfile(s.db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, normalize("update profile", err)
	}
	return p, nil
}

func updateAssignments(upd models.ProfileUpdate) ([]string, []any) {
	fields := []struct {
		column string
		value  *string
	}{
		{"name", upd.Name},
		{"role", upd.Role},
		{"bio", upd.Bio},
		{"avatar_url", upd.AvatarURL},
		{"year_level", upd.YearLevel},
		{"specialization", upd.Specialization},
		{"phone", upd.Phone},
		{"location", upd.Location},
	}

	var sets []string
	var args []any
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		args = append(args, *f.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}
	return sets, args
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.Name, &p.Role, &p.Bio, &p.AvatarURL, &p.YearLevel,
		&p.Specialization, &p.Phone, &p.Location, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
