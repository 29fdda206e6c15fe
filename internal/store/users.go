package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
)

func (s *Store) CreateClinic(ctx context.Context, name, email, contactName string) (*models.Clinic, error) {
	clinic := &models.Clinic{}

	query := `
		INSERT INTO clinics (name, email, contact_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, name, COALESCE(email, ''), COALESCE(contact_name, ''), active, created_at`

	err := s.db.QueryRowContext(ctx, query, name, email, contactName).Scan(
		&clinic.ID,
		&clinic.Name,
		&clinic.Email,
		&clinic.ContactName,
		&clinic.Active,
		&clinic.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create clinic: %w", err)
	}

	return clinic, nil
}

// CreateUser inserts a user. Clients must carry a clinic id.
func (s *Store) CreateUser(ctx context.Context, name, email string, userType models.UserType, clinicID *int64) (*models.User, error) {
	query := `
		INSERT INTO users (name, email, user_type, clinic_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, name, email, userType, clinicID))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrClinicNotFound
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return getUser(ctx, s.db, id)
}

// FindUserByEmail returns an active user together with its password hash.
// Inactive and unknown users both yield database.ErrUserNotFound.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, string, error) {
	return s.userCredentials(ctx, `email = $1 AND active`, email)
}

// UserCredentials returns a user and its password hash by id.
func (s *Store) UserCredentials(ctx context.Context, id int64) (*models.User, string, error) {
	return s.userCredentials(ctx, `id = $1`, id)
}

func (s *Store) userCredentials(ctx context.Context, where string, arg any) (*models.User, string, error) {
	query := `SELECT ` + userColumns + `, password_hash FROM users WHERE ` + where

	var hash string
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg), &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", database.ErrUserNotFound
		}
		return nil, "", fmt.Errorf("get user credentials: %w", err)
	}
	return user, hash, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, hash)
	if err != nil {
		return fmt.Errorf("update password of user %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}
	return nil
}

// ActiveStaffIDs lists every active admin and technician.
func (s *Store) ActiveStaffIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, s.db,
		`SELECT id FROM users
		 WHERE active AND user_type IN ('admin', 'tecnico')
		 ORDER BY id`)
}

// ActiveClientIDs lists the active client users of one clinic.
func (s *Store) ActiveClientIDs(ctx context.Context, clinicID int64) ([]int64, error) {
	return queryIDs(ctx, s.db,
		`SELECT id FROM users
		 WHERE active AND user_type = 'cliente' AND clinic_id = $1
		 ORDER BY id`,
		clinicID)
}

func (t *pgTx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return getUser(ctx, t.q, id)
}

func (t *pgTx) ClinicExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM clinics WHERE id = $1 AND active)",
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check clinic exists: %w", err)
	}
	return exists, nil
}

const userColumns = `id, name, email, user_type, clinic_id, active, created_at, updated_at`

func getUser(ctx context.Context, q querier, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// scanUser reads userColumns followed by any extra selected columns.
func scanUser(row *sql.Row, extra ...any) (*models.User, error) {
	user := &models.User{}
	var clinicID sql.NullInt64

	dest := []any{
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Type,
		&clinicID,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if clinicID.Valid {
		user.ClinicID = &clinicID.Int64
	}
	return user, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}
