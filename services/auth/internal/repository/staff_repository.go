package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/pkg/database"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const constraintStaffEmail = "staff_users_email_key"

type StaffRepository interface {
	Create(ctx context.Context, email, passwordHash, role string) (*domain.StaffUser, error)
	FindByEmail(ctx context.Context, email string) (*domain.StaffUser, error)
	FindByID(ctx context.Context, id string) (*domain.StaffUser, error)
	List(ctx context.Context, limit, offset int) ([]domain.StaffUser, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.StaffUser, error)
	CountAdmins(ctx context.Context) (int, error)
}

type staffRepository struct {
	pool *pgxpool.Pool
}

func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

const staffCols = `id::text, email, password_hash, role, is_active, created_at, updated_at`

func scanStaff(row pgx.Row) (*domain.StaffUser, error) {
	var u domain.StaffUser
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *staffRepository) Create(ctx context.Context, email, passwordHash, role string) (*domain.StaffUser, error) {
	const q = `
		INSERT INTO staff_users (id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + staffCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanStaff(r.pool.QueryRow(ctx, q, uuid.NewString(), email, passwordHash, role))
	if database.IsUniqueViolation(err, constraintStaffEmail) {
		return nil, domain.ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert staff user: %w", err)
	}
	return u, nil
}

func (r *staffRepository) FindByEmail(ctx context.Context, email string) (*domain.StaffUser, error) {
	const q = `SELECT ` + staffCols + ` FROM staff_users WHERE lower(email) = lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanStaff(r.pool.QueryRow(ctx, q, email))
}

func (r *staffRepository) FindByID(ctx context.Context, id string) (*domain.StaffUser, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	const q = `SELECT ` + staffCols + ` FROM staff_users WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanStaff(r.pool.QueryRow(ctx, q, id))
}

func (r *staffRepository) List(ctx context.Context, limit, offset int) ([]domain.StaffUser, error) {
	const q = `SELECT ` + staffCols + ` FROM staff_users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list staff users: %w", err)
	}
	defer rows.Close()

	var users []domain.StaffUser
	for rows.Next() {
		u, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *staffRepository) SetActive(ctx context.Context, id string, active bool) (*domain.StaffUser, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	const q = `
		UPDATE staff_users
		SET is_active = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + staffCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanStaff(r.pool.QueryRow(ctx, q, id, active))
}

func (r *staffRepository) CountAdmins(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM staff_users WHERE role = 'admin' AND is_active`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}
