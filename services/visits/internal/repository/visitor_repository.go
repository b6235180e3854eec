package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/pkg/database"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VisitorRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Visitor, error)
	GetByBackupCode(ctx context.Context, code string) (*domain.Visitor, error)
	FindByEmailAndBooking(ctx context.Context, email, bookingID string) (*domain.Visitor, error)
	// FindByEmail returns at most limit visitors with that email, those on live bookings first.
	FindByEmail(ctx context.Context, email string, limit int) ([]domain.Visitor, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Visitor, error)
	// MarkVisited moves an approved visitor of a live booking to visited. applied is false
	// when the row was not in that state, in which case nothing was written.
	MarkVisited(ctx context.Context, id string, at time.Time) (v *domain.Visitor, applied bool, err error)
	// UpdateCredential stores a re-rendered QR image. The backup code is only written when none is on record.
	UpdateCredential(ctx context.Context, id, backupCode, qr string) (*domain.Visitor, error)
}

type visitorRepository struct {
	pool *pgxpool.Pool
}

func NewVisitorRepository(pool *pgxpool.Pool) VisitorRepository {
	return &visitorRepository{pool: pool}
}

const visitorCols = `id, booking_id, first_name, last_name, gender, address, email, visitor_type,
institution, purpose, status, is_main_visitor, backup_code, qr_code, identity_complete,
checkin_time, qr_used, created_at, updated_at`

func scanVisitor(row pgx.Row) (*domain.Visitor, error) {
	var v domain.Visitor
	err := row.Scan(
		&v.ID, &v.BookingID, &v.FirstName, &v.LastName, &v.Gender, &v.Address, &v.Email, &v.VisitorType,
		&v.Institution, &v.Purpose, &v.Status, &v.IsMainVisitor, &v.BackupCode, &v.QRCode, &v.IdentityComplete,
		&v.CheckinTime, &v.QRUsed, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitorRepository) one(ctx context.Context, q string, args ...any) (*domain.Visitor, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := scanVisitor(r.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return v, err
}

func (r *visitorRepository) many(ctx context.Context, q string, args ...any) ([]domain.Visitor, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *visitorRepository) GetByID(ctx context.Context, id string) (*domain.Visitor, error) {
	return r.one(ctx, `SELECT `+visitorCols+` FROM visitors WHERE id=$1`, id)
}

func (r *visitorRepository) GetByBackupCode(ctx context.Context, code string) (*domain.Visitor, error) {
	if code == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `SELECT `+visitorCols+` FROM visitors WHERE backup_code=$1`, code)
}

func (r *visitorRepository) FindByEmailAndBooking(ctx context.Context, email, bookingID string) (*domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors
		WHERE lower(email)=lower($1) AND booking_id=$2
		ORDER BY is_main_visitor DESC, created_at
		LIMIT 1`
	return r.one(ctx, q, email, bookingID)
}

func (r *visitorRepository) FindByEmail(ctx context.Context, email string, limit int) ([]domain.Visitor, error) {
	if limit <= 0 {
		limit = 2
	}
	const q = `SELECT v.id, v.booking_id, v.first_name, v.last_name, v.gender, v.address, v.email, v.visitor_type,
		v.institution, v.purpose, v.status, v.is_main_visitor, v.backup_code, v.qr_code, v.identity_complete,
		v.checkin_time, v.qr_used, v.created_at, v.updated_at
		FROM visitors v
		JOIN bookings b ON b.id = v.booking_id
		WHERE lower(v.email)=lower($1)
		ORDER BY (b.status = 'cancelled'), b.visit_date DESC, v.created_at
		LIMIT $2`
	return r.many(ctx, q, email, limit)
}

func (r *visitorRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Visitor, error) {
	const q = `SELECT ` + visitorCols + ` FROM visitors
		WHERE booking_id=$1
		ORDER BY is_main_visitor DESC, created_at, id`
	return r.many(ctx, q, bookingID)
}

func (r *visitorRepository) MarkVisited(ctx context.Context, id string, at time.Time) (*domain.Visitor, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var visitor *domain.Visitor
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `UPDATE visitors v
			SET status='visited', checkin_time=$2, qr_used=true, updated_at=$2
			FROM bookings b
			WHERE v.id=$1 AND v.status='approved'
			  AND b.id=v.booking_id AND b.status <> 'cancelled'
			RETURNING v.id, v.booking_id, v.first_name, v.last_name, v.gender, v.address, v.email, v.visitor_type,
			v.institution, v.purpose, v.status, v.is_main_visitor, v.backup_code, v.qr_code, v.identity_complete,
			v.checkin_time, v.qr_used, v.created_at, v.updated_at`
		v, err := scanVisitor(tx.QueryRow(ctx, q, id, at))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark visited: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE companion_tokens SET status='checked-in', updated_at=$2
			WHERE visitor_id=$1 AND status <> 'checked-in'`, id, at); err != nil {
			return fmt.Errorf("mark token checked in: %w", err)
		}
		visitor = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return visitor, visitor != nil, nil
}

func (r *visitorRepository) UpdateCredential(ctx context.Context, id, backupCode, qr string) (*domain.Visitor, error) {
	const q = `UPDATE visitors
		SET backup_code = CASE WHEN backup_code = '' THEN $2 ELSE backup_code END,
		    qr_code = $3, updated_at = now()
		WHERE id=$1
		RETURNING ` + visitorCols
	v, err := r.one(ctx, q, id, backupCode, qr)
	if database.IsUniqueViolation(err, ConstraintBackupCode) {
		return nil, ErrDuplicateBackupCode
	}
	return v, err
}
