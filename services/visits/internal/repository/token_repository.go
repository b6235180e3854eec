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

// Completion is the companion's submitted form, ready to be written.
type Completion struct {
	TokenID          string
	Identity         domain.IdentityInput
	IdentityComplete bool
	BackupCode       string // only stored when the placeholder has none
	QRCode           string
	At               time.Time
}

type TokenRepository interface {
	GetByID(ctx context.Context, id string) (*domain.CompanionToken, error)
	GetByVisitorID(ctx context.Context, visitorID string) (*domain.CompanionToken, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.CompanionToken, error)
	// Complete consumes a pending, unexpired token of a live booking and fills in its visitor.
	// It returns domain.ErrInvalidState without writing anything when the token was not in that state.
	Complete(ctx context.Context, c Completion) (*domain.Visitor, error)
}

type tokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

const tokenCols = `id, booking_id, email, status, expires_at, coalesce(visitor_id::text, ''), created_at, updated_at`

func scanToken(row pgx.Row) (*domain.CompanionToken, error) {
	var t domain.CompanionToken
	if err := row.Scan(&t.ID, &t.BookingID, &t.Email, &t.Status, &t.ExpiresAt, &t.VisitorID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) GetByID(ctx context.Context, id string) (*domain.CompanionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM companion_tokens WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *tokenRepository) GetByVisitorID(ctx context.Context, visitorID string) (*domain.CompanionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM companion_tokens WHERE visitor_id=$1`, visitorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *tokenRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.CompanionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+tokenCols+` FROM companion_tokens WHERE booking_id=$1 ORDER BY created_at, id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CompanionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *tokenRepository) Complete(ctx context.Context, c Completion) (*domain.Visitor, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var visitor *domain.Visitor
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const consume = `UPDATE companion_tokens t
			SET status='completed', updated_at=$2
			FROM bookings b
			WHERE t.id=$1 AND t.status='pending'
			  AND (t.expires_at IS NULL OR t.expires_at > $2)
			  AND b.id=t.booking_id AND b.status <> 'cancelled'
			RETURNING coalesce(t.visitor_id::text, '')`
		var visitorID string
		err := tx.QueryRow(ctx, consume, c.TokenID, c.At).Scan(&visitorID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInvalidState
		}
		if err != nil {
			return fmt.Errorf("consume token: %w", err)
		}
		if visitorID == "" {
			return domain.ErrNotFound
		}

		in := c.Identity
		const fill = `UPDATE visitors SET
			first_name=$2, last_name=$3, gender=$4, address=$5,
			email=CASE WHEN $6 = '' THEN email ELSE $6 END,
			visitor_type=$7, institution=$8, purpose=$9,
			status='approved', identity_complete=$10,
			backup_code=CASE WHEN backup_code = '' THEN $11 ELSE backup_code END,
			qr_code=$12, updated_at=$13
			WHERE id=$1 AND status='pending-registration'
			RETURNING ` + visitorCols
		v, err := scanVisitor(tx.QueryRow(ctx, fill, visitorID,
			in.FirstName, in.LastName, in.Gender, in.Address, in.Email,
			in.VisitorType, in.Institution, in.Purpose,
			c.IdentityComplete, c.BackupCode, c.QRCode, c.At))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInvalidState
		}
		if err != nil {
			if database.IsUniqueViolation(err, ConstraintBackupCode) {
				return ErrDuplicateBackupCode
			}
			return fmt.Errorf("fill visitor: %w", err)
		}
		visitor = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return visitor, nil
}
