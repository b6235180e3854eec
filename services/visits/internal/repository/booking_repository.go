package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/pkg/database"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names surfaced to the service layer.
const ConstraintBackupCode = "visitors_backup_code_key"

var ErrDuplicateBackupCode = errors.New("backup code already issued")

// BookingPlan is every row written for one new booking.
type BookingPlan struct {
	Booking  domain.Booking
	Visitors []domain.Visitor
	Tokens   []domain.CompanionToken
}

// ReserveFunc runs after the slot lock is taken and before any row is written.
// Returning an error aborts the whole booking.
type ReserveFunc func(ctx context.Context, counter capacity.SlotCounter) error

type BookingRepository interface {
	Create(ctx context.Context, plan *BookingPlan, reserve ReserveFunc) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	BookedBySlot(ctx context.Context, date string) (map[string]int, error)
	Approve(ctx context.Context, id string) (*domain.Booking, error)
	Cancel(ctx context.Context, id, reason string) (*domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, type, to_char(visit_date, 'YYYY-MM-DD'), time_slot, status,
total_visitors, institution, purpose, cancel_reason, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.Type, &b.VisitDate, &b.TimeSlot, &b.Status,
		&b.TotalVisitors, &b.Institution, &b.Purpose, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// seatCountQuery counts visitors holding a seat in a slot.
const seatCountQuery = `
	SELECT count(*)
	FROM visitors v
	JOIN bookings b ON b.id = v.booking_id
	WHERE b.visit_date = $1 AND b.time_slot = $2
	  AND b.status <> 'cancelled'
	  AND v.status = ANY($3)`

type txCounter struct {
	tx pgx.Tx
}

func (c txCounter) BookedCount(ctx context.Context, date, slot string) (int, error) {
	var n int
	err := c.tx.QueryRow(ctx, seatCountQuery, date, slot, seatStatuses()).Scan(&n)
	return n, err
}

func seatStatuses() []string {
	out := make([]string, len(domain.SeatHoldingStatuses))
	for i, s := range domain.SeatHoldingStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *bookingRepository) Create(ctx context.Context, plan *BookingPlan, reserve ReserveFunc) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b := plan.Booking
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// serializes reservations for one slot until commit
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.VisitDate+"|"+b.TimeSlot); err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		if err := reserve(ctx, txCounter{tx: tx}); err != nil {
			return err
		}

		const insBooking = `INSERT INTO bookings (
			id, type, visit_date, time_slot, status, total_visitors, institution, purpose, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
		if _, err := tx.Exec(ctx, insBooking, b.ID, b.Type, b.VisitDate, b.TimeSlot, b.Status,
			b.TotalVisitors, b.Institution, b.Purpose, b.CreatedAt); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		batch := &pgx.Batch{}
		const insVisitor = `INSERT INTO visitors (
			id, booking_id, first_name, last_name, gender, address, email, visitor_type,
			institution, purpose, status, is_main_visitor, backup_code, qr_code, identity_complete,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`
		for _, v := range plan.Visitors {
			batch.Queue(insVisitor, v.ID, v.BookingID, v.FirstName, v.LastName, v.Gender, v.Address,
				v.Email, v.VisitorType, v.Institution, v.Purpose, v.Status, v.IsMainVisitor,
				v.BackupCode, v.QRCode, v.IdentityComplete, v.CreatedAt)
		}
		const insToken = `INSERT INTO companion_tokens (
			id, booking_id, email, status, expires_at, visitor_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`
		for _, t := range plan.Tokens {
			batch.Queue(insToken, t.ID, t.BookingID, t.Email, t.Status, t.ExpiresAt, nullable(t.VisitorID), t.CreatedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				if database.IsUniqueViolation(err, ConstraintBackupCode) {
					return ErrDuplicateBackupCode
				}
				return fmt.Errorf("insert booking rows: %w", err)
			}
		}
		return br.Close()
	})
	return err
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (r *bookingRepository) BookedBySlot(ctx context.Context, date string) (map[string]int, error) {
	const q = `
		SELECT b.time_slot, count(*)
		FROM visitors v
		JOIN bookings b ON b.id = v.booking_id
		WHERE b.visit_date = $1
		  AND b.status <> 'cancelled'
		  AND v.status = ANY($2)
		GROUP BY b.time_slot`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, date, seatStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var slot string
		var n int
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, err
		}
		out[slot] = n
	}
	return out, rows.Err()
}

func (r *bookingRepository) Approve(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `UPDATE bookings SET status='approved', updated_at=now()
		WHERE id=$1 AND status='pending'
		RETURNING ` + bookingCols
	return r.transition(ctx, q, id)
}

func (r *bookingRepository) Cancel(ctx context.Context, id, reason string) (*domain.Booking, error) {
	const q = `UPDATE bookings SET status='cancelled', cancel_reason=$2, updated_at=now()
		WHERE id=$1 AND status <> 'cancelled'
		RETURNING ` + bookingCols
	return r.transition(ctx, q, id, reason)
}

// transition applies a conditional status update; when nothing matched it re-reads
// the row to report why.
func (r *bookingRepository) transition(ctx context.Context, q string, args ...any) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, args...))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, err := r.GetByID(ctx, args[0].(string))
	if err != nil {
		return nil, err
	}
	if current.IsCancelled() {
		return nil, domain.ErrCancelled
	}
	return nil, domain.ErrInvalidState
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
