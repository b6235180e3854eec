package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
)

const (
	itDate = "2026-10-19"
	itSlot = "10:00-11:00"
)

func TestCreateNeverOverbooksSlot(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestPool(t, ctx)
	t.Cleanup(cleanup)

	bookings := NewBookingRepository(pool)
	mgr := capacity.NewManager(capacity.Rules{Capacity: 30, MaxPerBooking: 30, OpenHour: 9, CloseHour: 17})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan := newPlan(2)
			err := bookings.Create(ctx, plan, func(ctx context.Context, c capacity.SlotCounter) error {
				return mgr.Reserve(ctx, c, itDate, itSlot, len(plan.Visitors))
			})
			mu.Lock()
			defer mu.Unlock()
			var capErr *domain.CapacityError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &capErr):
				full++
			default:
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 15 || full != 5 {
		t.Fatalf("expected 15 accepted and 5 rejected, got %d and %d", ok, full)
	}
	booked, err := bookings.BookedBySlot(ctx, itDate)
	if err != nil {
		t.Fatalf("booked by slot: %v", err)
	}
	if booked[itSlot] != 30 {
		t.Fatalf("expected 30 seats booked, got %d", booked[itSlot])
	}
}

func TestCancelFreesSeatsAndIsConditional(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestPool(t, ctx)
	t.Cleanup(cleanup)

	bookings := NewBookingRepository(pool)
	plan := newPlan(3)
	if err := bookings.Create(ctx, plan, func(context.Context, capacity.SlotCounter) error { return nil }); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := bookings.Cancel(ctx, plan.Booking.ID, "closed for maintenance"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := bookings.Cancel(ctx, plan.Booking.ID, "again"); !errors.Is(err, domain.ErrCancelled) && !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second cancel: expected a state error, got %v", err)
	}

	booked, err := bookings.BookedBySlot(ctx, itDate)
	if err != nil {
		t.Fatalf("booked by slot: %v", err)
	}
	if booked[itSlot] != 0 {
		t.Fatalf("expected cancelled seats to be released, got %d", booked[itSlot])
	}
}

func TestMarkVisitedOnce(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestPool(t, ctx)
	t.Cleanup(cleanup)

	bookings := NewBookingRepository(pool)
	visitors := NewVisitorRepository(pool)
	plan := newPlan(1)
	if err := bookings.Create(ctx, plan, func(context.Context, capacity.SlotCounter) error { return nil }); err != nil {
		t.Fatalf("create: %v", err)
	}
	id := plan.Visitors[0].ID

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := visitors.MarkVisited(ctx, id, time.Date(2026, 10, 19, 10, i, 0, 0, time.UTC))
			if err != nil {
				t.Errorf("mark visited: %v", err)
				return
			}
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if changed != 1 {
		t.Fatalf("expected exactly one state change, got %d", changed)
	}
	v, err := visitors.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get visitor: %v", err)
	}
	if v.Status != domain.VisitorVisited || v.CheckinTime == nil || !v.QRUsed {
		t.Fatalf("unexpected visitor after check-in: %+v", v)
	}
}

func TestDuplicateBackupCodeIsReported(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestPool(t, ctx)
	t.Cleanup(cleanup)

	bookings := NewBookingRepository(pool)
	first := newPlan(1)
	second := newPlan(1)
	second.Visitors[0].BackupCode = first.Visitors[0].BackupCode

	noop := func(context.Context, capacity.SlotCounter) error { return nil }
	if err := bookings.Create(ctx, first, noop); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := bookings.Create(ctx, second, noop); !errors.Is(err, ErrDuplicateBackupCode) {
		t.Fatalf("expected ErrDuplicateBackupCode, got %v", err)
	}
	if _, err := bookings.GetByID(ctx, second.Booking.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected booking must not be stored, got %v", err)
	}
}

func newPlan(n int) *BookingPlan {
	now := time.Now().UTC()
	b := domain.Booking{
		ID:            uuid.NewString(),
		Type:          domain.BookingIndividual,
		VisitDate:     itDate,
		TimeSlot:      itSlot,
		Status:        domain.BookingApproved,
		TotalVisitors: n,
		CreatedAt:     now,
	}
	plan := &BookingPlan{Booking: b}
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		plan.Visitors = append(plan.Visitors, domain.Visitor{
			ID:               id,
			BookingID:        b.ID,
			FirstName:        "Ana",
			LastName:         "Cruz",
			Gender:           "female",
			Status:           domain.VisitorApproved,
			IsMainVisitor:    i == 0,
			BackupCode:       strings.ToUpper(strings.ReplaceAll(id, "-", ""))[:8],
			IdentityComplete: true,
			CreatedAt:        now,
		})
	}
	return plan
}

func setupTestPool(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	return pool, func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
