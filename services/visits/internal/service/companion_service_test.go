package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
)

func TestGetTokenInfo(t *testing.T) {
	f := newFixture(t)
	res := mustCreate(t, f, groupReq(1))

	info, err := f.companion.GetTokenInfo(context.Background(), res.Companions[0].TokenID)
	if err != nil {
		t.Fatalf("GetTokenInfo: %v", err)
	}
	if info.Status != domain.TokenPending || info.LinkExpired {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.VisitDate != testDate || info.VisitTime != testSlot {
		t.Fatalf("visit %s %s", info.VisitDate, info.VisitTime)
	}
	if info.InheritedInstitution != "Rizal High School" || info.InheritedPurpose != "Field trip" {
		t.Fatalf("inherited %q %q", info.InheritedInstitution, info.InheritedPurpose)
	}
}

func TestCompleteToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := mustCreate(t, f, groupReq(1))
	tokenID := res.Companions[0].TokenID

	out, err := f.companion.CompleteToken(ctx, tokenID, companionForm("Juan"))
	if err != nil {
		t.Fatalf("CompleteToken: %v", err)
	}
	if out.QRCodeImage == "" || out.BackupCode == "" {
		t.Fatalf("missing credential: %+v", out)
	}

	v, err := f.deps.Visitors.GetByID(ctx, out.VisitorID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if v.Status != domain.VisitorApproved || !v.IdentityComplete || v.FirstName != "Juan" {
		t.Fatalf("visitor after completion %+v", v)
	}
	if v.Institution != "Rizal High School" {
		t.Fatalf("institution not inherited: %q", v.Institution)
	}
	tok, err := f.deps.Tokens.GetByID(ctx, tokenID)
	if err != nil || tok.Status != domain.TokenCompleted {
		t.Fatalf("token after completion %+v %v", tok, err)
	}
	if got := f.pub.count(events.CompanionCompleted); got != 1 {
		t.Fatalf("published %d companion.completed events", got)
	}

	_, err = f.companion.CompleteToken(ctx, tokenID, companionForm("Juan"))
	if !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("second completion err=%v, want ErrAlreadyCompleted", err)
	}
	if _, err := f.companion.GetTokenInfo(ctx, tokenID); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("GetTokenInfo after completion err=%v", err)
	}
}

func TestCompleteTokenRejectsIncompleteInput(t *testing.T) {
	f := newFixture(t)
	res := mustCreate(t, f, groupReq(1))

	in := companionForm("Juan")
	in.LastName = "  "
	in.Gender = "N/A"
	_, err := f.companion.CompleteToken(context.Background(), res.Companions[0].TokenID, in)

	var inc *domain.IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	want := map[string]bool{"last_name": true, "gender": true}
	if len(inc.MissingFields) != len(want) {
		t.Fatalf("MissingFields=%v", inc.MissingFields)
	}
	for _, field := range inc.MissingFields {
		if !want[field] {
			t.Fatalf("unexpected missing field %q", field)
		}
	}

	tok, _ := f.deps.Tokens.GetByID(context.Background(), res.Companions[0].TokenID)
	if tok.Status != domain.TokenPending {
		t.Fatalf("rejected input consumed the token: %s", tok.Status)
	}
}

func TestExpiredTokenReportsInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := groupReq(1)
	req.Type = "group-walk-in"
	res := mustCreate(t, f, req)
	tokenID := res.Companions[0].TokenID

	f.clock.Advance(3 * time.Hour)

	info, err := f.companion.GetTokenInfo(ctx, tokenID)
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err=%v, want ErrExpired", err)
	}
	if info == nil || !info.LinkExpired || info.Email == "" {
		t.Fatalf("expired info %+v", info)
	}
	if _, err := f.companion.CompleteToken(ctx, tokenID, companionForm("Juan")); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("CompleteToken err=%v, want ErrExpired", err)
	}
}

func TestExpiryWinsOverCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := mustCreate(t, f, groupReq(1))
	tokenID := res.Companions[0].TokenID

	if _, err := f.companion.CompleteToken(ctx, tokenID, companionForm("Juan")); err != nil {
		t.Fatalf("CompleteToken: %v", err)
	}
	f.store.ExpireToken(tokenID, f.clock.Now())

	if _, err := f.companion.GetTokenInfo(ctx, tokenID); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err=%v, want ErrExpired", err)
	}
}

func TestCompleteTokenOnCancelledBooking(t *testing.T) {
	f := newFixture(t)
	res := mustCreate(t, f, groupReq(1))
	f.store.SetBookingStatus(res.BookingID, domain.BookingCancelled)

	_, err := f.companion.CompleteToken(context.Background(), res.Companions[0].TokenID, companionForm("Juan"))
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err=%v, want ErrCancelled", err)
	}
}

func TestCompleteTokenNotFound(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"not-a-uuid", "5b0b7b9e-6f0e-4f39-9d5c-6b2f1d1d0a11"} {
		if _, err := f.companion.CompleteToken(context.Background(), id, companionForm("Juan")); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("CompleteToken(%q) err=%v, want ErrNotFound", id, err)
		}
	}
}

func TestTokenAfterCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := mustCreate(t, f, groupReq(1))
	tokenID := res.Companions[0].TokenID

	out, err := f.companion.CompleteToken(ctx, tokenID, companionForm("Juan"))
	if err != nil {
		t.Fatalf("CompleteToken: %v", err)
	}
	if _, err := f.checkin.CheckIn(ctx, service.CheckInRequest{VisitorID: out.VisitorID}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if _, err := f.companion.GetTokenInfo(ctx, tokenID); !errors.Is(err, domain.ErrQrAlreadyUsed) {
		t.Fatalf("err=%v, want ErrQrAlreadyUsed", err)
	}
}

func TestConcurrentCompletionsConsumeTokenOnce(t *testing.T) {
	f := newFixture(t)
	res := mustCreate(t, f, groupReq(1))
	tokenID := res.Companions[0].TokenID

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, already := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.companion.CompleteToken(context.Background(), tokenID, companionForm("Juan"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrAlreadyCompleted):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || already != 7 {
		t.Fatalf("succeeded=%d already=%d", succeeded, already)
	}
	if got := f.pub.count(events.CompanionCompleted); got != 1 {
		t.Fatalf("published %d completion events", got)
	}
}

func TestCompleteTokenRequiresPendingVisitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := mustCreate(t, f, groupReq(1))
	tokenID := res.Companions[0].TokenID

	tok, err := f.deps.Tokens.GetByID(ctx, tokenID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	v, err := f.deps.Visitors.GetByID(ctx, tok.VisitorID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	v.Status = domain.VisitorApproved
	f.store.SetVisitor(*v)

	if _, err := f.companion.CompleteToken(ctx, tokenID, companionForm("Juan")); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("err=%v, want ErrAlreadyCompleted", err)
	}
}
