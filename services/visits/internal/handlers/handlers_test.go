package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/completion"
	"github.com/diagnosis/museum-visits/services/visits/internal/credential"
	"github.com/diagnosis/museum-visits/services/visits/internal/handlers"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository/repotest"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
)

const (
	jwtSecret = "test-secret"
	visitDate = "2026-10-19"
	visitSlot = "14:00-15:00"
)

func init() {
	logger.SetDefault(logger.New(io.Discard, "error"))
}

// ---------- Test Setup ----------

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type rawEncoder struct{}

func (rawEncoder) Encode(content string) ([]byte, error) { return []byte(content), nil }

func setupTestServer(t *testing.T) (*httptest.Server, *repotest.Store, *testClock) {
	t.Helper()
	store := repotest.New()
	clk := &testClock{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}

	museum := config.MuseumConfig{
		OpenHour:       9,
		CloseHour:      17,
		SlotCapacity:   5,
		MaxPerBooking:  5,
		WalkInTokenTTL: 2 * time.Hour,
		FrontendURL:    "https://visits.example.org",
	}
	deps := service.Deps{
		Bookings:    store.Bookings(),
		Visitors:    store.Visitors(),
		Tokens:      store.Tokens(),
		Idempotency: store.Idempotency(),
		Capacity: capacity.NewManager(capacity.Rules{
			Capacity:       museum.SlotCapacity,
			MaxPerBooking:  museum.MaxPerBooking,
			OpenHour:       museum.OpenHour,
			CloseHour:      museum.CloseHour,
			ClosedWeekdays: []time.Weekday{time.Sunday},
			Location:       time.UTC,
		}).WithClock(clk.Now),
		Issuer:    credential.NewIssuer(rawEncoder{}),
		Validator: completion.NewValidator(completion.DefaultTable()),
		Museum:    museum,
		Now:       clk.Now,
	}
	h := handlers.New(
		service.NewBookingService(deps),
		service.NewCompanionService(deps),
		service.NewCheckInService(deps),
		jwtSecret,
	)

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, clk
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.NewAccessToken("3f1c9a52-0d7e-4b8e-9a51-7c2f0e4d6b10", "desk@museum.example.org", role, jwtSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, method, url, bearer string, data interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected status %d, got %d (%v)", method, url, expectedStatus, resp.StatusCode, out)
	}
	return out
}

func groupBooking(companions ...string) map[string]interface{} {
	return map[string]interface{}{
		"type": "group",
		"mainVisitor": map[string]string{
			"firstName":   "Maria",
			"lastName":    "Santos",
			"gender":      "female",
			"email":       "maria@example.org",
			"institution": "Rizal High School",
		},
		"companions": companions,
		"date":       visitDate,
		"time":       visitSlot,
	}
}

func companionIDs(t *testing.T, created map[string]interface{}) []string {
	t.Helper()
	raw, _ := created["companions"].([]interface{})
	ids := make([]string, 0, len(raw))
	for _, c := range raw {
		ids = append(ids, c.(map[string]interface{})["tokenId"].(string))
	}
	return ids
}

// ---------- Tests ----------

func TestBookingToCheckInFlow(t *testing.T) {
	server, _, _ := setupTestServer(t)
	api := server.URL + "/api/v1"

	created := doJSON(t, http.MethodPost, api+"/bookings", "", groupBooking("juan@example.org"), http.StatusCreated)
	if created["success"] != true || created["status"] != "pending" {
		t.Fatalf("unexpected create response %v", created)
	}
	tokens := companionIDs(t, created)
	if len(tokens) != 1 {
		t.Fatalf("got %d companion tokens", len(tokens))
	}

	slots := doJSON(t, http.MethodGet, api+"/slots?date="+visitDate, "", nil, http.StatusOK)
	for _, s := range slots["slots"].([]interface{}) {
		slot := s.(map[string]interface{})
		if slot["time"] == visitSlot && slot["booked"] != float64(2) {
			t.Fatalf("slot %v, want 2 booked", slot)
		}
	}

	info := doJSON(t, http.MethodGet, api+"/companions/"+tokens[0], "", nil, http.StatusOK)
	if info["inheritedInstitution"] != "Rizal High School" {
		t.Fatalf("token info %v", info)
	}

	form := map[string]string{"firstName": "Juan", "lastName": "Cruz", "gender": "male"}
	completed := doJSON(t, http.MethodPut, api+"/companions/"+tokens[0], "", form, http.StatusOK)
	code, _ := completed["backupCode"].(string)
	if code == "" || completed["qrCodeImage"] == "" {
		t.Fatalf("completion response %v", completed)
	}
	doJSON(t, http.MethodPut, api+"/companions/"+tokens[0], "", form, http.StatusConflict)

	doJSON(t, http.MethodPost, api+"/checkin", "", map[string]string{"backupCode": code}, http.StatusUnauthorized)

	staff := tokenFor(t, auth.RoleStaff)
	first := doJSON(t, http.MethodPost, api+"/checkin", staff, map[string]string{"backupCode": code}, http.StatusOK)
	if first["alreadyCheckedIn"] != false {
		t.Fatalf("first check-in %v", first)
	}
	second := doJSON(t, http.MethodPost, api+"/checkin", staff, map[string]string{"backupCode": code}, http.StatusOK)
	if second["alreadyCheckedIn"] != true {
		t.Fatalf("second check-in %v", second)
	}
	v1 := first["visitor"].(map[string]interface{})
	v2 := second["visitor"].(map[string]interface{})
	if v1["checkinTime"] != v2["checkinTime"] {
		t.Fatalf("checkin time changed: %v != %v", v1["checkinTime"], v2["checkinTime"])
	}

	cred := doJSON(t, http.MethodGet, api+"/visitors/"+v1["id"].(string)+"/credential", staff, nil, http.StatusOK)
	if cred["backupCode"] != code {
		t.Fatalf("regenerated code %v, want %s", cred["backupCode"], code)
	}
}

func TestCreateBookingErrors(t *testing.T) {
	server, _, _ := setupTestServer(t)
	api := server.URL + "/api/v1"

	doJSON(t, http.MethodPost, api+"/bookings", "", groupBooking("a@example.org", "b@example.org", "c@example.org"), http.StatusCreated)

	full := doJSON(t, http.MethodPost, api+"/bookings", "", groupBooking("d@example.org"), http.StatusConflict)
	if full["code"] != "capacity_exceeded" || full["remainingSlots"] != float64(1) {
		t.Fatalf("capacity response %v", full)
	}

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown type", func() map[string]interface{} { b := groupBooking("x@example.org"); b["type"] = "vip"; return b }()},
		{"sunday", func() map[string]interface{} { b := groupBooking("x@example.org"); b["date"] = "2026-10-25"; return b }()},
		{"bad slot", func() map[string]interface{} { b := groupBooking("x@example.org"); b["time"] = "18:00-19:00"; return b }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := doJSON(t, http.MethodPost, api+"/bookings", "", tt.body, http.StatusBadRequest)
			if out["code"] != "validation_error" || out["success"] != false {
				t.Fatalf("error body %v", out)
			}
		})
	}

	doJSON(t, http.MethodGet, api+"/slots", "", nil, http.StatusBadRequest)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	server, store, _ := setupTestServer(t)

	post := func() map[string]interface{} {
		b, _ := json.Marshal(groupBooking("juan@example.org"))
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/bookings", bytes.NewReader(b))
		req.Header.Set("Idempotency-Key", "abc-123")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d", resp.StatusCode)
		}
		var out map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out
	}
	first, second := post(), post()
	if first["bookingId"] != second["bookingId"] {
		t.Fatalf("replay created %v and %v", first["bookingId"], second["bookingId"])
	}
	if b, _, _ := store.Counts(); b != 1 {
		t.Fatalf("got %d bookings", b)
	}
}

func TestExpiredCompanionLink(t *testing.T) {
	server, _, clk := setupTestServer(t)
	api := server.URL + "/api/v1"

	body := groupBooking("juan@example.org")
	body["type"] = "group-walk-in"
	created := doJSON(t, http.MethodPost, api+"/bookings", "", body, http.StatusCreated)
	token := companionIDs(t, created)[0]

	clk.Advance(3 * time.Hour)

	out := doJSON(t, http.MethodGet, api+"/companions/"+token, "", nil, http.StatusGone)
	if out["code"] != "expired" {
		t.Fatalf("expired body %v", out)
	}
	info, ok := out["token"].(map[string]interface{})
	if !ok || info["linkExpired"] != true || info["email"] != "juan@example.org" {
		t.Fatalf("expired body lacks token info: %v", out)
	}
	form := map[string]string{"firstName": "Juan", "lastName": "Cruz", "gender": "male"}
	doJSON(t, http.MethodPut, api+"/companions/"+token, "", form, http.StatusGone)
	doJSON(t, http.MethodGet, api+"/companions/not-a-token", "", nil, http.StatusNotFound)
}

func TestCheckInIncompleteVisitor(t *testing.T) {
	server, store, _ := setupTestServer(t)
	api := server.URL + "/api/v1"

	created := doJSON(t, http.MethodPost, api+"/bookings", "", groupBooking("juan@example.org"), http.StatusCreated)
	token := companionIDs(t, created)[0]

	out := doJSON(t, http.MethodPost, api+"/checkin", tokenFor(t, auth.RoleStaff), map[string]string{"token": token}, http.StatusUnprocessableEntity)
	if out["status"] != "incomplete" || out["success"] != false {
		t.Fatalf("incomplete body %v", out)
	}
	missing, _ := out["missingFields"].([]interface{})
	if len(missing) != 3 {
		t.Fatalf("missingFields %v", out["missingFields"])
	}
	if _, visitors, _ := store.Counts(); visitors != 2 {
		t.Fatalf("visitors %d", visitors)
	}
}

func TestAdminRoutes(t *testing.T) {
	server, _, _ := setupTestServer(t)
	api := server.URL + "/api/v1"

	created := doJSON(t, http.MethodPost, api+"/bookings", "", groupBooking("juan@example.org"), http.StatusCreated)
	id := created["bookingId"].(string)

	staff := tokenFor(t, auth.RoleStaff)
	admin := tokenFor(t, auth.RoleAdmin)

	doJSON(t, http.MethodGet, api+"/admin/bookings/"+id, "", nil, http.StatusUnauthorized)
	doJSON(t, http.MethodGet, api+"/admin/bookings/"+id, staff, nil, http.StatusForbidden)

	detail := doJSON(t, http.MethodGet, api+"/admin/bookings/"+id, admin, nil, http.StatusOK)
	if visitors, _ := detail["visitors"].([]interface{}); len(visitors) != 2 {
		t.Fatalf("detail %v", detail)
	}

	approved := doJSON(t, http.MethodPost, api+"/admin/bookings/"+id+"/approve", admin, nil, http.StatusOK)
	if approved["status"] != "approved" {
		t.Fatalf("approve %v", approved)
	}
	doJSON(t, http.MethodPost, api+"/admin/bookings/"+id+"/approve", admin, nil, http.StatusConflict)

	cancelled := doJSON(t, http.MethodPost, api+"/admin/bookings/"+id+"/cancel", admin, map[string]string{"reason": "storm"}, http.StatusOK)
	if cancelled["status"] != "cancelled" || cancelled["cancelReason"] != "storm" {
		t.Fatalf("cancel %v", cancelled)
	}
	doJSON(t, http.MethodPost, api+"/admin/bookings/"+id+"/cancel", admin, nil, http.StatusConflict)

	doJSON(t, http.MethodGet, api+"/admin/bookings/not-an-id", admin, nil, http.StatusNotFound)
}
