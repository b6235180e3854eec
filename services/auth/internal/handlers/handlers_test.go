package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/diagnosis/museum-visits/services/auth/internal/handlers"
	"github.com/diagnosis/museum-visits/services/auth/internal/repository/repotest"
	"github.com/diagnosis/museum-visits/services/auth/internal/service"
)

const jwtSecret = "test-secret"

func init() {
	logger.SetDefault(logger.New(io.Discard, "error"))
}

func setupTestServer(t *testing.T) (*httptest.Server, service.AuthService) {
	t.Helper()
	params := &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	svc := service.NewAuthService(repotest.NewStaffStore(), config.AuthConfig{JWTSecret: jwtSecret, AccessTokenTTL: time.Hour}, params)
	if err := svc.EnsureBootstrapAdmin(context.Background(), "admin@museum.org", "admin-password"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h := handlers.New(svc, ratelimit.NewMemory(), jwtSecret)
	r := chi.NewRouter()
	r.Route("/api/v1/auth", h.Routes)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, svc
}

func doJSON(t *testing.T, method, url, bearer string, data any, expectedStatus int) map[string]any {
	t.Helper()
	var body io.Reader
	if data != nil {
		b, _ := json.Marshal(data)
		body = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, raw)
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func login(t *testing.T, baseURL, email, password string) string {
	t.Helper()
	res := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK)
	token, _ := res["accessToken"].(string)
	if token == "" {
		t.Fatalf("login returned no token: %v", res)
	}
	return token
}

func TestStaffLifecycle(t *testing.T) {
	server, _ := setupTestServer(t)
	adminToken := login(t, server.URL, "admin@museum.org", "admin-password")

	created := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/staff", adminToken, map[string]string{
		"email":    "door@museum.org",
		"password": "door-password",
	}, http.StatusCreated)
	if created["role"] != auth.RoleStaff {
		t.Errorf("role = %v, want staff", created["role"])
	}
	staffID, _ := created["id"].(string)

	staffToken := login(t, server.URL, "door@museum.org", "door-password")
	claims, err := auth.Parse(staffToken, jwtSecret)
	if err != nil || claims.Sub != staffID {
		t.Fatalf("staff token claims: %+v, err %v", claims, err)
	}

	// Door staff cannot manage accounts.
	doJSON(t, http.MethodGet, server.URL+"/api/v1/auth/staff", staffToken, nil, http.StatusForbidden)
	doJSON(t, http.MethodGet, server.URL+"/api/v1/auth/staff", "", nil, http.StatusUnauthorized)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/staff", adminToken, map[string]string{
		"email":    "DOOR@museum.org",
		"password": "door-password",
	}, http.StatusConflict)

	doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/staff/"+staffID+"/deactivate", adminToken, nil, http.StatusOK)
	res := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/login", "", map[string]string{
		"email":    "door@museum.org",
		"password": "door-password",
	}, http.StatusForbidden)
	if res["code"] != "forbidden" {
		t.Errorf("code = %v, want forbidden", res["code"])
	}

	doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/staff/"+staffID+"/activate", adminToken, nil, http.StatusOK)
	login(t, server.URL, "door@museum.org", "door-password")

	doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/staff/unknown/activate", adminToken, nil, http.StatusNotFound)
}

func TestLoginErrors(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"missing email", map[string]string{"password": "x"}, http.StatusBadRequest, "validation_error"},
		{"missing password", map[string]string{"email": "admin@museum.org"}, http.StatusBadRequest, "validation_error"},
		{"wrong password", map[string]string{"email": "admin@museum.org", "password": "nope"}, http.StatusUnauthorized, "unauthorized"},
		{"unknown user", map[string]string{"email": "ghost@museum.org", "password": "nope"}, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/login", "", tt.body, tt.status)
			if res["code"] != tt.code {
				t.Errorf("code = %v, want %s", res["code"], tt.code)
			}
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	server, _ := setupTestServer(t)
	body := map[string]string{"email": "admin@museum.org", "password": "wrong-password"}

	for i := 0; i < 10; i++ {
		doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/login", "", body, http.StatusUnauthorized)
	}
	res := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/login", "", body, http.StatusTooManyRequests)
	if res["code"] != "rate_limited" {
		t.Errorf("code = %v, want rate_limited", res["code"])
	}
}

func TestListStaffPagination(t *testing.T) {
	server, svc := setupTestServer(t)
	adminToken := login(t, server.URL, "admin@museum.org", "admin-password")

	for _, email := range []string{"a@museum.org", "b@museum.org", "c@museum.org"} {
		if _, err := svc.CreateStaff(context.Background(), &domain.CreateStaffRequest{Email: email, Password: "long-enough-pw"}); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/auth/staff?limit=2&offset=1", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var users []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0]["email"] != "b@museum.org" {
		t.Errorf("first user = %v, want b@museum.org (newest first, offset 1)", users[0]["email"])
	}
	for _, u := range users {
		if _, leaked := u["passwordHash"]; leaked {
			t.Error("password hash must not be serialized")
		}
	}
}
