package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/diagnosis/museum-visits/pkg/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is disabled")
	ErrEmailTaken         = errors.New("a staff account with this email already exists")
	ErrNotFound           = errors.New("staff account not found")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type StaffUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type StaffInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u *StaffUser) ToStaffInfo() *StaffInfo {
	return &StaffInfo{ID: u.ID, Email: u.Email, Role: u.Role}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if r.Password == "" {
		return &ValidationError{Field: "password", Message: "is required"}
	}
	return nil
}

type LoginResponse struct {
	AccessToken string     `json:"accessToken"`
	ExpiresIn   int64      `json:"expiresIn"`
	User        *StaffInfo `json:"user"`
}

type CreateStaffRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

const MinPasswordLength = 10

func (r *CreateStaffRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
	if r.Role == "" {
		r.Role = auth.RoleStaff
	}
}

func (r *CreateStaffRequest) Validate() error {
	if !utils.IsValidEmail(r.Email) {
		return &ValidationError{Field: "email", Message: "is not a valid email address"}
	}
	if len(r.Password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	if !IsValidRole(r.Role) {
		return &ValidationError{Field: "role", Message: "must be staff or admin"}
	}
	return nil
}

func IsValidRole(role string) bool {
	return role == auth.RoleStaff || role == auth.RoleAdmin
}
