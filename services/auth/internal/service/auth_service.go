package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/diagnosis/museum-visits/services/auth/internal/repository"
)

type AuthService interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	CreateStaff(ctx context.Context, req *domain.CreateStaffRequest) (*domain.StaffUser, error)
	ListStaff(ctx context.Context, limit, offset int) ([]domain.StaffUser, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.StaffUser, error)
	EnsureBootstrapAdmin(ctx context.Context, email, password string) error
}

type authService struct {
	staffRepo repository.StaffRepository
	authCfg   config.AuthConfig
	params    *argon2id.Params
}

// NewAuthService builds the staff auth service. A nil params uses argon2id.DefaultParams.
func NewAuthService(staffRepo repository.StaffRepository, authCfg config.AuthConfig, params *argon2id.Params) AuthService {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return &authService{
		staffRepo: staffRepo,
		authCfg:   authCfg,
		params:    params,
	}
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.staffRepo.FindByEmail(ctx, req.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find staff user: %w", err)
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, domain.ErrInactive
	}

	accessToken, err := auth.NewAccessToken(user.ID, user.Email, user.Role, s.authCfg.JWTSecret, s.authCfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	logger.InfoContext(ctx, "Staff login", "staff_id", user.ID, "role", user.Role)
	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.authCfg.AccessTokenTTL / time.Second),
		User:        user.ToStaffInfo(),
	}, nil
}

func (s *authService) CreateStaff(ctx context.Context, req *domain.CreateStaffRequest) (*domain.StaffUser, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := argon2id.CreateHash(req.Password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user, err := s.staffRepo.Create(ctx, req.Email, hash, req.Role)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Staff account created", "staff_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *authService) ListStaff(ctx context.Context, limit, offset int) ([]domain.StaffUser, error) {
	users, err := s.staffRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	return users, nil
}

func (s *authService) SetActive(ctx context.Context, id string, active bool) (*domain.StaffUser, error) {
	user, err := s.staffRepo.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Staff account updated", "staff_id", user.ID, "active", active)
	return user, nil
}

// EnsureBootstrapAdmin creates the first admin when no active admin exists.
func (s *authService) EnsureBootstrapAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	n, err := s.staffRepo.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.CreateStaff(ctx, &domain.CreateStaffRequest{Email: email, Password: password, Role: auth.RoleAdmin})
	if errors.Is(err, domain.ErrEmailTaken) {
		logger.WarnContext(ctx, "Bootstrap admin email already belongs to a staff account")
		return nil
	}
	return err
}
