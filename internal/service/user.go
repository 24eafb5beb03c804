package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
)

// Register and login outcomes.
const (
	UserStatusCreated = "created"
	UserStatusExists  = "exists"
	UserStatusLogin   = "login"
)

// UserService manages accounts keyed by the client-supplied user id.
type UserService struct {
	repo *repository.UserRepository
	now  func() time.Time
}

// NewUserService creates a user service.
func NewUserService(repo *repository.UserRepository) *UserService {
	return &UserService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterRequest carries the optional profile of a new user.
type RegisterRequest struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	LoginType    string `json:"login_type"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// Register creates the user unless it exists. The status is "created" or "exists".
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*domain.User, string, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, "", fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}

	existing, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return existing, UserStatusExists, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: failed to look up user: %v", domain.ErrDependency, err)
	}

	loginType := req.LoginType
	if loginType == "" {
		loginType = domain.LoginTypeGuest
	}
	now := s.now()
	user := &domain.User{
		UserID:       userID,
		Name:         req.Name,
		Email:        req.Email,
		LoginType:    loginType,
		ProfileImage: req.ProfileImage,
		IsActive:     true,
		LastLogin:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := s.repo.GetByUserID(ctx, userID)
			if getErr == nil {
				return existing, UserStatusExists, nil
			}
		}
		return nil, "", fmt.Errorf("%w: failed to create user: %v", domain.ErrDependency, err)
	}
	logger.CtxInfo(ctx, "User registered: user_id=%s, login_type=%s", userID, loginType)
	return user, UserStatusCreated, nil
}

// Login records a login, registering unknown users automatically.
func (s *UserService) Login(ctx context.Context, userID string) (*domain.User, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}

	user, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		short := userID
		if len(short) > 8 {
			short = short[:8]
		}
		return s.Register(ctx, &RegisterRequest{
			UserID:    userID,
			Name:      "User_" + short,
			LoginType: domain.LoginTypeAuto,
		})
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to look up user: %v", domain.ErrDependency, err)
	}

	now := s.now()
	if err := s.repo.TouchLogin(ctx, userID, now); err != nil {
		return nil, "", fmt.Errorf("%w: failed to update last login: %v", domain.ErrDependency, err)
	}
	user.LastLogin = now
	return user, UserStatusLogin, nil
}

// Profile returns the user or domain.ErrNotFound.
func (s *UserService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.GetByUserID(ctx, userID)
}
