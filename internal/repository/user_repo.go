package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/mmrag/internal/domain"
	"gorm.io/gorm"
)

// UserRepository handles user account persistence.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. A duplicate user_id yields domain.ErrAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Preferences == nil {
		user.Preferences = domain.JSONMap{}
	}
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("user %s: %w", user.UserID, domain.ErrAlreadyExists)
	}
	return err
}

// GetByUserID retrieves a user by the client-supplied user id.
func (r *UserRepository) GetByUserID(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// TouchLogin sets last_login and updated_at to at.
func (r *UserRepository) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"last_login": at, "updated_at": at}).Error
}
