package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/mmrag/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRoomRepository handles chat room persistence.
type ChatRoomRepository struct {
	db *gorm.DB
}

// NewChatRoomRepository creates a new ChatRoomRepository.
func NewChatRoomRepository(db *gorm.DB) *ChatRoomRepository {
	return &ChatRoomRepository{db: db}
}

// Upsert creates the room or replaces its state, keyed by (user_id, room_id).
// Returns true when a new row was created.
func (r *ChatRoomRepository) Upsert(ctx context.Context, room *domain.ChatRoom) (bool, error) {
	db := r.db.WithContext(ctx)

	var existing domain.ChatRoom
	err := db.Select("id", "created_at").First(&existing, "user_id = ? AND room_id = ?", room.UserID, room.RoomID).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, err
	}

	if room.ID == "" {
		room.ID = uuid.New().String()
	}

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "messages", "video_context", "captured_frame",
			"frame_time", "video_current_time", "video_id", "message_count",
			"is_archived", "updated_at",
		}),
	}).Create(room).Error
	if err != nil {
		return false, err
	}
	if !created {
		room.ID = existing.ID
		room.CreatedAt = existing.CreatedAt
	}
	return created, nil
}

// Get returns one room owned by userID.
func (r *ChatRoomRepository) Get(ctx context.Context, userID, roomID string) (*domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := r.db.WithContext(ctx).First(&room, "user_id = ? AND room_id = ?", userID, roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat room %s: %w", roomID, domain.ErrNotFound)
		}
		return nil, err
	}
	return &room, nil
}

// ListActive returns non-archived rooms, most recently updated first.
func (r *ChatRoomRepository) ListActive(ctx context.Context, userID string, limit, offset int) ([]domain.ChatRoom, int64, error) {
	db := r.db.WithContext(ctx).Model(&domain.ChatRoom{}).
		Where("user_id = ? AND is_archived = ?", userID, false).
		Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rooms []domain.ChatRoom
	err := db.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&rooms).Error
	return rooms, total, err
}

// ListByVideo returns the user's rooms attached to videoID.
func (r *ChatRoomRepository) ListByVideo(ctx context.Context, userID, videoID string) ([]domain.ChatRoom, error) {
	var rooms []domain.ChatRoom
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND video_id = ?", userID, videoID).
		Order("created_at ASC").
		Find(&rooms).Error
	return rooms, err
}

// Delete removes a room and reports whether it existed.
func (r *ChatRoomRepository) Delete(ctx context.Context, userID, roomID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Delete(&domain.ChatRoom{})
	return result.RowsAffected > 0, result.Error
}
