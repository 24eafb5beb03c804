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

// ConversationRepository handles saved conversation persistence.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Upsert inserts conv or, when (user_id, key_hash) exists, updates the
// mutable columns of the existing row. conv is reloaded from the database so
// its ID and ConversationID reflect the stored row.
// Returns true when a new row was created.
func (r *ConversationRepository) Upsert(ctx context.Context, conv *domain.Conversation) (bool, error) {
	db := r.db.WithContext(ctx)

	var existing domain.Conversation
	err := db.Select("id").First(&existing, "user_id = ? AND key_hash = ?", conv.UserID, conv.KeyHash).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, err
	}

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "key_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"question_image", "image_path", "video_id", "shared_frame",
			"combined_embedding", "metadata", "updated_at",
		}),
	}).Create(conv).Error
	if err != nil {
		return false, err
	}

	// conv.ID is ignored on conflict, so reload into a fresh value.
	var stored domain.Conversation
	if err := db.First(&stored, "user_id = ? AND key_hash = ?", conv.UserID, conv.KeyHash).Error; err != nil {
		return false, fmt.Errorf("failed to reload conversation: %w", err)
	}
	*conv = stored
	return created, nil
}

// ListByUser returns every conversation owned by userID in creation order.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Find(&convs).Error
	return convs, err
}

// History returns a page of conversations newest first, plus the total count.
func (r *ConversationRepository) History(ctx context.Context, userID string, limit, offset int) ([]domain.Conversation, int64, error) {
	db := r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("user_id = ?", userID).
		Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var convs []domain.Conversation
	err := db.Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	return convs, total, err
}

// FindByTimestamp returns the user's conversations captured at timestamp.
func (r *ConversationRepository) FindByTimestamp(ctx context.Context, userID string, timestamp float64) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp = ?", userID, timestamp).
		Find(&convs).Error
	return convs, err
}

// DeleteByIDs removes the given rows and returns how many were deleted.
func (r *ConversationRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Conversation{})
	return result.RowsAffected, result.Error
}

// Delete removes one conversation by its public conversation id.
func (r *ConversationRepository) Delete(ctx context.Context, userID, conversationID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Delete(&domain.Conversation{})
	return result.RowsAffected > 0, result.Error
}
