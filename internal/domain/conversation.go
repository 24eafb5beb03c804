package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Conversation is one saved question/answer exchange for a user.
// KeyHash is the MD5 of question, answer and timestamp; together with UserID
// it is unique, so saving the same exchange twice updates the existing row.
type Conversation struct {
	ID                string           `gorm:"type:text;primaryKey" json:"id"`
	UserID            string           `gorm:"type:text;not null;uniqueIndex:idx_conversations_key,priority:1" json:"user_id"`
	KeyHash           string           `gorm:"type:text;not null;uniqueIndex:idx_conversations_key,priority:2" json:"-"`
	ConversationID    string           `gorm:"type:text;not null;index" json:"conversation_id"`
	Question          string           `gorm:"type:text;not null" json:"question"`
	Answer            string           `gorm:"type:text;not null" json:"answer"`
	Timestamp         float64          `gorm:"not null;default:0;index" json:"timestamp"`
	QuestionImage     string           `gorm:"type:text" json:"question_image,omitempty"`
	ImagePath         string           `gorm:"type:text" json:"image_path,omitempty"`
	VideoID           string           `gorm:"type:text;index" json:"video_id,omitempty"`
	SharedFrame       bool             `gorm:"default:false" json:"shared_frame"`
	CombinedEmbedding *pgvector.Vector `gorm:"type:text" json:"-"`
	Tags              StringArray      `gorm:"type:text" json:"tags"`
	Metadata          JSONMap          `gorm:"type:text" json:"metadata"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string {
	return "user_conversations"
}

// Embedding returns the combined question+answer vector, or nil.
func (c *Conversation) Embedding() []float32 {
	if c.CombinedEmbedding == nil {
		return nil
	}
	return c.CombinedEmbedding.Slice()
}

// ConversationSearchResult is a conversation ranked against a query.
type ConversationSearchResult struct {
	ConversationID string  `json:"conversation_id"`
	Question       string  `json:"question"`
	Answer         string  `json:"answer"`
	QuestionImage  string  `json:"question_image,omitempty"`
	ImagePath      string  `json:"image_path,omitempty"`
	Score          float64 `json:"score"`
	Timestamp      float64 `json:"timestamp"`
}
