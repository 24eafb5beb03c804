package domain

import "time"

// ChatRoom stores a user's chat session state, optionally tied to a video frame.
// (user_id, room_id) is unique.
type ChatRoom struct {
	ID               string      `gorm:"type:text;primaryKey" json:"id"`
	UserID           string      `gorm:"type:text;not null;uniqueIndex:idx_chat_rooms_user_room,priority:1" json:"user_id"`
	RoomID           string      `gorm:"type:text;not null;uniqueIndex:idx_chat_rooms_user_room,priority:2" json:"room_id"`
	Name             string      `gorm:"type:text;not null" json:"name"`
	Description      string      `gorm:"type:text" json:"description"`
	Messages         MessageList `gorm:"type:text" json:"messages"`
	VideoContext     JSONMap     `gorm:"type:text" json:"video_context"`
	CapturedFrame    string      `gorm:"type:text" json:"captured_frame,omitempty"`
	FrameTime        string      `gorm:"type:text" json:"frame_time,omitempty"`
	VideoCurrentTime *float64    `json:"video_current_time,omitempty"`
	VideoID          string      `gorm:"type:text;index:idx_chat_rooms_video" json:"video_id,omitempty"`
	MessageCount     int         `gorm:"default:0" json:"message_count"`
	IsArchived       bool        `gorm:"default:false;index" json:"is_archived"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TableName returns the database table name for ChatRoom.
func (ChatRoom) TableName() string {
	return "user_chat_rooms"
}

// ChatRoomDeleteResult reports what a room deletion removed.
type ChatRoomDeleteResult struct {
	RoomID               string `json:"room_id"`
	ChatRoomDeleted      bool   `json:"chat_room_deleted"`
	ConversationsDeleted int64  `json:"conversations_deleted"`
	ImagesDeleted        int    `json:"images_deleted"`
}
