package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/storage"
)

// ChatRoomService persists chat session state per user.
type ChatRoomService struct {
	rooms   *repository.ChatRoomRepository
	convs   *repository.ConversationRepository
	storage storage.ObjectStorage
}

// NewChatRoomService creates a chat room service. objectStorage may be nil.
func NewChatRoomService(rooms *repository.ChatRoomRepository, convs *repository.ConversationRepository, objectStorage storage.ObjectStorage) *ChatRoomService {
	return &ChatRoomService{rooms: rooms, convs: convs, storage: objectStorage}
}

// SaveChatRoomRequest is the full state of a room as sent by the client.
type SaveChatRoomRequest struct {
	RoomID           string           `json:"room_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Messages         []map[string]any `json:"messages"`
	VideoContext     map[string]any   `json:"video_context"`
	CapturedFrame    string           `json:"captured_frame,omitempty"`
	FrameTime        string           `json:"frame_time,omitempty"`
	VideoCurrentTime *float64         `json:"video_current_time,omitempty"`
	VideoID          string           `json:"video_id,omitempty"`
	IsArchived       bool             `json:"is_archived"`
}

// Save creates or replaces the room. The bool is true when it was created.
func (s *ChatRoomService) Save(ctx context.Context, userID string, req *SaveChatRoomRequest) (*domain.ChatRoom, bool, error) {
	if strings.TrimSpace(req.RoomID) == "" {
		return nil, false, fmt.Errorf("%w: room_id is required", domain.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.RoomID
	}
	messages := domain.MessageList(req.Messages)
	if messages == nil {
		messages = domain.MessageList{}
	}
	videoContext := domain.JSONMap(req.VideoContext)
	if videoContext == nil {
		videoContext = domain.JSONMap{}
	}

	room := &domain.ChatRoom{
		UserID:           userID,
		RoomID:           req.RoomID,
		Name:             name,
		Description:      req.Description,
		Messages:         messages,
		VideoContext:     videoContext,
		CapturedFrame:    req.CapturedFrame,
		FrameTime:        req.FrameTime,
		VideoCurrentTime: req.VideoCurrentTime,
		VideoID:          req.VideoID,
		MessageCount:     len(messages),
		IsArchived:       req.IsArchived,
	}
	created, err := s.rooms.Upsert(ctx, room)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to save chat room: %v", domain.ErrDependency, err)
	}
	logger.CtxInfo(ctx, "Chat room saved: room_id=%s, created=%v, messages=%d", room.RoomID, created, room.MessageCount)
	return room, created, nil
}

// List returns non-archived rooms, most recently updated first, with the total.
func (s *ChatRoomService) List(ctx context.Context, userID string, limit, offset int) ([]domain.ChatRoom, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}
	rooms, total, err := s.rooms.ListActive(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list chat rooms: %v", domain.ErrDependency, err)
	}
	return rooms, total, nil
}

// ListByVideo returns the user's rooms attached to videoID.
func (s *ChatRoomService) ListByVideo(ctx context.Context, userID, videoID string) ([]domain.ChatRoom, error) {
	rooms, err := s.rooms.ListByVideo(ctx, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list chat rooms: %v", domain.ErrDependency, err)
	}
	return rooms, nil
}

// Get returns one room or domain.ErrNotFound.
func (s *ChatRoomService) Get(ctx context.Context, userID, roomID string) (*domain.ChatRoom, error) {
	return s.rooms.Get(ctx, userID, roomID)
}

// Delete removes the room together with the user's conversations captured
// at the room's video position and their stored frames.
func (s *ChatRoomService) Delete(ctx context.Context, userID, roomID string) (*domain.ChatRoomDeleteResult, error) {
	room, err := s.rooms.Get(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetComponent(ctx, "chatroom")
	result := &domain.ChatRoomDeleteResult{RoomID: roomID}

	if room.VideoCurrentTime != nil {
		convs, err := s.convs.FindByTimestamp(ctx, userID, *room.VideoCurrentTime)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to find related conversations: %v", domain.ErrDependency, err)
		}
		ids := make([]string, 0, len(convs))
		for _, c := range convs {
			ids = append(ids, c.ID)
			if s.deleteFrame(ctx, c.ImagePath) {
				result.ImagesDeleted++
			}
		}
		if result.ConversationsDeleted, err = s.convs.DeleteByIDs(ctx, ids); err != nil {
			return nil, fmt.Errorf("%w: failed to delete related conversations: %v", domain.ErrDependency, err)
		}
	}

	ok, err := s.rooms.Delete(ctx, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to delete chat room: %v", domain.ErrDependency, err)
	}
	if !ok {
		return nil, fmt.Errorf("chat room %s: %w", roomID, domain.ErrNotFound)
	}
	result.ChatRoomDeleted = true

	logger.CtxInfo(ctx, "Chat room deleted: room_id=%s, conversations=%d, images=%d",
		roomID, result.ConversationsDeleted, result.ImagesDeleted)
	return result, nil
}

// deleteFrame removes a stored frame and reports whether one was removed.
// Failures are logged only.
func (s *ChatRoomService) deleteFrame(ctx context.Context, ref string) bool {
	if ref == "" || s.storage == nil {
		return false
	}
	key, ok := s.storage.ParseRef(ref)
	if !ok {
		return false
	}
	exists, err := s.storage.Exists(ctx, key)
	if err != nil || !exists {
		if err != nil {
			logger.CtxWarn(ctx, "Failed to check frame: key=%s, error=%v", key, err)
		}
		return false
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		logger.CtxError(ctx, "Failed to delete frame: key=%s, error=%v", key, err)
		return false
	}
	return true
}
