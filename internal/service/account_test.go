package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/storage"
)

type accountFixture struct {
	objects *storage.LocalStorage
	convs   *ConversationService
	rooms   *ChatRoomService
	users   *UserService
}

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	db := openServiceDB(t)
	objects, err := storage.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	e, _, _ := newTestEmbedder()
	convRepo := repository.NewConversationRepository(db)
	return &accountFixture{
		objects: objects,
		convs:   NewConversationService(convRepo, e, objects, nil),
		rooms:   NewChatRoomService(repository.NewChatRoomRepository(db), convRepo, objects),
		users:   NewUserService(repository.NewUserRepository(db)),
	}
}

func frameDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(red), nil))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestConversationSaveIsIdempotent(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	req := &SaveConversationRequest{Question: "what is this cat", Answer: "a feline", Timestamp: 12.5}

	first, created, err := f.convs.Save(ctx, "u1", req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, `^conv_[0-9a-f]{8}$`, first.ConversationID)

	second, created, err := f.convs.Save(ctx, "u1", req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	convs, total, err := f.convs.History(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, convs, 1)

	_, _, err = f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "only a question"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestConversationSharedFrame(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	frame := frameDataURL(t)

	a, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{
		Question: "what colour", Answer: "red", QuestionImage: frame, Timestamp: 1.5, VideoID: "vid",
	})
	require.NoError(t, err)
	assert.True(t, a.SharedFrame)
	key, ok := f.objects.ParseRef(a.ImagePath)
	require.True(t, ok)
	assert.Equal(t, "frames/frame_vid_1500.jpg", key)

	b, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{
		Question: "and now", Answer: "still red", QuestionImage: frame, Timestamp: 1.5, VideoID: "vid",
	})
	require.NoError(t, err)
	assert.Equal(t, a.ImagePath, b.ImagePath)

	c, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{
		Question: "broken", Answer: "image", QuestionImage: "!!!not base64!!!", Timestamp: 2,
	})
	require.NoError(t, err, "a bad frame must not fail the save")
	assert.Empty(t, c.ImagePath)
	assert.False(t, c.SharedFrame)
}

func TestConversationSearch(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	_, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "cats", Answer: "feline pets", Timestamp: 1})
	require.NoError(t, err)
	_, _, err = f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "quantum", Answer: "physics", Timestamp: 2})
	require.NoError(t, err)
	_, _, err = f.convs.Save(ctx, "u2", &SaveConversationRequest{Question: "cats", Answer: "cats", Timestamp: 1})
	require.NoError(t, err)

	results, err := f.convs.Search(ctx, "u1", "feline", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cats", results[0].Question)
	assert.Greater(t, results[0].Score, 0.4)

	_, err = f.convs.Search(ctx, "u1", "feline", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = f.convs.Search(ctx, "u1", " ", 5)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestConversationDelete(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	conv, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "q", Answer: "a"})
	require.NoError(t, err)

	require.NoError(t, f.convs.Delete(ctx, "u1", conv.ConversationID))
	assert.True(t, errors.Is(f.convs.Delete(ctx, "u1", conv.ConversationID), domain.ErrNotFound))
}

func TestChatRoomSaveAndList(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	room, created, err := f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{
		RoomID:   "r1",
		Messages: []map[string]any{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r1", room.Name)
	assert.Equal(t, 1, room.MessageCount)

	room, created, err = f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{
		RoomID: "r1",
		Name:   "Renamed",
		Messages: []map[string]any{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
		},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, room.MessageCount)

	_, _, err = f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{RoomID: "r2", IsArchived: true})
	require.NoError(t, err)

	rooms, total, err := f.rooms.List(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Renamed", rooms[0].Name)

	got, err := f.rooms.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)

	_, _, err = f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestChatRoomDeleteCascades(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	ts := 1.5

	linked, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{
		Question: "what colour", Answer: "red", QuestionImage: frameDataURL(t), Timestamp: ts, VideoID: "vid",
	})
	require.NoError(t, err)
	_, _, err = f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "later", Answer: "yes", Timestamp: 9})
	require.NoError(t, err)

	_, _, err = f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{RoomID: "r1", VideoID: "vid", VideoCurrentTime: &ts})
	require.NoError(t, err)

	byVideo, err := f.rooms.ListByVideo(ctx, "u1", "vid")
	require.NoError(t, err)
	assert.Len(t, byVideo, 1)

	result, err := f.rooms.Delete(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, result.ChatRoomDeleted)
	assert.EqualValues(t, 1, result.ConversationsDeleted)
	assert.Equal(t, 1, result.ImagesDeleted)

	key, _ := f.objects.ParseRef(linked.ImagePath)
	exists, err := f.objects.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, total, err := f.convs.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, err = f.rooms.Delete(ctx, "u1", "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestChatRoomDeleteWithoutVideoKeepsConversations(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	_, _, err := f.convs.Save(ctx, "u1", &SaveConversationRequest{Question: "q", Answer: "a"})
	require.NoError(t, err)
	_, _, err = f.rooms.Save(ctx, "u1", &SaveChatRoomRequest{RoomID: "r1", CapturedFrame: "data:image/jpeg;base64,AAAA"})
	require.NoError(t, err)

	result, err := f.rooms.Delete(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Zero(t, result.ConversationsDeleted)

	_, total, err := f.convs.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestUserRegisterAndLogin(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	user, status, err := f.users.Register(ctx, &RegisterRequest{UserID: "alice-0001", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, UserStatusCreated, status)
	assert.Equal(t, domain.LoginTypeGuest, user.LoginType)

	_, status, err = f.users.Register(ctx, &RegisterRequest{UserID: "alice-0001", Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, UserStatusExists, status)

	user, status, err = f.users.Login(ctx, "alice-0001")
	require.NoError(t, err)
	assert.Equal(t, UserStatusLogin, status)
	assert.Equal(t, "Alice", user.Name)

	user, status, err = f.users.Login(ctx, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, UserStatusCreated, status)
	assert.Equal(t, "User_01234567", user.Name)
	assert.Equal(t, domain.LoginTypeAuto, user.LoginType)

	profile, err := f.users.Profile(ctx, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, user.UserID, profile.UserID)

	_, err = f.users.Profile(ctx, "nobody")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, _, err = f.users.Login(ctx, "  ")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
