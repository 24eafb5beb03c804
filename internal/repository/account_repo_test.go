package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/mmrag/internal/domain"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.GetByUserID(ctx, "u1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, repo.Create(ctx, &domain.User{UserID: "u1", Name: "Ada", LoginType: domain.LoginTypeGuest}))
	err = repo.Create(ctx, &domain.User{UserID: "u1", Name: "Dup"})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.TouchLogin(ctx, "u1", at))

	user, err := repo.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)
	assert.True(t, user.LastLogin.Equal(at))
}

func newConversation(userID, question string, ts float64) *domain.Conversation {
	vec := pgvector.NewVector([]float32{1, 0})
	return &domain.Conversation{
		UserID:            userID,
		KeyHash:           question,
		ConversationID:    "conv_" + question,
		Question:          question,
		Answer:            "answer",
		Timestamp:         ts,
		CombinedEmbedding: &vec,
	}
}

func TestConversationUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(openTestDB(t))

	first := newConversation("u1", "q1", 1.5)
	created, err := repo.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	again := newConversation("u1", "q1", 1.5)
	again.ConversationID = "conv_other"
	again.VideoID = "vid"
	created, err = repo.Upsert(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "conv_q1", again.ConversationID)
	assert.Equal(t, "vid", again.VideoID)

	all, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []float32{1, 0}, all[0].Embedding())
}

func TestConversationHistoryAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(openTestDB(t))

	for i, q := range []string{"a", "b", "c"} {
		_, err := repo.Upsert(ctx, newConversation("u1", q, float64(i)))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := repo.Upsert(ctx, newConversation("u2", "z", 0))
	require.NoError(t, err)

	page, total, err := repo.History(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Question)
	assert.Equal(t, "b", page[1].Question)

	atOne, err := repo.FindByTimestamp(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, atOne, 1)
	assert.Equal(t, "b", atOne[0].Question)

	n, err := repo.DeleteByIDs(ctx, []string{atOne[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err := repo.Delete(ctx, "u1", "conv_a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Delete(ctx, "u2", "conv_c")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "c", remaining[0].Question)
}

func TestChatRoomRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRoomRepository(openTestDB(t))

	room := &domain.ChatRoom{UserID: "u1", RoomID: "r1", Name: "first", VideoID: "v1"}
	created, err := repo.Upsert(ctx, room)
	require.NoError(t, err)
	assert.True(t, created)

	update := &domain.ChatRoom{
		UserID:       "u1",
		RoomID:       "r1",
		Name:         "renamed",
		VideoID:      "v1",
		Messages:     domain.MessageList{{"role": "user", "content": "hi"}},
		MessageCount: 1,
	}
	created, err = repo.Upsert(ctx, update)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, update.ID)

	got, err := repo.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 1, got.MessageCount)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0]["content"])

	_, err = repo.Upsert(ctx, &domain.ChatRoom{UserID: "u1", RoomID: "r2", Name: "archived", IsArchived: true})
	require.NoError(t, err)

	rooms, total, err := repo.ListActive(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].RoomID)

	byVideo, err := repo.ListByVideo(ctx, "u1", "v1")
	require.NoError(t, err)
	assert.Len(t, byVideo, 1)

	ok, err := repo.Delete(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = repo.Get(ctx, "u1", "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJobRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))

	job := &domain.IngestJob{Source: "manifest", Status: domain.JobStatusRunning, TotalItems: 4}
	require.NoError(t, repo.Create(ctx, job))
	require.NotEmpty(t, job.ID)

	job.Status = domain.JobStatusCompleted
	job.ProcessedItems = 4
	require.NoError(t, repo.Update(ctx, job))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedItems)
}
