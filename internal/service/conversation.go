package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/storage"
)

const (
	defaultConversationThreshold = 0.4
	maxConversationTopK          = 100
)

// ConversationConfig holds configuration for the conversation service.
type ConversationConfig struct {
	ScoreThreshold float64
	MaxTopK        int
}

// ConversationService stores question/answer exchanges per user and finds
// earlier ones by semantic similarity.
type ConversationService struct {
	repo      *repository.ConversationRepository
	embedder  *Embedder
	storage   storage.ObjectStorage
	threshold float64
	maxTopK   int
}

// NewConversationService creates a conversation service. objectStorage may
// be nil, in which case question images are not persisted.
func NewConversationService(repo *repository.ConversationRepository, embedder *Embedder, objectStorage storage.ObjectStorage, cfg *ConversationConfig) *ConversationService {
	s := &ConversationService{
		repo:      repo,
		embedder:  embedder,
		storage:   objectStorage,
		threshold: defaultConversationThreshold,
		maxTopK:   maxConversationTopK,
	}
	if cfg != nil {
		s.threshold = cfg.ScoreThreshold
		if cfg.MaxTopK > 0 {
			s.maxTopK = cfg.MaxTopK
		}
	}
	return s
}

// SaveConversationRequest is one exchange to persist.
type SaveConversationRequest struct {
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	QuestionImage string  `json:"question_image,omitempty"` // base64, optionally a data URL
	Timestamp     float64 `json:"timestamp"`
	VideoID       string  `json:"video_id,omitempty"`
}

func conversationKey(question, answer string, timestamp float64) string {
	sum := md5.Sum([]byte(question + "|" + answer + "|" + strconv.FormatFloat(timestamp, 'g', -1, 64)))
	return hex.EncodeToString(sum[:])
}

// Save embeds "question answer" and upserts the exchange. Saving the same
// question, answer and timestamp again updates the existing row.
func (s *ConversationService) Save(ctx context.Context, userID string, req *SaveConversationRequest) (*domain.Conversation, bool, error) {
	question := strings.TrimSpace(req.Question)
	answer := strings.TrimSpace(req.Answer)
	if question == "" || answer == "" {
		return nil, false, fmt.Errorf("%w: question and answer are required", domain.ErrInvalidInput)
	}
	ctx = logger.SetComponent(ctx, "conversation")

	vecs, err := s.embedder.EmbedText(ctx, question+" "+answer)
	if err != nil {
		return nil, false, fmt.Errorf("failed to embed conversation: %w", err)
	}
	vec := pgvector.NewVector(vecs[0])

	conv := &domain.Conversation{
		UserID:            userID,
		KeyHash:           conversationKey(question, answer, req.Timestamp),
		ConversationID:    "conv_" + uuid.New().String()[:8],
		Question:          question,
		Answer:            answer,
		Timestamp:         req.Timestamp,
		QuestionImage:     req.QuestionImage,
		VideoID:           req.VideoID,
		CombinedEmbedding: &vec,
		Tags:              domain.StringArray{},
		Metadata:          domain.JSONMap{},
	}

	if req.QuestionImage != "" {
		ref, err := s.storeFrame(ctx, req.QuestionImage, req.VideoID, req.Timestamp)
		if err != nil {
			logger.CtxError(ctx, "Failed to store shared frame: %v", err)
		} else {
			conv.ImagePath = ref
			conv.SharedFrame = true
		}
	}

	created, err := s.repo.Upsert(ctx, conv)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to save conversation: %v", domain.ErrDependency, err)
	}
	logger.CtxInfo(ctx, "Conversation saved: conversation_id=%s, created=%v, has_image=%v",
		conv.ConversationID, created, conv.ImagePath != "")
	return conv, created, nil
}

// storeFrame writes a decoded question image under a name shared by every
// conversation about the same video frame, reusing an existing object.
func (s *ConversationService) storeFrame(ctx context.Context, encoded, videoID string, timestamp float64) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("no object storage configured")
	}
	if i := strings.Index(encoded, ","); i >= 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode question image: %w", err)
	}

	var key string
	if videoID != "" && timestamp > 0 {
		key = fmt.Sprintf("frames/frame_%s_%d.jpg", videoID, int64(timestamp*1000))
	} else {
		sum := md5.Sum(data)
		key = fmt.Sprintf("frames/frame_unknown_%s.jpg", hex.EncodeToString(sum[:])[:12])
	}

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		logger.CtxDebug(ctx, "Reusing shared frame: key=%s", key)
	} else {
		if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), http.DetectContentType(data)); err != nil {
			return "", err
		}
		logger.CtxInfo(ctx, "Saved shared frame: key=%s", key)
	}
	return s.storage.Ref(key), nil
}

// Search ranks the user's conversations against query.
func (s *ConversationService) Search(ctx context.Context, userID, query string, topK int) ([]domain.ConversationSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	if topK <= 0 || topK > s.maxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d", domain.ErrInvalidInput, s.maxTopK)
	}
	start := time.Now()
	ctx = logger.SetComponent(ctx, "conversation")

	vec, err := s.embedder.EmbedQueryText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	convs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list conversations: %v", domain.ErrDependency, err)
	}

	threshold := s.threshold
	hits := scoreCandidates(ctx, vec, len(convs), func(i int) ([]float32, string) {
		return convs[i].Embedding(), convs[i].ConversationID
	}, &threshold)

	results := make([]domain.ConversationSearchResult, 0, min(len(hits), topK))
	for _, h := range hits[:min(len(hits), topK)] {
		c := convs[h.index]
		results = append(results, domain.ConversationSearchResult{
			ConversationID: c.ConversationID,
			Question:       c.Question,
			Answer:         c.Answer,
			QuestionImage:  c.QuestionImage,
			ImagePath:      c.ImagePath,
			Score:          h.score,
			Timestamp:      c.Timestamp,
		})
	}
	logger.With(logger.Fields{"candidates": len(convs)}).
		WithCount(len(results)).WithSince(start).Info(ctx, "Conversation search completed")
	return results, nil
}

// History returns a page of the user's conversations, newest first.
func (s *ConversationService) History(ctx context.Context, userID string, limit, offset int) ([]domain.Conversation, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}
	convs, total, err := s.repo.History(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to load history: %v", domain.ErrDependency, err)
	}
	return convs, total, nil
}

// Delete removes one conversation; domain.ErrNotFound when it is absent.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	ok, err := s.repo.Delete(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete conversation: %v", domain.ErrDependency, err)
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	return nil
}
