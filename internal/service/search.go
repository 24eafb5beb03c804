package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
)

const (
	defaultTopK       = 10
	defaultMaxTopK    = 1000
	defaultTextWeight = 0.5
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultTopK  int
	MaxTopK      int
	StoreTimeout time.Duration
}

// SearchService ranks stored content against a query by brute-force cosine
// similarity over every record that passes the filter.
type SearchService struct {
	store        repository.ContentStore
	embedder     *Embedder
	defaultTopK  int
	maxTopK      int
	storeTimeout time.Duration
}

// NewSearchService creates a new search service.
// Parameters:
//   - store: content store to scan.
//   - embedder: shared embedder for query vectors.
//   - cfg: search configuration settings; nil uses defaults.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(store repository.ContentStore, embedder *Embedder, cfg *SearchConfig) *SearchService {
	s := &SearchService{
		store:       store,
		embedder:    embedder,
		defaultTopK: defaultTopK,
		maxTopK:     defaultMaxTopK,
	}
	if cfg != nil {
		if cfg.DefaultTopK > 0 {
			s.defaultTopK = cfg.DefaultTopK
		}
		if cfg.MaxTopK > 0 {
			s.maxTopK = cfg.MaxTopK
		}
		s.storeTimeout = cfg.StoreTimeout
	}
	return s
}

func (s *SearchService) resolveTopK(topK int) (int, error) {
	if topK == 0 {
		return s.defaultTopK, nil
	}
	if topK < 0 || topK > s.maxTopK {
		return 0, fmt.Errorf("%w: top_k must be in 1..%d, got %d", domain.ErrInvalidInput, s.maxTopK, topK)
	}
	return topK, nil
}

func (s *SearchService) validate(q *domain.Query) (int, error) {
	if q == nil || (!q.HasText() && !q.HasImage()) {
		return 0, fmt.Errorf("%w: query needs text or an image", domain.ErrInvalidInput)
	}
	topK, err := s.resolveTopK(q.TopK)
	if err != nil {
		return 0, err
	}
	if q.ContentType != "" && !q.ContentType.Valid() {
		return 0, fmt.Errorf("%w: unknown content type %q", domain.ErrInvalidInput, q.ContentType)
	}
	if q.Threshold != nil && (math.IsNaN(*q.Threshold) || math.IsInf(*q.Threshold, 0)) {
		return 0, fmt.Errorf("%w: threshold must be finite", domain.ErrInvalidInput)
	}
	return topK, nil
}

// queryVector embeds the query in the space chosen by which inputs it carries.
func (s *SearchService) queryVector(ctx context.Context, q *domain.Query) ([]float32, domain.EmbeddingSpace, error) {
	img := ImageInput{Path: q.ImagePath, Image: q.Image}
	switch {
	case q.HasText() && q.HasImage():
		vecs, err := s.embedder.EmbedMultimodal(ctx, []string{q.Text}, []ImageInput{img})
		if err != nil {
			return nil, "", err
		}
		return vecs[0], domain.SpaceMultimodal, nil
	case q.HasText():
		vec, err := s.embedder.EmbedQueryText(ctx, q.Text)
		return vec, domain.SpaceText, err
	default:
		vecs, err := s.embedder.EmbedImage(ctx, img)
		if err != nil {
			return nil, "", err
		}
		return vecs[0], domain.SpaceImage, nil
	}
}

// Search embeds the query, scans every matching record and returns the
// best TopK by cosine similarity.
func (s *SearchService) Search(ctx context.Context, q *domain.Query) ([]domain.SearchResult, error) {
	topK, err := s.validate(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
		logger.FieldSearchID:  uuid.New().String(),
	})

	if q.HasImage() && q.Image == nil {
		if err := s.embedder.Loader().Check(ctx, q.ImagePath); err != nil {
			return nil, err
		}
	}

	vec, space, err := s.queryVector(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := s.find(ctx, domain.ContentFilter{ContentType: q.ContentType, Metadata: q.Metadata})
	if err != nil {
		return nil, err
	}

	results := rankRecords(ctx, vec, space, records, q.Threshold, topK)

	logger.With(logger.Fields{
		logger.FieldSpace: string(space),
		"candidates":      len(records),
	}).WithCount(len(results)).WithSince(start).Info(ctx, "Search completed")
	return results, nil
}

func (s *SearchService) find(ctx context.Context, filter domain.ContentFilter) ([]*domain.ContentRecord, error) {
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}
	records, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch candidates: %v", domain.ErrDependency, err)
	}
	return records, nil
}

// rankRecords scores records in one pass, drops those below threshold and
// keeps the topK best in stable descending order.
func rankRecords(ctx context.Context, query []float32, space domain.EmbeddingSpace, records []*domain.ContentRecord, threshold *float64, topK int) []domain.SearchResult {
	hits := scoreCandidates(ctx, query, len(records), func(i int) ([]float32, string) {
		return records[i].Embedding(space), records[i].ID
	}, threshold)

	results := make([]domain.SearchResult, 0, min(len(hits), topK))
	for _, h := range hits {
		if len(results) == topK {
			break
		}
		results = append(results, domain.SearchResult{
			Record:   records[h.index],
			Score:    h.score,
			Distance: 1 - h.score,
		})
	}
	return results
}

type scoredCandidate struct {
	index int
	score float64
}

// scoreCandidates is the fold shared by every brute-force scan. Candidates
// without a vector are skipped silently, candidates that cannot be compared
// are logged and skipped, and NaN/Inf scores count as 0. The result is
// stable-sorted by descending score.
func scoreCandidates(ctx context.Context, query []float32, n int, vectorAt func(i int) ([]float32, string), threshold *float64) []scoredCandidate {
	hits := make([]scoredCandidate, 0, n)
	for i := 0; i < n; i++ {
		vec, id := vectorAt(i)
		if len(vec) == 0 {
			continue
		}
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			logger.With(logger.Fields{logger.FieldRecordID: id}).Warn(ctx, "Skipping candidate: %v", err)
			continue
		}
		if clean, replaced := sanitizeScore(score); replaced {
			logger.With(logger.Fields{logger.FieldRecordID: id}).Debug(ctx, "Non-finite similarity replaced with 0")
			score = clean
		}
		if threshold != nil && score < *threshold {
			continue
		}
		hits = append(hits, scoredCandidate{index: i, score: score})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	return hits
}

// HybridSearch runs independent text and image searches and fuses them by
// weighted score sum.
func (s *SearchService) HybridSearch(ctx context.Context, q *domain.HybridQuery) ([]domain.SearchResult, error) {
	if q == nil || (q.Text == "" && q.ImagePath == "" && q.Image == nil) {
		return nil, fmt.Errorf("%w: hybrid query needs text or an image", domain.ErrInvalidInput)
	}
	w := defaultTextWeight
	if q.TextWeight != nil {
		w = *q.TextWeight
	}
	if math.IsNaN(w) || w < 0 || w > 1 {
		return nil, fmt.Errorf("%w: text_weight must be in [0,1]", domain.ErrInvalidInput)
	}
	topK, err := s.resolveTopK(q.TopK)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetComponent(ctx, "hybrid_search")

	type fused struct {
		record *domain.ContentRecord
		score  float64
	}
	var order []string
	byID := map[string]*fused{}
	add := func(results []domain.SearchResult, weight float64) {
		for _, r := range results {
			f, ok := byID[r.Record.ID]
			if !ok {
				f = &fused{record: r.Record}
				byID[r.Record.ID] = f
				order = append(order, r.Record.ID)
			}
			f.score += r.Score * weight
		}
	}

	// Each side may contribute up to 2*topK candidates; this can exceed max_top_k.
	subK := topK * 2
	if q.Text != "" && w > 0 {
		textResults, err := s.searchSpace(ctx, &domain.Query{Text: q.Text}, subK)
		if err != nil {
			return nil, err
		}
		add(textResults, w)
	}
	if (q.ImagePath != "" || q.Image != nil) && w < 1 {
		imageResults, err := s.searchSpace(ctx, &domain.Query{ImagePath: q.ImagePath, Image: q.Image}, subK)
		if err != nil {
			return nil, err
		}
		add(imageResults, 1-w)
	}

	results := make([]domain.SearchResult, 0, len(order))
	for _, id := range order {
		f := byID[id]
		results = append(results, domain.SearchResult{Record: f.record, Score: f.score, Distance: 1 - f.score})
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	logger.With(logger.Fields{"text_weight": w}).WithCount(len(results)).Info(ctx, "Hybrid search completed")
	return results, nil
}

// searchSpace runs Search without the max_top_k bound so hybrid sub-searches
// can over-fetch.
func (s *SearchService) searchSpace(ctx context.Context, q *domain.Query, topK int) ([]domain.SearchResult, error) {
	if q.HasImage() && q.Image == nil {
		if err := s.embedder.Loader().Check(ctx, q.ImagePath); err != nil {
			return nil, err
		}
	}
	vec, space, err := s.queryVector(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	records, err := s.find(ctx, domain.ContentFilter{})
	if err != nil {
		return nil, err
	}
	return rankRecords(ctx, vec, space, records, nil, topK), nil
}
