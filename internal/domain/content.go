package domain

import (
	"image"
	"time"
)

// ContentType tags which modalities a content record carries.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeMultimodal ContentType = "multimodal"
	ContentTypeFrame      ContentType = "frame"
	ContentTypeChat       ContentType = "chat"
	ContentTypeVideo      ContentType = "video"
)

// Valid reports whether t is one of the known content types.
// The empty string is not valid; callers treat it as "no filter".
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeMultimodal,
		ContentTypeFrame, ContentTypeChat, ContentTypeVideo:
		return true
	}
	return false
}

// EmbeddingSpace names the vector field a search compares against.
type EmbeddingSpace string

const (
	SpaceText       EmbeddingSpace = "text"
	SpaceImage      EmbeddingSpace = "image"
	SpaceMultimodal EmbeddingSpace = "multimodal"
)

// ContentRecord is the persisted unit of ingested content.
// Embeddings that do not apply to the content type are nil.
type ContentRecord struct {
	ID                  string         `json:"id"`
	ContentType         ContentType    `json:"content_type"`
	TextContent         string         `json:"text_content,omitempty"`
	ImagePath           string         `json:"image_path,omitempty"`
	TextEmbedding       []float32      `json:"text_embedding,omitempty"`
	ImageEmbedding      []float32      `json:"image_embedding,omitempty"`
	MultimodalEmbedding []float32      `json:"multimodal_embedding,omitempty"`
	Metadata            map[string]any `json:"metadata"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Embedding returns the record's vector for the given space, or nil.
func (r *ContentRecord) Embedding(space EmbeddingSpace) []float32 {
	switch space {
	case SpaceText:
		return r.TextEmbedding
	case SpaceImage:
		return r.ImageEmbedding
	case SpaceMultimodal:
		return r.MultimodalEmbedding
	}
	return nil
}

// Query describes a single similarity search.
type Query struct {
	Text        string         `json:"text,omitempty"`
	ImagePath   string         `json:"image_path,omitempty"`
	Image       image.Image    `json:"-"`
	ContentType ContentType    `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TopK        int            `json:"top_k,omitempty"`
	// Threshold drops results scoring strictly below it. Nil disables the filter.
	Threshold *float64 `json:"threshold,omitempty"`
}

// HasText reports whether the query carries text input.
func (q *Query) HasText() bool {
	return q.Text != ""
}

// HasImage reports whether the query carries image input.
func (q *Query) HasImage() bool {
	return q.ImagePath != "" || q.Image != nil
}

// HybridQuery fuses independent text and image searches by weighted score sum.
type HybridQuery struct {
	Text      string      `json:"text,omitempty"`
	ImagePath string      `json:"image_path,omitempty"`
	Image     image.Image `json:"-"`
	// TextWeight defaults to 0.5 when nil. The image side gets 1 - TextWeight.
	TextWeight *float64 `json:"text_weight,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

// SearchResult pairs a record with its cosine similarity.
type SearchResult struct {
	Record   *ContentRecord `json:"record"`
	Score    float64        `json:"score"`
	Distance float64        `json:"distance"`
}

// ContentFilter is a conjunction of exact-match conditions on content type
// and metadata keys. Zero values match everything.
type ContentFilter struct {
	ContentType ContentType
	Metadata    map[string]any
}

// Matches reports whether the record satisfies every condition in the filter.
func (f ContentFilter) Matches(r *ContentRecord) bool {
	if f.ContentType != "" && r.ContentType != f.ContentType {
		return false
	}
	for key, want := range f.Metadata {
		got, ok := r.Metadata[key]
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}
