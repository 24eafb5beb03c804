package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/mmrag/internal/config"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"

	// Images are downscaled so the longer side fits before upload.
	maxImageSide = 1024
)

// Jina API request/response structures
type jinaRequest struct {
	Model         string `json:"model"`
	Task          string `json:"task,omitempty"`
	Dimensions    int    `json:"dimensions,omitempty"`
	Normalized    bool   `json:"normalized,omitempty"`
	Input         any    `json:"input"`
	EmbeddingType string `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// jinaInput is one element of a jina-clip input list.
type jinaInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// jinaClient is the HTTP plumbing shared by the text and CLIP backends.
type jinaClient struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// JinaOptions tunes the HTTP client of a Jina backend.
type JinaOptions struct {
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

func newJinaClient(cfg *config.EmbeddingConfig, opts *JinaOptions) *jinaClient {
	if opts == nil {
		opts = &JinaOptions{}
	}
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
	})
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = jinaEndpoint
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	return &jinaClient{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}
}

// embed posts one request and returns vectors ordered by input index.
func (c *jinaClient) embed(ctx context.Context, req jinaRequest, n int) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req.Model = c.model
	req.Dimensions = c.dimensions
	req.EmbeddingType = "float"

	var resp jinaResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != n {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), n)
	}

	// Sort by index to ensure correct order
	embeddings := make([][]float32, n)
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= n {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// JinaTextBackend calls the Jina embeddings API with a text model.
type JinaTextBackend struct {
	*jinaClient
}

// NewJinaTextBackend creates a text backend such as jina-embeddings-v3.
func NewJinaTextBackend(cfg *config.EmbeddingConfig, opts *JinaOptions) *JinaTextBackend {
	return &JinaTextBackend{jinaClient: newJinaClient(cfg, opts)}
}

// Name returns the model name.
func (b *JinaTextBackend) Name() string { return b.model }

// Dimensions returns the configured vector size.
func (b *JinaTextBackend) Dimensions() int { return b.dimensions }

// EmbedTexts embeds documents with the passage task.
func (b *JinaTextBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return b.embed(ctx, jinaRequest{Task: "retrieval.passage", Input: texts}, len(texts))
}

// EmbedQuery embeds a search query with the query task.
func (b *JinaTextBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embed(ctx, jinaRequest{Task: "retrieval.query", Input: []string{text}}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// JinaCLIPBackend calls the Jina embeddings API with a CLIP model that maps
// text and images into one space.
type JinaCLIPBackend struct {
	*jinaClient
}

// NewJinaCLIPBackend creates a joint backend such as jina-clip-v2.
func NewJinaCLIPBackend(cfg *config.EmbeddingConfig, opts *JinaOptions) *JinaCLIPBackend {
	return &JinaCLIPBackend{jinaClient: newJinaClient(cfg, opts)}
}

// Name returns the model name.
func (b *JinaCLIPBackend) Name() string { return b.model }

// Dimensions returns the configured vector size.
func (b *JinaCLIPBackend) Dimensions() int { return b.dimensions }

func (b *JinaCLIPBackend) embedInputs(ctx context.Context, inputs []jinaInput) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	return b.embed(ctx, jinaRequest{Normalized: true, Input: inputs}, len(inputs))
}

// EmbedTexts embeds texts into the joint space.
func (b *JinaCLIPBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]jinaInput, len(texts))
	for i, t := range texts {
		inputs[i] = jinaInput{Text: t}
	}
	return b.embedInputs(ctx, inputs)
}

// EmbedImages embeds images into the joint space.
func (b *JinaCLIPBackend) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	inputs := make([]jinaInput, len(images))
	for i, img := range images {
		encoded, err := encodeImageBase64(img)
		if err != nil {
			return nil, err
		}
		inputs[i] = jinaInput{Image: encoded}
	}
	return b.embedInputs(ctx, inputs)
}

// EmbedPairs sends texts and images interleaved in one request.
func (b *JinaCLIPBackend) EmbedPairs(ctx context.Context, texts []string, images []image.Image) ([][]float32, [][]float32, error) {
	if len(texts) != len(images) {
		return nil, nil, fmt.Errorf("got %d texts for %d images", len(texts), len(images))
	}
	inputs := make([]jinaInput, 0, 2*len(texts))
	for i := range texts {
		encoded, err := encodeImageBase64(images[i])
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, jinaInput{Text: texts[i]}, jinaInput{Image: encoded})
	}

	vecs, err := b.embedInputs(ctx, inputs)
	if err != nil {
		return nil, nil, err
	}
	textVecs := make([][]float32, len(texts))
	imageVecs := make([][]float32, len(texts))
	for i := range texts {
		textVecs[i] = vecs[2*i]
		imageVecs[i] = vecs[2*i+1]
	}
	return textVecs, imageVecs, nil
}

// encodeImageBase64 downsizes img if needed and returns it as base64 PNG.
func encodeImageBase64(img image.Image) (string, error) {
	img = fitImage(img, maxImageSide)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fitImage(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		h = h * maxSide / w
		w = maxSide
	} else {
		w = w * maxSide / h
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
