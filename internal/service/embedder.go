package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/timmy/mmrag/internal/domain"
)

// ErrBackendUnavailable is returned by backends that were compiled out.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// TextBackend produces text embeddings.
type TextBackend interface {
	Name() string
	Dimensions() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryTextBackend is implemented by text backends with a distinct query task.
type QueryTextBackend interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// JointBackend embeds text and images into one shared space.
type JointBackend interface {
	Name() string
	Dimensions() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
	// EmbedPairs embeds texts[i] and images[i] in a single call.
	EmbedPairs(ctx context.Context, texts []string, images []image.Image) (textVecs, imageVecs [][]float32, err error)
}

// ImageInput is either an in-memory image or a reference resolved by the ImageLoader.
type ImageInput struct {
	Path  string
	Image image.Image
}

// EmbedderConfig holds inference hardening options.
type EmbedderConfig struct {
	Timeout            time.Duration
	SerializeInference bool
}

// Embedder turns text and images into vectors. It holds no per-request state
// and is shared by the ingestion and search services.
type Embedder struct {
	text    TextBackend
	joint   JointBackend
	loader  *ImageLoader
	timeout time.Duration
	textMu  *sync.Mutex
	jointMu *sync.Mutex
}

// NewEmbedder creates an Embedder. cfg may be nil.
func NewEmbedder(text TextBackend, joint JointBackend, loader *ImageLoader, cfg *EmbedderConfig) *Embedder {
	if cfg == nil {
		cfg = &EmbedderConfig{}
	}
	if loader == nil {
		loader = NewImageLoader(nil)
	}
	e := &Embedder{
		text:    text,
		joint:   joint,
		loader:  loader,
		timeout: cfg.Timeout,
	}
	if cfg.SerializeInference {
		e.textMu = &sync.Mutex{}
		e.jointMu = &sync.Mutex{}
	}
	return e
}

// TextModel returns the text backend name.
func (e *Embedder) TextModel() string { return e.text.Name() }

// JointModel returns the joint backend name.
func (e *Embedder) JointModel() string { return e.joint.Name() }

// Loader returns the image loader used to resolve paths.
func (e *Embedder) Loader() *ImageLoader { return e.loader }

// call runs fn under the inference timeout and optional lock, wrapping
// backend failures with domain.ErrDependency.
func (e *Embedder) call(ctx context.Context, mu *sync.Mutex, backend string, fn func(context.Context) error) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	if err := fn(ctx); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrDependency, backend, err)
	}
	return nil
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no text given", domain.ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: text %d is empty", domain.ErrInvalidInput, i)
		}
	}
	return nil
}

func checkCount(got [][]float32, want int) error {
	if len(got) != want {
		return fmt.Errorf("backend returned %d vectors for %d inputs", len(got), want)
	}
	return nil
}

// EmbedText returns one unnormalized text-backend vector per input.
func (e *Embedder) EmbedText(ctx context.Context, texts ...string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	var vecs [][]float32
	err := e.call(ctx, e.textMu, e.text.Name(), func(ctx context.Context) error {
		var err error
		if vecs, err = e.text.EmbedTexts(ctx, texts); err != nil {
			return err
		}
		return checkCount(vecs, len(texts))
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// EmbedQueryText embeds a single search query, using the backend's query
// task when it has one.
func (e *Embedder) EmbedQueryText(ctx context.Context, text string) ([]float32, error) {
	qb, ok := e.text.(QueryTextBackend)
	if !ok {
		vecs, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
	if err := validateTexts([]string{text}); err != nil {
		return nil, err
	}
	var vec []float32
	err := e.call(ctx, e.textMu, e.text.Name(), func(ctx context.Context) error {
		var err error
		vec, err = qb.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *Embedder) resolveImages(ctx context.Context, inputs []ImageInput) ([]image.Image, error) {
	images := make([]image.Image, len(inputs))
	for i, in := range inputs {
		if in.Image != nil {
			images[i] = toRGBA(in.Image)
			continue
		}
		img, err := e.loader.Load(ctx, in.Path)
		if err != nil {
			return nil, err
		}
		images[i] = img
	}
	return images, nil
}

// EmbedImage returns one unit-norm joint-backend vector per image.
func (e *Embedder) EmbedImage(ctx context.Context, inputs ...ImageInput) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no image given", domain.ErrInvalidInput)
	}
	images, err := e.resolveImages(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var vecs [][]float32
	err = e.call(ctx, e.jointMu, e.joint.Name(), func(ctx context.Context) error {
		var err error
		if vecs, err = e.joint.EmbedImages(ctx, images); err != nil {
			return err
		}
		return checkCount(vecs, len(images))
	})
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = Normalize(vecs[i])
	}
	return vecs, nil
}

// EmbedMultimodal embeds each (text, image) pair with the joint backend and
// returns normalize((t+i)/2) per pair.
func (e *Embedder) EmbedMultimodal(ctx context.Context, texts []string, inputs []ImageInput) ([][]float32, error) {
	if len(texts) != len(inputs) {
		return nil, fmt.Errorf("%w: %d texts for %d images", domain.ErrInvalidInput, len(texts), len(inputs))
	}
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	images, err := e.resolveImages(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var textVecs, imageVecs [][]float32
	err = e.call(ctx, e.jointMu, e.joint.Name(), func(ctx context.Context) error {
		var err error
		if textVecs, imageVecs, err = e.joint.EmbedPairs(ctx, texts, images); err != nil {
			return err
		}
		if err := checkCount(textVecs, len(texts)); err != nil {
			return err
		}
		return checkCount(imageVecs, len(images))
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		if out[i], err = averagePair(textVecs[i], imageVecs[i]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrDependency, e.joint.Name(), err)
		}
	}
	return out, nil
}
