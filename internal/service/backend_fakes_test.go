package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/repository"
)

// lexicon maps words onto a handful of concept axes so that related words
// produce similar vectors. Unknown words share the last axis.
var lexicon = map[string]int{
	"bicycle": 0, "bike": 0, "car": 0, "cycling": 0,
	"cat": 1, "cats": 1, "feline": 1, "pets": 1, "animals": 1, "dog": 1,
	"quantum": 2, "physics": 2, "atom": 2,
	"red": 3, "green": 3, "blue": 3,
}

const lexiconDims = 5

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func conceptVector(text string) []float32 {
	v := make([]float32, lexiconDims)
	for _, w := range tokenize(text) {
		if axis, ok := lexicon[w]; ok {
			v[axis]++
		} else {
			v[lexiconDims-1]++
		}
	}
	return v
}

type fakeTextBackend struct {
	err   error
	short bool // return one vector fewer than asked
	calls atomic.Int32
}

func (b *fakeTextBackend) Name() string    { return "fake-text" }
func (b *fakeTextBackend) Dimensions() int { return lexiconDims }

func (b *fakeTextBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, conceptVector(t))
	}
	if b.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

// fakeJointBackend embeds colour words and images into [r, g, b, bias].
// Like the hosted CLIP backend it returns unit vectors.
type fakeJointBackend struct {
	err   error
	block bool // wait for the context to end
}

var colourWords = map[string][3]float32{
	"red":   {1, 0, 0},
	"green": {0, 1, 0},
	"blue":  {0, 0, 1},
}

func (b *fakeJointBackend) Name() string    { return "fake-joint" }
func (b *fakeJointBackend) Dimensions() int { return 4 }

func (b *fakeJointBackend) fail(ctx context.Context) error {
	if b.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.err
}

func (b *fakeJointBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.fail(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0, 0, 0, 0.2}
		for _, w := range tokenize(t) {
			if c, ok := colourWords[w]; ok {
				v[0], v[1], v[2] = v[0]+c[0], v[1]+c[1], v[2]+c[2]
			}
		}
		out[i] = Normalize(v)
	}
	return out, nil
}

func (b *fakeJointBackend) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if err := b.fail(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = Normalize(meanColour(img))
	}
	return out, nil
}

func (b *fakeJointBackend) EmbedPairs(ctx context.Context, texts []string, images []image.Image) ([][]float32, [][]float32, error) {
	tv, err := b.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	iv, err := b.EmbedImages(ctx, images)
	if err != nil {
		return nil, nil, err
	}
	return tv, iv, nil
}

func meanColour(img image.Image) []float32 {
	var r, g, bl float64
	bounds := img.Bounds()
	n := float64(bounds.Dx() * bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += float64(cr) / 0xffff
			g += float64(cg) / 0xffff
			bl += float64(cb) / 0xffff
		}
	}
	return []float32{float32(r / n), float32(g / n), float32(bl / n), 0.2}
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, solidImage(c)))
	return path
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func newTestEmbedder() (*Embedder, *fakeTextBackend, *fakeJointBackend) {
	text := &fakeTextBackend{}
	joint := &fakeJointBackend{}
	return NewEmbedder(text, joint, nil, nil), text, joint
}

// failingStore fails every scan.
type failingStore struct {
	repository.ContentStore
}

var errStoreDown = errors.New("store down")

func (failingStore) Find(context.Context, domain.ContentFilter) ([]*domain.ContentRecord, error) {
	return nil, errStoreDown
}
