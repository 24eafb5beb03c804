package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/storage"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageLoader resolves image references to decoded RGBA images. References
// recognised by the object storage are downloaded from it; anything else is
// treated as a local file path.
type ImageLoader struct {
	storage storage.ObjectStorage
}

// NewImageLoader creates a loader. objectStorage may be nil.
func NewImageLoader(objectStorage storage.ObjectStorage) *ImageLoader {
	return &ImageLoader{storage: objectStorage}
}

func (l *ImageLoader) storageKey(ref string) (string, bool) {
	if l.storage == nil {
		return "", false
	}
	return l.storage.ParseRef(ref)
}

// Check returns domain.ErrNotFound when ref does not resolve.
func (l *ImageLoader) Check(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: image path is empty", domain.ErrInvalidInput)
	}
	if key, ok := l.storageKey(ref); ok {
		exists, err := l.storage.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: failed to check image: %v", domain.ErrDependency, err)
		}
		if !exists {
			return fmt.Errorf("image %s: %w", ref, domain.ErrNotFound)
		}
		return nil
	}
	info, err := os.Stat(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("image %s: %w", ref, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: image path %s is a directory", domain.ErrInvalidInput, ref)
	}
	return nil
}

// Load opens and decodes the image at ref.
func (l *ImageLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	rc, err := l.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return DecodeImage(rc)
}

func (l *ImageLoader) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: image path is empty", domain.ErrInvalidInput)
	}
	if key, ok := l.storageKey(ref); ok {
		rc, err := l.storage.Download(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, fmt.Errorf("image %s: %w", ref, domain.ErrNotFound)
			}
			return nil, fmt.Errorf("%w: failed to download image: %v", domain.ErrDependency, err)
		}
		return rc, nil
	}
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("image %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return f, nil
}

// DecodeImage decodes PNG, JPEG, GIF or WebP data and converts it to RGBA.
// Undecodable data is domain.ErrInvalidInput.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", domain.ErrInvalidInput, err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
