package handler

import (
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/service"
)

// uploadLimit bounds multipart file sizes.
type uploadLimit struct {
	maxSize int64
}

func (u uploadLimit) file(c *gin.Context, field string) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: form field %q is required", domain.ErrInvalidInput, field)
	}
	if u.maxSize > 0 && fh.Size > u.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrInvalidInput, fh.Filename, fh.Size, u.maxSize)
	}
	return fh, nil
}

// decodeFile reads an uploaded image into memory without persisting it.
func (u uploadLimit) decodeFile(c *gin.Context, field string) (image.Image, error) {
	fh, err := u.file(c, field)
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	return service.DecodeImage(f)
}

// formMetadata parses the optional "metadata" form field as a JSON object.
func formMetadata(c *gin.Context) (map[string]any, error) {
	raw := c.PostForm("metadata")
	if raw == "" {
		return map[string]any{}, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object: %v", domain.ErrInvalidInput, err)
	}
	return md, nil
}

func formInt(c *gin.Context, field string) (int, error) {
	raw := c.PostForm(field)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, field)
	}
	return n, nil
}

func formFloat(c *gin.Context, field string) (*float64, error) {
	raw := c.PostForm(field)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, field)
	}
	return &f, nil
}
