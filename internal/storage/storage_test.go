package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/config"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	key := "frames/frame_v1_1500.jpg"
	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Upload(ctx, key, strings.NewReader("jpeg-bytes"), 10, "image/jpeg"))

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, key)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "jpeg-bytes", string(body))

	ref := s.Ref(key)
	assert.True(t, filepath.IsAbs(ref))
	got, ok := s.ParseRef(ref)
	require.True(t, ok)
	assert.Equal(t, key, got)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Download(ctx, key)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	err = s.Upload(context.Background(), "../outside.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)

	_, ok := s.ParseRef("/etc/passwd")
	assert.False(t, ok)
}

func TestS3Refs(t *testing.T) {
	s := &S3Storage{bucket: "media"}

	ref := s.Ref("uploads/a.png")
	assert.Equal(t, "s3://media/uploads/a.png", ref)

	key, ok := s.ParseRef(ref)
	require.True(t, ok)
	assert.Equal(t, "uploads/a.png", key)

	_, ok = s.ParseRef("s3://other/uploads/a.png")
	assert.False(t, ok)
	_, ok = s.ParseRef("/tmp/a.png")
	assert.False(t, ok)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, detectStorageType(tt.endpoint))
		})
	}
}

func TestNewStorageLocal(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}
