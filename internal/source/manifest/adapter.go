package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/source"
)

// Entry represents one line of a JSONL manifest.
type Entry struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Image    string         `json:"image"` // relative to the manifest's directory
	Metadata map[string]any `json:"metadata"`
}

// Adapter implements the Source interface for a JSONL manifest file.
type Adapter struct {
	path  string
	name  string
	once  sync.Once
	items []source.Item
	err   error
}

// NewAdapter creates a manifest adapter.
// Parameters:
//   - path: path to the .jsonl manifest.
// Returns:
//   - *Adapter: adapter that loads the manifest on first fetch.
func NewAdapter(path string) *Adapter {
	return &Adapter{
		path: path,
		name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
}

// GetSourceID returns "manifest:<file stem>".
func (a *Adapter) GetSourceID() string {
	return "manifest:" + a.name
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Manifest (%s)", a.path)
}

// FetchBatch returns manifest items in file order.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	a.once.Do(func() { a.items, a.err = a.load(ctx) })
	if a.err != nil {
		return nil, "", fmt.Errorf("failed to load manifest: %w", a.err)
	}
	return source.Page(a.items, cursor, limit)
}

// load reads all entries. Malformed and empty lines are logged and skipped.
func (a *Adapter) load(ctx context.Context) ([]source.Item, error) {
	file, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	baseDir := filepath.Dir(a.path)
	items := []source.Item{}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed manifest line: file=%s, line=%d, error=%v", a.path, lineNo, err)
			continue
		}
		if strings.TrimSpace(entry.Text) == "" && entry.Image == "" {
			logger.CtxWarn(ctx, "Skipping manifest line without text or image: file=%s, line=%d", a.path, lineNo)
			continue
		}

		imagePath := entry.Image
		if imagePath != "" && !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(baseDir, imagePath)
		}
		id := entry.ID
		if id == "" {
			id = fmt.Sprintf("line_%d", lineNo)
		}

		items = append(items, source.Item{
			ID:        id,
			Text:      entry.Text,
			ImagePath: imagePath,
			Metadata:  entry.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return items, nil
}
