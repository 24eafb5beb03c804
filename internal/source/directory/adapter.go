package directory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/mmrag/internal/source"
)

// Adapter implements the Source interface for a directory tree.
//
// Images become image items; an image with a sibling caption file
// (same stem, .txt) becomes a multimodal item; any other .txt file becomes a
// text item. The parent folder name is recorded as metadata["category"].
type Adapter struct {
	root  string
	once  sync.Once
	items []source.Item
	err   error
}

// NewAdapter creates a directory adapter rooted at root.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns "dir:<base name>".
func (a *Adapter) GetSourceID() string {
	return "dir:" + filepath.Base(a.root)
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Directory (%s)", a.root)
}

// FetchBatch returns items sorted by relative path.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	a.once.Do(func() { a.items, a.err = a.load() })
	if a.err != nil {
		return nil, "", fmt.Errorf("failed to load items: %w", a.err)
	}
	return source.Page(a.items, cursor, limit)
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func (a *Adapter) load() ([]source.Item, error) {
	if _, err := os.Stat(a.root); err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}

	var images, texts []string
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != a.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case isImage(name):
			images = append(images, path)
		case strings.EqualFold(filepath.Ext(name), ".txt"):
			texts = append(texts, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	captions := make(map[string]string, len(texts))
	for _, p := range texts {
		captions[strings.TrimSuffix(p, filepath.Ext(p))] = p
	}

	items := make([]source.Item, 0, len(images)+len(texts))
	for _, p := range images {
		item := a.newItem(p)
		item.ImagePath = p
		stem := strings.TrimSuffix(p, filepath.Ext(p))
		if capPath, ok := captions[stem]; ok {
			text, err := os.ReadFile(capPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read caption: %w", err)
			}
			item.Text = strings.TrimSpace(string(text))
			delete(captions, stem)
		}
		items = append(items, item)
	}
	for _, p := range captions {
		text, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		if strings.TrimSpace(string(text)) == "" {
			continue
		}
		item := a.newItem(p)
		item.Text = strings.TrimSpace(string(text))
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (a *Adapter) newItem(path string) source.Item {
	rel, _ := filepath.Rel(a.root, path)
	category := filepath.Base(filepath.Dir(path))
	if filepath.Dir(path) == filepath.Clean(a.root) {
		category = ""
	}
	md := map[string]any{"filename": filepath.Base(path)}
	if category != "" {
		md["category"] = category
	}
	return source.Item{
		ID:       filepath.ToSlash(rel),
		Metadata: md,
	}
}
