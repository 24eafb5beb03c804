package source

import (
	"context"
	"fmt"
	"strconv"
)

// Item is one unit of content from a data source. Which of Text and
// ImagePath are set decides whether it is ingested as text, image or
// multimodal content.
type Item struct {
	ID        string         // Unique ID within the source
	Text      string         // Text content, optional
	ImagePath string         // Local image path, optional
	Metadata  map[string]any // Passed through to the stored record
}

// Source defines the interface for bulk ingestion sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}

// Page slices items by an index cursor, for sources that load everything up front.
func Page(items []Item, cursor string, limit int) ([]Item, string, error) {
	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	if startIndex >= len(items) {
		return []Item{}, "", nil
	}

	endIndex := startIndex + limit
	if limit <= 0 || endIndex > len(items) {
		endIndex = len(items)
	}

	nextCursor := ""
	if endIndex < len(items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return items[startIndex:endIndex], nextCursor, nil
}
