package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage(t *testing.T) {
	items := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		name       string
		cursor     string
		limit      int
		wantIDs    []string
		wantCursor string
	}{
		{"first page", "", 2, []string{"a", "b"}, "2"},
		{"last page", "2", 2, []string{"c"}, ""},
		{"past end", "5", 2, []string{}, ""},
		{"no limit", "", 0, []string{"a", "b", "c"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := Page(items, tt.cursor, tt.limit)
			require.NoError(t, err)
			ids := []string{}
			for _, it := range got {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantCursor, next)
		})
	}

	_, _, err := Page(items, "x", 1)
	assert.Error(t, err)
}
