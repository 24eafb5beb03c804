package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterFetchBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.jsonl")
	content := `{"id":"1","text":"a red bicycle","metadata":{"lang":"en"}}
not json

{"id":"2","image":"images/cat.png"}
{"text":"   "}
{"id":"3","text":"caption","image":"/abs/dog.png"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	a := NewAdapter(path)
	assert.Equal(t, "manifest:corpus", a.GetSourceID())

	items, next, err := a.FetchBatch(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", next)
	assert.Equal(t, "a red bicycle", items[0].Text)
	assert.Equal(t, "en", items[0].Metadata["lang"])
	assert.Equal(t, filepath.Join(dir, "images/cat.png"), items[1].ImagePath)

	items, next, err = a.FetchBatch(context.Background(), next, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, next)
	assert.Equal(t, "/abs/dog.png", items[0].ImagePath)
}

func TestAdapterMissingFile(t *testing.T) {
	_, _, err := NewAdapter(filepath.Join(t.TempDir(), "none.jsonl")).FetchBatch(context.Background(), "", 10)
	assert.Error(t, err)
}
