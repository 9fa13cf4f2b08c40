package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "closet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Both stores must behave the same way.
func documentStores(t *testing.T) map[string]DocumentStore {
	return map[string]DocumentStore{
		"sqlite": newTestSQLite(t),
		"memory": NewMemoryStore(),
	}
}

func TestDocumentStoreGetPut(t *testing.T) {
	ctx := context.Background()
	for name, docs := range documentStores(t) {
		t.Run(name, func(t *testing.T) {
			doc, err := docs.Get(ctx, CollectionItems)
			require.NoError(t, err)
			assert.Nil(t, doc)

			v, err := docs.Put(ctx, CollectionItems, json.RawMessage(`[{"id":"a"}]`), 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)

			doc, err = docs.Get(ctx, CollectionItems)
			require.NoError(t, err)
			require.NotNil(t, doc)
			assert.JSONEq(t, `[{"id":"a"}]`, string(doc.Data))
			assert.Equal(t, int64(1), doc.Version)

			v, err = docs.Put(ctx, CollectionItems, json.RawMessage(`[]`), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v)
		})
	}
}

func TestDocumentStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	for name, docs := range documentStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := docs.Put(ctx, CollectionEvents, json.RawMessage(`[]`), 0)
			require.NoError(t, err)

			_, err = docs.Put(ctx, CollectionEvents, json.RawMessage(`[{"id":"x"}]`), 0)
			assert.ErrorIs(t, err, ErrVersionConflict)

			doc, err := docs.Get(ctx, CollectionEvents)
			require.NoError(t, err)
			assert.JSONEq(t, `[]`, string(doc.Data))
		})
	}
}

func TestDocumentStoreUnknownCollection(t *testing.T) {
	ctx := context.Background()
	for name, docs := range documentStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := docs.Get(ctx, "wishlist")
			assert.ErrorIs(t, err, ErrUnknownCollection)
			_, err = docs.Put(ctx, "wishlist", json.RawMessage(`[]`), 0)
			assert.ErrorIs(t, err, ErrUnknownCollection)
		})
	}
}

func TestDocumentStoreExportImport(t *testing.T) {
	ctx := context.Background()
	for name, docs := range documentStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := docs.Put(ctx, CollectionItems, json.RawMessage(`[{"id":"a"}]`), 0)
			require.NoError(t, err)
			_, err = docs.Put(ctx, CollectionSettings, json.RawMessage(`{"weatherLocation":"Paris"}`), 0)
			require.NoError(t, err)

			exported, err := docs.ExportAll(ctx)
			require.NoError(t, err)
			assert.Len(t, exported, len(Collections))
			assert.JSONEq(t, `null`, string(exported[CollectionOutfits]))

			require.NoError(t, docs.ClearAll(ctx))
			doc, err := docs.Get(ctx, CollectionItems)
			require.NoError(t, err)
			assert.Nil(t, doc)

			require.NoError(t, docs.ImportAll(ctx, exported))
			again, err := docs.ExportAll(ctx)
			require.NoError(t, err)
			for _, c := range Collections {
				assert.JSONEq(t, string(exported[c]), string(again[c]), c)
			}
		})
	}
}

func TestDocumentStoreImportSkipsNullAndUnknown(t *testing.T) {
	ctx := context.Background()
	for name, docs := range documentStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := docs.Put(ctx, CollectionItems, json.RawMessage(`[{"id":"keep"}]`), 0)
			require.NoError(t, err)

			err = docs.ImportAll(ctx, map[string]json.RawMessage{
				CollectionItems:  json.RawMessage(`null`),
				CollectionEvents: json.RawMessage(`[{"id":"e1"}]`),
				"unknown":        json.RawMessage(`{"x":1}`),
			})
			require.NoError(t, err)

			items, err := docs.Get(ctx, CollectionItems)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"keep"}]`, string(items.Data))
			assert.Equal(t, int64(1), items.Version)

			events, err := docs.Get(ctx, CollectionEvents)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"e1"}]`, string(events.Data))
			assert.Equal(t, int64(1), events.Version)
		})
	}
}
