package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-sheets/pkg/sheet"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSheetName, created.Name)
	assert.Equal(t, 1, created.Version)
	assert.NotNil(t, created.Cells)

	got, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	assert.ErrorIs(t, err, ErrSheetExists)

	_, err = store.GetSheet(ctx, "missing")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID:    "s1",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "orig"}},
	})
	require.NoError(t, err)

	got, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)
	got.Cells[0].Value = "tampered"

	again, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Cells[0].Value)
}

func TestMemoryStore_UpsertCreatesThenVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sh, err := store.UpsertSheet(ctx, "s1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sh.Version)

	// A content change stashes the prior content and bumps the version.
	content := &sheet.Content{
		Name:  sh.Name,
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "hello"}},
	}
	sh, err = store.UpsertSheet(ctx, "s1", content, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sh.Version)

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
	assert.Empty(t, hist[0].Content.Cells)

	// Re-submitting identical content changes nothing.
	sh, err = store.UpsertSheet(ctx, "s1", content, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sh.Version)
	hist, err = store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestMemoryStore_UpsertContextOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	note := "imported from Q3 report"
	sh, err := store.UpsertSheet(ctx, "s1", nil, &note)
	require.NoError(t, err)
	assert.Equal(t, note, sh.Context)
	assert.Equal(t, 1, sh.Version)

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMemoryStore_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	prior, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)

	sh, err := store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutCellUpsert, Row: 0, Col: 0, Value: "a"},
			{Kind: sheet.MutCellUpsert, Row: 1, Col: 0, Value: "b"},
		},
		ContentChanged: true,
		Prior:          prior.ContentSnapshot(),
		PriorVersion:   prior.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sh.Version)
	assert.Len(t, sh.Cells, 2)

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
}

func TestMemoryStore_ApplyBatchSheetRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	_, err = store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutSheetInsert, Sheet: &sheet.Sheet{ID: "s2", Name: "Second"}},
		},
	})
	require.NoError(t, err)

	s2, err := store.GetSheet(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "Second", s2.Name)
	assert.Equal(t, 1, s2.Version)

	// A batch that drops its own target returns not-found.
	_, err = store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{{Kind: sheet.MutSheetDrop, ID: "s1"}},
	})
	assert.ErrorIs(t, err, ErrSheetNotFound)
	_, err = store.GetSheet(ctx, "s1")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestMemoryStore_DeleteSheet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSheet(ctx, "s1"))
	assert.ErrorIs(t, store.DeleteSheet(ctx, "s1"), ErrSheetNotFound)
}

func TestMemoryStore_ListSheets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: id})
		require.NoError(t, err)
	}

	sheets, err := store.ListSheets(ctx)
	require.NoError(t, err)
	assert.Len(t, sheets, 3)
}
