package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-sheets/pkg/sheet"
)

func newTestSQLiteStore(t *testing.T) *SQLiteSheetStore {
	t.Helper()
	store, err := NewSQLiteSheetStore(filepath.Join(t.TempDir(), "sheets.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	created, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID: "s1",
		Cells: []sheet.Cell{
			{Row: 0, Col: 0, Value: "hello"},
			{Row: 1, Col: 2, Value: map[string]any{"text": "hi", "fmt": map[string]any{"bold": true}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultSheetName, created.Name)
	assert.Equal(t, 1, created.Version)

	got, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Cells, 2)
	assert.Equal(t, "hello", got.Cells[got.CellAt(0, 0)].Value)
	bag := got.Cells[got.CellAt(1, 2)].Value.(map[string]any)
	assert.Equal(t, "hi", bag["text"])
	assert.Equal(t, true, bag["fmt"].(map[string]any)["bold"])

	_, err = store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	assert.ErrorIs(t, err, ErrSheetExists)

	_, err = store.GetSheet(ctx, "missing")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestSQLiteStore_DottedKeysRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID:    "s1",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: map[string]any{"a.b": map[string]any{"c.d": "v"}}}},
	})
	require.NoError(t, err)

	got, err := store.GetSheet(ctx, "s1")
	require.NoError(t, err)
	bag := got.Cells[0].Value.(map[string]any)
	assert.Equal(t, "v", bag["a.b"].(map[string]any)["c.d"])
}

func TestSQLiteStore_ApplyBatchCells(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	created, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID:    "s1",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "old"}},
	})
	require.NoError(t, err)

	got, err := store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutCellMerge, Row: 0, Col: 0, Value: "new"},
			{Kind: sheet.MutCellUpsert, Row: 1, Col: 0, Value: "added"},
		},
		ContentChanged: true,
		Prior:          created.ContentSnapshot(),
		PriorVersion:   created.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "new", got.Cells[got.CellAt(0, 0)].Value)
	assert.Equal(t, "added", got.Cells[got.CellAt(1, 0)].Value)

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
	require.Len(t, hist[0].Content.Cells, 1)
	assert.Equal(t, "old", hist[0].Content.Cells[0].Value)
}

func TestSQLiteStore_ApplyBatchShiftAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	cells := make([]sheet.Cell, 5)
	for i := range cells {
		cells[i] = sheet.Cell{Row: i, Col: 0, Value: i * 10}
	}
	created, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1", Cells: cells})
	require.NoError(t, err)

	// Delete rows 1-2, then shift the tail back. Same order the applier
	// emits them in.
	got, err := store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutDeleteRange, Axis: sheet.AxisRow, Start: 1, End: 2},
			{Kind: sheet.MutShiftCells, Axis: sheet.AxisRow, From: 1, Delta: -2},
		},
		ContentChanged: true,
		Prior:          created.ContentSnapshot(),
		PriorVersion:   created.Version,
	})
	require.NoError(t, err)
	require.Len(t, got.Cells, 3)
	assert.Equal(t, float64(0), got.Cells[got.CellAt(0, 0)].Value)
	assert.Equal(t, float64(30), got.Cells[got.CellAt(1, 0)].Value)
	assert.Equal(t, float64(40), got.Cells[got.CellAt(2, 0)].Value)
}

func TestSQLiteStore_ApplyBatchPatchAndStrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	created, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID:    "s1",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: map[string]any{"text": "hi"}}},
	})
	require.NoError(t, err)

	got, err := store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutCellPatch, Row: 0, Col: 0, Path: []string{"fmt", "bold"}, Value: true},
			{Kind: sheet.MutCellPatch, Row: 0, Col: 0, Path: []string{"note.v1"}, Value: "dotted"},
		},
		ContentChanged: true,
		Prior:          created.ContentSnapshot(),
		PriorVersion:   created.Version,
	})
	require.NoError(t, err)
	bag := got.Cells[0].Value.(map[string]any)
	assert.Equal(t, "hi", bag["text"])
	assert.Equal(t, true, bag["fmt"].(map[string]any)["bold"])
	assert.Equal(t, "dotted", bag["note.v1"])

	got, err = store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutCellStrip, Row: 0, Col: 0, Path: []string{"fmt", "bold"}},
		},
		ContentChanged: true,
		Prior:          got.ContentSnapshot(),
		PriorVersion:   got.Version,
	})
	require.NoError(t, err)
	bag = got.Cells[0].Value.(map[string]any)
	_, ok := bag["fmt"].(map[string]any)["bold"]
	assert.False(t, ok)
	assert.Equal(t, "hi", bag["text"])
}

func TestSQLiteStore_ApplyBatchFieldsAndRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	created, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	got, err := store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutFieldSet, Path: []string{"name"}, Value: "Budget"},
			{Kind: sheet.MutFieldSet, Path: []string{"meta", "owner"}, Value: "ops"},
			{Kind: sheet.MutSheetInsert, Sheet: &sheet.Sheet{ID: "s2", Name: "Second"}},
		},
		ContentChanged: true,
		Prior:          created.ContentSnapshot(),
		PriorVersion:   created.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, "Budget", got.Name)
	assert.Equal(t, "ops", got.Attrs["meta"].(map[string]any)["owner"])

	s2, err := store.GetSheet(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "Second", s2.Name)

	got, err = store.ApplyBatch(ctx, "s1", BatchUpdate{
		Mutations: []sheet.Mutation{
			{Kind: sheet.MutFieldUnset, Path: []string{"meta", "owner"}},
			{Kind: sheet.MutSheetDrop, ID: "s2"},
		},
		ContentChanged: true,
		Prior:          got.ContentSnapshot(),
		PriorVersion:   got.Version,
	})
	require.NoError(t, err)
	meta, _ := got.Attrs["meta"].(map[string]any)
	_, ok := meta["owner"]
	assert.False(t, ok)

	_, err = store.GetSheet(ctx, "s2")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestSQLiteStore_ApplyBatchContext(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)

	note := "context only"
	got, err := store.ApplyBatch(ctx, "s1", BatchUpdate{Context: &note})
	require.NoError(t, err)
	assert.Equal(t, note, got.Context)
	assert.Equal(t, 1, got.Version)

	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSQLiteStore_UpsertChangeDetection(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	content := &sheet.Content{
		Name:  "Budget",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "x"}},
	}
	sh, err := store.UpsertSheet(ctx, "s1", content, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sh.Version)

	// Same content again. No version bump, no history.
	sh, err = store.UpsertSheet(ctx, "s1", content, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sh.Version)
	hist, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	changed := &sheet.Content{
		Name:  "Budget",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "y"}},
	}
	sh, err = store.UpsertSheet(ctx, "s1", changed, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sh.Version)
	hist, err = store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Version)
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.CreateSheet(ctx, &sheet.Sheet{
		ID:    "s1",
		Cells: []sheet.Cell{{Row: 0, Col: 0, Value: "x"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSheet(ctx, "s1"))
	_, err = store.GetSheet(ctx, "s1")
	assert.ErrorIs(t, err, ErrSheetNotFound)
	assert.ErrorIs(t, store.DeleteSheet(ctx, "s1"), ErrSheetNotFound)

	// Recreating after delete works; the cascade cleared the old cells.
	sh, err := store.CreateSheet(ctx, &sheet.Sheet{ID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, sh.Cells)
}

func TestSQLiteStore_ListSheets(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	for _, id := range []string{"a", "b"} {
		_, err := store.CreateSheet(ctx, &sheet.Sheet{ID: id})
		require.NoError(t, err)
	}
	sheets, err := store.ListSheets(ctx)
	require.NoError(t, err)
	assert.Len(t, sheets, 2)
}
