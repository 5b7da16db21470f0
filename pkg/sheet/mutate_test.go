package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMutations_ReportsNoChangeOnEqualValue(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: "same"})
	changed := ApplyMutations(s, []Mutation{{Kind: MutCellMerge, Row: 0, Col: 0, Value: "same"}})
	assert.False(t, changed)

	changed = ApplyMutations(s, []Mutation{{Kind: MutCellMerge, Row: 0, Col: 0, Value: "different"}})
	assert.True(t, changed)
}

func TestApplyMutations_EqualityIsStructural(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: map[string]any{"a": 1, "b": 2}})
	changed := ApplyMutations(s, []Mutation{
		{Kind: MutCellMerge, Row: 0, Col: 0, Value: map[string]any{"a": 1, "b": 2}},
	})
	assert.False(t, changed)
}

func TestApplyMutations_PatchCreatesIntermediates(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: map[string]any{}})
	changed := ApplyMutations(s, []Mutation{
		{Kind: MutCellPatch, Row: 0, Col: 0, Path: []string{"fmt", "font", "size"}, Value: 12},
	})
	require.True(t, changed)
	bag := s.Cells[0].Value.(map[string]any)
	font := bag["fmt"].(map[string]any)["font"].(map[string]any)
	assert.Equal(t, 12, font["size"])
}

func TestApplyMutations_PatchOnNilValueStartsBag(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: nil})
	changed := ApplyMutations(s, []Mutation{
		{Kind: MutCellPatch, Row: 0, Col: 0, Path: []string{"text"}, Value: "hi"},
	})
	require.True(t, changed)
	assert.Equal(t, "hi", s.Cells[0].Value.(map[string]any)["text"])
}

func TestApplyMutations_PatchOnScalarIsIgnored(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: "scalar"})
	changed := ApplyMutations(s, []Mutation{
		{Kind: MutCellPatch, Row: 0, Col: 0, Path: []string{"x"}, Value: 1},
	})
	assert.False(t, changed)
	assert.Equal(t, "scalar", s.Cells[0].Value)
}

func TestApplyMutations_ShiftOnlyMovesAtOrAbove(t *testing.T) {
	s := testSheet(
		Cell{Row: 0, Col: 0, Value: "a"},
		Cell{Row: 1, Col: 0, Value: "b"},
		Cell{Row: 2, Col: 0, Value: "c"},
	)
	changed := ApplyMutations(s, []Mutation{{Kind: MutShiftCells, Axis: AxisRow, From: 1, Delta: 2}})
	require.True(t, changed)
	assert.Equal(t, "a", s.Cells[s.CellAt(0, 0)].Value)
	assert.Equal(t, "b", s.Cells[s.CellAt(3, 0)].Value)
	assert.Equal(t, "c", s.Cells[s.CellAt(4, 0)].Value)
	assert.Equal(t, -1, s.CellAt(1, 0))
}

func TestApplyMutations_NameIsContent_ContextIsNot(t *testing.T) {
	s := testSheet()

	changed := ApplyMutations(s, []Mutation{{Kind: MutFieldSet, Path: []string{"context"}, Value: "sales notes"}})
	assert.False(t, changed)
	assert.Equal(t, "sales notes", s.Context)

	changed = ApplyMutations(s, []Mutation{{Kind: MutFieldSet, Path: []string{"name"}, Value: "Budget"}})
	assert.True(t, changed)
	assert.Equal(t, "Budget", s.Name)

	// Setting the name to itself is not a change.
	changed = ApplyMutations(s, []Mutation{{Kind: MutFieldSet, Path: []string{"name"}, Value: "Budget"}})
	assert.False(t, changed)
}

func TestApplyMutations_RecordDirectivesAreSkipped(t *testing.T) {
	s := testSheet()
	changed := ApplyMutations(s, []Mutation{
		{Kind: MutSheetInsert, Sheet: &Sheet{ID: "s2"}},
		{Kind: MutSheetDrop, ID: "s1"},
	})
	assert.False(t, changed)
	assert.Equal(t, "s1", s.ID)
}

func TestContentSnapshot_OrderIndependent(t *testing.T) {
	a := testSheet(
		Cell{Row: 1, Col: 0, Value: "x"},
		Cell{Row: 0, Col: 2, Value: "y"},
		Cell{Row: 0, Col: 1, Value: "z"},
	)
	b := testSheet(
		Cell{Row: 0, Col: 1, Value: "z"},
		Cell{Row: 0, Col: 2, Value: "y"},
		Cell{Row: 1, Col: 0, Value: "x"},
	)
	assert.True(t, a.ContentSnapshot().Equal(b.ContentSnapshot()))
}

func TestClone_IsDeep(t *testing.T) {
	s := testSheet(Cell{Row: 0, Col: 0, Value: map[string]any{"text": "hi"}})
	s.Attrs = map[string]any{"meta": map[string]any{"owner": "ops"}}

	c := s.Clone()
	c.Cells[0].Value.(map[string]any)["text"] = "changed"
	c.Attrs["meta"].(map[string]any)["owner"] = "other"

	assert.Equal(t, "hi", s.Cells[0].Value.(map[string]any)["text"])
	assert.Equal(t, "ops", s.Attrs["meta"].(map[string]any)["owner"])
}
