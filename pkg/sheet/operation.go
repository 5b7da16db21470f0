package sheet

// OpKind tags an operation variant. Dispatch is always on the tag; the
// payload fields a kind uses are documented next to it.
type OpKind string

const (
	// OpCellSet upserts a whole cell value, or with Path set, one nested
	// attribute of an existing cell. Uses Row, Col, Path, Value.
	OpCellSet OpKind = "cell_set"
	// OpCellRemove deletes a whole cell, or with Path set, one nested
	// attribute of it. Uses Row, Col, Path.
	OpCellRemove OpKind = "cell_remove"
	// OpRowColInsert shifts cells to make room for inserted rows or
	// columns. Uses Axis, Index, Count, Side.
	OpRowColInsert OpKind = "rowcol_insert"
	// OpRowColDelete drops cells in an inclusive index range and shifts
	// the remainder back. Uses Axis, Start, End.
	OpRowColDelete OpKind = "rowcol_delete"
	// OpSheetAdd inserts a whole new sheet record. Uses Sheet.
	OpSheetAdd OpKind = "sheet_add"
	// OpSheetDelete removes a sheet record. Uses SheetID.
	OpSheetDelete OpKind = "sheet_delete"
	// OpAttrSet sets a sheet-level (non-cell) value addressed by a dotted
	// path. Uses Path, Value.
	OpAttrSet OpKind = "attr_set"
	// OpAttrRemove unsets a sheet-level value. Uses Path.
	OpAttrRemove OpKind = "attr_remove"
)

// Axis names the coordinate an insert/delete works on.
type Axis string

const (
	AxisRow Axis = "row"
	AxisCol Axis = "column"
)

// Side says which side of the index an insert lands on.
type Side string

const (
	SideBefore Side = "before"
	SideAfter  Side = "after"
)

// Operation is one edit intent submitted by a client. Which fields are
// meaningful depends on Kind; pointers distinguish "absent" from zero for
// fields where 0 is a valid coordinate.
type Operation struct {
	Kind  OpKind   `json:"kind"`
	Row   *int     `json:"row,omitempty"`
	Col   *int     `json:"col,omitempty"`
	Path  []string `json:"path,omitempty"`
	Value any      `json:"value,omitempty"`
	Axis  Axis     `json:"axis,omitempty"`
	Index *int     `json:"index,omitempty"`
	Count int      `json:"count,omitempty"`
	Side  Side     `json:"side,omitempty"`
	Start *int     `json:"start,omitempty"`
	End   *int     `json:"end,omitempty"`
	Sheet *Sheet   `json:"sheet,omitempty"`

	// SheetID is the target of OpSheetDelete.
	SheetID string `json:"sheet_id,omitempty"`
}

// CellSet builds a whole-cell set operation.
func CellSet(row, col int, value any) Operation {
	return Operation{Kind: OpCellSet, Row: &row, Col: &col, Value: value}
}

// CellSetPath builds a nested-attribute set operation.
func CellSetPath(row, col int, path []string, value any) Operation {
	return Operation{Kind: OpCellSet, Row: &row, Col: &col, Path: path, Value: value}
}

// CellRemove builds a whole-cell remove operation.
func CellRemove(row, col int) Operation {
	return Operation{Kind: OpCellRemove, Row: &row, Col: &col}
}

// RowColInsert builds an insert operation for count rows or columns at
// index, on the given side.
func RowColInsert(axis Axis, index, count int, side Side) Operation {
	return Operation{Kind: OpRowColInsert, Axis: axis, Index: &index, Count: count, Side: side}
}

// RowColDelete builds a delete operation for the inclusive [start, end]
// range on the given axis.
func RowColDelete(axis Axis, start, end int) Operation {
	return Operation{Kind: OpRowColDelete, Axis: axis, Start: &start, End: &end}
}

// MutationKind tags a store directive produced by the applier.
type MutationKind string

const (
	// MutCellUpsert inserts a cell that did not exist at apply time.
	MutCellUpsert MutationKind = "cell_upsert"
	// MutCellMerge replaces the value of an existing cell.
	MutCellMerge MutationKind = "cell_merge"
	// MutCellPatch sets one nested attribute inside an existing cell's
	// value bag, leaving siblings untouched.
	MutCellPatch MutationKind = "cell_patch"
	// MutCellStrip unsets one nested attribute.
	MutCellStrip MutationKind = "cell_strip"
	// MutCellClear removes a whole cell.
	MutCellClear MutationKind = "cell_clear"
	// MutShiftCells adds Delta to the Axis coordinate of every cell whose
	// coordinate is >= From. Executed as one filtered bulk update.
	MutShiftCells MutationKind = "shift_cells"
	// MutDeleteRange removes every cell whose Axis coordinate falls in
	// [Start, End]. Always emitted before the compensating shift.
	MutDeleteRange MutationKind = "delete_range"
	// MutSheetInsert inserts a whole new sheet record.
	MutSheetInsert MutationKind = "sheet_insert"
	// MutSheetDrop removes a sheet record.
	MutSheetDrop MutationKind = "sheet_drop"
	// MutFieldSet sets a sheet-level field addressed by Path.
	MutFieldSet MutationKind = "field_set"
	// MutFieldUnset clears a sheet-level field.
	MutFieldUnset MutationKind = "field_unset"
)

// Mutation is one store directive. The applier turns a batch of operations
// into an ordered list of these; persistence adapters execute them as
// filtered partial updates.
type Mutation struct {
	Kind  MutationKind
	Row   int
	Col   int
	Path  []string
	Value any
	Axis  Axis
	From  int
	Delta int
	Start int
	End   int
	Sheet *Sheet
	ID    string
}

// TouchesRecord reports whether the mutation inserts or drops a whole sheet
// record rather than editing the target sheet's content.
func (m Mutation) TouchesRecord() bool {
	return m.Kind == MutSheetInsert || m.Kind == MutSheetDrop
}
