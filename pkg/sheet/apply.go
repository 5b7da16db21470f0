package sheet

// Apply evaluates a batch of operations against the current state of a
// sheet and returns the store directives to execute plus one OperationError
// per rejected entry. Processing is sequential and best-effort: a bad
// operation is skipped and the rest of the batch still applies. Apply never
// touches the sheet or performs I/O.
func Apply(s *Sheet, ops []Operation) ([]Mutation, []*OperationError) {
	var muts []Mutation
	var errs []*OperationError

	// Index shifts earlier in the batch change which coordinates later
	// cell operations see, so existence checks run against a working copy
	// that tracks the directives emitted so far.
	work := s.Clone()

	for i, op := range ops {
		emitted, err := applyOne(work, i, op)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, m := range emitted {
			applyMutation(work, m)
		}
		muts = append(muts, emitted...)
	}
	return muts, errs
}

func applyOne(s *Sheet, index int, op Operation) ([]Mutation, *OperationError) {
	switch op.Kind {
	case OpCellSet:
		return applyCellSet(s, index, op)
	case OpCellRemove:
		return applyCellRemove(s, index, op)
	case OpRowColInsert:
		return applyRowColInsert(index, op)
	case OpRowColDelete:
		return applyRowColDelete(index, op)
	case OpSheetAdd:
		return applySheetAdd(index, op)
	case OpSheetDelete:
		return applySheetDelete(index, op)
	case OpAttrSet, OpAttrRemove:
		return applyAttr(index, op)
	default:
		return nil, invalidOp(index, op.Kind, "unrecognized kind")
	}
}

func applyCellSet(s *Sheet, index int, op Operation) ([]Mutation, *OperationError) {
	row, col, err := cellCoords(index, op)
	if err != nil {
		return nil, err
	}
	if len(op.Path) == 0 {
		// "none" means the grid touched the cell but it holds nothing.
		// Must not create or alter a record.
		if op.Value == NoneValue {
			return nil, nil
		}
		if s.CellAt(row, col) >= 0 {
			return []Mutation{{Kind: MutCellMerge, Row: row, Col: col, Value: op.Value}}, nil
		}
		return []Mutation{{Kind: MutCellUpsert, Row: row, Col: col, Value: op.Value}}, nil
	}

	// Nested attribute set presumes the cell exists: there is no whole
	// value to create it from.
	idx := s.CellAt(row, col)
	if idx < 0 {
		return nil, targetNotFound(index, op.Kind, "no cell at (%d,%d)", row, col)
	}
	if _, ok := s.Cells[idx].Value.(map[string]any); !ok && s.Cells[idx].Value != nil {
		return nil, invalidOp(index, op.Kind, "cell (%d,%d) holds a scalar, not an attribute bag", row, col)
	}
	if pathHasEmpty(op.Path) {
		return nil, invalidOp(index, op.Kind, "empty path component")
	}
	return []Mutation{{Kind: MutCellPatch, Row: row, Col: col, Path: op.Path, Value: op.Value}}, nil
}

func applyCellRemove(s *Sheet, index int, op Operation) ([]Mutation, *OperationError) {
	row, col, err := cellCoords(index, op)
	if err != nil {
		return nil, err
	}
	if len(op.Path) == 0 {
		// Removing a cell that does not exist is a no-op, not an error.
		if s.CellAt(row, col) < 0 {
			return nil, nil
		}
		return []Mutation{{Kind: MutCellClear, Row: row, Col: col}}, nil
	}
	if s.CellAt(row, col) < 0 {
		return nil, targetNotFound(index, op.Kind, "no cell at (%d,%d)", row, col)
	}
	if pathHasEmpty(op.Path) {
		return nil, invalidOp(index, op.Kind, "empty path component")
	}
	return []Mutation{{Kind: MutCellStrip, Row: row, Col: col, Path: op.Path}}, nil
}

func applyRowColInsert(index int, op Operation) ([]Mutation, *OperationError) {
	if err := checkAxis(index, op); err != nil {
		return nil, err
	}
	if op.Index == nil || *op.Index < 0 {
		return nil, invalidOp(index, op.Kind, "index must be a non-negative integer")
	}
	if op.Count < 1 {
		return nil, invalidOp(index, op.Kind, "count must be at least 1")
	}
	insertPos := *op.Index
	switch op.Side {
	case SideAfter:
		insertPos++
	case SideBefore, "":
	default:
		return nil, invalidOp(index, op.Kind, "unknown side %q", op.Side)
	}
	return []Mutation{{Kind: MutShiftCells, Axis: op.Axis, From: insertPos, Delta: op.Count}}, nil
}

func applyRowColDelete(index int, op Operation) ([]Mutation, *OperationError) {
	if err := checkAxis(index, op); err != nil {
		return nil, err
	}
	if op.Start == nil || op.End == nil {
		return nil, invalidOp(index, op.Kind, "start and end are required")
	}
	start, end := *op.Start, *op.End
	if start < 0 || end < start {
		return nil, invalidOp(index, op.Kind, "bad range [%d,%d]", start, end)
	}
	// Deletion strictly before shifting: the shift must never consider a
	// cell the range removal already dropped. After the delete, every
	// surviving cell with coordinate >= start is above end, so shifting
	// back by the range width cannot produce a negative coordinate.
	width := end - start + 1
	return []Mutation{
		{Kind: MutDeleteRange, Axis: op.Axis, Start: start, End: end},
		{Kind: MutShiftCells, Axis: op.Axis, From: start, Delta: -width},
	}, nil
}

func applySheetAdd(index int, op Operation) ([]Mutation, *OperationError) {
	if op.Sheet == nil || op.Sheet.ID == "" {
		return nil, invalidOp(index, op.Kind, "sheet payload with an id is required")
	}
	seen := make(map[[2]int]struct{}, len(op.Sheet.Cells))
	for _, c := range op.Sheet.Cells {
		if c.Row < 0 || c.Col < 0 {
			return nil, invalidOp(index, op.Kind, "cell (%d,%d) out of range", c.Row, c.Col)
		}
		coord := [2]int{c.Row, c.Col}
		if _, dup := seen[coord]; dup {
			return nil, invalidOp(index, op.Kind, "duplicate cell (%d,%d)", c.Row, c.Col)
		}
		seen[coord] = struct{}{}
	}
	return []Mutation{{Kind: MutSheetInsert, Sheet: op.Sheet}}, nil
}

func applySheetDelete(index int, op Operation) ([]Mutation, *OperationError) {
	if op.SheetID == "" {
		return nil, invalidOp(index, op.Kind, "sheet_id is required")
	}
	return []Mutation{{Kind: MutSheetDrop, ID: op.SheetID}}, nil
}

func applyAttr(index int, op Operation) ([]Mutation, *OperationError) {
	if len(op.Path) == 0 || pathHasEmpty(op.Path) {
		return nil, invalidOp(index, op.Kind, "a non-empty dotted path is required")
	}
	if op.Path[0] == "cells" || op.Path[0] == "data" {
		return nil, invalidOp(index, op.Kind, "cell data must be edited through cell operations")
	}
	if op.Kind == OpAttrRemove {
		return []Mutation{{Kind: MutFieldUnset, Path: op.Path}}, nil
	}
	return []Mutation{{Kind: MutFieldSet, Path: op.Path, Value: op.Value}}, nil
}

func cellCoords(index int, op Operation) (int, int, *OperationError) {
	if op.Row == nil || op.Col == nil {
		return 0, 0, invalidOp(index, op.Kind, "row and col are required")
	}
	if *op.Row < 0 || *op.Col < 0 {
		return 0, 0, invalidOp(index, op.Kind, "coordinates must be non-negative")
	}
	return *op.Row, *op.Col, nil
}

func checkAxis(index int, op Operation) *OperationError {
	if op.Axis != AxisRow && op.Axis != AxisCol {
		return invalidOp(index, op.Kind, "axis must be %q or %q", AxisRow, AxisCol)
	}
	return nil
}

func pathHasEmpty(path []string) bool {
	for _, p := range path {
		if p == "" {
			return true
		}
	}
	return false
}
