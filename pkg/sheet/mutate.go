package sheet

import "encoding/json"

// ApplyMutations executes directives against an in-memory sheet and reports
// whether any content-bearing field changed. This is the reference executor:
// the memory store runs on it directly, and the sync engine uses it for
// change detection before committing. Record-level directives (sheet
// insert/drop) are store concerns and are skipped here.
func ApplyMutations(s *Sheet, muts []Mutation) bool {
	changed := false
	for _, m := range muts {
		if applyMutation(s, m) {
			changed = true
		}
	}
	return changed
}

func applyMutation(s *Sheet, m Mutation) bool {
	switch m.Kind {
	case MutCellUpsert, MutCellMerge:
		return setCell(s, m.Row, m.Col, m.Value)
	case MutCellPatch:
		return patchCell(s, m)
	case MutCellStrip:
		return stripCell(s, m)
	case MutCellClear:
		if idx := s.CellAt(m.Row, m.Col); idx >= 0 {
			s.Cells = append(s.Cells[:idx], s.Cells[idx+1:]...)
			return true
		}
		return false
	case MutShiftCells:
		return shiftCells(s, m)
	case MutDeleteRange:
		return deleteRange(s, m)
	case MutFieldSet:
		return setField(s, m.Path, m.Value)
	case MutFieldUnset:
		return unsetField(s, m.Path)
	case MutSheetInsert, MutSheetDrop:
		return false
	}
	return false
}

func setCell(s *Sheet, row, col int, value any) bool {
	idx := s.CellAt(row, col)
	if idx < 0 {
		s.Cells = append(s.Cells, Cell{Row: row, Col: col, Value: value})
		return true
	}
	if valueEqual(s.Cells[idx].Value, value) {
		return false
	}
	s.Cells[idx].Value = value
	return true
}

func patchCell(s *Sheet, m Mutation) bool {
	idx := s.CellAt(m.Row, m.Col)
	if idx < 0 {
		return false
	}
	bag, ok := s.Cells[idx].Value.(map[string]any)
	if !ok {
		if s.Cells[idx].Value != nil {
			return false
		}
		bag = map[string]any{}
		s.Cells[idx].Value = bag
	}
	return setNested(bag, m.Path, m.Value)
}

func stripCell(s *Sheet, m Mutation) bool {
	idx := s.CellAt(m.Row, m.Col)
	if idx < 0 {
		return false
	}
	bag, ok := s.Cells[idx].Value.(map[string]any)
	if !ok {
		return false
	}
	return unsetNested(bag, m.Path)
}

func axisCoord(c *Cell, axis Axis) *int {
	if axis == AxisRow {
		return &c.Row
	}
	return &c.Col
}

func shiftCells(s *Sheet, m Mutation) bool {
	changed := false
	for i := range s.Cells {
		coord := axisCoord(&s.Cells[i], m.Axis)
		if *coord >= m.From {
			*coord += m.Delta
			changed = true
		}
	}
	return changed
}

func deleteRange(s *Sheet, m Mutation) bool {
	kept := s.Cells[:0]
	changed := false
	for _, c := range s.Cells {
		coord := *axisCoord(&c, m.Axis)
		if coord >= m.Start && coord <= m.End {
			changed = true
			continue
		}
		kept = append(kept, c)
	}
	s.Cells = kept
	return changed
}

// setField routes a dotted path to its home: "name" and "context" are
// dedicated fields, everything else lives in the Attrs bag. Context is
// metadata, so changing it reports no content change.
func setField(s *Sheet, path []string, value any) bool {
	if len(path) == 1 {
		switch path[0] {
		case "name":
			str, ok := value.(string)
			if !ok || s.Name == str {
				return false
			}
			s.Name = str
			return true
		case "context":
			if str, ok := value.(string); ok {
				s.Context = str
			}
			return false
		}
	}
	if s.Attrs == nil {
		s.Attrs = map[string]any{}
	}
	return setNested(s.Attrs, path, value)
}

func unsetField(s *Sheet, path []string) bool {
	if len(path) == 1 {
		switch path[0] {
		case "name":
			if s.Name == "" {
				return false
			}
			s.Name = ""
			return true
		case "context":
			s.Context = ""
			return false
		}
	}
	if s.Attrs == nil {
		return false
	}
	return unsetNested(s.Attrs, path)
}

// setNested writes a value at a dotted path, creating intermediate bags as
// needed. An intermediate that holds a scalar is replaced by a bag.
func setNested(bag map[string]any, path []string, value any) bool {
	for _, key := range path[:len(path)-1] {
		next, ok := bag[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			bag[key] = next
		}
		bag = next
	}
	leaf := path[len(path)-1]
	if old, ok := bag[leaf]; ok && valueEqual(old, value) {
		return false
	}
	bag[leaf] = value
	return true
}

func unsetNested(bag map[string]any, path []string) bool {
	for _, key := range path[:len(path)-1] {
		next, ok := bag[key].(map[string]any)
		if !ok {
			return false
		}
		bag = next
	}
	leaf := path[len(path)-1]
	if _, ok := bag[leaf]; !ok {
		return false
	}
	delete(bag, leaf)
	return true
}

func valueEqual(a, b any) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ra) == string(rb)
}
