package sheet

import (
	"encoding/json"
	"sort"
	"time"
)

// Cell is a single row/column addressed value in a sheet. Value is either a
// scalar or a nested attribute bag (map[string]any). A cell that holds no
// meaningful value is simply absent from the sheet.
type Cell struct {
	Row   int `json:"r"`
	Col   int `json:"c"`
	Value any `json:"v"`
}

// NoneValue is the sentinel the grid sends for cells that were touched but
// hold nothing. Setting a cell to it is a no-op.
const NoneValue = "none"

// Sheet is one spreadsheet's state. Version starts at 1 and increments once
// per committed content change. Context is free-form annotation text and is
// not content-bearing: updating it never bumps the version.
type Sheet struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Cells     []Cell         `json:"cells"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Context   string         `json:"context"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Content is the content-bearing subset of a sheet: the fields whose change
// triggers a version bump and a history entry.
type Content struct {
	Name  string         `json:"name"`
	Cells []Cell         `json:"cells"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// HistoryEntry captures the content a sheet had immediately before one
// committed content change, together with the version it had then.
type HistoryEntry struct {
	Content   Content   `json:"content"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// CellAt returns the index of the cell at (row, col), or -1.
func (s *Sheet) CellAt(row, col int) int {
	for i := range s.Cells {
		if s.Cells[i].Row == row && s.Cells[i].Col == col {
			return i
		}
	}
	return -1
}

// ContentSnapshot returns a normalized copy of the sheet's content. Cells
// are sorted by (row, col) so two snapshots of the same logical state
// compare equal regardless of insertion order.
func (s *Sheet) ContentSnapshot() Content {
	cells := make([]Cell, len(s.Cells))
	copy(cells, s.Cells)
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	return Content{Name: s.Name, Cells: cells, Attrs: s.Attrs}
}

// Equal reports whether two content snapshots describe the same state.
// Comparison goes through JSON so values that arrived via different decode
// paths still compare by shape.
func (c Content) Equal(other Content) bool {
	a, err := json.Marshal(c)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// Clone returns a deep copy of the sheet. Cell values can hold nested maps,
// so the copy goes through JSON to avoid sharing.
func (s *Sheet) Clone() *Sheet {
	raw, err := json.Marshal(s)
	if err != nil {
		cp := *s
		return &cp
	}
	var out Sheet
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *s
		return &cp
	}
	out.CreatedAt = s.CreatedAt
	out.UpdatedAt = s.UpdatedAt
	return &out
}
