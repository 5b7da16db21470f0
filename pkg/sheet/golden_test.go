package sheet

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Replays a realistic edit session and pins the resulting content. Catches
// regressions in directive ordering and shift arithmetic that unit tests on
// single operations can miss.
func TestApply_SessionGolden(t *testing.T) {
	s := &Sheet{ID: "golden", Name: "People", Version: 1}

	ops := []Operation{
		CellSet(0, 0, "Name"),
		CellSet(0, 1, "Email"),
		CellSet(1, 0, "Ada"),
		CellSet(1, 1, "ada@example.com"),
		RowColInsert(AxisRow, 1, 1, SideBefore),
		CellSet(1, 0, "Grace"),
		CellSet(1, 1, "grace@example.com"),
		{Kind: OpAttrSet, Path: []string{"meta", "owner"}, Value: "ops"},
	}

	muts, errs := Apply(s, ops)
	require.Empty(t, errs)

	out := s.Clone()
	ApplyMutations(out, muts)

	data, err := json.MarshalIndent(out.ContentSnapshot(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "session", append(data, '\n'))
}
