// Package engine ties the operation applier to the persistence adapter: it
// turns a submitted batch into a committed, versioned store update.
package engine

import (
	"context"
	"log/slog"

	"collab-sheets/pkg/db"
	"collab-sheets/pkg/sheet"
)

// Engine applies operation batches against stored sheets.
type Engine struct {
	store db.SheetStore
}

// New creates an engine over the given store.
func New(store db.SheetStore) *Engine {
	return &Engine{store: store}
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() db.SheetStore { return e.store }

// Result is the outcome of one submitted batch.
type Result struct {
	// Sheet is the post-commit state of the target sheet.
	Sheet *sheet.Sheet
	// OpErrors holds one entry per rejected operation. A non-empty list
	// does not mean the batch failed: the remaining operations applied.
	OpErrors []*sheet.OperationError
	// Committed reports whether anything was written to the store.
	Committed bool
}

// SubmitOperations applies a batch to the sheet with the given id.
//
// Individual bad operations are skipped and reported in the result; errors
// that prevent loading or committing the sheet itself are returned as the
// error and nothing is persisted. When the resulting content is identical
// to the current content (and there is nothing else to write) the store is
// not touched at all, so the version does not move and no history entry
// appears.
func (e *Engine) SubmitOperations(ctx context.Context, sheetID string, ops []sheet.Operation, context_ *string) (Result, error) {
	current, err := e.store.GetSheet(ctx, sheetID)
	if err != nil {
		return Result{}, err
	}

	muts, opErrs := sheet.Apply(current, ops)
	for _, oe := range opErrs {
		slog.Warn("operation rejected", "sheet", sheetID, "index", oe.Index, "kind", oe.Kind, "reason", oe.Reason)
	}

	work := current.Clone()
	changed := sheet.ApplyMutations(work, muts)

	touchesRecords := false
	for _, m := range muts {
		if m.TouchesRecord() {
			touchesRecords = true
			break
		}
	}

	if !changed && !touchesRecords && context_ == nil {
		return Result{Sheet: current, OpErrors: opErrs}, nil
	}

	updated, err := e.store.ApplyBatch(ctx, sheetID, db.BatchUpdate{
		Mutations:      muts,
		ContentChanged: changed,
		Prior:          current.ContentSnapshot(),
		PriorVersion:   current.Version,
		Context:        context_,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Sheet: updated, OpErrors: opErrs, Committed: true}, nil
}

// SubmitRowValues is the row-granular update path: values maps column index
// to new value, "none" entries are skipped, and the sheet is created on
// first write.
func (e *Engine) SubmitRowValues(ctx context.Context, sheetID string, row int, values map[int]any) (Result, error) {
	if _, err := e.store.GetSheet(ctx, sheetID); err == db.ErrSheetNotFound {
		if _, err := e.store.UpsertSheet(ctx, sheetID, nil, nil); err != nil {
			return Result{}, err
		}
	} else if err != nil {
		return Result{}, err
	}

	ops := make([]sheet.Operation, 0, len(values))
	for col, v := range values {
		ops = append(ops, sheet.CellSet(row, col, v))
	}
	return e.SubmitOperations(ctx, sheetID, ops, nil)
}
