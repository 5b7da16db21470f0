package db

import (
	"context"
	"errors"

	"collab-sheets/pkg/sheet"
)

// Sentinel store errors.
var (
	ErrSheetNotFound = errors.New("sheet not found")
	ErrSheetExists   = errors.New("sheet already exists")
)

// DefaultSheetName is used when a sheet is created without a display name.
const DefaultSheetName = "Sheet1"

// BatchUpdate is one committed application of an operation batch against a
// single sheet. The store executes the mutations as filtered partial
// updates; when content changed it also appends the prior snapshot to the
// history and bumps the version, in the same transaction. Context, when
// provided, is persisted without a version bump.
type BatchUpdate struct {
	Mutations      []sheet.Mutation
	ContentChanged bool
	// Prior is the content the sheet had before this batch; only read
	// when ContentChanged is set.
	Prior        sheet.Content
	PriorVersion int
	Context      *string
}

// SheetStore is the persistence surface the sync core depends on. Three
// entry points exist on purpose rather than one overloaded save path:
// GetSheet fails on a missing id, CreateSheet fails on an existing one, and
// UpsertSheet creates or updates.
type SheetStore interface {
	// GetSheet returns the sheet or ErrSheetNotFound.
	GetSheet(ctx context.Context, id string) (*sheet.Sheet, error)

	// CreateSheet inserts a new sheet, applying defaults for missing
	// fields. Returns ErrSheetExists if the id is taken.
	CreateSheet(ctx context.Context, s *sheet.Sheet) (*sheet.Sheet, error)

	// UpsertSheet replaces a sheet's content, creating the sheet if it
	// does not exist. A content replacement that actually changes the
	// content is versioned like any other commit.
	UpsertSheet(ctx context.Context, id string, content *sheet.Content, context_ *string) (*sheet.Sheet, error)

	// ApplyBatch executes the directives of one applied operation batch
	// against an existing sheet and returns the post-commit state.
	// Returns ErrSheetNotFound if the sheet vanished since it was read.
	ApplyBatch(ctx context.Context, id string, b BatchUpdate) (*sheet.Sheet, error)

	// History returns the ordered history of a sheet, oldest first, or
	// ErrSheetNotFound.
	History(ctx context.Context, id string) ([]sheet.HistoryEntry, error)

	// ListSheets returns all sheets, most recently updated first.
	ListSheets(ctx context.Context) ([]*sheet.Sheet, error)

	// DeleteSheet removes a sheet and its history, or returns
	// ErrSheetNotFound.
	DeleteSheet(ctx context.Context, id string) error

	Close() error
}
