package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"collab-sheets/pkg/sheet"
)

// PostgresSheetStore implements SheetStore on PostgreSQL. Cells live in
// their own table so row/column shifts and nested attribute patches run as
// single filtered UPDATEs instead of per-cell loops.
type PostgresSheetStore struct {
	db *sql.DB
}

// NewPostgresSheetStore connects to PostgreSQL and ensures the schema
// exists.
func NewPostgresSheetStore(connStr string) (*PostgresSheetStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresSheetStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// createTables creates the schema if it doesn't exist. The index on cells
// is deliberately non-unique: (sheet_id, r, c) uniqueness is a model
// invariant the applier maintains, and enforcing it in the database would
// make in-place index shifts collide transiently mid-update.
func (s *PostgresSheetStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS sheets (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		attrs JSONB NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cells (
		sheet_id VARCHAR(64) NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
		r INTEGER NOT NULL,
		c INTEGER NOT NULL,
		v JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_cells_sheet_coord ON cells(sheet_id, r, c);

	CREATE TABLE IF NOT EXISTS sheet_history (
		sheet_id VARCHAR(64) NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		content JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (sheet_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_sheets_updated_at ON sheets(updated_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *PostgresSheetStore) Close() error {
	return s.db.Close()
}

func (s *PostgresSheetStore) GetSheet(ctx context.Context, id string) (*sheet.Sheet, error) {
	return s.loadSheet(ctx, s.db, id)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresSheetStore) loadSheet(ctx context.Context, q querier, id string) (*sheet.Sheet, error) {
	sh := &sheet.Sheet{}
	var attrsRaw []byte
	err := q.QueryRowContext(ctx, `
		SELECT id, name, context, attrs, version, created_at, updated_at
		FROM sheets WHERE id = $1
	`, id).Scan(&sh.ID, &sh.Name, &sh.Context, &attrsRaw, &sh.Version, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSheetNotFound
		}
		return nil, fmt.Errorf("failed to get sheet: %w", err)
	}
	if err := decodeAttrs(attrsRaw, sh); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT r, c, v FROM cells WHERE sheet_id = $1 ORDER BY r, c
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load cells: %w", err)
	}
	defer rows.Close()

	sh.Cells = []sheet.Cell{}
	for rows.Next() {
		var cell sheet.Cell
		var raw []byte
		if err := rows.Scan(&cell.Row, &cell.Col, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		if len(raw) > 0 {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("failed to decode cell value: %w", err)
			}
			cell.Value = sheet.RestoreValue(v)
		}
		sh.Cells = append(sh.Cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cells: %w", err)
	}
	return sh, nil
}

func (s *PostgresSheetStore) CreateSheet(ctx context.Context, sh *sheet.Sheet) (*sheet.Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertSheetTx(ctx, tx, sh, time.Now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, sh.ID)
}

func insertSheetTx(ctx context.Context, tx *sql.Tx, sh *sheet.Sheet, now time.Time) error {
	name := sh.Name
	if name == "" {
		name = DefaultSheetName
	}
	version := sh.Version
	if version == 0 {
		version = 1
	}
	attrs, err := encodeAttrs(sh.Attrs)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sheets (id, name, context, attrs, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, sh.ID, name, sh.Context, attrs, version, now)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSheetExists
	}
	return insertCellsTx(ctx, tx, sh.ID, sh.Cells)
}

func insertCellsTx(ctx context.Context, tx *sql.Tx, id string, cells []sheet.Cell) error {
	for _, c := range cells {
		v, err := encodeCellValue(c.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cells (sheet_id, r, c, v) VALUES ($1, $2, $3, $4)
		`, id, c.Row, c.Col, v); err != nil {
			return fmt.Errorf("failed to insert cell: %w", err)
		}
	}
	return nil
}

func (s *PostgresSheetStore) UpsertSheet(ctx context.Context, id string, content *sheet.Content, context_ *string) (*sheet.Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := s.loadSheet(ctx, tx, id)
	if err == ErrSheetNotFound {
		created := &sheet.Sheet{ID: id}
		if content != nil {
			created.Name = content.Name
			created.Cells = content.Cells
			created.Attrs = content.Attrs
		}
		if context_ != nil {
			created.Context = *context_
		}
		if err := insertSheetTx(ctx, tx, created, time.Now()); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		return s.GetSheet(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if content != nil && !current.ContentSnapshot().Equal(*content) {
		if err := appendHistoryTx(ctx, tx, id, current.ContentSnapshot(), current.Version, now); err != nil {
			return nil, err
		}
		attrs, err := encodeAttrs(content.Attrs)
		if err != nil {
			return nil, err
		}
		name := content.Name
		if name == "" {
			name = current.Name
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sheets SET name = $2, attrs = $3, version = version + 1, updated_at = $4
			WHERE id = $1
		`, id, name, attrs, now); err != nil {
			return nil, fmt.Errorf("failed to update sheet: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE sheet_id = $1`, id); err != nil {
			return nil, fmt.Errorf("failed to clear cells: %w", err)
		}
		if err := insertCellsTx(ctx, tx, id, content.Cells); err != nil {
			return nil, err
		}
	}
	if context_ != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sheets SET context = $2 WHERE id = $1`, id, *context_); err != nil {
			return nil, fmt.Errorf("failed to update context: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, id)
}

func appendHistoryTx(ctx context.Context, tx *sql.Tx, id string, prior sheet.Content, version int, now time.Time) error {
	raw, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_history (sheet_id, version, content, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, version, raw, now); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *PostgresSheetStore) ApplyBatch(ctx context.Context, id string, b BatchUpdate) (*sheet.Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if b.ContentChanged {
		if err := appendHistoryTx(ctx, tx, id, b.Prior, b.PriorVersion, now); err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE sheets SET version = version + 1, updated_at = $2 WHERE id = $1
		`, id, now)
		if err != nil {
			return nil, fmt.Errorf("failed to bump version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrSheetNotFound
		}
	}

	for _, m := range b.Mutations {
		if err := s.execMutation(ctx, tx, id, m, now); err != nil {
			return nil, err
		}
	}

	if b.Context != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sheets SET context = $2 WHERE id = $1`, id, *b.Context); err != nil {
			return nil, fmt.Errorf("failed to update context: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, id)
}

func (s *PostgresSheetStore) execMutation(ctx context.Context, tx *sql.Tx, id string, m sheet.Mutation, now time.Time) error {
	switch m.Kind {
	case sheet.MutCellUpsert:
		v, err := encodeCellValue(m.Value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cells (sheet_id, r, c, v) VALUES ($1, $2, $3, $4)
		`, id, m.Row, m.Col, v)
		return wrapExec("insert cell", err)

	case sheet.MutCellMerge:
		v, err := encodeCellValue(m.Value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cells SET v = $4 WHERE sheet_id = $1 AND r = $2 AND c = $3
		`, id, m.Row, m.Col, v)
		return wrapExec("merge cell", err)

	case sheet.MutCellPatch:
		expr, args, err := pgNestedSet("COALESCE(v, '{}'::jsonb)", "v", sanitizedPath(m.Path), m.Value, 4)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`UPDATE cells SET v = %s WHERE sheet_id = $1 AND r = $2 AND c = $3`, expr)
		_, err = tx.ExecContext(ctx, query, append([]any{id, m.Row, m.Col}, args...)...)
		return wrapExec("patch cell", err)

	case sheet.MutCellStrip:
		_, err := tx.ExecContext(ctx, `
			UPDATE cells SET v = v #- $4::text[] WHERE sheet_id = $1 AND r = $2 AND c = $3
		`, id, m.Row, m.Col, pq.Array(sanitizedPath(m.Path)))
		return wrapExec("strip cell", err)

	case sheet.MutCellClear:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cells WHERE sheet_id = $1 AND r = $2 AND c = $3
		`, id, m.Row, m.Col)
		return wrapExec("clear cell", err)

	case sheet.MutShiftCells:
		field := axisColumn(m.Axis)
		query := fmt.Sprintf(`
			UPDATE cells SET %s = %s + $2 WHERE sheet_id = $1 AND %s >= $3
		`, field, field, field)
		_, err := tx.ExecContext(ctx, query, id, m.Delta, m.From)
		return wrapExec("shift cells", err)

	case sheet.MutDeleteRange:
		field := axisColumn(m.Axis)
		query := fmt.Sprintf(`
			DELETE FROM cells WHERE sheet_id = $1 AND %s BETWEEN $2 AND $3
		`, field)
		_, err := tx.ExecContext(ctx, query, id, m.Start, m.End)
		return wrapExec("delete range", err)

	case sheet.MutSheetInsert:
		err := insertSheetTx(ctx, tx, m.Sheet, now)
		if err == ErrSheetExists {
			return nil
		}
		return err

	case sheet.MutSheetDrop:
		_, err := tx.ExecContext(ctx, `DELETE FROM sheets WHERE id = $1`, m.ID)
		return wrapExec("drop sheet", err)

	case sheet.MutFieldSet, sheet.MutFieldUnset:
		return s.execFieldMutation(ctx, tx, id, m)
	}
	return fmt.Errorf("unhandled mutation kind %q", m.Kind)
}

func (s *PostgresSheetStore) execFieldMutation(ctx context.Context, tx *sql.Tx, id string, m sheet.Mutation) error {
	if len(m.Path) == 1 {
		switch m.Path[0] {
		case "name":
			name := ""
			if m.Kind == sheet.MutFieldSet {
				str, ok := m.Value.(string)
				if !ok {
					return nil
				}
				name = str
			}
			_, err := tx.ExecContext(ctx, `UPDATE sheets SET name = $2 WHERE id = $1`, id, name)
			return wrapExec("set name", err)
		case "context":
			context_ := ""
			if m.Kind == sheet.MutFieldSet {
				if str, ok := m.Value.(string); ok {
					context_ = str
				}
			}
			_, err := tx.ExecContext(ctx, `UPDATE sheets SET context = $2 WHERE id = $1`, id, context_)
			return wrapExec("set context", err)
		}
	}

	if m.Kind == sheet.MutFieldUnset {
		_, err := tx.ExecContext(ctx, `
			UPDATE sheets SET attrs = attrs #- $2::text[] WHERE id = $1
		`, id, pq.Array(sanitizedPath(m.Path)))
		return wrapExec("unset attr", err)
	}

	expr, args, err := pgNestedSet("attrs", "attrs", sanitizedPath(m.Path), m.Value, 2)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE sheets SET attrs = %s WHERE id = $1`, expr)
	_, err = tx.ExecContext(ctx, query, append([]any{id}, args...)...)
	return wrapExec("set attr", err)
}

// pgNestedSet builds a jsonb_set chain that creates missing intermediate
// objects before writing the leaf, so a deep path lands even when the
// parents do not exist yet. Placeholder numbering starts at first.
func pgNestedSet(base, column string, path []string, value any, first int) (string, []any, error) {
	expr := base
	var args []any
	n := first
	for i := 1; i < len(path); i++ {
		prefix := append([]string{}, path[:i]...)
		expr = fmt.Sprintf(
			"jsonb_set(%s, $%d::text[], COALESCE(%s #> $%d::text[], '{}'::jsonb), true)",
			expr, n, column, n,
		)
		args = append(args, pq.Array(prefix))
		n++
	}
	raw, err := json.Marshal(sheet.SanitizeValue(value))
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode value: %w", err)
	}
	expr = fmt.Sprintf("jsonb_set(%s, $%d::text[], $%d::jsonb, true)", expr, n, n+1)
	args = append(args, pq.Array(path), string(raw))
	return expr, args, nil
}

func (s *PostgresSheetStore) History(ctx context.Context, id string) ([]sheet.HistoryEntry, error) {
	if _, err := s.GetSheet(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, version, created_at FROM sheet_history
		WHERE sheet_id = $1 ORDER BY version
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []sheet.HistoryEntry
	for rows.Next() {
		var e sheet.HistoryEntry
		var raw []byte
		if err := rows.Scan(&raw, &e.Version, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Content); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

func (s *PostgresSheetStore) ListSheets(ctx context.Context) ([]*sheet.Sheet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sheets ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sheet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheets: %w", err)
	}

	sheets := make([]*sheet.Sheet, 0, len(ids))
	for _, id := range ids {
		sh, err := s.GetSheet(ctx, id)
		if err == ErrSheetNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sh)
	}
	return sheets, nil
}

func (s *PostgresSheetStore) DeleteSheet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sheets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSheetNotFound
	}
	return nil
}

func axisColumn(a sheet.Axis) string {
	if a == sheet.AxisCol {
		return "c"
	}
	return "r"
}

func sanitizedPath(path []string) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = sheet.SanitizePathKey(p)
	}
	return out
}

func encodeCellValue(v any) ([]byte, error) {
	raw, err := json.Marshal(sheet.SanitizeValue(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode cell value: %w", err)
	}
	return raw, nil
}

func encodeAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(sheet.SanitizeValue(attrs))
	if err != nil {
		return nil, fmt.Errorf("failed to encode attrs: %w", err)
	}
	return raw, nil
}

func decodeAttrs(raw []byte, sh *sheet.Sheet) error {
	if len(raw) == 0 {
		return nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return fmt.Errorf("failed to decode attrs: %w", err)
	}
	if len(attrs) > 0 {
		sh.Attrs, _ = sheet.RestoreValue(attrs).(map[string]any)
	}
	return nil
}

func wrapExec(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

var _ SheetStore = (*PostgresSheetStore)(nil)
