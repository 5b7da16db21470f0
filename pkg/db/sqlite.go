package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"collab-sheets/pkg/sheet"
)

// SQLiteSheetStore implements SheetStore on a single SQLite file. It is the
// local, no-server deployment mode; the schema mirrors the Postgres one and
// nested patches go through the json1 functions.
type SQLiteSheetStore struct {
	db *sql.DB
}

// NewSQLiteSheetStore creates or opens the database at path. WAL mode keeps
// reads concurrent with the single writer; the pool is capped at one
// connection to avoid SQLITE_BUSY on writes.
func NewSQLiteSheetStore(path string) (*SQLiteSheetStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	store := &SQLiteSheetStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteSheetStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS sheets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		attrs TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cells (
		sheet_id TEXT NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
		r INTEGER NOT NULL,
		c INTEGER NOT NULL,
		v TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cells_sheet_coord ON cells(sheet_id, r, c);

	CREATE TABLE IF NOT EXISTS sheet_history (
		sheet_id TEXT NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (sheet_id, version)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteSheetStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteSheetStore) GetSheet(ctx context.Context, id string) (*sheet.Sheet, error) {
	return s.loadSheet(ctx, s.db, id)
}

func (s *SQLiteSheetStore) loadSheet(ctx context.Context, q querier, id string) (*sheet.Sheet, error) {
	sh := &sheet.Sheet{}
	var attrsRaw []byte
	err := q.QueryRowContext(ctx, `
		SELECT id, name, context, attrs, version, created_at, updated_at
		FROM sheets WHERE id = ?
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
		SELECT r, c, v FROM cells WHERE sheet_id = ? ORDER BY r, c
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

func (s *SQLiteSheetStore) CreateSheet(ctx context.Context, sh *sheet.Sheet) (*sheet.Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertSheetTx(ctx, tx, sh, time.Now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, sh.ID)
}

func (s *SQLiteSheetStore) insertSheetTx(ctx context.Context, tx *sql.Tx, sh *sheet.Sheet, now time.Time) error {
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
		INSERT OR IGNORE INTO sheets (id, name, context, attrs, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sh.ID, name, sh.Context, string(attrs), version, now, now)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSheetExists
	}
	return s.insertCellsTx(ctx, tx, sh.ID, sh.Cells)
}

func (s *SQLiteSheetStore) insertCellsTx(ctx context.Context, tx *sql.Tx, id string, cells []sheet.Cell) error {
	for _, c := range cells {
		v, err := encodeCellValue(c.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cells (sheet_id, r, c, v) VALUES (?, ?, ?, ?)
		`, id, c.Row, c.Col, string(v)); err != nil {
			return fmt.Errorf("failed to insert cell: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSheetStore) UpsertSheet(ctx context.Context, id string, content *sheet.Content, context_ *string) (*sheet.Sheet, error) {
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
		if err := s.insertSheetTx(ctx, tx, created, time.Now()); err != nil {
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
		if err := s.appendHistoryTx(ctx, tx, id, current.ContentSnapshot(), current.Version, now); err != nil {
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
			UPDATE sheets SET name = ?, attrs = ?, version = version + 1, updated_at = ?
			WHERE id = ?
		`, name, string(attrs), now, id); err != nil {
			return nil, fmt.Errorf("failed to update sheet: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE sheet_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to clear cells: %w", err)
		}
		if err := s.insertCellsTx(ctx, tx, id, content.Cells); err != nil {
			return nil, err
		}
	}
	if context_ != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sheets SET context = ? WHERE id = ?`, *context_, id); err != nil {
			return nil, fmt.Errorf("failed to update context: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, id)
}

func (s *SQLiteSheetStore) appendHistoryTx(ctx context.Context, tx *sql.Tx, id string, prior sheet.Content, version int, now time.Time) error {
	raw, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_history (sheet_id, version, content, created_at)
		VALUES (?, ?, ?, ?)
	`, id, version, string(raw), now); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *SQLiteSheetStore) ApplyBatch(ctx context.Context, id string, b BatchUpdate) (*sheet.Sheet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if b.ContentChanged {
		if err := s.appendHistoryTx(ctx, tx, id, b.Prior, b.PriorVersion, now); err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE sheets SET version = version + 1, updated_at = ? WHERE id = ?
		`, now, id)
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
		if _, err := tx.ExecContext(ctx, `UPDATE sheets SET context = ? WHERE id = ?`, *b.Context, id); err != nil {
			return nil, fmt.Errorf("failed to update context: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return s.GetSheet(ctx, id)
}

func (s *SQLiteSheetStore) execMutation(ctx context.Context, tx *sql.Tx, id string, m sheet.Mutation, now time.Time) error {
	switch m.Kind {
	case sheet.MutCellUpsert:
		v, err := encodeCellValue(m.Value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cells (sheet_id, r, c, v) VALUES (?, ?, ?, ?)
		`, id, m.Row, m.Col, string(v))
		return wrapExec("insert cell", err)

	case sheet.MutCellMerge:
		v, err := encodeCellValue(m.Value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cells SET v = ? WHERE sheet_id = ? AND r = ? AND c = ?
		`, string(v), id, m.Row, m.Col)
		return wrapExec("merge cell", err)

	case sheet.MutCellPatch:
		raw, err := json.Marshal(sheet.SanitizeValue(m.Value))
		if err != nil {
			return fmt.Errorf("failed to encode value: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cells SET v = json_set(COALESCE(v, '{}'), ?, json(?))
			WHERE sheet_id = ? AND r = ? AND c = ?
		`, jsonPath(m.Path), string(raw), id, m.Row, m.Col)
		return wrapExec("patch cell", err)

	case sheet.MutCellStrip:
		_, err := tx.ExecContext(ctx, `
			UPDATE cells SET v = json_remove(v, ?)
			WHERE sheet_id = ? AND r = ? AND c = ?
		`, jsonPath(m.Path), id, m.Row, m.Col)
		return wrapExec("strip cell", err)

	case sheet.MutCellClear:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cells WHERE sheet_id = ? AND r = ? AND c = ?
		`, id, m.Row, m.Col)
		return wrapExec("clear cell", err)

	case sheet.MutShiftCells:
		field := axisColumn(m.Axis)
		query := fmt.Sprintf(`
			UPDATE cells SET %s = %s + ? WHERE sheet_id = ? AND %s >= ?
		`, field, field, field)
		_, err := tx.ExecContext(ctx, query, m.Delta, id, m.From)
		return wrapExec("shift cells", err)

	case sheet.MutDeleteRange:
		field := axisColumn(m.Axis)
		query := fmt.Sprintf(`
			DELETE FROM cells WHERE sheet_id = ? AND %s BETWEEN ? AND ?
		`, field)
		_, err := tx.ExecContext(ctx, query, id, m.Start, m.End)
		return wrapExec("delete range", err)

	case sheet.MutSheetInsert:
		err := s.insertSheetTx(ctx, tx, m.Sheet, now)
		if err == ErrSheetExists {
			return nil
		}
		return err

	case sheet.MutSheetDrop:
		_, err := tx.ExecContext(ctx, `DELETE FROM sheets WHERE id = ?`, m.ID)
		return wrapExec("drop sheet", err)

	case sheet.MutFieldSet, sheet.MutFieldUnset:
		return s.execFieldMutation(ctx, tx, id, m)
	}
	return fmt.Errorf("unhandled mutation kind %q", m.Kind)
}

func (s *SQLiteSheetStore) execFieldMutation(ctx context.Context, tx *sql.Tx, id string, m sheet.Mutation) error {
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
			_, err := tx.ExecContext(ctx, `UPDATE sheets SET name = ? WHERE id = ?`, name, id)
			return wrapExec("set name", err)
		case "context":
			context_ := ""
			if m.Kind == sheet.MutFieldSet {
				if str, ok := m.Value.(string); ok {
					context_ = str
				}
			}
			_, err := tx.ExecContext(ctx, `UPDATE sheets SET context = ? WHERE id = ?`, context_, id)
			return wrapExec("set context", err)
		}
	}

	if m.Kind == sheet.MutFieldUnset {
		_, err := tx.ExecContext(ctx, `
			UPDATE sheets SET attrs = json_remove(attrs, ?) WHERE id = ?
		`, jsonPath(m.Path), id)
		return wrapExec("unset attr", err)
	}

	raw, err := json.Marshal(sheet.SanitizeValue(m.Value))
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sheets SET attrs = json_set(attrs, ?, json(?)) WHERE id = ?
	`, jsonPath(m.Path), string(raw), id)
	return wrapExec("set attr", err)
}

// jsonPath renders a sanitized path as a json1 path expression. Components
// are quoted so keys survive characters that would otherwise read as path
// syntax.
func jsonPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, p := range path {
		b.WriteString(`."`)
		b.WriteString(sheet.SanitizePathKey(p))
		b.WriteString(`"`)
	}
	return b.String()
}

func (s *SQLiteSheetStore) History(ctx context.Context, id string) ([]sheet.HistoryEntry, error) {
	if _, err := s.GetSheet(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, version, created_at FROM sheet_history
		WHERE sheet_id = ? ORDER BY version
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

func (s *SQLiteSheetStore) ListSheets(ctx context.Context) ([]*sheet.Sheet, error) {
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

func (s *SQLiteSheetStore) DeleteSheet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sheets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSheetNotFound
	}
	return nil
}

var _ SheetStore = (*SQLiteSheetStore)(nil)
