package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-sheets/pkg/sheet"
)

// MemoryStore keeps sheets in a process-lifetime map. It exists for tests
// and for running the server without a database; nothing survives a
// restart. Mutations run through the reference executor in pkg/sheet.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string]*memRecord
	now    func() time.Time
}

type memRecord struct {
	sheet   *sheet.Sheet
	history []sheet.HistoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sheets: make(map[string]*memRecord),
		now:    time.Now,
	}
}

func (s *MemoryStore) GetSheet(_ context.Context, id string) (*sheet.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sheets[id]
	if !ok {
		return nil, ErrSheetNotFound
	}
	return rec.sheet.Clone(), nil
}

func (s *MemoryStore) CreateSheet(_ context.Context, sh *sheet.Sheet) (*sheet.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sheets[sh.ID]; ok {
		return nil, ErrSheetExists
	}
	stored := sh.Clone()
	applyDefaults(stored, s.now())
	s.sheets[sh.ID] = &memRecord{sheet: stored}
	return stored.Clone(), nil
}

func (s *MemoryStore) UpsertSheet(_ context.Context, id string, content *sheet.Content, context_ *string) (*sheet.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sheets[id]
	if !ok {
		created := &sheet.Sheet{ID: id}
		if content != nil {
			created.Name = content.Name
			created.Cells = content.Cells
			created.Attrs = content.Attrs
		}
		if context_ != nil {
			created.Context = *context_
		}
		created = created.Clone()
		applyDefaults(created, s.now())
		s.sheets[id] = &memRecord{sheet: created}
		return created.Clone(), nil
	}

	if content != nil {
		prior := rec.sheet.ContentSnapshot()
		if !prior.Equal(*content) {
			rec.history = append(rec.history, sheet.HistoryEntry{
				Content:   prior,
				Version:   rec.sheet.Version,
				Timestamp: s.now(),
			})
			clone := (&sheet.Sheet{Cells: content.Cells, Attrs: content.Attrs}).Clone()
			rec.sheet.Name = content.Name
			rec.sheet.Cells = clone.Cells
			rec.sheet.Attrs = clone.Attrs
			rec.sheet.Version++
			rec.sheet.UpdatedAt = s.now()
		}
	}
	if context_ != nil {
		rec.sheet.Context = *context_
	}
	return rec.sheet.Clone(), nil
}

func (s *MemoryStore) ApplyBatch(_ context.Context, id string, b BatchUpdate) (*sheet.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sheets[id]
	if !ok {
		return nil, ErrSheetNotFound
	}

	if b.ContentChanged {
		rec.history = append(rec.history, sheet.HistoryEntry{
			Content:   b.Prior,
			Version:   rec.sheet.Version,
			Timestamp: s.now(),
		})
		rec.sheet.Version++
		rec.sheet.UpdatedAt = s.now()
	}

	for _, m := range b.Mutations {
		switch m.Kind {
		case sheet.MutSheetInsert:
			if _, taken := s.sheets[m.Sheet.ID]; taken {
				continue
			}
			inserted := m.Sheet.Clone()
			applyDefaults(inserted, s.now())
			s.sheets[inserted.ID] = &memRecord{sheet: inserted}
		case sheet.MutSheetDrop:
			delete(s.sheets, m.ID)
		default:
			sheet.ApplyMutations(rec.sheet, []sheet.Mutation{m})
		}
	}

	if b.Context != nil {
		rec.sheet.Context = *b.Context
	}

	if rec, ok := s.sheets[id]; ok {
		return rec.sheet.Clone(), nil
	}
	// The batch dropped its own sheet.
	return nil, ErrSheetNotFound
}

func (s *MemoryStore) History(_ context.Context, id string) ([]sheet.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sheets[id]
	if !ok {
		return nil, ErrSheetNotFound
	}
	out := make([]sheet.HistoryEntry, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

func (s *MemoryStore) ListSheets(_ context.Context) ([]*sheet.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sheet.Sheet, 0, len(s.sheets))
	for _, rec := range s.sheets {
		out = append(out, rec.sheet.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteSheet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sheets[id]; !ok {
		return ErrSheetNotFound
	}
	delete(s.sheets, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func applyDefaults(sh *sheet.Sheet, now time.Time) {
	if sh.Name == "" {
		sh.Name = DefaultSheetName
	}
	if sh.Cells == nil {
		sh.Cells = []sheet.Cell{}
	}
	if sh.Version == 0 {
		sh.Version = 1
	}
	sh.CreatedAt = now
	sh.UpdatedAt = now
}

var _ SheetStore = (*MemoryStore)(nil)
