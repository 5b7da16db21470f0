package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"collab-sheets/pkg/db"
	"collab-sheets/pkg/room"
	"collab-sheets/pkg/sheet"
)

// CreateSheet handles POST /api/sheets. Fails with 409 when the id is
// already taken; use PUT for create-or-update.
func (h *Handlers) CreateSheet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		Cells   []sheet.Cell   `json:"cells"`
		Attrs   map[string]any `json:"attrs"`
		Context string         `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing required field: id")
		return
	}

	doc, err := h.engine.Store().CreateSheet(r.Context(), &sheet.Sheet{
		ID:      req.ID,
		Name:    req.Name,
		Cells:   req.Cells,
		Attrs:   req.Attrs,
		Context: req.Context,
	})
	if err != nil {
		if errors.Is(err, db.ErrSheetExists) {
			writeError(w, http.StatusConflict, "sheet already exists")
			return
		}
		slog.Error("failed to create sheet", "id", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create sheet")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListSheets handles GET /api/sheets.
func (h *Handlers) ListSheets(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.Store().ListSheets(r.Context())
	if err != nil {
		slog.Error("failed to list sheets", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list sheets")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetSheet handles GET /api/sheets/{id}.
func (h *Handlers) GetSheet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := h.engine.Store().GetSheet(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			writeError(w, http.StatusNotFound, "sheet not found")
			return
		}
		slog.Error("failed to get sheet", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get sheet")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpsertSheet handles PUT /api/sheets/{id}: create the sheet if it is
// missing, otherwise replace its content. A replacement that changes the
// content is versioned like any other commit.
func (h *Handlers) UpsertSheet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Name    *string        `json:"name"`
		Cells   *[]sheet.Cell  `json:"cells"`
		Attrs   map[string]any `json:"attrs"`
		Context *string        `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var content *sheet.Content
	if req.Name != nil || req.Cells != nil || req.Attrs != nil {
		content = &sheet.Content{Attrs: req.Attrs}
		if req.Name != nil {
			content.Name = *req.Name
		}
		if req.Cells != nil {
			content.Cells = *req.Cells
		} else {
			content.Cells = []sheet.Cell{}
		}
	}

	prior, priorErr := h.engine.Store().GetSheet(r.Context(), id)

	doc, err := h.engine.Store().UpsertSheet(r.Context(), id, content, req.Context)
	if err != nil {
		slog.Error("failed to upsert sheet", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save sheet")
		return
	}
	// A replacement with identical content commits nothing, so peers get
	// nothing. Content changes move the version; context changes don't.
	if priorErr != nil || doc.Version != prior.Version || doc.Context != prior.Context {
		h.rooms.BroadcastApplied(id, doc, "")
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteSheet handles DELETE /api/sheets/{id}.
func (h *Handlers) DeleteSheet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.engine.Store().DeleteSheet(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			writeError(w, http.StatusNotFound, "sheet not found")
			return
		}
		slog.Error("failed to delete sheet", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete sheet")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /api/sheets/{id}/history and returns the ordered
// snapshot log, oldest first.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := h.engine.Store().History(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			writeError(w, http.StatusNotFound, "sheet not found")
			return
		}
		slog.Error("failed to load history", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if entries == nil {
		entries = []sheet.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// SubmitOperations handles POST /api/sheets/{id}/operations: the REST
// mirror of the websocket submit path. Applied changes fan out to the
// sheet's room; with no session of its own, nothing is excluded.
func (h *Handlers) SubmitOperations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Operations []sheet.Operation `json:"operations"`
		Context    *string           `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Operations == nil {
		writeError(w, http.StatusBadRequest, "missing required field: operations")
		return
	}

	res, err := h.engine.SubmitOperations(r.Context(), id, req.Operations, req.Context)
	if err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			writeError(w, http.StatusNotFound, "sheet not found")
			return
		}
		slog.Error("failed to apply operations", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to apply operations")
		return
	}
	if res.Committed {
		h.rooms.BroadcastApplied(id, res.Sheet, "")
	}

	errs := res.OpErrors
	if errs == nil {
		errs = []*sheet.OperationError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sheet":  res.Sheet,
		"errors": errs,
	})
}

// UpdateRowCells handles POST /api/sheets/{id}/cells: updates several cells
// of one row at once, creating the sheet on first write. Values are keyed
// by column index; "none" entries are skipped.
func (h *Handlers) UpdateRowCells(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Row    *int           `json:"row"`
		Values map[string]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Row == nil || req.Values == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: row and values are required")
		return
	}

	values := make(map[int]any, len(req.Values))
	for col, v := range req.Values {
		colIndex, err := strconv.Atoi(col)
		if err != nil {
			writeError(w, http.StatusBadRequest, "column keys must be integers")
			return
		}
		values[colIndex] = v
	}

	res, err := h.engine.SubmitRowValues(r.Context(), id, *req.Row, values)
	if err != nil {
		slog.Error("failed to update cells", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update cells")
		return
	}
	if res.Committed {
		h.rooms.BroadcastApplied(id, res.Sheet, "")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "cells updated successfully",
		"sheet":   res.Sheet,
	})
}

// GetRoomUsers handles GET /api/rooms/{roomId}/users.
func (h *Handlers) GetRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	users := []room.User{}
	if rm := h.rooms.Room(roomID); rm != nil {
		users = rm.GetUsers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"users":   users,
	})
}
