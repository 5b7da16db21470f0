package handlers

import (
	"encoding/json"
	"net/http"

	"collab-sheets/pkg/engine"
	"collab-sheets/pkg/room"
)

// Handlers contains all HTTP and WebSocket handlers.
type Handlers struct {
	engine *engine.Engine
	rooms  *room.RoomManager
}

// NewHandlers creates a new handlers instance.
func NewHandlers(eng *engine.Engine, rooms *room.RoomManager) *Handlers {
	return &Handlers{
		engine: eng,
		rooms:  rooms,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
