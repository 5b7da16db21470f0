package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collab-sheets/pkg/db"
	"collab-sheets/pkg/room"
	"collab-sheets/pkg/sheet"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	submitTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins for development
	},
}

// inbound is the envelope for every client-to-server message.
type inbound struct {
	Type       string            `json:"type"`
	SheetID    string            `json:"sheet_id"`
	Operations []sheet.Operation `json:"operations"`
	Context    *string           `json:"context"`
	Username   string            `json:"username"`
}

// ackMessage confirms a submitted batch to its originator. Version is the
// sheet's version after the commit; Errors lists the operations that were
// rejected and skipped.
type ackMessage struct {
	Type    string                  `json:"type"`
	SheetID string                  `json:"sheet_id"`
	Version int                     `json:"version"`
	Errors  []*sheet.OperationError `json:"errors,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// HandleWebSocket upgrades the connection and starts the session's pumps.
// The session joins a sheet's room through a join message rather than the
// URL, so one connection can move between sheets. Room membership never
// survives a reconnect; the client re-joins.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}

	client := &room.Client{
		ID:       uuid.New().String(),
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Done:     make(chan struct{}),
	}

	go h.writePump(client)
	go h.readPump(client)
}

// readPump handles reading messages from the WebSocket. It owns the
// client's room membership: nothing else moves a client between rooms.
func (h *Handlers) readPump(c *room.Client) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in readPump", "client", c.ID, "panic", rec, "stack", string(debug.Stack()))
		}
		h.leaveRoom(c)
		close(c.Done)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket closed unexpectedly", "client", c.ID, "err", err)
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "bad_message", "could not parse message")
			continue
		}

		switch msg.Type {
		case "join":
			h.handleJoin(c, msg)
		case "operations":
			h.handleOperations(c, msg)
		case "ping":
			c.Send <- []byte(`{"type":"pong"}`)
		default:
			slog.Warn("unknown message type", "client", c.ID, "type", msg.Type)
		}
	}
}

// writePump handles writing messages to the WebSocket.
func (h *Handlers) writePump(c *room.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write failed", "client", c.ID, "err", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done:
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (h *Handlers) handleJoin(c *room.Client, msg inbound) {
	if msg.SheetID == "" {
		h.sendError(c, "validation", "sheet_id is required")
		return
	}
	if c.Room != nil && c.Room.ID == msg.SheetID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	newRoom, err := h.rooms.GetOrCreateRoom(ctx, msg.SheetID)
	if err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			h.sendError(c, "not_found", "sheet not found")
		} else {
			slog.Error("failed to open room", "sheet", msg.SheetID, "err", err)
			h.sendError(c, "server_error", "could not join sheet")
		}
		return
	}

	h.leaveRoom(c)
	// Only touch Username while the client is in no room: the old room's
	// loop may still read the field until the unregister lands.
	if msg.Username != "" {
		c.Username = msg.Username
	}
	c.Room = newRoom
	newRoom.Register <- c
}

func (h *Handlers) handleOperations(c *room.Client, msg inbound) {
	if msg.SheetID == "" {
		h.sendError(c, "validation", "sheet_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	res, err := h.engine.SubmitOperations(ctx, msg.SheetID, msg.Operations, msg.Context)
	if err != nil {
		if errors.Is(err, db.ErrSheetNotFound) {
			h.sendError(c, "not_found", "sheet not found")
		} else {
			slog.Error("failed to apply operations", "sheet", msg.SheetID, "err", err)
			h.sendError(c, "server_error", "could not apply operations")
		}
		return
	}

	// A failed commit never reaches the room; peers only ever see
	// persisted state.
	if res.Committed {
		h.rooms.BroadcastApplied(msg.SheetID, res.Sheet, c.ID)
	}

	ack, _ := json.Marshal(ackMessage{
		Type:    "ack",
		SheetID: msg.SheetID,
		Version: res.Sheet.Version,
		Errors:  res.OpErrors,
	})
	c.Send <- ack
}

// leaveRoom blocks until the room has processed the unregister. The run
// loop always returns to its select and its own sends go to the buffered
// Broadcast channel, so the send cannot deadlock; dropping it instead
// would leave a ghost member behind whenever the loop was busy.
func (h *Handlers) leaveRoom(c *room.Client) {
	if c.Room == nil {
		return
	}
	c.Room.Unregister <- c
	c.Room = nil
}

func (h *Handlers) sendError(c *room.Client, code, message string) {
	data, _ := json.Marshal(errorMessage{Type: "error", Code: code, Message: message})
	select {
	case c.Send <- data:
	default:
	}
}
