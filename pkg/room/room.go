package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-sheets/pkg/db"
	"collab-sheets/pkg/sheet"
)

// Client is one connected session. A client is in at most one room at a
// time; joining another sheet leaves the current room first. Send is
// best-effort: a client that cannot keep up misses messages rather than
// blocking the room.
type Client struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Conn     *websocket.Conn `json:"-"`
	Send     chan []byte     `json:"-"`
	Done     chan struct{}   `json:"-"`

	// Room is the client's current room. Only the connection's read loop
	// moves a client between rooms.
	Room *Room `json:"-"`
}

// User is the public view of a connected client.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Room fans updates for one sheet out to its subscribed sessions.
type Room struct {
	ID         string
	Clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan []byte
	mutex      sync.RWMutex

	load func(ctx context.Context) (*sheet.Sheet, error)
}

// RoomManager tracks all live rooms, keyed by sheet id.
type RoomManager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
	store db.SheetStore
}

// NewRoomManager creates a manager over the given store.
func NewRoomManager(store db.SheetStore) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		store: store,
	}
}

// GetOrCreateRoom returns the room for a sheet, creating and starting it on
// first join. The sheet must exist; joining an unknown id is an error the
// caller reports to the client.
func (rm *RoomManager) GetOrCreateRoom(ctx context.Context, sheetID string) (*Room, error) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if room, ok := rm.rooms[sheetID]; ok {
		return room, nil
	}

	if _, err := rm.store.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}

	room := &Room{
		ID:         sheetID,
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan []byte, 256),
		load: func(ctx context.Context) (*sheet.Sheet, error) {
			return rm.store.GetSheet(ctx, sheetID)
		},
	}
	rm.rooms[sheetID] = room

	go room.run()

	return room, nil
}

// Room returns the live room for a sheet, or nil if nobody is joined.
func (rm *RoomManager) Room(sheetID string) *Room {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.rooms[sheetID]
}

// BroadcastApplied relays a committed mutation to every session in the
// sheet's room except the originator. No room means no viewers: nothing to
// do.
func (rm *RoomManager) BroadcastApplied(sheetID string, sh *sheet.Sheet, excludeClientID string) {
	if room := rm.Room(sheetID); room != nil {
		room.BroadcastApplied(sh, excludeClientID)
	}
}

// run is the room's event loop.
func (r *Room) run() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in room.run", "room", r.ID, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	for {
		select {
		case client := <-r.Register:
			r.mutex.Lock()
			r.Clients[client.ID] = client
			r.mutex.Unlock()
			r.sendSnapshot(client)
			r.broadcastPresence("user_joined", client)
			slog.Info("client joined room", "client", client.ID, "room", r.ID)

		case client := <-r.Unregister:
			r.mutex.Lock()
			_, ok := r.Clients[client.ID]
			if ok {
				delete(r.Clients, client.ID)
			}
			r.mutex.Unlock()
			if ok {
				r.broadcastPresence("user_left", client)
				slog.Info("client left room", "client", client.ID, "room", r.ID)
			}

		case message := <-r.Broadcast:
			r.mutex.RLock()
			for _, client := range r.Clients {
				select {
				case client.Send <- message:
				default:
					// Slow client: drop the message. Delivery is
					// at-most-once, best-effort.
				}
			}
			r.mutex.RUnlock()
		}
	}
}

// snapshotMessage is what a client receives on join: the current state of
// the sheet and who else is here.
type snapshotMessage struct {
	Type    string         `json:"type"`
	SheetID string         `json:"sheet_id"`
	Name    string         `json:"name"`
	Cells   []sheet.Cell   `json:"cells"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Context string         `json:"context"`
	Version int            `json:"version"`
	Users   []User         `json:"users"`
}

func (r *Room) sendSnapshot(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sh, err := r.load(ctx)
	if err != nil {
		slog.Error("failed to load sheet for snapshot", "room", r.ID, "err", err)
		return
	}
	data, _ := json.Marshal(snapshotMessage{
		Type:    "snapshot",
		SheetID: sh.ID,
		Name:    sh.Name,
		Cells:   sh.Cells,
		Attrs:   sh.Attrs,
		Context: sh.Context,
		Version: sh.Version,
		Users:   r.GetUsers(),
	})
	select {
	case c.Send <- data:
	default:
	}
}

func (r *Room) broadcastPresence(event string, client *Client) {
	data, _ := json.Marshal(map[string]any{
		"type":     event,
		"id":       client.ID,
		"username": client.Username,
	})
	r.Broadcast <- data
}

// appliedMessage is the fan-out after a committed mutation.
type appliedMessage struct {
	Type    string        `json:"type"`
	SheetID string        `json:"sheet_id"`
	Content sheet.Content `json:"content"`
	Context string        `json:"context"`
	Version int           `json:"version"`
}

// BroadcastApplied delivers the post-mutation state to every client in the
// room except the one identified by excludeClientID. The originator learns
// the outcome through its own ack instead.
func (r *Room) BroadcastApplied(sh *sheet.Sheet, excludeClientID string) {
	data, _ := json.Marshal(appliedMessage{
		Type:    "operations_applied",
		SheetID: sh.ID,
		Content: sh.ContentSnapshot(),
		Context: sh.Context,
		Version: sh.Version,
	})

	r.mutex.RLock()
	for _, client := range r.Clients {
		if client.ID == excludeClientID {
			continue
		}
		select {
		case client.Send <- data:
		default:
		}
	}
	r.mutex.RUnlock()
}

// SendTo delivers a message to a single client in the room.
func (r *Room) SendTo(clientID string, data []byte) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if client, ok := r.Clients[clientID]; ok {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// GetUsers lists the users currently in the room.
func (r *Room) GetUsers() []User {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	users := make([]User, 0, len(r.Clients))
	for _, client := range r.Clients {
		users = append(users, User{ID: client.ID, Username: client.Username})
	}
	return users
}
