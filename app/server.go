package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"collab-sheets/pkg/config"
	"collab-sheets/pkg/db"
	"collab-sheets/pkg/engine"
	"collab-sheets/pkg/handlers"
	"collab-sheets/pkg/room"
)

// Server represents the application server.
type Server struct {
	router   *mux.Router
	rooms    *room.RoomManager
	handlers *handlers.Handlers
	store    db.SheetStore
	config   *config.Config
}

// NewServer creates a new server instance over the store the configuration
// selects.
func NewServer(cfg *config.Config) (*Server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(store)
	rooms := room.NewRoomManager(store)
	h := handlers.NewHandlers(eng, rooms)

	r := mux.NewRouter()

	// WebSocket endpoint for real-time collaboration. Sessions join a
	// sheet's room via a join message after connecting.
	r.HandleFunc("/ws", h.HandleWebSocket)

	// REST API endpoints.
	r.HandleFunc("/api/sheets", h.CreateSheet).Methods("POST")
	r.HandleFunc("/api/sheets", h.ListSheets).Methods("GET")
	r.HandleFunc("/api/sheets/{id}", h.GetSheet).Methods("GET")
	r.HandleFunc("/api/sheets/{id}", h.UpsertSheet).Methods("PUT")
	r.HandleFunc("/api/sheets/{id}", h.DeleteSheet).Methods("DELETE")
	r.HandleFunc("/api/sheets/{id}/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/sheets/{id}/operations", h.SubmitOperations).Methods("POST")
	r.HandleFunc("/api/sheets/{id}/cells", h.UpdateRowCells).Methods("POST")
	r.HandleFunc("/api/rooms/{roomId}/users", h.GetRoomUsers).Methods("GET")

	r.Use(loggingMiddleware)

	return &Server{
		router:   r,
		rooms:    rooms,
		handlers: h,
		store:    store,
		config:   cfg,
	}, nil
}

func openStore(cfg *config.Config) (db.SheetStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := db.NewPostgresSheetStore(cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := db.NewSQLiteSheetStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		return db.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Start starts the server.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.config.GetServerAddr()
	}
	slog.Info("starting collaborative sheet server", "addr", addr, "driver", s.config.StoreDriver)
	// Wrap the router with a top-level CORS middleware so that preflight
	// (OPTIONS) requests are handled before mux does method-based
	// matching (which can otherwise return 405).
	return http.ListenAndServe(addr, corsMiddleware(s.router))
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL.Path, "status", m.Code, "duration", m.Duration)
	})
}

// corsMiddleware handles CORS headers and responds to preflight requests at
// the outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close closes the server and its store.
func (s *Server) Close() error {
	return s.store.Close()
}
