package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/wricardo/locshare/presence/session"
	"github.com/wricardo/locshare/transport/websocket"
	"go.uber.org/zap"
)

// Server serves the WebSocket endpoint and the read-only inspection API.
type Server struct {
	registry *session.Registry
	hub      *websocket.Hub
	router   *mux.Router
	logger   *zap.Logger
}

// NewServer creates a new API server. hub may be nil, in which case /ws is
// not routed.
func NewServer(registry *session.Registry, hub *websocket.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		hub:      hub,
		router:   mux.NewRouter(),
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "HEAD")
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealthJSON).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{code}", s.handleGetSession).Methods("GET")
}

// Mount routes every request under path to h, e.g. /metrics or /mcp.
func (s *Server) Mount(path string, h http.Handler) {
	s.router.Handle(path, h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Server is running"))
}

func (s *Server) handleHealthJSON(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "healthy", Sessions: s.registry.Count()}
	if s.hub != nil {
		h.Connections = s.hub.Count()
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	live := s.registry.List()
	sessions := make([]SessionSummary, 0, len(live))
	for _, sess := range live {
		sessions = append(sessions, summarize(sess.Snapshot()))
	}

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created" (default), "online"
	order := query.Get("order")    // "asc", "desc" (default)
	limitStr := query.Get("limit") // number of sessions to return

	switch sortBy {
	case "", "created":
		sortBy = "created"
	case "online":
	default:
		respondError(w, http.StatusBadRequest, "sort must be created or online")
		return
	}
	switch order {
	case "":
		order = "desc"
	case "asc", "desc":
	default:
		respondError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if order == "desc" {
			a, b = b, a
		}
		if sortBy == "online" && a.Online != b.Online {
			return a.Online < b.Online
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	total := len(sessions)
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, SessionList{
		Count:    len(sessions),
		Total:    total,
		Sessions: sessions,
		Sort:     sortBy,
		Order:    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	sess, err := s.registry.Get(code)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, detail(sess.Snapshot()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logRequests logs every request except WebSocket upgrades, which the hub
// logs itself and which need the unwrapped ResponseWriter to hijack.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
