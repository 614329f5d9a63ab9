// Package api serves the HTTP surface: health, read-only diagnostics of
// presence and lecture rooms, and the websocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/types"
)

// HealthChecker is the store probe behind /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Presence is the read side of the connection registry.
type Presence interface {
	Snapshot() []types.ConnectionInfo
	GetConnections(userID string) []types.ConnectionInfo
	Count() int
}

// Lectures is the read side of the lecture coordinator.
type Lectures interface {
	List(ctx context.Context) ([]*types.RoomSnapshot, error)
	Snapshot(ctx context.Context, lectureID string) (*types.RoomSnapshot, error)
	Rooms() int
}

type Server struct {
	store    HealthChecker
	presence Presence
	lectures Lectures
	router   *mux.Router
	started  time.Time
	logger   zerolog.Logger
}

// NewServer builds the routes. ws handles /ws and may be nil in tests
// that only exercise the JSON endpoints.
func NewServer(store HealthChecker, presence Presence, lectures Lectures, ws http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		store:    store,
		presence: presence,
		lectures: lectures,
		router:   mux.NewRouter(),
		started:  time.Now(),
		logger:   logger.With().Str(logging.FieldComponent, "api").Logger(),
	}

	s.setupRoutes(ws)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	s.router.Use(logging.HTTPMiddleware(s.logger))

	if ws != nil {
		s.router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.Use(corsMiddleware, jsonMiddleware)
	apiRouter.HandleFunc("/connections", s.listConnections).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/connections/{userId}", s.getConnections).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/lectures", s.listLectures).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/lectures/{lectureId}", s.getLecture).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "no such endpoint", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	Lectures    int       `json:"lectures"`
	Goroutines  int       `json:"goroutines"`
	Uptime      string    `json:"uptime"`
}

type ConnectionsResponse struct {
	Count       int                    `json:"count"`
	Connections []types.ConnectionInfo `json:"connections"`
}

type UserConnectionsResponse struct {
	UserID      string                 `json:"userId"`
	Online      bool                   `json:"online"`
	Connections []types.ConnectionInfo `json:"connections"`
}

type LecturesResponse struct {
	Lectures []*types.RoomSnapshot `json:"lectures"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.presence.Count(),
		Lectures:    s.lectures.Rooms(),
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}

	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Warn().Err(err).Msg("health check failed")
		response.Status = "unhealthy"
		response.Database = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}

// GET /api/connections
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	connections := s.presence.Snapshot()
	s.writeJSON(w, http.StatusOK, ConnectionsResponse{
		Count:       len(connections),
		Connections: connections,
	})
}

// GET /api/connections/{userId}
func (s *Server) getConnections(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	connections := s.presence.GetConnections(userID)
	s.writeJSON(w, http.StatusOK, UserConnectionsResponse{
		UserID:      userID,
		Online:      len(connections) > 0,
		Connections: connections,
	})
}

// GET /api/lectures
func (s *Server) listLectures(w http.ResponseWriter, r *http.Request) {
	lectures, err := s.lectures.List(r.Context())
	if err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.writeJSON(w, http.StatusOK, LecturesResponse{Lectures: lectures})
}

// GET /api/lectures/{lectureId}
func (s *Server) getLecture(w http.ResponseWriter, r *http.Request) {
	lectureID := mux.Vars(r)["lectureId"]
	if !types.IsValidLectureID(lectureID) {
		s.sendError(w, types.ErrInvalidLectureID.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := s.lectures.Snapshot(r.Context(), lectureID)
	if err != nil {
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrState):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware opens the read-only API to browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
