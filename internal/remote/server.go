package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/verte-zerg/drillog/internal/model"
)

const maxBodyBytes = 8 << 20

type ctxKey int

const userKey ctxKey = iota

// ServerOptions configures the development server.
type ServerOptions struct {
	// APIKey, when set, must be sent in the X-Api-Key header.
	APIKey  string
	Limiter RateLimiter
	Logger  *slog.Logger
}

// Server exposes a Backend over HTTP.
type Server struct {
	backend *Backend
	opts    ServerOptions
	logger  *slog.Logger
}

// NewServer creates a server over backend.
func NewServer(backend *Backend, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{backend: backend, opts: opts, logger: logger.With(slog.String("component", "server"))}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(apiPrefix, func(r chi.Router) {
		r.Use(s.authMiddleware)
		if s.opts.Limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		r.Use(decompressMiddleware())

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Patch("/sessions/{id}", s.handleUpdateSession)
		r.Post("/attempts", s.handleCreateAttempt)
		r.Post("/attempts/query", s.handleQueryAttempts)
		r.Post("/char-logs", s.handleCreateCharLogs)
		r.Post("/char-logs/query", s.handleQueryCharLogs)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// authMiddleware resolves the user from the bearer token, which is the user's uuid.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get(apiKeyHeader) != s.opts.APIKey {
			respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(token))
		if err != nil || id == uuid.Nil {
			respondError(w, http.StatusUnauthorized, "invalid user")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := userFrom(r)
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.opts.Limiter.Allow(r.Context(), key) {
			s.logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := model.ParsePracticeType(req.PracticeType); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DatasetID == "" || req.StartedAt.IsZero() {
		respondError(w, http.StatusBadRequest, "datasetId and startedAt are required")
		return
	}
	id, err := s.backend.CreateSession(r.Context(), userFrom(r), req.model())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req doneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.backend.UpdateSessionDone(r.Context(), userFrom(r), id, req.DoneAt); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.backend.Sessions(r.Context(), userFrom(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]sessionJSON, len(sessions))
	for i, session := range sessions {
		out[i] = sessionToJSON(session)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req attemptJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID <= 0 || req.WordID == "" {
		respondError(w, http.StatusBadRequest, "sessionId must be authoritative and wordId set")
		return
	}
	id, err := s.backend.CreateAttempt(r.Context(), userFrom(r), req.model())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleQueryAttempts(w http.ResponseWriter, r *http.Request) {
	var req sessionIDsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	attempts, err := s.backend.Attempts(r.Context(), userFrom(r), req.SessionIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]attemptJSON, len(attempts))
	for i, a := range attempts {
		out[i] = attemptToJSON(a)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCharLogs(w http.ResponseWriter, r *http.Request) {
	var req charLogsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logs := make([]model.CharLog, len(req.Logs))
	for i, l := range req.Logs {
		if l.AttemptID <= 0 || l.CharIndex < 0 {
			respondError(w, http.StatusBadRequest, "invalid char log key")
			return
		}
		logs[i] = l.model()
	}
	if err := s.backend.CreateCharLogs(r.Context(), userFrom(r), logs); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryCharLogs(w http.ResponseWriter, r *http.Request) {
	var req attemptIDsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logs, err := s.backend.CharLogs(r.Context(), userFrom(r), req.AttemptIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]charLogJSON, len(logs))
	for i, l := range logs {
		out[i] = charLogToJSON(l)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		_ = err
	}
}

// respondError writes an error JSON response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
