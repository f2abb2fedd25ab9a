package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/splatshare/internal/config"
	"github.com/blackmichael/splatshare/internal/domain"
	"github.com/google/uuid"
)

// Updates is a source of post writes, such as the process-wide cache.
type Updates interface {
	Subscribe(fn func(domain.Post)) (unsubscribe func())
	OnPurge(fn func()) (unsubscribe func())
}

// Server exposes the post service to screens over JSON and streams cache
// updates over a WebSocket.
type Server struct {
	cfg        *config.Config
	posts      *domain.PostService
	hub        *hub
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the given post service.
func NewServer(cfg *config.Config, posts *domain.PostService, updates Updates, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		posts:  posts,
		hub:    newHub(updates, logger),
		logger: logger,
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /posts/{id}", s.handlePost)
	mux.HandleFunc("GET /users/{id}/posts", s.handleUserPosts)
	mux.HandleFunc("POST /posts/{id}/like", s.handleToggleLike)
	mux.HandleFunc("POST /posts/{id}/comments", s.handleSubmitComment)
	mux.HandleFunc("DELETE /posts/{id}/comments/{commentID}", s.handleDeleteComment)
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("PUT /session", s.handlePutSession)
	mux.HandleFunc("DELETE /session", s.handleDeleteSession)
	mux.HandleFunc("GET /ws", s.hub.serveWS)
	return withLogging(s.logger, mux)
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and closes WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "page must be a non-negative integer")
			return
		}
		page = parsed
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	posts, err := s.posts.LoadFeed(r.Context(), page, limit)
	if err != nil {
		s.writeLoadError(w, "failed to load feed", err, "page", page, "limit", limit)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": nonNil(posts)})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	post, err := s.posts.LoadPost(r.Context(), id)
	if err != nil {
		s.writeLoadError(w, "failed to load post", err, "post_id", id)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	posts, err := s.posts.LoadUserPosts(r.Context(), userID)
	if err != nil {
		s.writeLoadError(w, "failed to load user posts", err, "user_id", userID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": nonNil(posts)})
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	var post domain.Post
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "body must be the post snapshot")
		return
	}
	post.ID = r.PathValue("id")

	next, err := s.posts.ToggleLike(r.Context(), post)
	switch {
	case errors.Is(err, domain.ErrMutationInFlight):
		writeJSON(w, http.StatusConflict, next)
	case err != nil:
		s.writeMutationError(w, err)
	default:
		writeJSON(w, http.StatusAccepted, next)
	}
}

func (s *Server) handleSubmitComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}

	if err := s.posts.SubmitComment(r.Context(), r.PathValue("id"), body.Text); err != nil {
		s.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.DeleteComment(r.Context(), r.PathValue("id"), r.PathValue("commentID")); err != nil {
		s.writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	profile, err := s.posts.CurrentUser(r.Context())
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "no active session")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "no cached profile")
	case err != nil:
		s.logger.Error("failed to read session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to read session")
	default:
		writeJSON(w, http.StatusOK, profile)
	}
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string             `json:"token"`
		User  domain.UserProfile `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "token is required")
		return
	}

	if err := s.posts.StartSession(r.Context(), body.Token, body.User); err != nil {
		s.logger.Error("failed to start session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to save session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.Logout(r.Context()); err != nil {
		s.logger.Error("failed to clear session", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to clear session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLoadError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "post not found")
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "session rejected")
	default:
		s.logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusBadGateway, "UpstreamError", msg)
	}
}

func (s *Server) writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", "sign in to do that")
	case errors.Is(err, domain.ErrMutationInFlight):
		writeError(w, http.StatusConflict, "InFlight", "already in progress")
	case errors.Is(err, domain.ErrEmptyComment):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	default:
		s.logger.Error("mutation rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to apply change")
	}
}

func nonNil(posts []domain.Post) []domain.Post {
	if posts == nil {
		return []domain.Post{}
	}
	return posts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err != nil {
		return nil, nil, err
	}
	w.status = http.StatusSwitchingProtocols
	return conn, rw, nil
}
