// Package api provides the HTTP and WebSocket surface for the scheduling
// negotiation service: chat dispatch, session/negotiation inspection,
// approval, and the Google Calendar OAuth handshake.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/approval"
	"github.com/quantumlife/scheduler/internal/calendar"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/eventbus"
	"github.com/quantumlife/scheduler/internal/orchestrator"
	"github.com/quantumlife/scheduler/internal/storage"
)

// Server is the HTTP API server fronting the negotiation pipeline.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	orchestrator *orchestrator.Orchestrator
	approval     *approval.Coordinator
	hub          *eventbus.Hub
	oauth        *calendar.OAuthClient

	sessions    *storage.SessionStore
	messages    *storage.MessageStore
	users       *storage.UserStore
	credentials *storage.CredentialStore

	log *zap.Logger
}

// Config wires every collaborator a running server needs.
type Config struct {
	Port         int
	Orchestrator *orchestrator.Orchestrator
	Approval     *approval.Coordinator
	Hub          *eventbus.Hub
	OAuth        *calendar.OAuthClient

	Sessions    *storage.SessionStore
	Messages    *storage.MessageStore
	Users       *storage.UserStore
	Credentials *storage.CredentialStore

	Log *zap.Logger
}

// New constructs a Server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		orchestrator: cfg.Orchestrator,
		approval:     cfg.Approval,
		hub:          cfg.Hub,
		oauth:        cfg.OAuth,
		sessions:     cfg.Sessions,
		messages:     cfg.Messages,
		users:        cfg.Users,
		credentials:  cfg.Credentials,
		log:          cfg.Log,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", s.handleUpsertUser)
		r.Get("/users/{userID}", s.handleGetUser)

		r.Post("/chat", s.handleChat)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/messages", s.handleGetSessionMessages)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
		})

		r.Route("/oauth/google", func(r chi.Router) {
			r.Get("/url", s.handleOAuthURL)
			r.Get("/callback", s.handleOAuthCallback)
		})
	})

	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

// Start starts the HTTP server. It blocks until Stop shuts it down or the
// listener fails.
func (s *Server) Start() error {
	s.log.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError maps a sentinel error from internal/core to an HTTP status.
// Anything that isn't one of the domain's own sentinels is reported as a
// plain "internal error" so internal text never reaches the wire (§7).
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": message})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrThreadNotFound), errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrMissingRequired),
		errors.Is(err, core.ErrInvalidProposal), errors.Is(err, core.ErrAmbiguousIntent),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrAlreadyApproved), errors.Is(err, core.ErrNotPendingApproval), errors.Is(err, core.ErrDuplicateRecord):
		return http.StatusConflict, err.Error()
	case errors.Is(err, core.ErrCredentialsMissing):
		return http.StatusPreconditionFailed, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Handlers ---

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := decodeJSON(r, &in); err != nil || in.ID == "" || in.DisplayName == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	user := core.User{ID: core.UserID(in.ID), DisplayName: in.DisplayName}
	if err := s.users.Upsert(r.Context(), user, in.Email); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := core.UserID(chi.URLParam(r, "userID"))
	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID    string   `json:"user_id"`
		Message   string   `json:"message"`
		FriendIDs []string `json:"friend_ids"`
	}
	if err := decodeJSON(r, &in); err != nil || in.UserID == "" || in.Message == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	friendIDs := make([]core.UserID, 0, len(in.FriendIDs))
	for _, f := range in.FriendIDs {
		friendIDs = append(friendIDs, core.UserID(f))
	}

	reply, err := s.orchestrator.Handle(r.Context(), core.UserID(in.UserID), in.Message, friendIDs)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := core.SessionID(chi.URLParam(r, "sessionID"))
	sess, err := s.sessions.GetByID(sessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := core.SessionID(chi.URLParam(r, "sessionID"))
	msgs, err := s.messages.GetBySession(sessionID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := core.SessionID(chi.URLParam(r, "sessionID"))
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &in); err != nil || in.UserID == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	result, err := s.approval.Approve(r.Context(), sessionID, core.UserID(in.UserID))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	sessionID := core.SessionID(chi.URLParam(r, "sessionID"))
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &in); err != nil || in.UserID == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	if err := s.approval.Reject(r.Context(), sessionID, core.UserID(in.UserID)); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"url": s.oauth.GetAuthURL(userID)})
}

// handleOAuthCallback exchanges the authorization code for a token and
// stores it under the user id carried in state, matching the auth URL's
// state param above.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := core.UserID(r.URL.Query().Get("state"))
	if code == "" || userID == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	token, err := s.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		s.respondError(w, fmt.Errorf("exchange code: %w", err))
		return
	}
	if err := s.credentials.SaveToken(r.Context(), userID, token); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// handleWebSocket upgrades to the per-user real-time channel (§4.7). A
// client reconnecting with ?after=<event id> replays what it missed before
// the connection resumes streaming.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := core.UserID(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.respondError(w, core.ErrInvalidInput)
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondError(w, core.ErrInvalidInput)
			return
		}
		afterID = parsed
	}

	if err := s.hub.ServeWS(w, r, userID, afterID); err != nil {
		s.log.Warn("websocket session ended", zap.String("user_id", string(userID)), zap.Error(err))
	}
}
