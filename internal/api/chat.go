package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/agribot/internal/dispatch"
	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Dispatcher runs one exchange for a session.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID, message string) dispatch.Result
	Deadline() time.Duration
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse reports the replies committed for one exchange.
type ChatResponse struct {
	Replies  []string `json:"replies"`
	Intent   string   `json:"intent"`
	State    string   `json:"state"`
	Kind     string   `json:"kind,omitempty"`
	Location string   `json:"location,omitempty"`
}

// NewChatResponse converts a dispatch result for the wire.
func NewChatResponse(res dispatch.Result) ChatResponse {
	out := ChatResponse{
		Replies:  res.Replies,
		Intent:   res.Intent.String(),
		State:    string(res.State),
		Location: res.Location,
	}
	if !res.OK() {
		out.Kind = res.Kind.String()
	}
	return out
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Turns []domain.Turn `json:"turns"`
}

// LocationRequest is the body of PUT /api/session/location.
type LocationRequest struct {
	Location string `json:"location"`
}

// ChatHandler serves the web chat endpoints.
type ChatHandler struct {
	*Handler
	dispatcher  Dispatcher
	rateLimiter *RateLimiter
	onLogout    func(sessionID string)
}

// NewChatHandler creates a chat handler. The rate limit comes from cfg when set.
func NewChatHandler(base *Handler, d Dispatcher) *ChatHandler {
	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if base.cfg != nil {
		rateLimitRequests = base.cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = base.cfg.RateLimit.WindowDuration
	}
	return &ChatHandler{
		Handler:     base,
		dispatcher:  d,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
	}
}

// SetLogoutHook registers fn to run after a session is cleared, e.g. to tell
// an open WebSocket for the same tab.
func (h *ChatHandler) SetLogoutHook(fn func(sessionID string)) {
	h.onLogout = fn
}

// Close stops background work owned by the handler.
func (h *ChatHandler) Close() {
	h.rateLimiter.Stop()
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/history", h.GetHistory)
		r.Delete("/session", h.DeleteSession)
		r.Put("/session/location", h.SetLocation)
		r.Get("/config", h.GetConfig)
	})
}

// HandleChat handles POST /api/chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ChatSessionID(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(identity.UserIDFromContext(r.Context())) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("Chat request",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
		"ip", identity.IPFromRequest(r),
	)

	// An exchange may wait behind earlier requests for the same session and a
	// breakdown makes two bounded calls, so the server-wide write timeout
	// does not apply here. The request context still ends the wait.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("Write deadline not cleared", "session_id", sessionID, "error", err)
	}

	res := h.dispatcher.Handle(r.Context(), sessionID, req.Message)
	JSON(w, http.StatusOK, NewChatResponse(res))
}

// GetHistory handles GET /api/history.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ChatSessionID(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	turns, err := h.sessions.History(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, HistoryResponse{Turns: turns})
}

// DeleteSession handles DELETE /api/session (logout).
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ChatSessionID(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessions.Logout(r.Context(), sessionID); err != nil {
		slog.Error("Failed to log out session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	if h.onLogout != nil {
		h.onLogout(sessionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetLocation handles PUT /api/session/location.
func (h *ChatHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ChatSessionID(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req LocationRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		Error(w, http.StatusBadRequest, "location is required")
		return
	}

	if err := h.sessions.SetDefaultLocation(r.Context(), sessionID, location); err != nil {
		slog.Error("Failed to set default location", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to set location")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"location": location})
}

// GetConfig returns the server configuration for the frontend.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"deadline_seconds": int64(h.dispatcher.Deadline().Seconds()),
	}
	if h.cfg != nil {
		resp["default_location"] = h.cfg.DefaultLocation
		resp["store"] = h.cfg.Store.Driver
		resp["telegram_enabled"] = h.cfg.TelegramToken != ""
	}
	JSON(w, http.StatusOK, resp)
}
