package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/agribot/internal/dispatch"
	"github.com/ashureev/agribot/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame types exchanged over the socket.
const (
	FrameMessage = "message"
	FrameReset   = "reset"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameTyping  = "typing"
	FrameReply   = "reply"
	FrameError   = "error"
)

// Frame is one JSON message in either direction.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Intent  string `json:"intent,omitempty"`
	State   string `json:"state,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Dispatcher runs one exchange for a session.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID, message string) dispatch.Result
}

// SessionResetter clears a session's history.
type SessionResetter interface {
	Logout(ctx context.Context, sessionID string) error
}

// Handler upgrades /ws/chat requests and runs one read loop per connection.
// Exchanges on one connection are handled in order; connections for different
// sessions run concurrently.
type Handler struct {
	dispatcher    Dispatcher
	sessions      SessionResetter
	registry      *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(d Dispatcher, sessions SessionResetter, registry *Registry, allowedOrigin string, isDev bool) *Handler {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{
		dispatcher:    d,
		sessions:      sessions,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.ChatSessionID(r.Context())
	if sessionID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.registry.Register(sessionID, ws)
	defer h.registry.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID)
	slog.Info("Chat socket ended", "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		var in Frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		switch in.Type {
		case FrameMessage:
			message := strings.TrimSpace(in.Content)
			if message == "" {
				h.write(ws, Frame{Type: FrameError, Content: "message is required"})
				continue
			}
			h.write(ws, Frame{Type: FrameTyping})
			res := h.dispatcher.Handle(ctx, sessionID, message)
			for _, reply := range res.Replies {
				out := Frame{Type: FrameReply, Content: reply, Intent: res.Intent.String(), State: string(res.State)}
				if !res.OK() {
					out.Kind = res.Kind.String()
				}
				if !h.write(ws, out) {
					return
				}
			}
		case FrameReset:
			if err := h.sessions.Logout(ctx, sessionID); err != nil {
				slog.Error("Failed to reset session", "session_id", sessionID, "error", err)
				h.write(ws, Frame{Type: FrameError, Content: "failed to clear session"})
				continue
			}
			h.write(ws, Frame{Type: FrameReset})
		case FramePing:
			h.write(ws, Frame{Type: FramePong})
		default:
			h.write(ws, Frame{Type: FrameError, Content: "unknown frame type"})
		}
	}
}

func (h *Handler) write(ws *websocket.Conn, f Frame) bool {
	if err := wsjson.Write(context.Background(), ws, f); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", f.Type)
		return false
	}
	return true
}
