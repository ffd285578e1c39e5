package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/realtime"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
	"github.com/ferrebot/ferrebot-backend/internal/services"
)

const maxReconnectFlush = 50

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser storefront widgets connect from the shop's own origin;
	// CORS policy is enforced at the router level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type ChatHandler struct {
	sessions services.SessionService
	chat     services.ChatService
	messages repos.MessageRepo
	hub      *realtime.Hub
	log      *logger.Logger
}

func NewChatHandler(sessions services.SessionService, chat services.ChatService, messages repos.MessageRepo, hub *realtime.Hub, baseLog *logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		chat:     chat,
		messages: messages,
		hub:      hub,
		log:      baseLog.With("handler", "ChatHandler"),
	}
}

// WebSocket serves GET /ws/chat/:client_id.
func (h *ChatHandler) WebSocket(c *gin.Context) {
	clientID := strings.TrimSpace(c.Param("client_id"))
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id required"})
		return
	}
	platform := parsePlatform(c.Query("platform"))
	locale := strings.TrimSpace(c.Query("locale"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}
	conn := realtime.NewConn(ws, h.log)
	go conn.WritePump()

	conv, resumed, err := h.sessions.BeginOrResume(c.Request.Context(), clientID, platform, locale, time.Now().UTC())
	if err != nil {
		h.log.Error("Session begin failed", "client_id", clientID, "error", err.Error())
		conn.Send(realtime.ErrorFrame("session_unavailable", "no pudimos iniciar la sesión"))
		conn.Close()
		return
	}

	h.hub.Attach(clientID, platform, conn)
	defer h.hub.Detach(clientID, platform, conn)

	if resumed {
		h.flushUndelivered(c, conv.ID, conn)
	}

	conn.ReadLoop(func(frame realtime.Frame) {
		if frame.Type != realtime.FrameUserMessage {
			conn.Send(realtime.ErrorFrame("unsupported_frame", "unsupported frame type"))
			return
		}
		h.enqueueTurn(clientID, platform, locale, frame, conn)
	})
}

// enqueueTurn runs synchronously on the socket's read loop, so turns
// enter the conversation mailbox in the order frames came off the
// wire. BeginOrResume repeats per message so an idle rollover
// mid-socket opens a fresh conversation.
func (h *ChatHandler) enqueueTurn(clientID string, platform domain.Platform, locale string, frame realtime.Frame, conn *realtime.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, _, err := h.sessions.BeginOrResume(ctx, clientID, platform, locale, time.Now().UTC())
	if err != nil {
		conn.Send(realtime.ErrorFrame("session_unavailable", "no pudimos retomar la sesión"))
		return
	}

	// The reply frame itself arrives through the hub notifier; only
	// failures are reported back on this socket.
	err = h.chat.Enqueue(conv, frame.Text, func(_ *domain.Message, err error) {
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrOverload):
			conn.Send(realtime.SystemFrame("Llegaron demasiados mensajes seguidos; el más antiguo fue descartado."))
		default:
			h.log.Error("Turn failed", "client_id", clientID, "error", err.Error())
			conn.Send(realtime.ErrorFrame("turn_failed", "no pudimos procesar tu mensaje, probá de nuevo"))
		}
	})
	if err != nil {
		conn.Send(realtime.ErrorFrame("bad_message", "el mensaje está vacío"))
	}
}

func (h *ChatHandler) flushUndelivered(c *gin.Context, convID uuid.UUID, conn *realtime.Conn) {
	pending, err := h.messages.ListUndelivered(c.Request.Context(), convID, maxReconnectFlush)
	if err != nil {
		h.log.Warn("Undelivered flush failed", "conversation_id", convID.String(), "error", err.Error())
		return
	}
	var delivered []uuid.UUID
	for _, msg := range pending {
		if conn.Send(realtime.AgentFrame(msg)) {
			delivered = append(delivered, msg.ID)
		}
	}
	if len(delivered) > 0 {
		if err := h.messages.MarkDelivered(c.Request.Context(), delivered); err != nil {
			h.log.Warn("Delivered flags not persisted after flush", "error", err.Error())
		}
	}
}

type chatRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Platform string `json:"platform"`
	Locale   string `json:"locale"`
	Text     string `json:"text" binding:"required"`
}

// Post serves POST /api/chat for clients that cannot hold a socket.
func (h *ChatHandler) Post(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and text are required"})
		return
	}

	conv, _, err := h.sessions.BeginOrResume(c.Request.Context(), req.UserID, parsePlatform(req.Platform), req.Locale, time.Now().UTC())
	if err != nil {
		h.log.Error("Session begin failed", "user_id", req.UserID, "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session unavailable"})
		return
	}

	reply, err := h.chat.Submit(c.Request.Context(), conv, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOverload):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many pending messages"})
		case errors.Is(err, domain.ErrInvariant):
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		default:
			h.log.Error("Turn failed", "user_id", req.UserID, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "turn failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message_id": reply.ID,
		"text":       reply.Content,
	})
}

func parsePlatform(raw string) domain.Platform {
	switch domain.Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.PlatformWhatsapp:
		return domain.PlatformWhatsapp
	case domain.PlatformTest:
		return domain.PlatformTest
	default:
		return domain.PlatformWeb
	}
}
