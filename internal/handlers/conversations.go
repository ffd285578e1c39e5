package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
	"github.com/ferrebot/ferrebot-backend/internal/services"
)

// ConversationHandler exposes the operator listing endpoints.
type ConversationHandler struct {
	sessions services.SessionService
	log      *logger.Logger
}

func NewConversationHandler(sessions services.SessionService, baseLog *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		sessions: sessions,
		log:      baseLog.With("handler", "ConversationHandler"),
	}
}

// List serves GET /api/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	filter := repos.ConversationFilter{
		UserID:   strings.TrimSpace(c.Query("user_id")),
		Platform: domain.Platform(strings.TrimSpace(c.Query("platform"))),
		Status:   domain.ConversationStatus(strings.TrimSpace(c.Query("status"))),
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}

	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)
	conversations, err := h.sessions.SearchConversations(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.log.Error("Conversation search failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"page":          page,
		"page_size":     pageSize,
	})
}

// Messages serves GET /api/conversations/:id/messages.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 50)

	messages, err := h.sessions.ListMessages(c.Request.Context(), id, page, pageSize)
	if err != nil {
		h.log.Error("Message listing failed", "conversation_id", id.String(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":  messages,
		"page":      page,
		"page_size": pageSize,
	})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}
