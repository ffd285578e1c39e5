package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
)

const signatureHeader = "X-Ferrebot-Signature"

type WebhookHandler struct {
	pending repos.PendingChangeRepo
	secret  []byte
	log     *logger.Logger
}

func NewWebhookHandler(pending repos.PendingChangeRepo, secret string, baseLog *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		pending: pending,
		secret:  []byte(secret),
		log:     baseLog.With("handler", "WebhookHandler"),
	}
}

type webhookPayload struct {
	Kind    string          `json:"kind"`
	Op      string          `json:"op"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Catalog serves POST /webhooks/catalog: verify the HMAC, enqueue, 202.
// Processing happens on the change worker, never on the request path.
func (h *WebhookHandler) Catalog(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !h.verifySignature(raw, c.GetHeader(signatureHeader)) {
		h.log.Warn("Webhook signature rejected", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	kind := domain.RecordKind(strings.TrimSpace(payload.Kind))
	op := domain.ChangeOp(strings.TrimSpace(payload.Op))
	if payload.ID == "" || !kind.Valid() || (op != domain.ChangeOpUpsert && op != domain.ChangeOpDelete) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind, op and id are required"})
		return
	}

	change := &domain.PendingChange{
		Kind:       kind,
		UpstreamID: payload.ID,
		Op:         op,
		Payload:    []byte(payload.Payload),
	}
	if err := h.pending.Enqueue(c.Request.Context(), change); err != nil {
		h.log.Error("Webhook enqueue failed", "upstream_id", payload.ID, "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if len(h.secret) == 0 {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
