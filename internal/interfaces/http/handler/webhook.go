package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appfiscal "github.com/caixadigital/nfse-gateway/internal/application/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/dto"
)

// maxWebhookBody caps accepted callback bodies
const maxWebhookBody = 1 << 20

// WebhookTokenHeader carries the shared secret on callbacks. Providers that
// cannot set headers may use the token query parameter instead.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookHandler receives asynchronous provider callbacks
type WebhookHandler struct {
	BaseHandler
	webhooks *appfiscal.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhooks *appfiscal.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// RegisterRoutes registers webhook routes. These are unauthenticated at the
// middleware level; the shared webhook token is the credential.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/nfse", h.Receive)
	rg.GET("/webhooks/nfse", h.Liveness)
}

// Liveness answers provider endpoint checks. Some gateways probe the
// callback URL with a GET before accepting it.
func (h *WebhookHandler) Liveness(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Receive handles one provider callback. Processed callbacks always return
// 200, including stale re-deliveries, so providers stop retrying.
func (h *WebhookHandler) Receive(c *gin.Context) {
	token := c.GetHeader(WebhookTokenHeader)
	if token == "" {
		token = c.Query("token")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.BadRequest(c, "unreadable body")
		return
	}

	var payload appfiscal.WebhookPayload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "malformed callback payload")
		return
	}
	if payload.Reference == "" && payload.Protocol == "" {
		h.BadRequest(c, "callback carries neither reference nor protocol")
		return
	}
	payload.RawBody = string(body)

	result, err := h.webhooks.HandleCallback(c.Request.Context(), token, payload)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "no invoice matches the callback")
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
