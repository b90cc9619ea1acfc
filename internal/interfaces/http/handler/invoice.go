package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appfiscal "github.com/caixadigital/nfse-gateway/internal/application/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/dto"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/middleware"
)

// InvoiceHandler exposes the invoice lifecycle API
type InvoiceHandler struct {
	BaseHandler
	emitter *appfiscal.EmissionService
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(emitter *appfiscal.EmissionService) *InvoiceHandler {
	return &InvoiceHandler{emitter: emitter}
}

// RegisterRoutes registers invoice routes
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	invoices := rg.Group("/invoices")
	invoices.Use(middleware.TenantRequired())
	{
		invoices.POST("", h.Create)
		invoices.GET("/:id", h.Get)
		invoices.POST("/:id/emit", h.Emit)
		invoices.POST("/:id/cancel", h.Cancel)
		invoices.GET("/:id/events", h.ListEvents)
		invoices.GET("/:id/document", h.Document)
	}
}

// Create creates a draft invoice
func (h *InvoiceHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "tenant not resolved")
		return
	}

	var req appfiscal.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}

	invoice, err := h.emitter.CreateInvoice(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, invoice)
}

// Get returns one invoice
func (h *InvoiceHandler) Get(c *gin.Context) {
	tenantID, invoiceID, ok := h.scope(c)
	if !ok {
		return
	}

	invoice, err := h.emitter.GetInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, invoice)
}

// Emit queues the invoice for emission
func (h *InvoiceHandler) Emit(c *gin.Context) {
	tenantID, invoiceID, ok := h.scope(c)
	if !ok {
		return
	}

	invoice, err := h.emitter.RequestEmission(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(invoice))
}

// CancelRequest carries the mandatory cancellation reason
type CancelRequest struct {
	Reason string `json:"reason" binding:"required,min=15,max=255"`
}

// Cancel requests cancellation of an authorized invoice
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	tenantID, invoiceID, ok := h.scope(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}

	invoice, err := h.emitter.RequestCancellation(c.Request.Context(), tenantID, invoiceID, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, invoice)
}

// ListEvents returns the invoice lifecycle trail
func (h *InvoiceHandler) ListEvents(c *gin.Context) {
	tenantID, invoiceID, ok := h.scope(c)
	if !ok {
		return
	}

	events, err := h.emitter.ListEvents(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, events)
}

// Document streams the DANFSe PDF
func (h *InvoiceHandler) Document(c *gin.Context) {
	tenantID, invoiceID, ok := h.scope(c)
	if !ok {
		return
	}

	document, err := h.emitter.FetchDocument(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if document == nil {
		h.NotFound(c, "document not available yet")
		return
	}
	c.Data(http.StatusOK, "application/pdf", document)
}

func (h *InvoiceHandler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "tenant not resolved")
		return uuid.Nil, uuid.Nil, false
	}
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid invoice id")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, invoiceID, true
}
