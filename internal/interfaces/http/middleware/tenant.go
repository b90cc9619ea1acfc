package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caixadigital/nfse-gateway/internal/infrastructure/logger"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/dto"
)

const (
	// TenantIDKey is the gin context key for the resolved tenant ID
	TenantIDKey = "tenant_id"
	// TenantHeaderKey is the header carrying the tenant ID
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantRequired resolves the tenant from the X-Tenant-ID header and aborts
// with 401 when it is missing or malformed. Webhook routes authenticate by
// shared token instead and do not use this middleware.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantHeaderKey)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "tenant header missing"))
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "tenant header malformed"))
			return
		}
		c.Set(TenantIDKey, tenantID)

		ctx := logger.ContextWithTenantID(c.Request.Context(), tenantID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetTenantID extracts the tenant ID set by TenantRequired
func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(TenantIDKey)
	if !exists {
		return uuid.Nil, false
	}
	tenantID, ok := value.(uuid.UUID)
	return tenantID, ok
}
