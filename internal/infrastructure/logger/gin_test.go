package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func accessLogEntry(t *testing.T, recorded *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	for _, entry := range recorded.All() {
		if entry.Message == "request completed" {
			return entry
		}
	}
	t.Fatal("no access log entry recorded")
	return observer.LoggedEntry{}
}

func entryFields(entry observer.LoggedEntry) map[string]zapcore.Field {
	fields := make(map[string]zapcore.Field, len(entry.Context))
	for _, field := range entry.Context {
		fields[field.Key] = field
	}
	return fields
}

func TestGinMiddlewareLogsCompletedRequest(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	engine := gin.New()
	engine.Use(GinMiddleware(zap.New(core)))
	engine.GET("/api/v1/invoices/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/abc", nil)
	engine.ServeHTTP(w, req)

	entry := accessLogEntry(t, recorded)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entryFields(entry)
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "latency")
	assert.Contains(t, fields, "client_ip")
	assert.Contains(t, fields, "body_size")
}

func TestGinMiddlewareLevelsByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  zapcore.Level
	}{
		{"success is info", http.StatusAccepted, zapcore.InfoLevel},
		{"client error is warn", http.StatusUnprocessableEntity, zapcore.WarnLevel},
		{"server error is error", http.StatusBadGateway, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.InfoLevel)
			engine := gin.New()
			engine.Use(GinMiddleware(zap.New(core)))
			engine.POST("/emit", func(c *gin.Context) {
				c.JSON(tt.status, gin.H{})
			})

			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/emit", nil))

			assert.Equal(t, tt.level, accessLogEntry(t, recorded).Level)
		})
	}
}

func TestGinMiddlewareCarriesRequestAndTenantIDs(t *testing.T) {
	tenantID := uuid.New()

	core, recorded := observer.New(zapcore.InfoLevel)
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set("request_id", "req-abc")
		c.Set("tenant_id", tenantID)
		c.Next()
	})
	engine.Use(GinMiddleware(zap.New(core)))
	engine.GET("/invoices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices?status=AUTHORIZED", nil))

	entry := accessLogEntry(t, recorded)
	fields := entryFields(entry)
	assert.Equal(t, "req-abc", fields["request_id"].String)
	assert.Equal(t, tenantID.String(), fields["tenant_id"].String)
	assert.Contains(t, fields["query"].String, "status=AUTHORIZED")
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	core, recorded := observer.New(zapcore.ErrorLevel)
	engine := gin.New()
	engine.Use(Recovery(zap.New(core)))
	engine.GET("/boom", func(c *gin.Context) {
		panic("certificate store unavailable")
	})

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	logs := recorded.All()
	require.NotEmpty(t, logs)
	assert.Equal(t, "panic recovered", logs[0].Message)
}

func TestGetGinLogger(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)

	var inHandler *zap.Logger
	engine := gin.New()
	engine.Use(GinMiddleware(zap.New(core)))
	engine.GET("/ok", func(c *gin.Context) {
		inHandler = GetGinLogger(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.NotNil(t, inHandler)
}

func TestGetGinLoggerWithoutMiddleware(t *testing.T) {
	var inHandler *zap.Logger
	engine := gin.New()
	engine.GET("/bare", func(c *gin.Context) {
		inHandler = GetGinLogger(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bare", nil))

	require.NotNil(t, inHandler)
	assert.NotPanics(t, func() {
		inHandler.Info("still usable")
	})
}
