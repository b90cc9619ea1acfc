package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContext(t *testing.T) {
	logger := zap.NewNop()

	ctx := WithContext(context.Background(), logger)

	assert.Equal(t, logger, FromContext(ctx))
}

func TestFromContextMissingLogger(t *testing.T) {
	retrieved := FromContext(context.Background())
	assert.NotNil(t, retrieved, "missing logger must yield a usable no-op logger")
}

func TestContextCorrelationIDs(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithTenantID(ctx, "tenant-1")

	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Equal(t, "tenant-1", GetTenantID(ctx))
}

func TestContextCorrelationIDsAbsent(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	assert.Empty(t, GetTenantID(context.Background()))
}

func TestLEnrichesWithContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ctx := WithContext(context.Background(), zap.New(core))
	ctx = ContextWithRequestID(ctx, "req-9")
	ctx = ContextWithTenantID(ctx, "tenant-9")

	L(ctx).Info("emission dispatched")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "tenant-9", fields["tenant_id"])
}

func TestLWithEmptyContext(t *testing.T) {
	assert.NotPanics(t, func() {
		L(context.Background()).Info("no correlation")
	})
}
