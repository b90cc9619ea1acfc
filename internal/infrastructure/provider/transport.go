// Package provider implements the gateway clients that submit invoices to
// the national NFS-e API and to the commercial gateway providers, plus the
// audited HTTP transport they all share and the registry that picks the
// client for a tenant.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 30 * time.Second

// Request describes one outbound provider call. Correlation data travels
// explicitly with the request, never through ambient state.
type Request struct {
	TenantID  uuid.UUID
	InvoiceID *uuid.UUID
	Backend   string
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
}

// Response is the raw outcome of an audited call.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Success reports whether the status code is in the 2xx range.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport executes provider HTTP calls and records one write-once audit
// row per call, whatever the outcome. Headers are sanitized and bodies
// truncated before they reach storage.
type Transport struct {
	client *http.Client
	logs   fiscal.APICallLogRepository
	logger *zap.Logger
}

// NewTransport creates the shared audited transport.
func NewTransport(logs fiscal.APICallLogRepository, logger *zap.Logger) *Transport {
	return &Transport{
		client: &http.Client{Timeout: DefaultTimeout},
		logs:   logs,
		logger: logger.Named("transport"),
	}
}

// Do executes the request with the shared HTTP client.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	return t.execute(ctx, t.client, req)
}

// DoWithClient executes the request with a caller-supplied HTTP client.
// The national backend uses this to attach the tenant's mTLS certificate.
func (t *Transport) DoWithClient(ctx context.Context, client *http.Client, req *Request) (*Response, error) {
	return t.execute(ctx, client, req)
}

func (t *Transport) execute(ctx context.Context, client *http.Client, req *Request) (*Response, error) {
	entry := fiscal.NewAPICallLog(req.TenantID, req.InvoiceID, req.Backend, req.Method, req.URL)

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["X-Request-ID"] = entry.RequestID.String()

	entry.RequestHeaders = fiscal.SanitizeHeaders(headers)
	entry.RequestBody = fiscal.TruncateBody(string(req.Body))

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", emission.ErrCommunication, err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	entry.Duration = time.Since(start)

	if err != nil {
		entry.Success = false
		entry.Error = err.Error()
		t.persist(ctx, entry)
		t.logger.Error("provider call failed",
			zap.String("backend", req.Backend),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.String("request_id", entry.RequestID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s %s: %v", emission.ErrCommunication, req.Method, req.URL, err)
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(httpResp.Body)

	respHeaders := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		respHeaders[k] = httpResp.Header.Get(k)
	}

	entry.StatusCode = httpResp.StatusCode
	entry.ResponseHeaders = fiscal.SanitizeHeaders(respHeaders)
	entry.ResponseBody = fiscal.TruncateBody(string(body))
	entry.Success = httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	if readErr != nil {
		entry.Success = false
		entry.Error = readErr.Error()
	}
	t.persist(ctx, entry)

	t.logger.Info("provider call",
		zap.String("backend", req.Backend),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", entry.Duration),
		zap.String("request_id", entry.RequestID.String()),
	)

	if readErr != nil {
		return nil, fmt.Errorf("%w: reading response: %v", emission.ErrCommunication, readErr)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    respHeaders,
		Body:       body,
	}, nil
}

// persist writes the audit row. Audit failures are logged, never allowed to
// mask the provider call's own outcome.
func (t *Transport) persist(ctx context.Context, entry *fiscal.APICallLog) {
	if t.logs == nil {
		return
	}
	if err := t.logs.Create(ctx, entry); err != nil {
		t.logger.Error("failed to persist api call log",
			zap.String("request_id", entry.RequestID.String()),
			zap.Error(err),
		)
	}
}
