package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/certstore"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/dps"
)

// National API endpoints. The document is submitted gzip-compressed and
// base64-encoded inside a JSON envelope; responses carry the authorized
// NFS-e XML the same way.
const (
	nationalProductionURL = "https://sefin.nfse.gov.br/sefinnacional"
	nationalSandboxURL    = "https://sefin.producaorestrita.nfse.gov.br/sefinnacional"
)

// NationalClient submits signed DPS documents directly to the national
// NFS-e API, authenticating with the tenant's A1 certificate over mTLS.
type NationalClient struct {
	config    *fiscal.BackendConfig
	issuer    *fiscal.Issuer
	transport *Transport
	logger    *zap.Logger
	baseURL   string
}

var _ emission.Client = (*NationalClient)(nil)

// NewNationalClient creates a client bound to one tenant's configuration
// and registration data.
func NewNationalClient(config *fiscal.BackendConfig, issuer *fiscal.Issuer, transport *Transport, logger *zap.Logger) *NationalClient {
	baseURL := nationalSandboxURL
	if config.Environment == fiscal.EnvironmentProduction {
		baseURL = nationalProductionURL
	}
	return &NationalClient{
		config:    config,
		issuer:    issuer,
		transport: transport,
		logger:    logger.Named("portal_nacional"),
		baseURL:   baseURL,
	}
}

// Name implements emission.Client
func (c *NationalClient) Name() string { return emission.BackendNational }

type nationalEmitPayload struct {
	DpsXMLGZipB64 string `json:"dpsXmlGZipB64"`
}

type nationalCancelPayload struct {
	ChNFSe  string `json:"chNFSe"`
	XMotivo string `json:"xMotivo"`
}

type nationalResponse struct {
	NNFSe          string `json:"nNFSe"`
	ChNFSe         string `json:"chNFSe"`
	CVerif         string `json:"cVerif"`
	NProt          string `json:"nProt"`
	Sit            string `json:"sit"`
	URLDanfse      string `json:"urlDanfse"`
	NfseXMLGZipB64 string `json:"nfseXmlGZipB64"`
	PDF            string `json:"pdf"`
	Mensagem       string `json:"mensagem"`
	Message        string `json:"message"`
}

// Emit builds, signs and submits the DPS. The national API answers
// synchronously: a 2xx response is an authorization, a structured error is
// a terminal rejection.
func (c *NationalClient) Emit(ctx context.Context, inv *fiscal.Invoice, issuer *fiscal.Issuer) (*emission.EmissionResult, error) {
	if !c.config.HasCertificate() {
		return nil, fmt.Errorf("%w: no A1 certificate configured", emission.ErrCertificate)
	}

	cred, err := certstore.Extract(c.config.CertificateP12, c.config.CertificatePassphrase)
	if err != nil {
		return nil, err
	}
	if cred.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: certificate outside validity window", emission.ErrCertificate)
	}

	doc, docID, err := dps.Build(inv, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", emission.ErrSignature, err)
	}
	signedXML, err := dps.Sign(doc, cred, docID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(nationalEmitPayload{DpsXMLGZipB64: compressXML(signedXML)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", emission.ErrSignature, err)
	}

	resp, err := c.call(ctx, cred, inv, http.MethodPost, c.baseURL+"/nfse", payload)
	if err != nil {
		return nil, err
	}

	parsed, rawXML := parseNationalResponse(resp.Body)
	if !resp.Success() {
		return &emission.EmissionResult{
			Outcome:    emission.OutcomeRejected,
			RawPayload: string(resp.Body),
			Message:    nationalMessage(parsed, resp.StatusCode),
		}, nil
	}

	return &emission.EmissionResult{
		Outcome:          emission.OutcomeAuthorized,
		NfseNumber:       parsed.NNFSe,
		VerificationCode: parsed.CVerif,
		AccessKey:        parsed.ChNFSe,
		Protocol:         parsed.NProt,
		DocumentURL:      parsed.URLDanfse,
		RawPayload:       rawXML,
		Message:          "NFS-e emitida via Portal Nacional",
	}, nil
}

// Query re-asks the national API for current status, by access key when
// available, by DPS id otherwise.
func (c *NationalClient) Query(ctx context.Context, inv *fiscal.Invoice) (*emission.QueryResult, error) {
	cred, err := certstore.Extract(c.config.CertificateP12, c.config.CertificatePassphrase)
	if err != nil {
		return nil, err
	}

	var url string
	if inv.AccessKey != "" {
		url = c.baseURL + "/nfse/" + inv.AccessKey
	} else {
		docID := dps.DocumentID(c.issuer.CNPJ, inv.RPSSeries, inv.RPSNumber)
		url = c.baseURL + "/nfse/dps/" + docID
	}

	resp, err := c.call(ctx, cred, inv, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	parsed, rawXML := parseNationalResponse(resp.Body)
	if !resp.Success() {
		return &emission.QueryResult{
			RawPayload: string(resp.Body),
			Message:    nationalMessage(parsed, resp.StatusCode),
		}, fmt.Errorf("%w: query returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}

	return &emission.QueryResult{
		Outcome:    queryOutcome(emission.BackendNational, parsed.Sit),
		RawStatus:  parsed.Sit,
		RawPayload: rawXML,
		Message:    "consulta realizada",
	}, nil
}

// Cancel requests cancellation of an authorized NFS-e. The national API
// cancels synchronously.
func (c *NationalClient) Cancel(ctx context.Context, inv *fiscal.Invoice, reason string) (*emission.CancellationResult, error) {
	if inv.AccessKey == "" {
		return nil, fmt.Errorf("%w: no access key for cancellation", emission.ErrProviderRejection)
	}
	cred, err := certstore.Extract(c.config.CertificateP12, c.config.CertificatePassphrase)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(nationalCancelPayload{ChNFSe: inv.AccessKey, XMotivo: reason})
	resp, err := c.call(ctx, cred, inv, http.MethodPost, c.baseURL+"/nfse/"+inv.AccessKey+"/cancelar", payload)
	if err != nil {
		return nil, err
	}

	parsed, _ := parseNationalResponse(resp.Body)
	if !resp.Success() {
		return &emission.CancellationResult{
			RawPayload: string(resp.Body),
			Message:    nationalMessage(parsed, resp.StatusCode),
		}, fmt.Errorf("%w: %s", emission.ErrProviderRejection, nationalMessage(parsed, resp.StatusCode))
	}

	return &emission.CancellationResult{
		Done:       true,
		Protocol:   parsed.NProt,
		RawPayload: string(resp.Body),
		Message:    "NFS-e cancelada via Portal Nacional",
	}, nil
}

// FetchDocument downloads the DANFSe PDF for an authorized invoice.
func (c *NationalClient) FetchDocument(ctx context.Context, inv *fiscal.Invoice) ([]byte, error) {
	if inv.AccessKey == "" {
		return nil, fmt.Errorf("%w: no access key for document download", emission.ErrProviderRejection)
	}
	cred, err := certstore.Extract(c.config.CertificateP12, c.config.CertificatePassphrase)
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, cred, inv, http.MethodGet, c.baseURL+"/danfse/"+inv.AccessKey, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("%w: document download returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}

	parsed, _ := parseNationalResponse(resp.Body)
	if parsed.PDF == "" {
		return nil, fmt.Errorf("%w: response carries no document", emission.ErrProviderRejection)
	}
	pdf, err := base64.StdEncoding.DecodeString(parsed.PDF)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document encoding", emission.ErrProviderRejection)
	}
	return pdf, nil
}

// call executes one audited request over a per-call mTLS client. The
// decrypted key never leaves process memory.
func (c *NationalClient) call(ctx context.Context, cred *certstore.Credential, inv *fiscal.Invoice, method, url string, body []byte) (*Response, error) {
	mtlsClient := &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cred.TLSCertificate()},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}

	invoiceID := inv.ID
	return c.transport.DoWithClient(ctx, mtlsClient, &Request{
		TenantID:  inv.TenantID,
		InvoiceID: &invoiceID,
		Backend:   emission.BackendNational,
		Method:    method,
		URL:       url,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	})
}

// parseNationalResponse decodes the JSON envelope and decompresses the
// returned XML. On decompression failure the raw payload is preserved for
// debugging rather than discarded.
func parseNationalResponse(body []byte) (*nationalResponse, string) {
	parsed := &nationalResponse{}
	if err := json.Unmarshal(body, parsed); err != nil {
		return parsed, string(body)
	}
	if parsed.NfseXMLGZipB64 == "" {
		return parsed, string(body)
	}
	return parsed, decompressXML(parsed.NfseXMLGZipB64)
}

func nationalMessage(parsed *nationalResponse, statusCode int) string {
	if parsed.Mensagem != "" {
		return parsed.Mensagem
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return fmt.Sprintf("Erro HTTP %d", statusCode)
}

// compressXML gzips and base64-encodes a document for the JSON envelope.
func compressXML(xml string) string {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(xml))
	gz.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// decompressXML reverses compressXML; the input is returned untouched when
// it cannot be decoded.
func decompressXML(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return b64
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return b64
	}
	defer gz.Close()
	plain, err := io.ReadAll(gz)
	if err != nil {
		return b64
	}
	return string(plain)
}

// queryOutcome classifies a raw provider status for a query result.
// Unmapped or intermediate words stay PROCESSING; the reconciliation layer
// re-maps RawStatus through the vocabulary for the full lifecycle picture.
func queryOutcome(backend, raw string) emission.Outcome {
	status, ok := emission.MapStatus(backend, raw)
	if !ok {
		return emission.OutcomeProcessing
	}
	switch status {
	case fiscal.StatusAuthorized:
		return emission.OutcomeAuthorized
	case fiscal.StatusRejected:
		return emission.OutcomeRejected
	default:
		return emission.OutcomeProcessing
	}
}
