package dps

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/certstore"
)

func testCredential(t *testing.T) *certstore.Credential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "EMPRESA EXEMPLO LTDA:12345678000195"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	p12, err := pkcs12.Modern.Encode(key, cert, nil, "1234")
	require.NoError(t, err)

	cred, err := certstore.Extract(p12, "1234")
	require.NoError(t, err)
	return cred
}

func signedDocument(t *testing.T, cred *certstore.Credential) (string, string) {
	t.Helper()
	doc, docID, err := Build(testInvoice(t), testIssuer())
	require.NoError(t, err)

	signed, err := Sign(doc, cred, docID)
	require.NoError(t, err)
	return signed, docID
}

func validate(t *testing.T, signedXML string, cred *certstore.Credential) error {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(signedXML))

	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cred.Certificate},
	})
	ctx.IdAttribute = "Id"
	_, err := ctx.Validate(doc.Root())
	return err
}

func TestSign(t *testing.T) {
	cred := testCredential(t)

	t.Run("signature verifies against the certificate", func(t *testing.T) {
		signed, _ := signedDocument(t, cred)
		assert.NoError(t, validate(t, signed, cred))
	})

	t.Run("signing twice yields two verifiable signatures", func(t *testing.T) {
		signedA, _ := signedDocument(t, cred)
		signedB, _ := signedDocument(t, cred)

		assert.NoError(t, validate(t, signedA, cred))
		assert.NoError(t, validate(t, signedB, cred))
	})

	t.Run("reference URI points at the document id", func(t *testing.T) {
		signed, docID := signedDocument(t, cred)

		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromString(signed))
		ref := doc.Root().FindElement("//Reference")
		require.NotNil(t, ref)
		assert.Equal(t, "#"+docID, ref.SelectAttrValue("URI", ""))
	})

	t.Run("signature namespace has no prefix", func(t *testing.T) {
		signed, _ := signedDocument(t, cred)

		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromString(signed))
		sig := doc.Root().FindElement("//Signature")
		require.NotNil(t, sig)
		assert.Empty(t, sig.Space)
		assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#", sig.SelectAttrValue("xmlns", ""))
	})

	t.Run("auto-detects the reference id", func(t *testing.T) {
		doc, docID, err := Build(testInvoice(t), testIssuer())
		require.NoError(t, err)

		signed, err := Sign(doc, cred, "")
		require.NoError(t, err)

		parsed := etree.NewDocument()
		require.NoError(t, parsed.ReadFromString(signed))
		ref := parsed.Root().FindElement("//Reference")
		require.NotNil(t, ref)
		assert.Equal(t, "#"+docID, ref.SelectAttrValue("URI", ""))
	})

	t.Run("fails without any Id attribute", func(t *testing.T) {
		doc := etree.NewDocument()
		doc.CreateElement("plain").CreateElement("child")

		_, err := Sign(doc, cred, "")
		assert.ErrorIs(t, err, emission.ErrSignature)
	})

	t.Run("fails without a credential", func(t *testing.T) {
		doc, _, err := Build(testInvoice(t), testIssuer())
		require.NoError(t, err)

		_, err = Sign(doc, nil, "")
		assert.ErrorIs(t, err, emission.ErrCertificate)
	})
}
