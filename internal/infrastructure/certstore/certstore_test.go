package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
)

func newSelfSigned(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "EMPRESA EXEMPLO LTDA:12345678000195",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func newBundle(t *testing.T, passphrase string) []byte {
	t.Helper()
	key, cert := newSelfSigned(t)
	p12, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	require.NoError(t, err)
	return p12
}

func TestExtract(t *testing.T) {
	t.Run("valid bundle", func(t *testing.T) {
		cred, err := Extract(newBundle(t, "1234"), "1234")
		require.NoError(t, err)

		assert.NotNil(t, cred.PrivateKey)
		assert.NotNil(t, cred.Certificate)
		assert.Contains(t, cred.Subject(), "EMPRESA EXEMPLO")
	})

	t.Run("empty bytes", func(t *testing.T) {
		_, err := Extract(nil, "1234")
		assert.ErrorIs(t, err, emission.ErrCertificate)
	})

	t.Run("garbage bytes", func(t *testing.T) {
		_, err := Extract([]byte("definitely not a pkcs12 container"), "1234")
		assert.ErrorIs(t, err, emission.ErrCertificate)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := Extract(newBundle(t, "1234"), "wrong")
		assert.ErrorIs(t, err, emission.ErrCertificate)
	})

	t.Run("certificate without private key", func(t *testing.T) {
		_, cert := newSelfSigned(t)
		trust, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{cert}, "1234")
		require.NoError(t, err)

		_, err = Extract(trust, "1234")
		assert.ErrorIs(t, err, emission.ErrCertificate)
	})
}

func TestCredentialTLSCertificate(t *testing.T) {
	cred, err := Extract(newBundle(t, "s3nh4"), "s3nh4")
	require.NoError(t, err)

	tlsCert := cred.TLSCertificate()
	assert.Equal(t, cred.Certificate.Raw, tlsCert.Certificate[0])
	assert.Equal(t, cred.PrivateKey, tlsCert.PrivateKey)
	assert.NotNil(t, tlsCert.Leaf)
}

func TestCredentialExpired(t *testing.T) {
	cred, err := Extract(newBundle(t, "x"), "x")
	require.NoError(t, err)

	assert.False(t, cred.Expired(time.Now()))
	assert.True(t, cred.Expired(time.Now().Add(48*time.Hour)))
	assert.True(t, cred.Expired(time.Now().Add(-2*time.Hour)))
}

func TestCredentialCertificatePEM(t *testing.T) {
	cred, err := Extract(newBundle(t, "x"), "x")
	require.NoError(t, err)

	pemBytes := cred.CertificatePEM()
	assert.Contains(t, string(pemBytes), "BEGIN CERTIFICATE")
}
