// Package certstore extracts signing material from tenant PKCS#12 bundles.
// Decrypted key material lives only inside a Credential value for the
// duration of one signing or mTLS operation; nothing is ever written to
// disk.
package certstore

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
)

// Credential holds the decoded contents of a PKCS#12 bundle.
type Credential struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// Extract decodes a PKCS#12 container. It fails with ErrCertificate when the
// bytes are not a valid container, the passphrase is wrong, or the container
// lacks either a private key or a leaf certificate.
func Extract(p12 []byte, passphrase string) (*Credential, error) {
	if len(p12) == 0 {
		return nil, fmt.Errorf("%w: empty certificate bundle", emission.ErrCertificate)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(p12, passphrase)
	if err != nil {
		if err == pkcs12.ErrIncorrectPassword {
			return nil, fmt.Errorf("%w: incorrect passphrase", emission.ErrCertificate)
		}
		return nil, fmt.Errorf("%w: %v", emission.ErrCertificate, err)
	}
	if leaf == nil {
		return nil, fmt.Errorf("%w: bundle has no certificate", emission.ErrCertificate)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: bundle has no private key", emission.ErrCertificate)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", emission.ErrCertificate)
	}

	return &Credential{
		PrivateKey:  rsaKey,
		Certificate: leaf,
		Chain:       chain,
	}, nil
}

// TLSCertificate assembles the in-memory client certificate used for
// mutual-TLS connections. No key file touches the filesystem.
func (c *Credential) TLSCertificate() tls.Certificate {
	certChain := [][]byte{c.Certificate.Raw}
	for _, ca := range c.Chain {
		certChain = append(certChain, ca.Raw)
	}
	return tls.Certificate{
		Certificate: certChain,
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// CertificatePEM returns the leaf certificate PEM-encoded.
func (c *Credential) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Certificate.Raw})
}

// Expired reports whether the leaf certificate is outside its validity
// window at the given instant.
func (c *Credential) Expired(now time.Time) bool {
	return now.Before(c.Certificate.NotBefore) || now.After(c.Certificate.NotAfter)
}

// Subject returns the certificate subject common name, typically the legal
// name and CNPJ of the holder.
func (c *Credential) Subject() string {
	return c.Certificate.Subject.CommonName
}
