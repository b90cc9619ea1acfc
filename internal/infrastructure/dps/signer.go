package dps

import (
	"crypto"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/certstore"
)

// Sign produces the enveloped XMLDSIG signature over the element carrying
// referenceID and appends it to the document root. Fixed by the national
// layout: REC canonicalization, SHA-256 digest, RSA-SHA256 signature, and a
// signature namespace emitted without a prefix — the receiving authority
// rejects prefixed signature elements.
//
// When referenceID is empty the target element is auto-detected by scanning
// for the first Id attribute, so callers can sign documents they did not
// build themselves.
func Sign(doc *etree.Document, cred *certstore.Credential, referenceID string) (string, error) {
	if doc == nil || doc.Root() == nil {
		return "", fmt.Errorf("%w: document has no root element", emission.ErrSignature)
	}
	if cred == nil {
		return "", fmt.Errorf("%w: missing signing credential", emission.ErrCertificate)
	}

	root := doc.Root()
	target := findReferenceTarget(root, referenceID)
	if target == nil {
		return "", fmt.Errorf("%w: no element with an Id attribute to sign", emission.ErrSignature)
	}

	keyStore := dsig.TLSCertKeyStore(cred.TLSCertificate())
	ctx := dsig.NewDefaultSigningContext(keyStore)
	ctx.Hash = crypto.SHA256
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	ctx.IdAttribute = "Id"
	ctx.Prefix = ""

	sig, err := ctx.ConstructSignature(target, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", emission.ErrSignature, err)
	}
	root.AddChild(sig)

	signed, err := Serialize(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", emission.ErrSignature, err)
	}
	return signed, nil
}

// findReferenceTarget locates the element the signature references: the one
// whose Id attribute equals referenceID, or the first element carrying an
// Id attribute when referenceID is empty.
func findReferenceTarget(root *etree.Element, referenceID string) *etree.Element {
	var found *etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if found != nil {
			return
		}
		if attr := el.SelectAttr("Id"); attr != nil {
			if referenceID == "" || attr.Value == referenceID {
				found = el
				return
			}
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(root)
	return found
}
