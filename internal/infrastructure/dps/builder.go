// Package dps builds and signs the DPS document submitted to the national
// NFS-e system. The builder is a pure transformation from invoice + issuer
// to an XML tree; element order follows the national layout and is load
// bearing, the receiving authority hard-rejects reordered documents.
package dps

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// Namespace is the national NFS-e schema namespace. It is declared without
// a prefix on the root element.
const Namespace = "http://www.sped.fazenda.gov.br/nfse"

// DocumentID derives the DPS id from immutable invoice fields:
// "DPS" + CNPJ (14) + series (5, zero padded) + number (15, zero padded).
// The same inputs always produce the same id; it doubles as the signature
// reference target.
func DocumentID(cnpj, series string, number int64) string {
	return fmt.Sprintf("DPS%s%05s%015d", DigitsOnly(cnpj), DigitsOnly(series), number)
}

// DigitsOnly strips formatting punctuation from tax identifiers.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Build produces the DPS document tree for an invoice. It is deterministic
// and touches no I/O.
func Build(inv *fiscal.Invoice, issuer *fiscal.Issuer) (*etree.Document, string, error) {
	if inv == nil || issuer == nil {
		return nil, "", fmt.Errorf("dps: invoice and issuer are required")
	}
	cnpj := DigitsOnly(issuer.CNPJ)
	if len(cnpj) != 14 {
		return nil, "", fmt.Errorf("dps: issuer CNPJ must have 14 digits, got %q", issuer.CNPJ)
	}

	docID := DocumentID(cnpj, inv.RPSSeries, inv.RPSNumber)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("DPS")
	root.CreateAttr("xmlns", Namespace)

	infDPS := root.CreateElement("infDPS")
	infDPS.CreateAttr("Id", docID)

	addIdentification(infDPS, inv)
	addIssuer(infDPS, issuer, cnpj)
	addRecipient(infDPS, inv)
	addService(infDPS, inv)
	addAmounts(infDPS, inv)
	addIBSCBS(infDPS, inv)

	return doc, docID, nil
}

// Serialize renders the document without extra indentation. Whitespace
// changes would break the signature digest, so output is byte-stable.
func Serialize(doc *etree.Document) (string, error) {
	doc.Indent(etree.NoIndent)
	return doc.WriteToString()
}

func addIdentification(parent *etree.Element, inv *fiscal.Invoice) {
	ident := parent.CreateElement("Id")
	subText(ident, "cLocEmi", inv.ServiceCityIBGE)
	subText(ident, "dhEmi", inv.IssueDate.Format(time.RFC3339))
	subText(ident, "serie", fmt.Sprintf("%05s", DigitsOnly(inv.RPSSeries)))
	subText(ident, "nDPS", fmt.Sprintf("%015d", inv.RPSNumber))
	if inv.Environment == fiscal.EnvironmentProduction {
		subText(ident, "tpAmb", "1")
	} else {
		subText(ident, "tpAmb", "2")
	}
	// Tipo de emissão: 1 = normal
	subText(ident, "tpEmit", "1")
}

func addIssuer(parent *etree.Element, issuer *fiscal.Issuer, cnpj string) {
	prest := parent.CreateElement("prest")
	subText(prest, "CNPJ", cnpj)
	subText(prest, "IM", issuer.MunicipalRegistry)
	subText(prest, "xNome", issuer.LegalName)

	end := prest.CreateElement("end")
	subText(end, "xLgr", issuer.Street)
	if issuer.Number != "" {
		subText(end, "nro", issuer.Number)
	} else {
		subText(end, "nro", "S/N")
	}
	subText(end, "xBairro", issuer.District)
	subText(end, "cMun", issuer.CityIBGE)
	subText(end, "UF", issuer.State)
	subText(end, "CEP", DigitsOnly(issuer.ZipCode))

	// Regime marker only for opting issuers; an empty-but-present group is
	// rejected by the schema.
	if issuer.SimplifiedRegime {
		reg := prest.CreateElement("regTrib")
		subText(reg, "opSimpNac", "1")
	}
}

// addRecipient emits the toma block only when the recipient carries a valid
// CPF (11 digits) or CNPJ (14 digits). No block at all beats an empty one.
func addRecipient(parent *etree.Element, inv *fiscal.Invoice) {
	doc := DigitsOnly(inv.CustomerDoc)
	if len(doc) != 11 && len(doc) != 14 {
		return
	}

	toma := parent.CreateElement("toma")
	if len(doc) == 14 {
		subText(toma, "CNPJ", doc)
	} else {
		subText(toma, "CPF", doc)
	}
	subText(toma, "xNome", inv.CustomerName)
	if inv.CustomerMail != "" {
		subText(toma, "email", inv.CustomerMail)
	}
}

func addService(parent *etree.Element, inv *fiscal.Invoice) {
	serv := parent.CreateElement("serv")
	subText(serv, "cServ", inv.ServiceCode)
	subText(serv, "xDescServ", inv.Description)
	subText(serv, "cMunPrestacao", inv.ServiceCityIBGE)
}

func addAmounts(parent *etree.Element, inv *fiscal.Invoice) {
	vals := parent.CreateElement("valores")
	subDecimal(vals, "vServPrest", inv.ServiceAmount)
	subDecimal(vals, "vDeducao", inv.DeductionAmount)
	subDecimal(vals, "vBC", inv.CalcBase)
	subDecimal(vals, "pAliqISS", inv.ISSRate)
	subDecimal(vals, "vISS", inv.ISSAmount)
	if inv.ISSWithheld {
		subText(vals, "tpRetISS", "1")
	} else {
		subText(vals, "tpRetISS", "2")
	}

	// Federal withholding lines only when non-zero
	if inv.PISAmount.IsPositive() {
		subDecimal(vals, "vPIS", inv.PISAmount)
	}
	if inv.COFINSAmount.IsPositive() {
		subDecimal(vals, "vCOFINS", inv.COFINSAmount)
	}
	if inv.INSSAmount.IsPositive() {
		subDecimal(vals, "vINSS", inv.INSSAmount)
	}
	if inv.IRAmount.IsPositive() {
		subDecimal(vals, "vIR", inv.IRAmount)
	}
	if inv.CSLLAmount.IsPositive() {
		subDecimal(vals, "vCSLL", inv.CSLLAmount)
	}

	subDecimal(vals, "vLiq", inv.NetAmount)
}

func addIBSCBS(parent *etree.Element, inv *fiscal.Invoice) {
	if !inv.CBSAmount.IsPositive() && !inv.IBSAmount.IsPositive() {
		return
	}
	grupo := parent.CreateElement("IBSCBS")
	subDecimal(grupo, "vCBS", inv.CBSAmount)
	subDecimal(grupo, "vIBS", inv.IBSAmount)
}

func subText(parent *etree.Element, tag, text string) {
	parent.CreateElement(tag).SetText(text)
}

func subDecimal(parent *etree.Element, tag string, v decimal.Decimal) {
	parent.CreateElement(tag).SetText(v.StringFixed(2))
}
