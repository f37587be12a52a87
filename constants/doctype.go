package constants

import "strings"

// DocType classifies a financial document. The type drives which extraction
// schema is sent alongside the parsed text.
type DocType string

const (
	DocTypeInvoice       DocType = "INVOICE"
	DocTypeReceipt       DocType = "RECEIPT"
	DocTypeBankStatement DocType = "BANK_STATEMENT"
	DocTypeContract      DocType = "CONTRACT"
	DocTypeTaxForm       DocType = "TAX_FORM"
	DocTypeOther         DocType = "OTHER"
)

var allDocTypes = []DocType{
	DocTypeInvoice,
	DocTypeReceipt,
	DocTypeBankStatement,
	DocTypeContract,
	DocTypeTaxForm,
	DocTypeOther,
}

// AsStringSlice returns all document types as strings, e.g. for schema enums.
func AsStringSlice() []string {
	out := make([]string, 0, len(allDocTypes))
	for _, t := range allDocTypes {
		out = append(out, string(t))
	}
	return out
}

// docTypeSynonyms maps lowercase tokens commonly seen in filenames or user
// input to a canonical type.
var docTypeSynonyms = map[string]DocType{
	"invoice":        DocTypeInvoice,
	"inv":            DocTypeInvoice,
	"bill":           DocTypeInvoice,
	"receipt":        DocTypeReceipt,
	"rcpt":           DocTypeReceipt,
	"statement":      DocTypeBankStatement,
	"bank_statement": DocTypeBankStatement,
	"bank-statement": DocTypeBankStatement,
	"stmt":           DocTypeBankStatement,
	"contract":       DocTypeContract,
	"agreement":      DocTypeContract,
	"tax":            DocTypeTaxForm,
	"w2":             DocTypeTaxForm,
	"w-2":            DocTypeTaxForm,
	"1099":           DocTypeTaxForm,
}

// Canonicalize resolves free-form input to a DocType. The boolean reports
// whether the input matched; on no match the result is DocTypeOther.
func Canonicalize(input string) (DocType, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return DocTypeOther, false
	}
	for _, t := range allDocTypes {
		if s == strings.ToLower(string(t)) {
			return t, true
		}
	}
	if t, ok := docTypeSynonyms[s]; ok {
		return t, true
	}
	return DocTypeOther, false
}

// GuessFromFilename scans a filename for a type hint. It checks each synonym
// as a substring of the lowercased name, longest token first, so
// "acme_invoice_2024.pdf" classifies as INVOICE without exact matching.
func GuessFromFilename(name string) DocType {
	s := strings.ToLower(name)
	best := DocTypeOther
	bestLen := 0
	for token, t := range docTypeSynonyms {
		if len(token) > bestLen && strings.Contains(s, token) {
			best, bestLen = t, len(token)
		}
	}
	return best
}
