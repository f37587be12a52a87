// Package docschema builds the field schemas sent with schema-guided
// extraction requests, one per document type.
package docschema

import (
	"github.com/finsight-labs/extractd/constants"
)

// ForDocType returns the JSON-Schema (draft 2020-12 subset) describing the
// fields to extract for the given document type. The same map is sent to the
// extraction service and used locally to validate its response payloads.
func ForDocType(t constants.DocType) map[string]any {
	switch t {
	case constants.DocTypeInvoice:
		return invoiceSchema()
	case constants.DocTypeReceipt:
		return receiptSchema()
	case constants.DocTypeBankStatement:
		return bankStatementSchema()
	case constants.DocTypeContract:
		return contractSchema()
	case constants.DocTypeTaxForm:
		return taxFormSchema()
	default:
		return genericSchema()
	}
}

func invoiceSchema() map[string]any {
	return objectSchema(map[string]any{
		"invoice_number": map[string]any{"type": "string", "minLength": 1},
		"issue_date":     dateProp(),
		"due_date":       dateProp(),
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"buyer_name":     map[string]any{"type": "string"},
		"subtotal":       decimalProp(),
		"tax":            decimalProp(),
		"total":          decimalProp(),
		"currency_code":  currencyProp(),
		"payment_terms":  map[string]any{"type": "string"},
	}, []string{"invoice_number", "vendor_name", "total"})
}

func receiptSchema() map[string]any {
	return objectSchema(map[string]any{
		"merchant_name":  map[string]any{"type": "string", "minLength": 1},
		"tx_date":        dateProp(),
		"subtotal":       decimalProp(),
		"tax":            decimalProp(),
		"tip":            decimalProp(),
		"total":          decimalProp(),
		"currency_code":  currencyProp(),
		"payment_method": map[string]any{"type": "string"},
		"payment_last4":  map[string]any{"type": "string", "minLength": 4, "maxLength": 4, "pattern": `^\d{4}$`},
	}, []string{"merchant_name", "tx_date", "total"})
}

func bankStatementSchema() map[string]any {
	return objectSchema(map[string]any{
		"institution_name":     map[string]any{"type": "string", "minLength": 1},
		"account_number_last4": map[string]any{"type": "string", "pattern": `^\d{4}$`},
		"period_start":         dateProp(),
		"period_end":           dateProp(),
		"opening_balance":      decimalProp(),
		"closing_balance":      decimalProp(),
		"currency_code":        currencyProp(),
	}, []string{"institution_name", "period_start", "period_end"})
}

func contractSchema() map[string]any {
	return objectSchema(map[string]any{
		"parties": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"effective_date":   dateProp(),
		"termination_date": dateProp(),
		"governing_law":    map[string]any{"type": "string"},
		"contract_value":   decimalProp(),
		"currency_code":    currencyProp(),
	}, []string{"parties", "effective_date"})
}

func taxFormSchema() map[string]any {
	return objectSchema(map[string]any{
		"form_type":    map[string]any{"type": "string", "enum": []string{"W-2", "W-9", "1099-MISC", "1099-NEC", "1040", "OTHER"}},
		"tax_year":     map[string]any{"type": "string", "pattern": `^\d{4}$`},
		"payer_name":   map[string]any{"type": "string"},
		"payee_name":   map[string]any{"type": "string"},
		"total_amount": decimalProp(),
	}, []string{"form_type", "tax_year"})
}

func genericSchema() map[string]any {
	return objectSchema(map[string]any{
		"title":         map[string]any{"type": "string"},
		"doc_date":      dateProp(),
		"total":         decimalProp(),
		"currency_code": currencyProp(),
		"doc_type": map[string]any{
			"type": "string",
			"enum": constants.AsStringSlice(),
		},
	}, nil)
}

func objectSchema(props map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // allow negatives for credits
	}
}

func dateProp() map[string]any {
	return map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
}

func currencyProp() map[string]any {
	return map[string]any{"type": "string", "minLength": 3, "maxLength": 3}
}
