package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidDocTransition(t *testing.T) {
	legal := [][2]DocumentStatus{
		{DocStatusReceived, DocStatusExtracting},
		{DocStatusExtracting, DocStatusExtracted},
		{DocStatusExtracting, DocStatusFailed},
	}
	for _, p := range legal {
		assert.True(t, ValidDocTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}

	all := []DocumentStatus{DocStatusReceived, DocStatusExtracting, DocStatusExtracted, DocStatusFailed}
	for _, from := range all {
		for _, to := range all {
			if docStatusRank[to] < docStatusRank[from] {
				assert.False(t, ValidDocTransition(from, to), "regression %s -> %s must be rejected", from, to)
			}
		}
	}

	assert.False(t, ValidDocTransition(DocStatusReceived, DocStatusExtracted), "no skipping EXTRACTING")
	assert.False(t, ValidDocTransition(DocStatusExtracted, DocStatusFailed))
	assert.False(t, ValidDocTransition(DocStatusFailed, DocStatusExtracting))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, TerminalDocStatus(DocStatusExtracted))
	assert.True(t, TerminalDocStatus(DocStatusFailed))
	assert.False(t, TerminalDocStatus(DocStatusReceived))
	assert.False(t, TerminalDocStatus(DocStatusExtracting))

	assert.True(t, TerminalJobState(JobStateSucceeded))
	assert.True(t, TerminalJobState(JobStateFailed))
	assert.True(t, TerminalJobState(JobStateTimedOut))
	assert.False(t, TerminalJobState(JobStateSubmitted))
	assert.False(t, TerminalJobState(JobStateRunning))
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]DocType{
		"invoice":   DocTypeInvoice,
		"INVOICE":   DocTypeInvoice,
		" Bill ":    DocTypeInvoice,
		"stmt":      DocTypeBankStatement,
		"w2":        DocTypeTaxForm,
		"agreement": DocTypeContract,
	}
	for in, want := range cases {
		got, ok := Canonicalize(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := Canonicalize("shopping list")
	assert.False(t, ok)
	assert.Equal(t, DocTypeOther, got)
}

func TestGuessFromFilename(t *testing.T) {
	assert.Equal(t, DocTypeInvoice, GuessFromFilename("acme_invoice_2024.pdf"))
	assert.Equal(t, DocTypeBankStatement, GuessFromFilename("Q3-bank-statement.pdf"))
	assert.Equal(t, DocTypeTaxForm, GuessFromFilename("2023_w2.pdf"))
	assert.Equal(t, DocTypeOther, GuessFromFilename("holiday_photos.zip"))
}

func TestMapExtToFormat(t *testing.T) {
	assert.Equal(t, FormatPDF, MapExtToFormat(".PDF"))
	assert.Equal(t, FormatArchive, MapExtToFormat("zip"))
	assert.Equal(t, FormatText, MapExtToFormat(".weird"))
	assert.True(t, IsArchiveExt(".ZIP"))
	assert.False(t, IsArchiveExt("pdf"))
}
