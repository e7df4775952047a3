package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

func TestRegistry_Text(t *testing.T) {
	r := New(Config{})
	ctx := context.Background()

	t.Run("plain text", func(t *testing.T) {
		item, err := r.Extract(ctx, "uploads/board_consent.txt", strings.NewReader("\xef\xbb\xbfThe board approves the grant."))
		require.NoError(t, err)
		assert.Equal(t, model.SourceDocument, item.Type)
		assert.Equal(t, "board_consent.txt", item.SourceID)
		assert.Equal(t, "board_consent.txt", item.Title)
		assert.Equal(t, "The board approves the grant.", item.Text)
	})

	t.Run("markdown heading becomes title", func(t *testing.T) {
		item, err := r.Extract(ctx, "eip.md", strings.NewReader("intro\n\n# Equity Incentive Plan\n\nPool of 1,000,000 shares."))
		require.NoError(t, err)
		assert.Equal(t, "Equity Incentive Plan", item.Title)
		assert.Equal(t, "eip.md", item.Filename)
	})

	t.Run("latin-1 fallback", func(t *testing.T) {
		item, err := r.Extract(ctx, "note.txt", strings.NewReader("caf\xe9"))
		require.NoError(t, err)
		assert.Equal(t, "café", item.Text)
	})
}

func TestRegistry_Failures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		reg  *Registry
		file string
		body string
	}{
		{"unsupported type", New(Config{}), "deck.pptx", "x"},
		{"empty text", New(Config{}), "empty.txt", "  \n\t "},
		{"too large", New(Config{MaxBytes: 4}), "big.txt", "hello"},
		{"malformed pdf", New(Config{}), "broken.pdf", "%PDF-1.4 not really"},
		{"malformed email", New(Config{}), "broken.eml", "no headers here"},
		{"malformed docx", New(Config{}), "broken.docx", "PK not a zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.reg.Extract(ctx, tt.file, strings.NewReader(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrExtractionFailed)
		})
	}
}

func TestRegistry_Supported(t *testing.T) {
	r := New(Config{})
	assert.True(t, r.Supported("a.PDF"))
	assert.True(t, r.Supported("thread.eml"))
	assert.True(t, r.Supported("Advisor Agreement.DOCX"))
	assert.False(t, r.Supported("a.doc"))
	assert.Contains(t, r.Extensions(), ".md")
}

const plainEmail = "From: Alex Founder <alex@founderco.com>\r\n" +
	"To: legal@lexsy.com\r\n" +
	"Cc: =?UTF-8?Q?Jos=C3=A9?= <jose@founderco.com>, ALEX@founderco.com\r\n" +
	"Subject: Advisor Equity Grant for Lexsy, Inc.\r\n" +
	"Date: Mon, 14 Jul 2025 09:00:00 -0700\r\n" +
	"Message-ID: <t1@founderco.com>\r\n" +
	"\r\n" +
	"We'd like to bring on John Smith as an advisor with 15,000 RSAs.\r\n"

func TestEmail_Plain(t *testing.T) {
	item, err := New(Config{}).Extract(context.Background(), "t1.eml", strings.NewReader(plainEmail))
	require.NoError(t, err)

	assert.Equal(t, model.SourceEmail, item.Type)
	assert.Equal(t, "t1@founderco.com", item.SourceID)
	assert.Equal(t, "Advisor Equity Grant for Lexsy, Inc.", item.Title)
	assert.Equal(t, "alex@founderco.com", item.Sender)
	assert.Equal(t, []string{"alex@founderco.com", "legal@lexsy.com", "jose@founderco.com"}, item.Participants)
	assert.Equal(t, time.Date(2025, 7, 14, 16, 0, 0, 0, time.UTC), item.Timestamp)
	assert.Contains(t, item.Text, "15,000 RSAs")
	assert.Equal(t, "t1@founderco.com", item.ThreadID, "a thread root is its own thread")
}

func TestEmail_ThreadID(t *testing.T) {
	tests := []struct {
		name    string
		headers string
		want    string
	}{
		{"references root", "References: <t1@founderco.com> <t2@lexsy.com>\r\nIn-Reply-To: <t2@lexsy.com>\r\n", "t1@founderco.com"},
		{"in-reply-to", "In-Reply-To: <t2@lexsy.com>\r\n", "t2@lexsy.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := "From: legal@lexsy.com\r\nSubject: Re: Advisor Equity Grant\r\nMessage-ID: <t3@lexsy.com>\r\n" +
				tt.headers + "\r\nApproved.\r\n"
			item, err := New(Config{}).Extract(context.Background(), "t3.eml", strings.NewReader(msg))
			require.NoError(t, err)
			assert.Equal(t, "t3@lexsy.com", item.SourceID)
			assert.Equal(t, tt.want, item.ThreadID)
		})
	}
}

func TestEmail_MultipartPrefersPlain(t *testing.T) {
	msg := "From: legal@lexsy.com\r\n" +
		"To: alex@founderco.com\r\n" +
		"Subject: Re: Advisor Equity Grant\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>HTML version</p>\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"UGxlYXNlIGZpbGUgdGhlIDgzKGIpIGVs\r\n" +
		"ZWN0aW9uLg==\r\n" +
		"--b1\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"grant.pdf\"\r\n" +
		"\r\n" +
		"binary\r\n" +
		"--b1--\r\n"

	item, err := New(Config{}).Extract(context.Background(), "t2.eml", strings.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, "Please file the 83(b) election.", item.Text)
	assert.Equal(t, "t2.eml", item.SourceID, "falls back to the file name without Message-ID")
}

func TestEmail_HTMLOnly(t *testing.T) {
	msg := "From: legal@lexsy.com\r\n" +
		"Subject: Board consent\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body><p>Consent attached.</p>\r\n<p>Sign today.</p></body></html>\r\n"

	item, err := New(Config{}).Extract(context.Background(), "c.eml", strings.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, "Consent attached.\nSign today.", item.Text)
}

// buildDOCX writes a minimal Word package holding document and, when
// non-empty, core properties.
func buildDOCX(t *testing.T, document, core string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(document))
	require.NoError(t, err)
	if core != "" {
		f, err = w.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = f.Write([]byte(core))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const advisorAgreementXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>ADVISOR AGREEMENT</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">The Advisor shall receive </w:t></w:r><w:r><w:t>15,000 shares.</w:t></w:r></w:p>
<w:p></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>Vesting</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>24 months</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>Cliff</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>None</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
</w:body>
</w:document>`

func TestDOCX(t *testing.T) {
	ctx := context.Background()

	t.Run("paragraphs and tables", func(t *testing.T) {
		data := buildDOCX(t, advisorAgreementXML, "")
		item, err := New(Config{}).Extract(ctx, "Advisor Agreement.docx", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, model.SourceDocument, item.Type)
		assert.Equal(t, "Advisor Agreement.docx", item.Title)
		assert.Equal(t, "ADVISOR AGREEMENT\nThe Advisor shall receive 15,000 shares.\nVesting | 24 months\nCliff | None", item.Text)
	})

	t.Run("core title", func(t *testing.T) {
		core := `<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Form of Advisor Agreement</dc:title></cp:coreProperties>`
		item, err := New(Config{}).Extract(ctx, "a.docx", bytes.NewReader(buildDOCX(t, advisorAgreementXML, core)))
		require.NoError(t, err)
		assert.Equal(t, "Form of Advisor Agreement", item.Title)
		assert.Equal(t, "a.docx", item.SourceID)
	})

	t.Run("empty body fails", func(t *testing.T) {
		doc := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body></w:body></w:document>`
		_, err := New(Config{}).Extract(ctx, "blank.docx", bytes.NewReader(buildDOCX(t, doc, "")))
		assert.ErrorIs(t, err, model.ErrExtractionFailed)
	})
}
