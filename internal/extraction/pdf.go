package extraction

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// PDF extracts the text layer of a PDF, one block per page. Scanned PDFs
// without a text layer yield no text and fail extraction.
type PDF struct{}

func (PDF) Extract(ctx context.Context, name string, data []byte) (item model.SourceItem, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.SourceItem{}, fmt.Errorf("opening pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return model.SourceItem{}, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return model.SourceItem{}, fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	base := filepath.Base(name)
	return model.SourceItem{
		Type:     model.SourceDocument,
		Title:    base,
		Filename: base,
		Text:     b.String(),
	}, nil
}
