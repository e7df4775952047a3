package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

const (
	docxBody = "word/document.xml"
	docxCore = "docProps/core.xml"
)

// DOCX extracts the paragraphs and table rows of a Word document. Table
// cells are joined with " | ", one row per line.
type DOCX struct{}

func (DOCX) Extract(ctx context.Context, name string, data []byte) (model.SourceItem, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.SourceItem{}, fmt.Errorf("opening docx: %w", err)
	}

	body, err := readZipFile(zr, docxBody)
	if err != nil {
		return model.SourceItem{}, err
	}
	if body == nil {
		return model.SourceItem{}, errors.New("docx has no word/document.xml")
	}
	text, err := docxText(body)
	if err != nil {
		return model.SourceItem{}, fmt.Errorf("parsing docx: %w", err)
	}

	base := filepath.Base(name)
	title := base
	if core, err := readZipFile(zr, docxCore); err == nil && core != nil {
		var props struct {
			Title string `xml:"title"`
		}
		if xml.Unmarshal(core, &props) == nil && strings.TrimSpace(props.Title) != "" {
			title = strings.TrimSpace(props.Title)
		}
	}

	return model.SourceItem{
		Type:     model.SourceDocument,
		Title:    title,
		Filename: base,
		Text:     text,
	}, nil
}

// readZipFile returns the content of the named member, or nil when absent.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// docxText walks the document tokens. Paragraphs outside tables become
// lines; paragraphs inside a cell are joined into the cell text.
func docxText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		lines  []string
		para   strings.Builder
		cell   strings.Builder
		row    []string
		depth  int // table nesting
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				depth++
			case "tr":
				row = row[:0]
			case "tc":
				cell.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				p := strings.TrimSpace(para.String())
				para.Reset()
				if p == "" {
					continue
				}
				if depth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(p)
				} else {
					lines = append(lines, p)
				}
			case "tc":
				if c := strings.TrimSpace(cell.String()); c != "" {
					row = append(row, c)
				}
				cell.Reset()
			case "tr":
				if len(row) > 0 {
					lines = append(lines, strings.Join(row, " | "))
				}
			case "tbl":
				depth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
