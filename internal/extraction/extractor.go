package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// DefaultMaxBytes is the largest accepted file.
const DefaultMaxBytes = 10 * 1024 * 1024

// Extractor converts a named file into a source item.
type Extractor interface {
	Extract(ctx context.Context, name string, r io.Reader) (model.SourceItem, error)
}

// Format extracts one file format from raw bytes.
type Format interface {
	Extract(ctx context.Context, name string, data []byte) (model.SourceItem, error)
}

// Config configures the Registry.
type Config struct {
	MaxBytes int64 `koanf:"max_bytes"`
}

// Registry dispatches on the file extension.
type Registry struct {
	maxBytes int64
	formats  map[string]Format
}

// New returns a Registry with the built-in formats registered.
func New(cfg Config) *Registry {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	r := &Registry{maxBytes: cfg.MaxBytes, formats: make(map[string]Format)}
	text := Text{}
	r.Register(text, ".txt", ".text", ".md", ".markdown")
	r.Register(PDF{}, ".pdf")
	r.Register(DOCX{}, ".docx")
	r.Register(Email{}, ".eml", ".msg")
	return r
}

// Register binds format to the given extensions, replacing earlier bindings.
func (r *Registry) Register(f Format, exts ...string) {
	for _, ext := range exts {
		r.formats[strings.ToLower(ext)] = f
	}
}

// Supported reports whether name has a registered extension.
func (r *Registry) Supported(name string) bool {
	_, ok := r.formats[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions lists the registered extensions.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.formats))
	for ext := range r.formats {
		out = append(out, ext)
	}
	return out
}

func (r *Registry) Extract(ctx context.Context, name string, src io.Reader) (model.SourceItem, error) {
	f, ok := r.formats[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return model.SourceItem{}, failed(name, fmt.Errorf("unsupported file type %q", filepath.Ext(name)))
	}

	data, err := io.ReadAll(io.LimitReader(src, r.maxBytes+1))
	if err != nil {
		return model.SourceItem{}, failed(name, err)
	}
	if int64(len(data)) > r.maxBytes {
		return model.SourceItem{}, failed(name, fmt.Errorf("file too large (max %.1fMB)", float64(r.maxBytes)/(1024*1024)))
	}

	item, err := f.Extract(ctx, name, data)
	if err != nil {
		return model.SourceItem{}, failed(name, err)
	}
	if item.SourceID == "" {
		item.SourceID = filepath.Base(name)
	}
	if strings.TrimSpace(item.Text) == "" {
		return model.SourceItem{}, failed(name, fmt.Errorf("no text extracted"))
	}
	return item, nil
}

func failed(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrExtractionFailed, filepath.Base(name), err)
}

// Text handles plain text and Markdown. Invalid UTF-8 is decoded as Latin-1.
type Text struct{}

func (Text) Extract(_ context.Context, name string, data []byte) (model.SourceItem, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := string(data)
	if !utf8.Valid(data) {
		text = latin1(data)
	}

	title := filepath.Base(name)
	if ext := strings.ToLower(filepath.Ext(name)); ext == ".md" || ext == ".markdown" {
		title = markdownTitle(text, title)
	}
	return model.SourceItem{
		Type:     model.SourceDocument,
		Title:    title,
		Filename: filepath.Base(name),
		Text:     text,
	}, nil
}

func latin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// markdownTitle returns the first level-one heading, or fallback.
func markdownTitle(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			if t := strings.TrimSpace(line[2:]); t != "" {
				return t
			}
		}
	}
	return fallback
}
