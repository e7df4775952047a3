package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Email extracts an RFC 822 message: subject becomes the title, the From
// address the sender, and From/To/Cc the participants. Plain text parts are
// preferred over HTML.
type Email struct{}

func (Email) Extract(_ context.Context, name string, data []byte) (model.SourceItem, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return model.SourceItem{}, fmt.Errorf("parsing message: %w", err)
	}

	body, err := messageBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return model.SourceItem{}, err
	}

	item := model.SourceItem{
		SourceID: strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		Type:     model.SourceEmail,
		Title:    decodeHeader(msg.Header.Get("Subject")),
		Filename: filepath.Base(name),
		Text:     strings.TrimSpace(body),
	}
	if item.Title == "" {
		item.Title = "(no subject)"
	}
	if from, err := msg.Header.AddressList("From"); err == nil && len(from) > 0 {
		item.Sender = strings.ToLower(from[0].Address)
	} else {
		item.Sender = decodeHeader(msg.Header.Get("From"))
	}
	item.Participants = participants(msg.Header)
	item.ThreadID = threadID(msg.Header, item.SourceID)
	if ts, err := msg.Header.Date(); err == nil {
		item.Timestamp = ts.UTC()
	}
	return item, nil
}

// threadID is the root of the References chain, else In-Reply-To, else the
// message's own ID.
func threadID(h mail.Header, messageID string) string {
	if refs := strings.Fields(h.Get("References")); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	if parent := strings.Trim(h.Get("In-Reply-To"), "<> "); parent != "" {
		return parent
	}
	return messageID
}

func participants(h mail.Header) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range []string{"From", "To", "Cc"} {
		list, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			addr := strings.ToLower(a.Address)
			if !seen[addr] {
				seen[addr] = true
				out = append(out, addr)
			}
		}
	}
	return out
}

func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func messageBody(contentType, encoding string, r io.Reader) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return multipartBody(r, params["boundary"])
	}

	raw, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if mediaType == "text/html" {
		return stripTags(string(raw)), nil
	}
	return string(raw), nil
}

func multipartBody(r io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", fmt.Errorf("multipart message without boundary")
	}
	mr := multipart.NewReader(r, boundary)

	var plain, html []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading multipart: %w", err)
		}
		ct := part.Header.Get("Content-Type")
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType == "" {
			mediaType = "text/plain"
		}
		if part.FileName() != "" && !strings.HasPrefix(mediaType, "multipart/") {
			continue
		}

		// multipart.Reader already decodes quoted-printable parts.
		text, err := messageBody(ct, part.Header.Get("Content-Transfer-Encoding"), part)
		if err != nil {
			return "", err
		}
		switch {
		case mediaType == "text/html":
			html = append(html, text)
		case strings.HasPrefix(mediaType, "text/"), strings.HasPrefix(mediaType, "multipart/"):
			plain = append(plain, text)
		}
	}
	if len(plain) > 0 {
		return strings.Join(plain, "\n\n"), nil
	}
	return strings.Join(html, "\n\n"), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
