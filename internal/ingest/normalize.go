package ingest

import (
	"strings"
	"unicode"
)

// Normalize prepares source text for chunking. Line endings become \n, runs
// of spaces and tabs collapse to one space, control characters other than
// newline are dropped, and any run of blank lines becomes one paragraph
// break ("\n\n"). Leading and trailing whitespace is trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	wrote, blank := false, false
	for _, raw := range strings.Split(text, "\n") {
		line := collapseLine(raw)
		if line == "" {
			blank = wrote
			continue
		}
		if wrote {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		wrote, blank = true, false
	}
	return b.String()
}

func collapseLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := false
	for _, r := range line {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsControl(r), r == '\ufeff', r == '\u200b':
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// shapeEmail prefixes the body with the headers a reader would see, so a
// query for the sender or subject matches the message.
func shapeEmail(subject, sender string, participants []string, date, body string) string {
	var b strings.Builder
	if subject != "" {
		b.WriteString("Subject: " + subject + "\n")
	}
	if sender != "" {
		b.WriteString("From: " + sender + "\n")
	}
	var to []string
	for _, p := range participants {
		if !strings.EqualFold(p, sender) {
			to = append(to, p)
		}
	}
	if len(to) > 0 {
		b.WriteString("To: " + strings.Join(to, ", ") + "\n")
	}
	if date != "" {
		b.WriteString("Date: " + date + "\n")
	}
	if b.Len() == 0 {
		return body
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}
