// Package extraction turns uploaded files into source items.
//
// Supported formats are plain text and Markdown, PDF (text layer only) and
// RFC 822 email. Every failure wraps model.ErrExtractionFailed so ingestion
// can report it per item.
package extraction
