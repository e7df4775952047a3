// Package secrets redacts credentials and sensitive identifiers from source
// text before it is chunked, embedded and stored in a client's index.
//
// Legal correspondence routinely carries SSNs, bank details and pasted API
// keys. Once such text is embedded it is returned verbatim in citations, so
// redaction has to happen at ingestion time.
package secrets
