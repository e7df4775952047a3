// Package mcp exposes the assistant as Model Context Protocol tools over
// stdio (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools:
//   - rag_ask: answer a question from a client's documents and emails
//   - rag_search: ranked chunks without an answer
//   - rag_ingest: ingest one document or email
//   - rag_history: the client's recent conversation
//
// Every tool takes a client_id and fails for unknown clients.
package mcp
