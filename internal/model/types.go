// Package model defines the domain types shared across the lexrag pipeline.
//
// A Client is the isolation boundary. Everything else (source items, chunks,
// index entries, conversation turns) belongs to exactly one client.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// SourceType identifies the kind of a SourceItem.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceEmail    SourceType = "email"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourceDocument || t == SourceEmail
}

// ParseSourceType parses a source filter value. An empty string yields an empty type.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" || t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown source type %q (want document or email)", s)
}

// Client is a tenant of the system.
type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClientUpdate changes the mutable fields of a client. Nil fields are kept.
type ClientUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// SourceItem is a document or email handed to ingestion.
type SourceItem struct {
	SourceID     string     `json:"source_id"`
	Type         SourceType `json:"source_type"`
	Title        string     `json:"title"`
	Filename     string     `json:"filename,omitempty"`
	Sender       string     `json:"sender,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	ThreadID     string     `json:"thread_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Text         string     `json:"text"`
}

// DisplayTitle returns the title used in prompts and citations.
func (s SourceItem) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	if s.Filename != "" {
		return s.Filename
	}
	return s.SourceID
}

// SourceRecord is the persisted bookkeeping for an ingested source. Text is
// the normalized text that was chunked.
type SourceRecord struct {
	ClientID     string     `json:"client_id"`
	SourceID     string     `json:"source_id"`
	Type         SourceType `json:"source_type"`
	Title        string     `json:"title"`
	Sender       string     `json:"sender,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	ThreadID     string     `json:"thread_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	ChunkCount   int        `json:"chunk_count"`
	WordCount    int        `json:"word_count"`
	IngestedAt   time.Time  `json:"ingested_at"`
	Text         string     `json:"-"`
}

// Thread groups the email records that share a thread ID.
type Thread struct {
	ThreadID     string    `json:"thread_id"`
	Subject      string    `json:"subject"`
	MessageCount int       `json:"message_count"`
	Participants []string  `json:"participants"`
	FirstDate    time.Time `json:"first_date"`
	LatestDate   time.Time `json:"latest_date"`
	Snippet      string    `json:"snippet"`
	SourceIDs    []string  `json:"source_ids"`
}

const snippetLength = 100

// ThreadsFromRecords groups email records by thread, oldest message first
// within a thread and most recently active thread first overall. Emails
// without a thread ID form a thread of their own.
func ThreadsFromRecords(records []SourceRecord) []Thread {
	emails := make([]SourceRecord, 0, len(records))
	for _, r := range records {
		if r.Type == SourceEmail {
			emails = append(emails, r)
		}
	}
	sort.SliceStable(emails, func(i, j int) bool {
		if !emails[i].Timestamp.Equal(emails[j].Timestamp) {
			return emails[i].Timestamp.Before(emails[j].Timestamp)
		}
		return emails[i].SourceID < emails[j].SourceID
	})

	byID := make(map[string]*Thread)
	var order []string
	for _, r := range emails {
		id := r.ThreadID
		if id == "" {
			id = r.SourceID
		}
		th, ok := byID[id]
		if !ok {
			th = &Thread{
				ThreadID:  id,
				Subject:   r.Title,
				FirstDate: r.Timestamp,
				Snippet:   snippet(r.Text),
			}
			byID[id] = th
			order = append(order, id)
		}
		th.MessageCount++
		th.SourceIDs = append(th.SourceIDs, r.SourceID)
		if r.Timestamp.After(th.LatestDate) {
			th.LatestDate = r.Timestamp
		}
		for _, p := range append([]string{r.Sender}, r.Participants...) {
			if p != "" && !slices.Contains(th.Participants, p) {
				th.Participants = append(th.Participants, p)
			}
		}
	}

	out := make([]Thread, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LatestDate.After(out[j].LatestDate)
	})
	return out
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= snippetLength {
		return text
	}
	return string(r[:snippetLength]) + "..."
}

// Chunk is a contiguous slice of a source's normalized text.
// Start and End are rune offsets, End exclusive.
type Chunk struct {
	ID       string `json:"chunk_id"`
	ClientID string `json:"client_id"`
	SourceID string `json:"source_id"`
	Index    int    `json:"chunk_index"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Text     string `json:"text"`
}

// ChunkID derives the stable identifier of chunk index within a source.
// Re-chunking the same source yields the same IDs.
func ChunkID(clientID, sourceID string, index int) string {
	sum := sha256.Sum256([]byte(clientID + "\x00" + sourceID))
	return fmt.Sprintf("%s-%04d", hex.EncodeToString(sum[:8]), index)
}

// Citation points from an answer back to a retrieved chunk.
type Citation struct {
	ChunkID    string     `json:"chunk_id"`
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Sender     string     `json:"sender,omitempty"`
	ChunkIndex int        `json:"chunk_index"`
	Score      float32    `json:"relevance_score"`
	Preview    string     `json:"content_preview"`
}

// Turn is one question/answer exchange in a client's conversation.
type Turn struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"client_id"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	Citations    []Citation    `json:"citations"`
	TokensUsed   int           `json:"tokens_used"`
	ResponseTime time.Duration `json:"response_time"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ClientStats summarizes a client's indexed corpus.
type ClientStats struct {
	ClientID       string `json:"client_id"`
	TotalChunks    int    `json:"total_chunks"`
	Documents      int    `json:"documents"`
	Emails         int    `json:"emails"`
	DocumentChunks int    `json:"document_chunks"`
	EmailChunks    int    `json:"email_chunks"`
	TotalWords     int    `json:"total_words"`
}

// StatsFromRecords aggregates source records into client stats.
func StatsFromRecords(clientID string, records []SourceRecord) ClientStats {
	stats := ClientStats{ClientID: clientID}
	for _, r := range records {
		stats.TotalChunks += r.ChunkCount
		stats.TotalWords += r.WordCount
		switch r.Type {
		case SourceDocument:
			stats.Documents++
			stats.DocumentChunks += r.ChunkCount
		case SourceEmail:
			stats.Emails++
			stats.EmailChunks += r.ChunkCount
		}
	}
	return stats
}

const previewLength = 200

// Preview truncates text to the citation preview length.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLength {
		return text
	}
	return string(r[:previewLength]) + "..."
}
