package http

import (
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// CreateClientRequest is the request body for POST /api/v1/clients.
type CreateClientRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpdateClientRequest is the request body for PUT .../clients/:client_id.
// Omitted fields are kept.
type UpdateClientRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// IngestRequest is the request body for POST .../ingest.
type IngestRequest struct {
	Items   []model.SourceItem `json:"items"`
	Reindex bool               `json:"reindex"`
}

// AskRequest is the request body for POST .../ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is the response body for POST .../ask.
type AskResponse struct {
	TurnID         string           `json:"turn_id"`
	AnswerText     string           `json:"answer_text"`
	Citations      []model.Citation `json:"citations"`
	TokensUsed     int              `json:"tokens_used"`
	ResponseTimeMS int64            `json:"response_time_ms"`
	ContextUsed    int              `json:"context_used"`
	FollowUps      []string         `json:"follow_up_questions"`
}

// SearchRequest is the request body for POST .../search.
type SearchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// SearchHit is one ranked chunk.
type SearchHit struct {
	ChunkID    string           `json:"chunk_id"`
	SourceID   string           `json:"source_id"`
	SourceType model.SourceType `json:"source_type"`
	Title      string           `json:"title"`
	Sender     string           `json:"sender,omitempty"`
	ChunkIndex int              `json:"chunk_index"`
	Score      float32          `json:"relevance_score"`
	Text       string           `json:"text"`
}

// SearchResponse is the response body for POST .../search.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// TurnResponse is one conversation turn.
type TurnResponse struct {
	ID             string           `json:"id"`
	Question       string           `json:"question"`
	Answer         string           `json:"answer"`
	Citations      []model.Citation `json:"citations"`
	TokensUsed     int              `json:"tokens_used"`
	ResponseTimeMS int64            `json:"response_time_ms"`
	CreatedAt      string           `json:"created_at"`
}

// DeletedResponse reports how many things a delete removed.
type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

// SourceTextResponse is the response body for GET .../sources/:source_id/text.
type SourceTextResponse struct {
	SourceID   string           `json:"source_id"`
	SourceType model.SourceType `json:"source_type"`
	Title      string           `json:"title"`
	Text       string           `json:"text"`
	WordCount  int              `json:"word_count"`
}
