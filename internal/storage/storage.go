// Package storage persists clients, source records and conversation turns.
//
// Two implementations are provided: Memory for tests and ephemeral daemons,
// and SQLite (modernc.org/sqlite, no cgo) for everything else. Both delete a
// client's sources and turns together with the client.
package storage

import (
	"context"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// ClientStore manages clients.
type ClientStore interface {
	CreateClient(ctx context.Context, c model.Client) error
	GetClient(ctx context.Context, id string) (model.Client, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	// UpdateClient replaces the name, description and update time of c.ID.
	UpdateClient(ctx context.Context, c model.Client) error
	// DeleteClient removes the client with its source records and turns.
	DeleteClient(ctx context.Context, id string) error
}

// SourceStore manages source records.
type SourceStore interface {
	// PutSource inserts or replaces the record of (ClientID, SourceID).
	PutSource(ctx context.Context, r model.SourceRecord) error
	GetSource(ctx context.Context, clientID, sourceID string) (model.SourceRecord, error)
	// ListSources returns the records of a client ordered by ingestion time.
	ListSources(ctx context.Context, clientID string) ([]model.SourceRecord, error)
	DeleteSource(ctx context.Context, clientID, sourceID string) error
	DeleteSources(ctx context.Context, clientID string) (int, error)
}

// ConversationStore manages conversation turns. Turns are append-only.
type ConversationStore interface {
	AppendTurn(ctx context.Context, t model.Turn) error
	// ListTurns returns the last limit turns oldest first; limit <= 0 returns all.
	ListTurns(ctx context.Context, clientID string, limit int) ([]model.Turn, error)
	DeleteTurn(ctx context.Context, clientID, turnID string) error
	DeleteTurns(ctx context.Context, clientID string) (int, error)
}

// Store is the full storage collaborator.
type Store interface {
	ClientStore
	SourceStore
	ConversationStore
	Close() error
}
