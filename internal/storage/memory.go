package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]model.Client
	order   []string                                 // client IDs by creation
	sources map[string]map[string]model.SourceRecord // client -> source -> record
	turns   map[string][]model.Turn
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		clients: make(map[string]model.Client),
		sources: make(map[string]map[string]model.SourceRecord),
		turns:   make(map[string][]model.Turn),
	}
}

func (m *Memory) CreateClient(_ context.Context, c model.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return model.ErrClientExists
	}
	m.clients[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *Memory) GetClient(_ context.Context, id string) (model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return model.Client{}, model.ErrClientNotFound
	}
	return c, nil
}

func (m *Memory) ListClients(context.Context) ([]model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Client, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clients[id])
	}
	return out, nil
}

func (m *Memory) UpdateClient(_ context.Context, c model.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.clients[c.ID]
	if !ok {
		return model.ErrClientNotFound
	}
	cur.Name = c.Name
	cur.Description = c.Description
	cur.UpdatedAt = c.UpdatedAt
	m.clients[c.ID] = cur
	return nil
}

func (m *Memory) DeleteClient(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return model.ErrClientNotFound
	}
	delete(m.clients, id)
	delete(m.sources, id)
	delete(m.turns, id)
	for i, cid := range m.order {
		if cid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) PutSource(_ context.Context, r model.SourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[r.ClientID]; !ok {
		return model.ErrClientNotFound
	}
	if m.sources[r.ClientID] == nil {
		m.sources[r.ClientID] = make(map[string]model.SourceRecord)
	}
	r.Participants = append([]string(nil), r.Participants...)
	m.sources[r.ClientID][r.SourceID] = r
	return nil
}

func (m *Memory) GetSource(_ context.Context, clientID, sourceID string) (model.SourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sources[clientID][sourceID]
	if !ok {
		return model.SourceRecord{}, model.ErrSourceNotFound
	}
	return r, nil
}

func (m *Memory) ListSources(_ context.Context, clientID string) ([]model.SourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SourceRecord, 0, len(m.sources[clientID]))
	for _, r := range m.sources[clientID] {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(out []model.SourceRecord) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].SourceID < out[j].SourceID
	})
}

func (m *Memory) DeleteSource(_ context.Context, clientID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[clientID][sourceID]; !ok {
		return model.ErrSourceNotFound
	}
	delete(m.sources[clientID], sourceID)
	return nil
}

func (m *Memory) DeleteSources(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sources[clientID])
	delete(m.sources, clientID)
	return n, nil
}

func (m *Memory) AppendTurn(_ context.Context, t model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[t.ClientID]; !ok {
		return model.ErrClientNotFound
	}
	t.Citations = append([]model.Citation(nil), t.Citations...)
	m.turns[t.ClientID] = append(m.turns[t.ClientID], t)
	return nil
}

func (m *Memory) ListTurns(_ context.Context, clientID string, limit int) ([]model.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[clientID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]model.Turn{}, turns...), nil
}

func (m *Memory) DeleteTurn(_ context.Context, clientID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[clientID]
	for i, t := range turns {
		if t.ID == turnID {
			m.turns[clientID] = append(turns[:i:i], turns[i+1:]...)
			return nil
		}
	}
	return model.ErrTurnNotFound
}

func (m *Memory) DeleteTurns(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.turns[clientID])
	delete(m.turns, clientID)
	return n, nil
}

func (m *Memory) Close() error { return nil }
