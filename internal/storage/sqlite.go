package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/storage/migrations"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, formatTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Clients ====================

func (s *SQLite) CreateClient(ctx context.Context, c model.Client) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO clients (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Description, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.ErrClientExists
	}
	if err != nil {
		return fmt.Errorf("inserting client %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLite) GetClient(ctx context.Context, id string) (model.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Client{}, model.ErrClientNotFound
	}
	if err != nil {
		return model.Client{}, fmt.Errorf("getting client %s: %w", id, err)
	}
	return c, nil
}

const clientColumns = "id, name, description, created_at, updated_at"

func scanClient(row scanner) (model.Client, error) {
	var c model.Client
	var created, updated string
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &created, &updated); err != nil {
		return model.Client{}, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (s *SQLite) ListClients(ctx context.Context) ([]model.Client, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	out := []model.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateClient(ctx context.Context, c model.Client) error {
	res, err := s.db.ExecContext(ctx, "UPDATE clients SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		c.Name, c.Description, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating client %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrClientNotFound
	}
	return nil
}

func (s *SQLite) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting client %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrClientNotFound
	}
	return nil
}

// ==================== Source records ====================

const sourceColumns = "client_id, source_id, source_type, title, sender, participants, thread_id, timestamp, chunk_count, word_count, ingested_at, text"

func (s *SQLite) PutSource(ctx context.Context, r model.SourceRecord) error {
	participants := r.Participants
	if participants == nil {
		participants = []string{}
	}
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("marshalling participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_records (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, source_id) DO UPDATE SET
			source_type = excluded.source_type,
			title = excluded.title,
			sender = excluded.sender,
			participants = excluded.participants,
			thread_id = excluded.thread_id,
			timestamp = excluded.timestamp,
			chunk_count = excluded.chunk_count,
			word_count = excluded.word_count,
			ingested_at = excluded.ingested_at,
			text = excluded.text`,
		r.ClientID, r.SourceID, string(r.Type), r.Title, r.Sender, string(data), r.ThreadID, formatTime(r.Timestamp),
		r.ChunkCount, r.WordCount, formatTime(r.IngestedAt), r.Text)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return model.ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("saving source %s: %w", r.SourceID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (model.SourceRecord, error) {
	var r model.SourceRecord
	var typ, participants, ts, ingested string
	if err := row.Scan(&r.ClientID, &r.SourceID, &typ, &r.Title, &r.Sender, &participants, &r.ThreadID, &ts,
		&r.ChunkCount, &r.WordCount, &ingested, &r.Text); err != nil {
		return model.SourceRecord{}, err
	}
	if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
		return model.SourceRecord{}, fmt.Errorf("source %s: decoding participants: %w", r.SourceID, err)
	}
	if len(r.Participants) == 0 {
		r.Participants = nil
	}
	r.Type = model.SourceType(typ)
	r.Timestamp = parseTime(ts)
	r.IngestedAt = parseTime(ingested)
	return r, nil
}

func (s *SQLite) GetSource(ctx context.Context, clientID, sourceID string) (model.SourceRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM source_records WHERE client_id = ? AND source_id = ?",
		clientID, sourceID)
	r, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceRecord{}, model.ErrSourceNotFound
	}
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("getting source %s: %w", sourceID, err)
	}
	return r, nil
}

func (s *SQLite) ListSources(ctx context.Context, clientID string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sourceColumns+" FROM source_records WHERE client_id = ?",
		clientID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	out := []model.SourceRecord{}
	for rows.Next() {
		r, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *SQLite) DeleteSource(ctx context.Context, clientID, sourceID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM source_records WHERE client_id = ? AND source_id = ?", clientID, sourceID)
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrSourceNotFound
	}
	return nil
}

func (s *SQLite) DeleteSources(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM source_records WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("deleting sources: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ==================== Conversation turns ====================

func (s *SQLite) AppendTurn(ctx context.Context, t model.Turn) error {
	citations := t.Citations
	if citations == nil {
		citations = []model.Citation{}
	}
	data, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, client_id, question, answer, citations, tokens_used, response_time_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ClientID, t.Question, t.Answer, string(data), t.TokensUsed, int64(t.ResponseTime), formatTime(t.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return model.ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

func (s *SQLite) ListTurns(ctx context.Context, clientID string, limit int) ([]model.Turn, error) {
	query := `SELECT id, client_id, question, answer, citations, tokens_used, response_time_ns, created_at
		FROM conversation_turns WHERE client_id = ? ORDER BY seq`
	args := []any{clientID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT seq, id, client_id, question, answer, citations, tokens_used, response_time_ns, created_at
			FROM conversation_turns WHERE client_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	out := []model.Turn{}
	for rows.Next() {
		var t model.Turn
		var seq, rt int64
		var citations, created string
		dest := []any{&t.ID, &t.ClientID, &t.Question, &t.Answer, &citations, &t.TokensUsed, &rt, &created}
		if limit > 0 {
			dest = append([]any{&seq}, dest...)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(citations), &t.Citations); err != nil {
			return nil, fmt.Errorf("turn %s: decoding citations: %w", t.ID, err)
		}
		t.ResponseTime = time.Duration(rt)
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteTurn(ctx context.Context, clientID, turnID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE client_id = ? AND id = ?", clientID, turnID)
	if err != nil {
		return fmt.Errorf("deleting turn %s: %w", turnID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrTurnNotFound
	}
	return nil
}

func (s *SQLite) DeleteTurns(ctx context.Context, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE client_id = ?", clientID)
	if err != nil {
		return 0, fmt.Errorf("deleting turns: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
