// Copyright 2025 The Parley Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parley-app/parley/internal/bus"
	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/perrors"
	"github.com/parley-app/parley/internal/provider"
)

// Store is the SQLite-backed persistence layer.
//
// WAL mode allows concurrent readers alongside the single writer. Every
// committed write publishes the updated row on an in-process topic, which
// feeds the Watch subscriptions.
type Store struct {
	db *sql.DB

	convEvents *bus.Topic[Conversation]
	turnEvents *bus.Topic[Turn]
}

// Open opens (creating if needed) the database at path and runs
// migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:         db,
		convEvents: bus.NewTopic[Conversation](),
		turnEvents: bus.NewTopic[Turn](),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database and all watch subscriptions.
func (s *Store) Close() error {
	s.convEvents.Close()
	s.turnEvents.Close()
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversation (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			config_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS turn (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
			prompt_json TEXT NOT NULL,
			reply_json TEXT NOT NULL DEFAULT '[]',
			finish_reason TEXT,
			usage_json TEXT,
			error TEXT,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_turn_conversation
			ON turn(conversation_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateConversation inserts a conversation, assigning an id when empty.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation cannot be nil")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	configJSON, err := json.Marshal(conv.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation (id, title, provider_id, model, system_prompt, config_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.ProviderID, conv.Model, conv.SystemPrompt,
		string(configJSON), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	s.convEvents.Publish(*conv)
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, provider_id, model, system_prompt, config_json, created_at, updated_at
		 FROM conversation WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &perrors.NotFoundError{Resource: "conversation", ID: id}
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently updated
// first.
func (s *Store) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, provider_id, model, system_prompt, config_json, created_at, updated_at
		 FROM conversation ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// UpdateConversation writes all mutable conversation fields.
func (s *Store) UpdateConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation cannot be nil")
	}
	conv.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(conv.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE conversation
		 SET title = ?, provider_id = ?, model = ?, system_prompt = ?, config_json = ?, updated_at = ?
		 WHERE id = ?`,
		conv.Title, conv.ProviderID, conv.Model, conv.SystemPrompt,
		string(configJSON), conv.UpdatedAt.Format(time.RFC3339Nano), conv.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &perrors.NotFoundError{Resource: "conversation", ID: conv.ID}
	}
	s.convEvents.Publish(*conv)
	return nil
}

// DeleteConversation removes a conversation and, via the foreign key,
// its turns.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &perrors.NotFoundError{Resource: "conversation", ID: id}
	}
	return nil
}

// InsertTurn inserts a turn, assigning an id when empty. The prompt must
// be a valid tagged variant.
func (s *Store) InsertTurn(ctx context.Context, turn *Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	if err := turn.Prompt.Validate(); err != nil {
		return err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	turn.CreatedAt = now
	turn.UpdatedAt = now

	cols, err := marshalTurn(turn)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turn (id, conversation_id, prompt_json, reply_json, finish_reason, usage_json, error, metadata_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, cols.prompt, cols.reply,
		nullable(turn.FinishReason), cols.usage, nullable(turn.Error), cols.metadata,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	s.turnEvents.Publish(*turn)
	return nil
}

// UpdateTurn writes the turn's reply, finish reason, usage, error and
// metadata. Called after every stream chunk, so the row tracks the
// in-memory turn incrementally.
func (s *Store) UpdateTurn(ctx context.Context, turn *Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	turn.UpdatedAt = time.Now().UTC()

	cols, err := marshalTurn(turn)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE turn
		 SET reply_json = ?, finish_reason = ?, usage_json = ?, error = ?, metadata_json = ?, updated_at = ?
		 WHERE id = ?`,
		cols.reply, nullable(turn.FinishReason), cols.usage, nullable(turn.Error),
		cols.metadata, turn.UpdatedAt.Format(time.RFC3339Nano), turn.ID)
	if err != nil {
		return fmt.Errorf("failed to update turn: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &perrors.NotFoundError{Resource: "turn", ID: turn.ID}
	}
	s.turnEvents.Publish(*turn)
	return nil
}

// GetTurn retrieves a turn by id.
func (s *Store) GetTurn(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, prompt_json, reply_json, finish_reason, usage_json, error, metadata_json, created_at, updated_at
		 FROM turn WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &perrors.NotFoundError{Resource: "turn", ID: id}
		}
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return turn, nil
}

// ListTurns returns a conversation's turns, oldest first.
func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, prompt_json, reply_json, finish_reason, usage_json, error, metadata_json, created_at, updated_at
		 FROM turn WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var out []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// WatchConversation subscribes to committed writes of one conversation.
// The channel closes when cancel is called or the store closes.
func (s *Store) WatchConversation(id string) (<-chan Conversation, func()) {
	return filterWatch(s.convEvents, func(c Conversation) bool { return c.ID == id })
}

// WatchTurn subscribes to committed writes of one turn.
func (s *Store) WatchTurn(id string) (<-chan Turn, func()) {
	return filterWatch(s.turnEvents, func(t Turn) bool { return t.ID == id })
}

// filterWatch subscribes to a topic and forwards only matching events.
// When the subscriber's buffer is full the oldest pending event is replaced
// by the newest, so a slow consumer may skip intermediate writes but always
// observes the latest row state, including the terminal one.
func filterWatch[T any](topic *bus.Topic[T], match func(T) bool) (<-chan T, func()) {
	src, cancel := topic.Subscribe()
	out := make(chan T, 16)
	go func() {
		defer close(out)
		for ev := range src {
			if !match(ev) {
				continue
			}
			select {
			case out <- ev:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, cancel
}

type turnColumns struct {
	prompt   string
	reply    string
	usage    sql.NullString
	metadata string
}

func marshalTurn(turn *Turn) (turnColumns, error) {
	var cols turnColumns

	promptJSON, err := json.Marshal(turn.Prompt)
	if err != nil {
		return cols, fmt.Errorf("failed to marshal prompt: %w", err)
	}
	cols.prompt = string(promptJSON)

	reply := turn.Reply
	if reply == nil {
		reply = []parts.Part{}
	}
	replyJSON, err := json.Marshal(reply)
	if err != nil {
		return cols, fmt.Errorf("failed to marshal reply: %w", err)
	}
	cols.reply = string(replyJSON)

	if turn.Usage != nil {
		usageJSON, err := json.Marshal(turn.Usage)
		if err != nil {
			return cols, fmt.Errorf("failed to marshal usage: %w", err)
		}
		cols.usage = sql.NullString{String: string(usageJSON), Valid: true}
	}

	metadataJSON, err := json.Marshal(turn.Metadata)
	if err != nil {
		return cols, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	cols.metadata = string(metadataJSON)
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var configJSON, createdAt, updatedAt string
	if err := row.Scan(&conv.ID, &conv.Title, &conv.ProviderID, &conv.Model,
		&conv.SystemPrompt, &configJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &conv.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &conv, nil
}

func scanTurn(row rowScanner) (*Turn, error) {
	var turn Turn
	var promptJSON, replyJSON, metadataJSON, createdAt, updatedAt string
	var finishReason, usageJSON, errMsg sql.NullString

	if err := row.Scan(&turn.ID, &turn.ConversationID, &promptJSON, &replyJSON,
		&finishReason, &usageJSON, &errMsg, &metadataJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(promptJSON), &turn.Prompt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompt: %w", err)
	}
	if err := json.Unmarshal([]byte(replyJSON), &turn.Reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	if usageJSON.Valid {
		turn.Usage = &provider.Usage{}
		if err := json.Unmarshal([]byte(usageJSON.String), turn.Usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &turn.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	turn.FinishReason = finishReason.String
	turn.Error = errMsg.String
	turn.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	turn.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &turn, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
