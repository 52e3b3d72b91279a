package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/veil/internal/agent"
	"github.com/soyeahso/veil/internal/domain"
)

const timeLayout = time.RFC3339Nano

// SQLiteHistoryStore implements agent.HistoryStore backed by SQLite. Turn
// order is the insertion order of the turns table.
type SQLiteHistoryStore struct {
	db  *DB
	now func() time.Time
}

// NewSQLiteHistoryStore creates a history store using the given database.
func NewSQLiteHistoryStore(db *DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db, now: time.Now}
}

// Append adds a single turn.
func (s *SQLiteHistoryStore) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	return s.AppendTurns(ctx, sessionID, []domain.Turn{turn})
}

// AppendTurns adds turns in one transaction, creating the session on first
// use.
func (s *SQLiteHistoryStore) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	now := s.now().UTC()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}

	for _, t := range turns {
		t = agent.PrepareTurn(t, now)
		toolCalls, toolResult, err := encodeToolFields(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turns (id, session_id, role, content, tool_calls, tool_result, model, input_tokens, output_tokens, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, sessionID, string(t.Role), t.Content, toolCalls, toolResult, t.Model,
			t.Usage.InputTokens, t.Usage.OutputTokens, t.Timestamp.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first. A limit
// <= 0 returns all turns.
func (s *SQLiteHistoryStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, role, content, tool_calls, tool_result, model, input_tokens, output_tokens, timestamp
		 FROM (
		   SELECT * FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// Session returns the session with all of its turns, or nil if unknown.
func (s *SQLiteHistoryStore) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	var createdAt, updatedAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	turns, err := s.RecentTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{ID: sessionID, Turns: turns}
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return sess, nil
}

// SessionIDs returns session ids, most recently updated first.
func (s *SQLiteHistoryStore) SessionIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeToolFields(t domain.Turn) (calls, result sql.NullString, err error) {
	if len(t.ToolCalls) > 0 {
		data, err := json.Marshal(t.ToolCalls)
		if err != nil {
			return calls, result, fmt.Errorf("encode tool calls: %w", err)
		}
		calls = sql.NullString{String: string(data), Valid: true}
	}
	if t.ToolCall != nil {
		data, err := json.Marshal(t.ToolCall)
		if err != nil {
			return calls, result, fmt.Errorf("encode tool result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	return calls, result, nil
}

func scanTurns(rows *sql.Rows) ([]domain.Turn, error) {
	var turns []domain.Turn
	for rows.Next() {
		var (
			t          domain.Turn
			role, ts   string
			calls, res sql.NullString
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &calls, &res, &t.Model,
			&t.Usage.InputTokens, &t.Usage.OutputTokens, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = domain.Role(role)
		t.Timestamp, _ = time.Parse(timeLayout, ts)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of turn %s: %w", t.ID, err)
			}
		}
		if res.Valid && res.String != "" {
			var r domain.ToolCallResult
			if err := json.Unmarshal([]byte(res.String), &r); err != nil {
				return nil, fmt.Errorf("decode tool result of turn %s: %w", t.ID, err)
			}
			t.ToolCall = &r
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
