// Package postgres provides a PostgreSQL conversation history store for
// deployments that run more than one veil instance. It uses pgx/v5 with a
// connection pool and JSONB columns for tool call data.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/veil/internal/agent"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/logging"
)

// HistoryStore is a PostgreSQL-backed agent.HistoryStore.
type HistoryStore struct {
	pool *pgxpool.Pool
	log  *logging.Logger
	now  func() time.Time
}

var (
	_ agent.HistoryStore  = (*HistoryStore)(nil)
	_ agent.BatchAppender = (*HistoryStore)(nil)
)

// New connects to PostgreSQL and, if configured, applies migrations.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*HistoryStore, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &HistoryStore{pool: pool, log: log.Sub("postgres"), now: time.Now}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Close releases the pool.
func (s *HistoryStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append adds a single turn.
func (s *HistoryStore) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	return s.AppendTurns(ctx, sessionID, []domain.Turn{turn})
}

// AppendTurns adds turns in one transaction, creating the session on first
// use.
func (s *HistoryStore) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_sessions (id, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, sessionID, now)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	for _, t := range turns {
		t = agent.PrepareTurn(t, now)

		var callsJSON, resultJSON []byte
		if len(t.ToolCalls) > 0 {
			if callsJSON, err = json.Marshal(t.ToolCalls); err != nil {
				return fmt.Errorf("marshaling tool calls: %w", err)
			}
		}
		if t.ToolCall != nil {
			if resultJSON, err = json.Marshal(t.ToolCall); err != nil {
				return fmt.Errorf("marshaling tool result: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chat_turns (
				id, session_id, role, content, tool_calls, tool_result,
				model, input_tokens, output_tokens, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			t.ID, sessionID, string(t.Role), t.Content, nullJSON(callsJSON), nullJSON(resultJSON),
			t.Model, t.Usage.InputTokens, t.Usage.OutputTokens, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first. A limit
// <= 0 returns all turns.
func (s *HistoryStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, tool_calls, tool_result, model, input_tokens, output_tokens, created_at
		FROM (
			SELECT * FROM chat_turns WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent
		ORDER BY seq ASC
	`, sessionID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			t                  domain.Turn
			role               string
			callsJSON, resJSON []byte
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &callsJSON, &resJSON, &t.Model,
			&t.Usage.InputTokens, &t.Usage.OutputTokens, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = domain.Role(role)
		if len(callsJSON) > 0 {
			if err := json.Unmarshal(callsJSON, &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
			}
		}
		if len(resJSON) > 0 {
			var r domain.ToolCallResult
			if err := json.Unmarshal(resJSON, &r); err != nil {
				return nil, fmt.Errorf("unmarshaling tool result: %w", err)
			}
			t.ToolCall = &r
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Session returns the session with all its turns, or nil if unknown.
func (s *HistoryStore) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess := &domain.Session{ID: sessionID}
	err := s.pool.QueryRow(ctx,
		`SELECT created_at, updated_at FROM chat_sessions WHERE id = $1`, sessionID,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	sess.Turns, err = s.RecentTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}
