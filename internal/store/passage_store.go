package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/soyeahso/veil/internal/domain"
)

// defaultPassageBudget applies when Retrieve is called without a budget.
const defaultPassageBudget = 4

// PassageStore is a full-text index of knowledge passages. It implements
// agent.Retriever.
type PassageStore struct {
	db *DB
}

// NewPassageStore creates a passage store using the given database.
func NewPassageStore(db *DB) *PassageStore {
	return &PassageStore{db: db}
}

// Add indexes a passage and returns its id.
func (p *PassageStore) Add(ctx context.Context, source, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("passage text is empty")
	}
	if source == "" {
		source = "manual"
	}
	res, err := p.db.sql.ExecContext(ctx,
		`INSERT INTO passages (source, content, created_at) VALUES (?, ?, ?)`,
		source, text, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert passage: %w", err)
	}
	return res.LastInsertId()
}

// DeleteSource removes every passage from source and returns how many
// were removed.
func (p *PassageStore) DeleteSource(ctx context.Context, source string) (int64, error) {
	res, err := p.db.sql.ExecContext(ctx, `DELETE FROM passages WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete passages: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of indexed passages.
func (p *PassageStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

// Retrieve returns up to budget passages matching any word of query, best
// first. Score is the negated bm25 rank, so higher is better.
func (p *PassageStore) Retrieve(ctx context.Context, query string, budget int) ([]domain.RetrievedPassage, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	if budget <= 0 {
		budget = defaultPassageBudget
	}

	rows, err := p.db.sql.QueryContext(ctx,
		`SELECT p.content, p.source, bm25(passages_fts) AS rank
		 FROM passages_fts
		 JOIN passages p ON p.id = passages_fts.rowid
		 WHERE passages_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		match, budget,
	)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievedPassage
	for rows.Next() {
		var (
			r    domain.RetrievedPassage
			rank float64
		)
		if err := rows.Scan(&r.Text, &r.Source, &rank); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

// matchExpression turns free text into an FTS5 query that ORs every word,
// each quoted so FTS5 operators in user input are treated as text.
func matchExpression(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
