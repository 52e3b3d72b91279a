package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const searchKnowledgeSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "What to search for"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum passages to return"}
  },
  "required": ["query"],
  "additionalProperties": false
}`

const currentTimeSchema = `{
  "type": "object",
  "properties": {
    "timezone": {"type": "string", "description": "IANA zone name such as Europe/Berlin; UTC when omitted"}
  },
  "additionalProperties": false
}`

// RegisterBuiltinTools adds search_knowledge, backed by retriever, and
// current_time. A nil retriever skips search_knowledge.
func RegisterBuiltinTools(r *ToolRegistry, retriever Retriever, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if retriever != nil {
		err := r.Register("search_knowledge",
			"Search the knowledge base for passages relevant to a query. Returns text with its source.",
			json.RawMessage(searchKnowledgeSchema),
			searchKnowledge(retriever))
		if err != nil {
			return err
		}
	}
	return r.Register("current_time",
		"Return the current date and time.",
		json.RawMessage(currentTimeSchema),
		currentTime(now))
}

type knowledgeHit struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

func searchKnowledge(retriever Retriever) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		limit := 4
		if v, ok := args["limit"].(float64); ok {
			limit = int(v)
		}
		passages, err := retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		if len(passages) == 0 {
			return "No matching passages.", nil
		}
		hits := make([]knowledgeHit, 0, len(passages))
		for _, p := range passages {
			hits = append(hits, knowledgeHit{Source: p.Source, Text: p.Text, Score: p.Score})
		}
		return hits, nil
	}
}

func currentTime(now func() time.Time) ToolHandler {
	return func(_ context.Context, args map[string]any) (any, error) {
		loc := time.UTC
		if tz, _ := args["timezone"].(string); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = l
		}
		t := now().In(loc)
		return map[string]string{
			"time":     t.Format(time.RFC3339),
			"timezone": loc.String(),
			"weekday":  t.Weekday().String(),
		}, nil
	}
}
