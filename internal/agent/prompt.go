package agent

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/llm"
)

// buildSystemPrompt joins the fixed instruction, the current date and the
// retrieved context block.
func buildSystemPrompt(base string, now time.Time, passages []domain.RetrievedPassage) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	fmt.Fprintf(&b, "\n\nCurrent date: %s", now.Format("2006-01-02"))

	if len(passages) > 0 {
		b.WriteString("\n\nContext:")
		for i, p := range passages {
			source := p.Source
			if source == "" {
				source = "unknown"
			}
			fmt.Fprintf(&b, "\n[%d] (%s) %s", i+1, source, strings.TrimSpace(p.Text))
		}
	}
	return b.String()
}

// capPassages keeps at most budget passages and at most maxChars characters
// of passage text, truncating the last one that fits partially.
func capPassages(passages []domain.RetrievedPassage, budget, maxChars int) []domain.RetrievedPassage {
	if budget > 0 && len(passages) > budget {
		passages = passages[:budget]
	}
	if maxChars <= 0 {
		return passages
	}
	out := make([]domain.RetrievedPassage, 0, len(passages))
	remaining := maxChars
	for _, p := range passages {
		if remaining <= 0 {
			break
		}
		if n := utf8.RuneCountInString(p.Text); n > remaining {
			p.Text = string([]rune(p.Text)[:remaining])
		}
		remaining -= utf8.RuneCountInString(p.Text)
		out = append(out, p)
	}
	return out
}

// estimateTokens is a rough chars/4 estimate of what a turn costs in the
// prompt.
func estimateTokens(t domain.Turn) int {
	n := utf8.RuneCountInString(t.Content)
	for _, c := range t.ToolCalls {
		n += len(c.Name) + len(c.Arguments)
	}
	if t.ToolCall != nil {
		n += utf8.RuneCountInString(t.ToolCall.Text())
	}
	return (n + 3) / 4
}

// trimWindow drops the oldest turns until the estimate fits maxTokens, then
// drops leading turns until the window starts at a user turn so no tool
// result is left without the call that produced it.
func trimWindow(turns []domain.Turn, maxTokens int) []domain.Turn {
	if maxTokens > 0 {
		total := 0
		for _, t := range turns {
			total += estimateTokens(t)
		}
		for len(turns) > 0 && total > maxTokens {
			total -= estimateTokens(turns[0])
			turns = turns[1:]
		}
	}
	for len(turns) > 0 && turns[0].Role != domain.RoleUser {
		turns = turns[1:]
	}
	return turns
}

// turnsToMessages converts stored turns into provider messages.
func turnsToMessages(turns []domain.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case domain.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Content, ToolCalls: t.ToolCalls})
		case domain.RoleTool:
			if t.ToolCall == nil {
				continue
			}
			msgs = append(msgs, toolMessage(*t.ToolCall))
		}
	}
	return msgs
}

func toolMessage(r domain.ToolCallResult) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    r.Text(),
		ToolCallID: r.CallID,
		Name:       r.Name,
		IsError:    r.IsError,
	}
}
