package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/domain"
)

// Tier names.
const (
	TierCheap = "cheap"
	TierFull  = "full"
)

// Tier is a model capability level with its provider model and token ceiling.
type Tier struct {
	Name           string
	Model          string
	MaxTokens      int
	InputCostPerM  float64
	OutputCostPerM float64
}

// Cost returns the USD cost of usage at this tier's prices.
func (t Tier) Cost(u domain.Usage) float64 {
	return (float64(u.InputTokens)*t.InputCostPerM + float64(u.OutputTokens)*t.OutputCostPerM) / 1_000_000
}

// Features are the request properties the selector looks at.
type Features struct {
	MessageChars int
	HasQuestion  bool
	PassageCount int
}

// Selector maps request features to a tier. The policy is a deliberately
// simple heuristic: a short message that reads as a question goes to the
// cheap tier, everything else to the full tier. Passage count is carried
// for logging and does not change the outcome.
type Selector struct {
	Policy config.TierPolicy
	Cheap  Tier
	Full   Tier
}

// NewSelector builds a Selector from model configuration.
func NewSelector(models config.ModelsConfig) Selector {
	tier := func(name string, e config.TierEntry) Tier {
		return Tier{
			Name:           name,
			Model:          e.Model,
			MaxTokens:      e.MaxTokens,
			InputCostPerM:  e.InputCostPerM,
			OutputCostPerM: e.OutputCostPerM,
		}
	}
	return Selector{
		Policy: models.TierPolicy,
		Cheap:  tier(TierCheap, models.Tiers.Cheap),
		Full:   tier(TierFull, models.Tiers.Full),
	}
}

// Select returns the tier for f.
func (s Selector) Select(f Features) Tier {
	if f.HasQuestion && f.MessageChars <= s.Policy.MaxCheapChars {
		return s.Cheap
	}
	return s.Full
}

// FeaturesOf computes selector input for a message. Length is counted in
// characters, not bytes.
func (s Selector) FeaturesOf(message string, passages []domain.RetrievedPassage) Features {
	f := Features{
		MessageChars: utf8.RuneCountInString(strings.TrimSpace(message)),
		PassageCount: len(passages),
	}
	for _, marker := range s.Policy.QuestionMarkers {
		if marker != "" && strings.Contains(message, marker) {
			f.HasQuestion = true
			break
		}
	}
	return f
}
