package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/pkg/anthropic"
)

// UpdateCandidate is one field considered for an update recommendation.
type UpdateCandidate struct {
	Field         string
	CurrentValue  any
	ProposedValue any
	Confidence    float64
}

// Recommendation is the per-field outcome of the recommendation pass.
type Recommendation struct {
	ShouldUpdate bool
	Priority     model.UpdatePriority
	Reasoning    string
}

const recommendSystemPrompt = "You are a maritime data steward deciding which proposed field updates are worth applying. Return only valid JSON."

const recommendPromptTemplate = `For each field of this %s, decide whether the proposed value should replace the current one, and how urgent the update is.

Fields:
%s

Return a JSON object keyed by field name:
{"<field>": {"should_update": true|false, "priority": "high"|"medium"|"low", "reasoning": "<one sentence>"}}`

// deterministicThreshold is the confidence floor for the rule-based
// fallback recommendation.
const deterministicThreshold = 0.5

// RecommendUpdates runs the batched recommendation pass: one LLM call for
// all candidates to bound token cost. If the call fails or a field cannot be
// matched back by name, that field falls back to the deterministic rule:
// update when the value changed and confidence ≥ 0.5.
func RecommendUpdates(ctx context.Context, llm anthropic.Client, llmModel, entityKind string, candidates []UpdateCandidate) map[string]Recommendation {
	recs := make(map[string]Recommendation, len(candidates))
	for _, c := range candidates {
		recs[c.Field] = fallbackRecommendation(c)
	}
	if llm == nil || len(candidates) == 0 {
		return recs
	}

	var list strings.Builder
	for _, c := range candidates {
		cur, _ := json.Marshal(c.CurrentValue)
		prop, _ := json.Marshal(c.ProposedValue)
		fmt.Fprintf(&list, "- %s: current=%s proposed=%s confidence=%.2f\n",
			c.Field, cur, prop, c.Confidence)
	}

	resp, err := llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     llmModel,
		MaxTokens: 2048,
		System:    recommendSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(recommendPromptTemplate, entityKind, list.String()),
		}},
	})
	if err != nil {
		logParseFailure("recommend", err)
		return recs
	}

	var raw map[string]struct {
		ShouldUpdate bool   `json:"should_update"`
		Priority     string `json:"priority"`
		Reasoning    string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); err != nil {
		logParseFailure("recommend", err)
		return recs
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Field
	}

	for field, r := range raw {
		name := matchFieldName(field, names)
		if name == "" {
			continue
		}
		rec := Recommendation{
			ShouldUpdate: r.ShouldUpdate,
			Priority:     parsePriority(r.Priority),
			Reasoning:    r.Reasoning,
		}
		recs[name] = rec
	}

	return recs
}

func fallbackRecommendation(c UpdateCandidate) Recommendation {
	changed := !valuesEqual(c.CurrentValue, c.ProposedValue)
	rec := Recommendation{
		ShouldUpdate: changed && c.Confidence >= deterministicThreshold,
		Priority:     model.PriorityLow,
		Reasoning:    "rule-based: value comparison and confidence threshold",
	}
	if rec.ShouldUpdate {
		rec.Priority = model.PriorityMedium
		if c.Confidence >= 0.8 {
			rec.Priority = model.PriorityHigh
		}
	}
	return rec
}

func parsePriority(s string) model.UpdatePriority {
	switch model.UpdatePriority(strings.ToLower(strings.TrimSpace(s))) {
	case model.PriorityHigh:
		return model.PriorityHigh
	case model.PriorityLow:
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

// valuesEqual compares two field values through their JSON encoding, which
// sidesteps type drift between stored and extracted representations.
func valuesEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// matchFieldName resolves an LLM-reported field name against known names
// using exact, case-insensitive, substring, and snake_case heuristics, in
// that order. Returns "" when nothing matches.
func matchFieldName(name string, known []string) string {
	for _, k := range known {
		if name == k {
			return k
		}
	}
	for _, k := range known {
		if strings.EqualFold(name, k) {
			return k
		}
	}
	lower := strings.ToLower(name)
	for _, k := range known {
		kl := strings.ToLower(k)
		if strings.Contains(kl, lower) || strings.Contains(lower, kl) {
			return k
		}
	}
	snake := toSnakeCase(name)
	for _, k := range known {
		if toSnakeCase(k) == snake {
			return k
		}
	}
	return ""
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ' || r == '-':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
