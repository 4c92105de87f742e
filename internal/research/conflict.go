package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/pkg/anthropic"
)

const conflictSystemPrompt = "You are a maritime data analyst comparing research findings from multiple queries. Identify fields where the queries disagree. Return only valid JSON."

const conflictPromptTemplate = `The research queries below investigated the same %s. The following values were extracted:

%s

Per-query research text:
%s

For each field where the queries report materially different values, list the conflicting candidates. Return a JSON object keyed by field name:
{"<field>": [{"conflicting_value": <value>, "source_query": "<query name>", "confidence": <0.0-1.0>, "evidence": "<short quote>"}]}

Return {} if there are no conflicts.`

// DetectConflicts runs the best-effort conflict pass: a second LLM call that
// compares per-query findings against the extracted values. Any failure
// yields an empty conflict set, never an error — conflicts are advisory.
func DetectConflicts(ctx context.Context, llm anthropic.Client, llmModel, entityKind string, runs []QueryRun, fields map[string]ExtractedField) map[string][]model.FieldConflict {
	if llm == nil || len(runs) == 0 || len(fields) == 0 {
		return map[string][]model.FieldConflict{}
	}

	extracted, err := json.Marshal(extractedValues(fields))
	if err != nil {
		logParseFailure("conflict", err)
		return map[string][]model.FieldConflict{}
	}

	var texts strings.Builder
	for _, run := range runs {
		if run.Err != nil {
			continue
		}
		fmt.Fprintf(&texts, "--- Query %q ---\n%s\n\n", run.Name, TruncateMiddle(run.Content, 12000))
	}

	resp, err := llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     llmModel,
		MaxTokens: 2048,
		System:    conflictSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(conflictPromptTemplate, entityKind, string(extracted), texts.String()),
		}},
	})
	if err != nil {
		logParseFailure("conflict", err)
		return map[string][]model.FieldConflict{}
	}

	var raw map[string][]struct {
		ConflictingValue any     `json:"conflicting_value"`
		SourceQuery      string  `json:"source_query"`
		Confidence       float64 `json:"confidence"`
		Evidence         string  `json:"evidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); err != nil {
		logParseFailure("conflict", err)
		return map[string][]model.FieldConflict{}
	}

	conflicts := make(map[string][]model.FieldConflict, len(raw))
	for field, entries := range raw {
		name := matchFieldName(field, fieldNames(fields))
		if name == "" {
			continue
		}
		for _, e := range entries {
			if e.ConflictingValue == nil {
				continue
			}
			conflicts[name] = append(conflicts[name], model.FieldConflict{
				ConflictingValue: e.ConflictingValue,
				SourceQuery:      e.SourceQuery,
				Confidence:       clamp01(e.Confidence),
				Evidence:         e.Evidence,
			})
		}
	}
	return conflicts
}

func extractedValues(fields map[string]ExtractedField) map[string]any {
	out := make(map[string]any, len(fields))
	for name, f := range fields {
		out[name] = f.Value
	}
	return out
}

func fieldNames(fields map[string]ExtractedField) []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	return out
}
