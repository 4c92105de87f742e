package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// TruncationMarker is inserted in-band wherever research text is cut to fit
// a size bound. Consumers must not assume unbounded length.
const TruncationMarker = "\n\n[... truncated for length ...]\n\n"

// FieldQuality tags how well an extracted value was supported by the text.
type FieldQuality string

const (
	QualityExplicit FieldQuality = "explicit"
	QualityInferred FieldQuality = "inferred"
	QualityPartial  FieldQuality = "partial"
)

// ExtractedField is the canonical internal form of one extracted field,
// regardless of which wire shape the LLM returned.
type ExtractedField struct {
	Value         any          `json:"value"`
	Confidence    float64      `json:"confidence"`
	SourceQueries []int        `json:"source_queries,omitempty"`
	Quality       FieldQuality `json:"quality"`
}

// legacyConfidence is assigned to bare-value (old wire format) fields that
// carry no self-reported confidence.
const legacyConfidence = 0.5

// NormalizeExtraction maps a decoded LLM response into canonical extracted
// fields. It accepts both the structured value/confidence/source_queries/
// quality shape and the legacy bare-value shape; format drift must never
// fail extraction. Null values are dropped.
func NormalizeExtraction(raw map[string]any) map[string]ExtractedField {
	fields := make(map[string]ExtractedField, len(raw))

	for name, v := range raw {
		if v == nil {
			continue
		}

		obj, ok := v.(map[string]any)
		if !ok {
			fields[name] = ExtractedField{
				Value:      v,
				Confidence: legacyConfidence,
				Quality:    QualityInferred,
			}
			continue
		}

		inner, hasValue := obj["value"]
		if !hasValue {
			// An object without a "value" key is itself a bare value
			// (e.g. a coordinates object in the old format).
			fields[name] = ExtractedField{
				Value:      v,
				Confidence: legacyConfidence,
				Quality:    QualityInferred,
			}
			continue
		}
		if inner == nil {
			continue
		}

		field := ExtractedField{
			Value:      inner,
			Confidence: legacyConfidence,
			Quality:    QualityInferred,
		}
		if c, ok := toFloat64(obj["confidence"]); ok {
			field.Confidence = clamp01(c)
		}
		if q, ok := obj["quality"].(string); ok {
			switch FieldQuality(q) {
			case QualityExplicit, QualityInferred, QualityPartial:
				field.Quality = FieldQuality(q)
			}
		}
		if idxs, ok := obj["source_queries"].([]any); ok {
			for _, idx := range idxs {
				if n, ok := toFloat64(idx); ok {
					field.SourceQueries = append(field.SourceQueries, int(n))
				}
			}
		}

		fields[name] = field
	}

	return fields
}

const extractSystemPrompt = "You are a maritime industry data analyst extracting structured facts about ports and terminal operators from research text. Return only valid JSON matching the requested schema. Use null for fields the text does not support."

const extractPromptTemplate = `Extract the following fields for the %s "%s" from the research text below.

Fields to extract:
%s

For each field return an object:
{"value": <extracted value>, "confidence": <0.0-1.0>, "source_queries": [<indices of the research sections supporting it>], "quality": "explicit"|"inferred"|"partial"}

Return one JSON object keyed by field name. Use null for fields not found.

Research text (sections are numbered):
%s`

// ParseExtraction decodes an LLM extraction response into canonical fields.
// Returns a VALIDATION_ERROR when the response is not a JSON object.
func ParseExtraction(text string) (map[string]ExtractedField, error) {
	cleaned := cleanJSON(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, NewError(CategoryValidation, "research: parse extraction response", err)
	}

	return NormalizeExtraction(raw), nil
}

// BuildExtractionPrompt assembles the extraction prompt, bounding the
// research text to maxChars with head and tail preserved.
func BuildExtractionPrompt(entityKind, entityName string, fieldNames []string, researchText string, maxChars int) string {
	var fieldList strings.Builder
	for _, f := range fieldNames {
		fieldList.WriteString("- " + f + "\n")
	}
	return fmt.Sprintf(extractPromptTemplate,
		entityKind, entityName, fieldList.String(),
		TruncateMiddle(researchText, maxChars),
	)
}

// TruncateMiddle bounds s to roughly max characters, keeping the head and
// tail and inserting the truncation marker between them. The head gets
// roughly two thirds of the budget.
func TruncateMiddle(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	budget := max - len(TruncationMarker)
	if budget <= 0 {
		return s[:max]
	}
	head := budget * 2 / 3
	tail := budget - head
	return s[:head] + TruncationMarker + s[len(s)-tail:]
}

// cleanJSON strips markdown code fences and leading/trailing prose so the
// payload can be unmarshalled.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func logParseFailure(stage string, err error) {
	zap.L().Warn("research: LLM response parse failure",
		zap.String("stage", stage),
		zap.Error(err),
	)
}
