package research

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Blend weights for combining LLM-reported confidence with the heuristic
// score. Empirically chosen; tests pin them exactly.
const (
	llmBlendWeight       = 0.6
	heuristicBlendWeight = 0.4
)

var yearRe = regexp.MustCompile(`\b(20\d{2})\b`)

var authorityMarkers = []string{
	"port authority",
	"government",
	"official",
	".gov",
	"ministry",
	"customs",
}

var maritimeMarkers = []string{
	"maritime",
	"lloyd",
	"unctad",
	"harbor master",
	"harbour master",
	"shipping directory",
	"world port",
	"seatrade",
}

// HeuristicConfidence scores a research text plus its sources in [0, 1].
// Four capped sub-scores are summed: source quality (max 0.3), source count
// (max 0.3), recency (max 0.2), completeness (max 0.2).
func HeuristicConfidence(content string, sources []string, now time.Time) float64 {
	score := qualityScore(content, sources) +
		countScore(sources) +
		recencyScore(content, now) +
		completenessScore(content)
	return clamp01(score)
}

func qualityScore(content string, sources []string) float64 {
	lower := strings.ToLower(content)
	for _, m := range authorityMarkers {
		if strings.Contains(lower, m) {
			return 0.3
		}
	}
	for _, m := range maritimeMarkers {
		if strings.Contains(lower, m) {
			return 0.2
		}
	}
	if len(sources) > 0 {
		return 0.1
	}
	return 0.05
}

func countScore(sources []string) float64 {
	switch {
	case len(sources) >= 2:
		return 0.3
	case len(sources) == 1:
		return 0.15
	default:
		return 0.05
	}
}

func recencyScore(content string, now time.Time) float64 {
	latest := 0
	for _, m := range yearRe.FindAllStringSubmatch(content, -1) {
		y, err := strconv.Atoi(m[1])
		if err != nil || y < 2000 || y > now.Year()+1 {
			continue
		}
		if y > latest {
			latest = y
		}
	}
	if latest == 0 {
		return 0.1
	}

	age := now.Year() - latest
	switch {
	case age <= 1:
		return 0.2
	case age <= 3:
		return 0.1
	default:
		return 0.05
	}
}

func completenessScore(content string) float64 {
	long := len(content) > 100
	hasDigits := strings.ContainsAny(content, "0123456789")
	switch {
	case long && hasDigits:
		return 0.2
	case long:
		return 0.1
	default:
		return 0.05
	}
}

// BlendConfidence combines an LLM-reported confidence with the heuristic
// score: 0.6×llm + 0.4×heuristic, clamped to [0, 1].
func BlendConfidence(llm, heuristic float64) float64 {
	return clamp01(llmBlendWeight*llm + heuristicBlendWeight*heuristic)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
