package research

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var scoreNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestHeuristicConfidence_Bounds(t *testing.T) {
	// Best case: authoritative marker, many sources, current year, long
	// text with figures. Sub-scores are capped, so the sum stays at 1.
	content := fmt.Sprintf("Per the port authority annual report (%d), throughput reached 14.5 million TEU across the container terminals, with bulk volumes up 3%% year over year.", scoreNow.Year())
	score := HeuristicConfidence(content, []string{"https://a.example", "https://b.example", "https://c.example"}, scoreNow)
	assert.Equal(t, 1.0, score)

	// Worst case still produces a nonzero floor.
	score = HeuristicConfidence("unknown", nil, scoreNow)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestHeuristicConfidence_SourceCountMonotone(t *testing.T) {
	content := "The port handles general cargo."
	none := HeuristicConfidence(content, nil, scoreNow)
	one := HeuristicConfidence(content, []string{"https://a.example"}, scoreNow)
	two := HeuristicConfidence(content, []string{"https://a.example", "https://b.example"}, scoreNow)

	assert.Less(t, none, one)
	assert.Less(t, one, two)
}

func TestHeuristicConfidence_Recency(t *testing.T) {
	sources := []string{"https://a.example"}
	fresh := HeuristicConfidence("Throughput report 2026.", sources, scoreNow)
	stale := HeuristicConfidence("Throughput report 2019.", sources, scoreNow)
	assert.Greater(t, fresh, stale)

	// Years outside the plausible window are ignored, not rewarded.
	bogus := HeuristicConfidence("Projected for 2099.", sources, scoreNow)
	assert.Less(t, bogus, fresh)
}

func TestHeuristicConfidence_SourceQualityTiers(t *testing.T) {
	sources := []string{"https://a.example"}
	authority := HeuristicConfidence("According to the harbor's port authority.", sources, scoreNow)
	maritime := HeuristicConfidence("Listed in the Lloyd's register.", sources, scoreNow)
	generic := HeuristicConfidence("A trade blog mentions the port.", sources, scoreNow)

	assert.Greater(t, authority, maritime)
	assert.Greater(t, maritime, generic)
}

func TestBlendConfidence(t *testing.T) {
	// 0.6×llm + 0.4×heuristic, pinned.
	assert.InDelta(t, 0.6, BlendConfidence(1.0, 0.0), 1e-9)
	assert.InDelta(t, 0.4, BlendConfidence(0.0, 1.0), 1e-9)
	assert.InDelta(t, 0.76, BlendConfidence(0.8, 0.7), 1e-9)

	// Clamped to [0, 1] even with out-of-range inputs.
	assert.Equal(t, 1.0, BlendConfidence(1.5, 1.5))
	assert.Equal(t, 0.0, BlendConfidence(-1, -1))
}
