package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPatternsEnergy(t *testing.T) {
	score, category := matchPatterns("What is the energy output per region this month?")
	assert.Equal(t, "energy_kpi", category)
	// Two of three energy patterns match, so the multi-match bonus applies.
	assert.InDelta(t, 2.0/3.0+0.2, score, 0.001)
}

func TestMatchPatternsVietnamese(t *testing.T) {
	score, category := matchPatterns("So sánh sản lượng điện miền Bắc và miền Nam")
	assert.Equal(t, "comparison", category)
	assert.InDelta(t, 1.0, score, 0.001)

	score, category = matchPatterns("Tổng công suất hôm nay là bao nhiêu?")
	assert.Greater(t, score, 0.0)
	assert.Contains(t, []string{"aggregation", "time_based", "energy_kpi"}, category)
}

func TestMatchPatternsCapAtOne(t *testing.T) {
	score, _ := matchPatterns("compare the difference between north and south")
	assert.LessOrEqual(t, score, 1.0)
}

func TestMatchPatternsNoMatch(t *testing.T) {
	score, category := matchPatterns("hello there")
	assert.Zero(t, score)
	assert.Equal(t, "unknown", category)
}
