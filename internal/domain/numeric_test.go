package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-5, 0, 100))
	assert.Equal(t, 100.0, Clamp(250, 0, 100))
	assert.Equal(t, 42.0, Clamp(42, 0, 100))
	assert.Equal(t, 1.0, Clamp01(1.2))
}

func TestLabelForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  ConfidenceLabel
	}{
		{95, LabelHigh},
		{80, LabelHigh},
		{79.4, LabelMedium},
		{60, LabelMedium},
		{59, LabelLow},
		{40, LabelLow},
		{39.9, LabelHidden},
		{0, LabelHidden},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LabelForScore(tc.score), "score %v", tc.score)
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMed.Rank())
	assert.Greater(t, SeverityMed.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestSourceLevelWeight(t *testing.T) {
	assert.Equal(t, 1.0, SourceVerified.Weight())
	assert.Equal(t, 0.85, SourceAttributed.Weight())
	assert.Equal(t, 0.6, SourceBehavioral.Weight())
	assert.Equal(t, 0.6, SourceLevel("").Weight())
}
