package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	for _, label := range []string{"1h", "6h", "24h", "7d", "30d"} {
		w, err := ParseWindow(label)
		require.NoError(t, err)
		assert.Equal(t, Window(label), w)
	}

	_, err := ParseWindow("45m")
	assert.Error(t, err)
}

func TestWindowAlignStart(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), Window1h.AlignStart(ts))
	assert.Equal(t, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), Window6h.AlignStart(ts))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), Window24h.AlignStart(ts))
}

func TestWindowAlignStartNormalizesZone(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2026, 3, 14, 1, 30, 0, 0, zone)

	// 01:30 +03:00 is 22:30 UTC the previous day.
	assert.Equal(t, time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC), Window1h.AlignStart(ts))
}

func TestWindowNextAndContains(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	start := Window6h.AlignStart(ts)

	assert.Equal(t, start.Add(6*time.Hour), Window6h.Next(ts))
	assert.True(t, Window6h.Contains(start, ts))
	assert.True(t, Window6h.Contains(start, start))
	assert.False(t, Window6h.Contains(start, start.Add(6*time.Hour)))
}
