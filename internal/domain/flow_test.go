package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowAmountArithmetic(t *testing.T) {
	a := FlowAmount("1000000000000000000")
	b := FlowAmount("2000000000000000000")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, FlowAmount("3000000000000000000"), sum)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, FlowAmount("-1000000000000000000"), diff)

	sign, err := diff.Sign()
	require.NoError(t, err)
	assert.Equal(t, -1, sign)
}

func TestFlowAmountExceedsFloatPrecision(t *testing.T) {
	// 10^27 + 1: a value float64 cannot represent exactly.
	huge := FlowAmount("1" + strings.Repeat("0", 27))

	bumped, err := huge.Add(FlowAmount("1"))
	require.NoError(t, err)
	assert.Equal(t, FlowAmount("1"+strings.Repeat("0", 26)+"1"), bumped)

	cmp, err := bumped.Cmp(huge)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)
}

func TestParseFlowAmountRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "12.5", "0x10", "1e18", "--3"} {
		_, err := ParseFlowAmount(s)
		assert.Error(t, err, "input %q", s)
	}

	f, err := ParseFlowAmount("-42")
	require.NoError(t, err)
	assert.Equal(t, FlowAmount("-42"), f)
}

func TestSumFlows(t *testing.T) {
	total, err := SumFlows("10", "-3", "0", "5")
	require.NoError(t, err)
	assert.Equal(t, FlowAmount("12"), total)

	_, err = SumFlows("10", "not-a-number")
	assert.Error(t, err)

	empty, err := SumFlows()
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}
