package candles

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RollingVWAP_WeightedMean(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	r.Add(base, decimal.NewFromInt(100), decimal.NewFromInt(1))
	r.Add(base.Add(time.Minute), decimal.NewFromInt(200), decimal.NewFromInt(1))

	v := r.VWAP()
	require.NotNil(t, v)
	assert.Equal(t, "150", v.String())
	assert.Equal(t, 2, r.Count())
}

func Test_RollingVWAP_NotionalWeighting(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// 100 with weight 3, 200 with weight 1: (300+200)/4 = 125.
	r.Add(base, decimal.NewFromInt(100), decimal.NewFromInt(3))
	r.Add(base, decimal.NewFromInt(200), decimal.NewFromInt(1))

	v := r.VWAP()
	require.NotNil(t, v)
	assert.Equal(t, "125", v.String())
}

func Test_RollingVWAP_EmptyWindow(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	assert.Nil(t, r.VWAP())
	assert.Equal(t, 0, r.Count())
}

func Test_RollingVWAP_ZeroNotional(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	r.Add(time.Now(), decimal.NewFromInt(100), decimal.Zero)
	assert.Nil(t, r.VWAP())
}

func Test_RollingVWAP_Trim(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	r.Add(base, decimal.NewFromInt(100), decimal.NewFromInt(1))
	r.Add(base.Add(30*time.Minute), decimal.NewFromInt(200), decimal.NewFromInt(1))
	r.Add(base.Add(61*time.Minute), decimal.NewFromInt(300), decimal.NewFromInt(1))

	// Window [10:01, 11:01]: the 10:00 entry falls out.
	r.Trim(base.Add(61 * time.Minute))
	assert.Equal(t, 2, r.Count())

	v := r.VWAP()
	require.NotNil(t, v)
	assert.Equal(t, "250", v.String())
}

func Test_RollingVWAP_TrimBoundaryInclusive(t *testing.T) {
	r := NewRollingVWAP(time.Hour)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	r.Add(base, decimal.NewFromInt(100), decimal.NewFromInt(1))

	// Exactly one window old stays in: the window is closed at the floor.
	r.Trim(base.Add(time.Hour))
	assert.Equal(t, 1, r.Count())

	v := r.VWAP()
	require.NotNil(t, v)
	assert.Equal(t, "100", v.String())

	// One nanosecond further and it falls out.
	r.Trim(base.Add(time.Hour + time.Nanosecond))
	assert.Equal(t, 0, r.Count())
	assert.Nil(t, r.VWAP())
}
