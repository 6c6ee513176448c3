package density_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/density"
)

func TestClassifyDefaultBands(t *testing.T) {
	cases := map[int32]entity.DensityLevel{
		0:   entity.DensityLow,
		5:   entity.DensityLow,
		6:   entity.DensityMedium,
		15:  entity.DensityMedium,
		16:  entity.DensityHigh,
		25:  entity.DensityHigh,
		26:  entity.DensityCritical,
		500: entity.DensityCritical,
	}
	for count, want := range cases {
		got, err := density.Classify(count, density.DefaultThresholds)
		require.NoError(t, err)
		assert.Equal(t, want, got, "count %d", count)
	}
}

func TestClassifyScenarioCounts(t *testing.T) {
	counts := map[entity.Direction]int32{
		entity.DirectionNorth: 3,
		entity.DirectionSouth: 20,
		entity.DirectionEast:  0,
		entity.DirectionWest:  12,
	}
	want := map[entity.Direction]entity.DensityLevel{
		entity.DirectionNorth: entity.DensityLow,
		entity.DirectionSouth: entity.DensityHigh,
		entity.DirectionEast:  entity.DensityLow,
		entity.DirectionWest:  entity.DensityMedium,
	}
	for d, c := range counts {
		got, err := density.Classify(c, density.DefaultThresholds)
		require.NoError(t, err)
		assert.Equal(t, want[d], got, d.String())
	}
}

func TestClassifyMonotonicAndDeterministic(t *testing.T) {
	custom := density.Thresholds{0, 2, 3, 40}
	for _, th := range []density.Thresholds{density.DefaultThresholds, custom} {
		prev := entity.DensityLow
		for c := int32(0); c < 100; c++ {
			a, err := density.Classify(c, th)
			require.NoError(t, err)
			b, _ := density.Classify(c, th)
			assert.Equal(t, a, b)
			assert.GreaterOrEqual(t, a, prev, "count %d", c)
			prev = a
		}
	}
}

func TestClassifyNegative(t *testing.T) {
	_, err := density.Classify(-1, density.DefaultThresholds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrNegativeCount))
	assert.Equal(t, entity.ErrCodeInvalidInput, entity.CodeOf(err))
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, density.DefaultThresholds.Validate())
	assert.Error(t, density.Thresholds{0, 6, 6, 26}.Validate())
	assert.Error(t, density.Thresholds{1, 6, 16, 26}.Validate())
}

func TestSmootherWindow(t *testing.T) {
	s := density.NewSmoother(density.MethodWindow, 3, 0)
	assert.False(t, s.Seen())
	assert.InDelta(t, 3.0, s.Add(3), 1e-9)
	assert.InDelta(t, 6.0, s.Add(9), 1e-9)
	assert.InDelta(t, 5.0, s.Add(3), 1e-9)
	// 3 dropped out of the window
	assert.InDelta(t, 7.0, s.Add(9), 1e-9)
	assert.Equal(t, int32(7), s.Count())
	assert.True(t, s.Seen())
}

func TestSmootherRawAndEMA(t *testing.T) {
	raw := density.NewSmoother(density.MethodRaw, 5, 0)
	raw.Add(10)
	assert.InDelta(t, 2.0, raw.Add(2), 1e-9)

	ema := density.NewSmoother(density.MethodEMA, 1, 0.5)
	assert.InDelta(t, 10.0, ema.Add(10), 1e-9)
	assert.InDelta(t, 6.0, ema.Add(2), 1e-9)
	assert.Equal(t, int32(6), ema.Count())
}

func TestSmootherFloorsForClassification(t *testing.T) {
	s := density.NewSmoother(density.MethodWindow, 2, 0)
	s.Add(5)
	s.Add(6)
	// mean 5.5 stays LOW
	lvl, err := density.Classify(s.Count(), density.DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, entity.DensityLow, lvl)
}

func TestParseMethod(t *testing.T) {
	m, err := density.ParseMethod("ema")
	require.NoError(t, err)
	assert.Equal(t, density.MethodEMA, m)
	_, err = density.ParseMethod("median")
	assert.Error(t, err)
}
