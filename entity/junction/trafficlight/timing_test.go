package trafficlight_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

func TestComputeGreen(t *testing.T) {
	p := trafficlight.NewTimingParameters(config.Default())
	require.NoError(t, p.Validate())

	assert.Equal(t, 15.0, trafficlight.ComputeGreen(entity.DensityLow, p))
	assert.Equal(t, 30.0, trafficlight.ComputeGreen(entity.DensityMedium, p))
	assert.Equal(t, 45.0, trafficlight.ComputeGreen(entity.DensityHigh, p))
	assert.Equal(t, 60.0, trafficlight.ComputeGreen(entity.DensityCritical, p))
	assert.Equal(t, 3.0, trafficlight.YellowDuration(p))
}

func TestComputeGreenClamps(t *testing.T) {
	p := trafficlight.NewTimingParameters(config.Default())
	p.Green[entity.DensityCritical] = 200
	p.Green[entity.DensityLow] = 1
	assert.Equal(t, p.MaxGreen, trafficlight.ComputeGreen(entity.DensityCritical, p))
	assert.Equal(t, p.MinGreen, trafficlight.ComputeGreen(entity.DensityLow, p))
}

func TestComputeGreenWithFairness(t *testing.T) {
	p := trafficlight.NewTimingParameters(config.Default())

	assert.Equal(t, 15.0, trafficlight.ComputeGreenWithFairness(entity.DensityLow, 2, p))
	assert.Equal(t, 25.0, trafficlight.ComputeGreenWithFairness(entity.DensityLow, 3, p))
	// boost never pushes past max_green
	p.Green[entity.DensityCritical] = 85
	assert.Equal(t, 90.0, trafficlight.ComputeGreenWithFairness(entity.DensityCritical, 3, p))
}

func TestTimingValidate(t *testing.T) {
	cases := map[string]func(p *trafficlight.TimingParameters){
		"min above max":  func(p *trafficlight.TimingParameters) { p.MinGreen = 95 },
		"zero min":       func(p *trafficlight.TimingParameters) { p.MinGreen = 0 },
		"green too long": func(p *trafficlight.TimingParameters) { p.Green[entity.DensityHigh] = 91 },
		"zero yellow":    func(p *trafficlight.TimingParameters) { p.Yellow = 0 },
		"zero skips":     func(p *trafficlight.TimingParameters) { p.MaxConsecutiveSkips = 0 },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			p := trafficlight.NewTimingParameters(config.Default())
			modify(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Equal(t, entity.ErrCodeConfiguration, entity.CodeOf(err))
		})
	}
}
