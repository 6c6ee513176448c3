package randengine_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

func TestPoissonDeterministic(t *testing.T) {
	a, b := randengine.New(3), randengine.New(3)
	for range 100 {
		assert.Equal(t, a.Poisson(4), b.Poisson(4))
	}
}

func TestPoissonMoments(t *testing.T) {
	e := randengine.New(1)
	for _, mean := range []float64{0.5, 8, 200} {
		const n = 20000
		sum, sq := 0.0, 0.0
		for range n {
			v := float64(e.Poisson(mean))
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
			sq += v * v
		}
		m := sum / n
		assert.InEpsilon(t, mean, m, 0.05, "mean %v", mean)
		assert.InEpsilon(t, mean, sq/n-m*m, 0.1, "variance %v", mean)
	}
}

func TestPoissonBounds(t *testing.T) {
	e := randengine.New(9)
	assert.Zero(t, e.Poisson(0))
	assert.Zero(t, e.Poisson(-1))
	assert.Zero(t, e.Poisson(math.NaN()))
	assert.Equal(t, int32(math.MaxInt32), e.Poisson(1e12))
}
