package trafficlight_test

import (
	"errors"
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/density"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"golang.org/x/exp/rand"
)

type recorder struct {
	trafficlight.BaseObserver
	prev []entity.SignalPhase
	next []entity.SignalPhase
}

func (r *recorder) OnPhaseChange(prev, next entity.SignalPhase) {
	r.prev = append(r.prev, prev)
	r.next = append(r.next, next)
}

func (r *recorder) greens() []entity.SignalPhase {
	return lo.Filter(r.next, func(p entity.SignalPhase, _ int) bool {
		return p.Light == entity.LightGreen
	})
}

func newController(t *testing.T, modify func(c *config.Config)) (*trafficlight.Controller, *recorder, *trafficlight.StatsObserver) {
	t.Helper()
	c := config.Default()
	if modify != nil {
		modify(&c)
	}
	require.NoError(t, c.Validate())
	var approaches [entity.NumDirections]*approach.Approach
	for _, d := range entity.AllDirections {
		approaches[d] = approach.New(d, density.Thresholds(c.ThresholdTable()), density.NewSmoother(density.MethodRaw, 1, 0))
	}
	ctl, err := trafficlight.NewController(trafficlight.NewTimingParameters(c), approaches)
	require.NoError(t, err)
	rec := &recorder{}
	stats := trafficlight.NewStatsObserver()
	ctl.AddObserver(rec)
	ctl.AddObserver(stats)
	return ctl, rec, stats
}

func observeAll(t *testing.T, ctl *trafficlight.Controller, counts [entity.NumDirections]int32, at float64) {
	t.Helper()
	for _, d := range entity.AllDirections {
		require.NoError(t, ctl.Observe(entity.Observation{Direction: d, VehicleCount: counts[d], T: at}))
	}
}

func run(ctl *trafficlight.Controller, from, to float64) {
	for now := from; now <= to; now++ {
		ctl.Tick(now)
	}
}

func directions(phases []entity.SignalPhase) []entity.Direction {
	return lo.Map(phases, func(p entity.SignalPhase, _ int) entity.Direction { return p.Serving })
}

func durations(phases []entity.SignalPhase) []float64 {
	return lo.Map(phases, func(p entity.SignalPhase, _ int) float64 { return p.Duration })
}

func TestFirstSelectionServesMostCongested(t *testing.T) {
	ctl, _, _ := newController(t, nil)
	observeAll(t, ctl, [4]int32{3, 20, 0, 12}, 0)

	levels := lo.Map(ctl.Approaches(), func(s approach.Snapshot, _ int) entity.DensityLevel { return s.Density })
	assert.Equal(t, []entity.DensityLevel{entity.DensityLow, entity.DensityHigh, entity.DensityLow, entity.DensityMedium}, levels)

	entered := ctl.Tick(0)
	require.Len(t, entered, 1)
	p := entered[0]
	assert.Equal(t, entity.DirectionSouth, p.Serving)
	assert.Equal(t, entity.LightGreen, p.Light)
	assert.Equal(t, 45.0, p.Duration)
	assert.Equal(t, p, ctl.Phase())
}

func TestSilentDirectionKeepsLastDensity(t *testing.T) {
	ctl, rec, _ := newController(t, nil)
	// south reports once and then goes quiet
	observeAll(t, ctl, [4]int32{0, 20, 0, 0}, 0)
	run(ctl, 0, 400)

	greens := rec.greens()
	require.GreaterOrEqual(t, len(greens), 5)
	assert.Equal(t, entity.DirectionSouth, greens[0].Serving)
	assert.Equal(t, entity.DirectionEast, greens[1].Serving)
	assert.ElementsMatch(t, []entity.Direction{entity.DirectionNorth, entity.DirectionWest}, directions(greens[2:4]))
	assert.Equal(t, entity.DirectionSouth, greens[4].Serving)

	south := lo.Filter(greens, func(p entity.SignalPhase, _ int) bool { return p.Serving == entity.DirectionSouth })
	require.GreaterOrEqual(t, len(south), 2)
	for _, p := range south {
		assert.Equal(t, 45.0, p.Duration)
	}
	s := ctl.Approaches()[entity.DirectionSouth]
	assert.Equal(t, entity.DensityHigh, s.Density)
	assert.Equal(t, 20.0, s.SmoothedCount)
}

func TestAllLowRoundRobin(t *testing.T) {
	ctl, rec, stats := newController(t, nil)
	observeAll(t, ctl, [4]int32{2, 1, 0, 3}, 0)
	run(ctl, 0, 150)

	greens := rec.greens()
	require.GreaterOrEqual(t, len(greens), 8)
	assert.Equal(t, []entity.Direction{
		entity.DirectionNorth, entity.DirectionSouth, entity.DirectionEast, entity.DirectionWest,
		entity.DirectionNorth, entity.DirectionSouth, entity.DirectionEast, entity.DirectionWest,
	}, directions(greens[:8]))
	for _, d := range durations(greens) {
		assert.Equal(t, 15.0, d)
	}
	assert.Zero(t, stats.Violations)
}

func TestStarvedDirectionForcedToFront(t *testing.T) {
	ctl, rec, _ := newController(t, nil)
	observeAll(t, ctl, [4]int32{10, 10, 10, 0}, 0)

	run(ctl, 0, 98)
	greens := rec.greens()
	require.Len(t, greens, 3)
	assert.Equal(t, []entity.Direction{entity.DirectionNorth, entity.DirectionSouth, entity.DirectionEast}, directions(greens))
	west := ctl.Approaches()[entity.DirectionWest]
	assert.Equal(t, 3, west.ConsecutiveSkips)
	assert.Equal(t, entity.DensityLow, west.Density)

	entered := ctl.Tick(99)
	require.Len(t, entered, 1)
	assert.Equal(t, entity.DirectionWest, entered[0].Serving)
	// LOW green plus the fairness boost, being outranked by denser approaches
	assert.Equal(t, 25.0, entered[0].Duration)
	assert.Zero(t, ctl.Approaches()[entity.DirectionWest].ConsecutiveSkips)
}

func TestSkipsCountSelectionsOfOthers(t *testing.T) {
	ctl, rec, _ := newController(t, nil)
	observeAll(t, ctl, [4]int32{30, 30, 30, 30}, 0)

	skips := map[entity.Direction]int{}
	ctl.AddObserver(&skipChecker{t: t, ctl: ctl, skips: skips})
	run(ctl, 0, 1000)
	assert.NotEmpty(t, rec.greens())
	// all CRITICAL: every direction gets max_green
	for _, d := range durations(rec.greens()) {
		assert.Equal(t, 90.0, d)
	}
}

// skipChecker 在每次进入绿灯时核对各方向的连续跳过次数
type skipChecker struct {
	trafficlight.BaseObserver
	t     *testing.T
	ctl   *trafficlight.Controller
	skips map[entity.Direction]int
}

func (c *skipChecker) OnPhaseChange(prev, next entity.SignalPhase) {
	if next.Light != entity.LightGreen {
		return
	}
	for _, d := range entity.AllDirections {
		if d == next.Serving {
			c.skips[d] = 0
		} else {
			c.skips[d]++
		}
	}
	for _, s := range c.ctl.Approaches() {
		assert.Equal(c.t, c.skips[s.Direction], s.ConsecutiveSkips, "skips of %v", s.Direction)
	}
}

func TestSafetyAndLiveness(t *testing.T) {
	ctl, rec, stats := newController(t, nil)
	r := rand.New(rand.NewSource(42))
	p := ctl.Params()
	horizon := 4*p.MaxGreen + 4*p.Yellow + 1

	for now := 0.0; now <= horizon*3; now += 0.5 {
		if int(now)%5 == 0 {
			for _, d := range entity.AllDirections {
				require.NoError(t, ctl.Observe(entity.Observation{Direction: d, VehicleCount: int32(r.Intn(40)), T: now}))
			}
		}
		ctl.Tick(now)
		phase := ctl.Phase()
		nonRed := lo.CountBy(phase.Indications(), func(s mapv2.LightState) bool {
			return s != mapv2.LightState_LIGHT_STATE_RED
		})
		require.LessOrEqual(t, nonRed, 1)
		assert.Equal(t, phase, ctl.Phase())
	}

	// no direct change between two greens
	for i, next := range rec.next {
		if next.Light == entity.LightGreen && rec.prev[i].Light == entity.LightGreen {
			t.Fatalf("green %v followed green %v without yellow", next, rec.prev[i])
		}
		if next.Light == entity.LightYellow {
			assert.Equal(t, rec.prev[i].Serving, next.Serving)
		}
	}
	// every direction served within any window longer than a full worst-case cycle
	greens := rec.greens()
	for start := 0.0; start+horizon <= horizon*3; start += horizon / 4 {
		window := lo.Filter(greens, func(g entity.SignalPhase, _ int) bool {
			return g.StartedAt >= start && g.StartedAt < start+horizon
		})
		served := lo.Uniq(directions(window))
		assert.Len(t, served, entity.NumDirections, "window starting at %v", start)
	}
	assert.Zero(t, stats.Violations)
}

func TestObservationDoesNotChangeCurrentGreen(t *testing.T) {
	ctl, _, _ := newController(t, nil)
	observeAll(t, ctl, [4]int32{0, 0, 0, 0}, 0)
	ctl.Tick(0)
	before := ctl.Phase()
	require.Equal(t, 15.0, before.Duration)

	observeAll(t, ctl, [4]int32{50, 50, 50, 50}, 5)
	assert.Empty(t, ctl.Tick(5))
	assert.Equal(t, before, ctl.Phase())
	// the new densities only apply from the next selection
	run(ctl, 6, 18)
	assert.Equal(t, 90.0, ctl.Phase().Duration)
}

func TestObserveRejectsInvalidInput(t *testing.T) {
	ctl, _, stats := newController(t, nil)
	ctl.Tick(0)
	before := ctl.Phase()

	err := ctl.Observe(entity.Observation{Direction: entity.DirectionEast, VehicleCount: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrNegativeCount))
	assert.Equal(t, entity.ErrCodeInvalidInput, entity.CodeOf(err))

	err = ctl.Observe(entity.Observation{Direction: entity.Direction(7), VehicleCount: 3})
	assert.ErrorIs(t, err, entity.ErrInvalidDirection)

	assert.Equal(t, before, ctl.Phase())
	assert.Equal(t, 2, stats.Rejected)
}

func TestCoarseTickAppliesBoundaryTimes(t *testing.T) {
	ctl, _, stats := newController(t, nil)
	entered := ctl.Tick(0)
	require.Len(t, entered, 1)

	entered = ctl.Tick(40)
	// N green [0,15) yellow [15,18) S green [18,33) yellow [33,36) E green [36,51)
	require.Len(t, entered, 4)
	assert.Equal(t, []float64{15, 18, 33, 36}, lo.Map(entered, func(p entity.SignalPhase, _ int) float64 { return p.StartedAt }))
	assert.Equal(t, entity.DirectionEast, ctl.Phase().Serving)
	rem, ok := ctl.Remaining(40)
	assert.True(t, ok)
	assert.Equal(t, 11.0, rem)
	assert.Equal(t, 2, stats.Cycles)
}

func TestForceServe(t *testing.T) {
	ctl, rec, _ := newController(t, nil)
	ctl.Tick(0)
	require.Equal(t, entity.DirectionNorth, ctl.Phase().Serving)

	assert.ErrorIs(t, ctl.ForceServe(entity.DirectionNorth), entity.ErrAlreadyServing)
	assert.ErrorIs(t, ctl.ForceServe(entity.DirectionNone), entity.ErrInvalidDirection)
	require.NoError(t, ctl.ForceServe(entity.DirectionWest))

	// the current green and its yellow still run out
	run(ctl, 1, 17)
	assert.Equal(t, entity.LightYellow, ctl.Phase().Light)
	ctl.Tick(18)
	assert.Equal(t, entity.DirectionWest, ctl.Phase().Serving)

	// applied once only
	run(ctl, 19, 36)
	greens := rec.greens()
	assert.Equal(t, []entity.Direction{entity.DirectionNorth, entity.DirectionWest, entity.DirectionSouth}, directions(greens))
}

func TestForceServeBreakingDeadlinePreemptsStarved(t *testing.T) {
	ctl, rec, stats := newController(t, nil)
	observeAll(t, ctl, [4]int32{1, 1, 1, 1}, 0)
	run(ctl, 0, 40)
	require.Equal(t, entity.DirectionEast, ctl.Phase().Serving)
	require.NoError(t, ctl.ForceServe(entity.DirectionSouth))

	run(ctl, 41, 98)
	greens := rec.greens()
	require.Len(t, greens, 7)
	assert.Equal(t, []entity.Direction{
		entity.DirectionNorth, entity.DirectionSouth, entity.DirectionEast,
		entity.DirectionSouth, entity.DirectionWest, entity.DirectionNorth, entity.DirectionEast,
	}, directions(greens))
	// greens chosen while another approach was starved are cut to min_green
	assert.Equal(t, []float64{15, 15, 15, 10, 10, 15, 15}, durations(greens))
	assert.Equal(t, 2, stats.Violations)
	for _, s := range ctl.Approaches() {
		assert.LessOrEqual(t, s.ConsecutiveSkips, 3)
	}
}

func TestAdvance(t *testing.T) {
	ctl, _, _ := newController(t, nil)
	ctl.Tick(0)
	p, err := ctl.Advance(4)
	require.NoError(t, err)
	assert.Equal(t, entity.LightYellow, p.Light)
	assert.Equal(t, entity.DirectionNorth, p.Serving)
	assert.Equal(t, 4.0, p.StartedAt)
	assert.Equal(t, 3.0, p.Duration)

	_, err = ctl.Advance(5)
	assert.Error(t, err)

	ctl.Tick(7)
	assert.Equal(t, entity.DirectionSouth, ctl.Phase().Serving)
}

func TestGracefulStop(t *testing.T) {
	ctl, rec, _ := newController(t, nil)
	ctl.Tick(0)
	ctl.RequestStop()
	assert.ErrorIs(t, ctl.ForceServe(entity.DirectionEast), entity.ErrStopped)

	run(ctl, 1, 14)
	assert.False(t, ctl.Stopped())
	assert.Equal(t, entity.LightGreen, ctl.Phase().Light)

	run(ctl, 15, 30)
	assert.True(t, ctl.Stopped())
	assert.Equal(t, entity.LightAllRed, ctl.Phase().Light)
	lights := lo.Map(rec.next, func(p entity.SignalPhase, _ int) entity.Light { return p.Light })
	assert.Equal(t, []entity.Light{entity.LightGreen, entity.LightYellow, entity.LightAllRed}, lights)
	assert.Empty(t, ctl.Tick(100))
}

func TestAbortGoesAllRedImmediately(t *testing.T) {
	ctl, _, _ := newController(t, nil)
	ctl.Tick(0)
	p := ctl.Abort(3)
	assert.Equal(t, entity.LightAllRed, p.Light)
	assert.Equal(t, 3.0, p.StartedAt)
	assert.True(t, ctl.Stopped())
	for _, s := range p.Indications() {
		assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, s)
	}
	assert.Equal(t, p, ctl.Abort(10))
}

func TestNewControllerRejectsBadParameters(t *testing.T) {
	c := config.Default()
	params := trafficlight.NewTimingParameters(c)
	params.MinGreen = 100
	_, err := trafficlight.NewController(params, [4]*approach.Approach{})
	require.Error(t, err)
	assert.Equal(t, entity.ErrCodeConfiguration, entity.CodeOf(err))

	_, err = trafficlight.NewController(trafficlight.NewTimingParameters(c), [4]*approach.Approach{})
	assert.Equal(t, entity.ErrCodeConfiguration, entity.CodeOf(err))
}
