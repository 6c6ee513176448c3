package junction

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
)

// DirectionTiming 单个方向的配时建议
type DirectionTiming struct {
	Direction     entity.Direction    `json:"direction"`
	Density       entity.DensityLevel `json:"density"`
	SmoothedCount float64             `json:"smoothed_count"`
	Green         float64             `json:"green"`
	Yellow        float64             `json:"yellow"`
	Total         float64             `json:"total"` // 绿灯+黄灯
}

// Recommendation 按当前密度给出的整周期配时建议
type Recommendation struct {
	Timings         [entity.NumDirections]DirectionTiming `json:"timings"`
	OptimalSequence []entity.Direction                    `json:"optimal_sequence"`
	CycleLength     float64                               `json:"cycle_length"`
}

// Recommend 按各方向当前密度汇总配时建议
// 功能：不改变状态机，只读出每个方向按密度映射的绿灯/黄灯时长，以及推荐的放行顺序
// 返回：配时建议，放行顺序按密度降序、平滑计数降序、固定方向顺序排列
func (j *Junction) Recommend() Recommendation {
	params := j.controller.Params()
	snapshots := j.controller.Approaches()
	var r Recommendation
	for _, s := range snapshots {
		green := trafficlight.ComputeGreen(s.Density, params)
		yellow := trafficlight.YellowDuration(params)
		r.Timings[s.Direction] = DirectionTiming{
			Direction:     s.Direction,
			Density:       s.Density,
			SmoothedCount: s.SmoothedCount,
			Green:         green,
			Yellow:        yellow,
			Total:         green + yellow,
		}
	}
	r.OptimalSequence = OptimalSequence(snapshots)
	r.CycleLength = lo.SumBy(r.Timings[:], func(t DirectionTiming) float64 { return t.Total })
	return r
}

// OptimalSequence 推荐的放行顺序
func OptimalSequence(snapshots []approach.Snapshot) []entity.Direction {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b approach.Snapshot) int {
		return cmp.Or(
			cmp.Compare(b.Density, a.Density),
			cmp.Compare(b.SmoothedCount, a.SmoothedCount),
			cmp.Compare(a.Direction, b.Direction),
		)
	})
	return lo.Map(sorted, func(s approach.Snapshot, _ int) entity.Direction { return s.Direction })
}

// Plan 把配时建议导出为固定配时方案
// 功能：按推荐顺序为每个方向生成[绿灯, 黄灯]两个相位，周期长度等于CycleLength
// 参数：junctionID-路口ID
func (r Recommendation) Plan(junctionID int32) (*trafficlight.Plan, error) {
	tl := &mapv2.TrafficLight{JunctionId: junctionID}
	for _, d := range r.OptimalSequence {
		t := r.Timings[d]
		green := entity.SignalPhase{Serving: d, Light: entity.LightGreen, Duration: t.Green}
		yellow := entity.SignalPhase{Serving: d, Light: entity.LightYellow, Duration: t.Yellow}
		tl.Phases = append(tl.Phases,
			&mapv2.Phase{Duration: green.Duration, States: green.Indications()},
			&mapv2.Phase{Duration: yellow.Duration, States: yellow.Indications()},
		)
	}
	return trafficlight.NewPlan(junctionID, tl)
}

func (r Recommendation) String() string {
	var b strings.Builder
	for _, t := range r.Timings {
		fmt.Fprintf(&b, "%v: %v (%.1f) green=%.0fs yellow=%.0fs\n", t.Direction, t.Density, t.SmoothedCount, t.Green, t.Yellow)
	}
	fmt.Fprintf(&b, "sequence: %v, cycle %.0fs", r.OptimalSequence, r.CycleLength)
	return b.String()
}
