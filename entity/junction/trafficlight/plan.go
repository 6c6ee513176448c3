package trafficlight

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Plan 固定配时方案
// 功能：按预设程序循环切换相位，用于导出与回放配时建议，不参与自适应控制
type Plan struct {
	junctionID int32
	program    *mapv2.TrafficLight
	cycle      float64

	timeBeforeChange [entity.NumDirections][]float64 // 各方向在每个相位结束后到灯色变化还需经过的时间
}

// NewPlan 根据信号程序创建固定配时方案
// 功能：校验程序的有效性，预先计算每个方向的灯色变化时间
// 参数：junctionID-路口ID，tl-信号程序，每个相位按固定方向顺序给出四个灯色
// 返回：配时方案，程序无效则返回错误
func NewPlan(junctionID int32, tl *mapv2.TrafficLight) (*Plan, error) {
	if tl.JunctionId != junctionID {
		return nil, fmt.Errorf("plan for junction %d with wrong traffic light id %d", junctionID, tl.JunctionId)
	}
	if len(tl.Phases) == 0 {
		return nil, fmt.Errorf("plan with empty traffic light")
	}
	for i, p := range tl.Phases {
		if len(p.States) != entity.NumDirections {
			return nil, fmt.Errorf("number of directions %d and traffic light states %d does not match in phase %d", entity.NumDirections, len(p.States), i)
		}
		if p.Duration <= 0 || math.IsInf(p.Duration, 1) {
			return nil, fmt.Errorf("phase %d has invalid duration %v", i, p.Duration)
		}
	}
	p := &Plan{
		junctionID: junctionID,
		program:    tl,
		cycle:      lo.SumBy(tl.Phases, func(p *mapv2.Phase) float64 { return p.Duration }),
	}
	for _, d := range entity.AllDirections {
		p.timeBeforeChange[d] = timeBeforeChange(tl.Phases, int(d))
	}
	return p, nil
}

// timeBeforeChange 计算某一方向在每个相位结束后到灯色变化还需经过的时间
// 算法说明：
// 1. 所有相位灯色相同：永不变化，全部为无穷大
// 2. 找到一个与后继相位灯色不同的相位作为起点，其值为0
// 3. 从起点向前逆序累加：与后继相位灯色相同则为后继相位时长加后继的值，否则为0
func timeBeforeChange(phases []*mapv2.Phase, d int) []float64 {
	n := len(phases)
	time := make([]float64, n)
	state := func(i int) mapv2.LightState { return phases[i%n].States[d] }
	start, found := lo.Find(lo.Range(n), func(i int) bool { return state(i) != state(i+1) })
	if !found {
		for i := range time {
			time[i] = mathutil.INF
		}
		return time
	}
	for k := 1; k < n; k++ {
		i := (start - k + n) % n
		next := (i + 1) % n
		if state(i) == state(next) {
			time[i] = phases[next].Duration + time[next]
		}
	}
	return time
}

// Program 信号程序
func (p *Plan) Program() *mapv2.TrafficLight {
	return p.program
}

// CycleLength 周期长度
func (p *Plan) CycleLength() float64 {
	return p.cycle
}

// PhaseAt 方案开始后offset时刻所处的相位
// 返回：相位索引与该相位剩余时间
func (p *Plan) PhaseAt(offset float64) (int32, float64) {
	t := math.Mod(max(offset, 0), p.cycle)
	for i, ph := range p.program.Phases {
		if t < ph.Duration {
			return int32(i), ph.Duration - t
		}
		t -= ph.Duration
	}
	// 浮点误差落在周期末尾
	return 0, p.program.Phases[0].Duration
}

// UntilChange 方案开始后offset时刻，方向d的灯色还将保持的时间，灯色永不变化时为无穷大
func (p *Plan) UntilChange(d entity.Direction, offset float64) float64 {
	if !d.Valid() {
		return mathutil.INF
	}
	index, remaining := p.PhaseAt(offset)
	return remaining + p.timeBeforeChange[d][index]
}

// StateAt 方案开始后offset时刻方向d的灯色，d不是合法方向时为红灯
func (p *Plan) StateAt(d entity.Direction, offset float64) mapv2.LightState {
	if !d.Valid() {
		return mapv2.LightState_LIGHT_STATE_RED
	}
	index, _ := p.PhaseAt(offset)
	return p.program.Phases[index].States[d]
}
