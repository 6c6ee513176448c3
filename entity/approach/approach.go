// 进口道运行时状态
package approach

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/density"
)

// Approach 单个进口道的可变状态
// 功能：记录计数历史（平滑）、当前密度、最近放行时刻、连续跳过次数与等待起始时刻
// 说明：只由信号状态机写入；每次观测写一次，每次选相写一次
type Approach struct {
	direction entity.Direction

	smoother   *density.Smoother
	thresholds density.Thresholds
	density    entity.DensityLevel
	lastCount  int32   // 最近一次原始计数
	observedAt float64 // 最近一次观测时刻

	lastServedAt     float64
	served           bool // 是否曾被放行
	consecutiveSkips int
	waitingSince     float64
	waiting          bool
}

// New 创建进口道状态
// 功能：初始为LOW密度、无历史
func New(d entity.Direction, thresholds density.Thresholds, smoother *density.Smoother) *Approach {
	return &Approach{
		direction:  d,
		smoother:   smoother,
		thresholds: thresholds,
		density:    entity.DensityLow,
	}
}

// Observe 写入一次观测
// 功能：更新平滑计数并重新分类
// 返回：分类错误（负计数），此时状态不变
func (a *Approach) Observe(count int32, t float64) error {
	if count < 0 {
		return entity.NewInvalidInputError("observe", a.direction, entity.ErrNegativeCount)
	}
	a.smoother.Add(count)
	level, err := density.Classify(a.smoother.Count(), a.thresholds)
	if err != nil {
		return err
	}
	a.density = level
	a.lastCount = count
	a.observedAt = t
	return nil
}

// MarkServed 被选中放行
// 功能：连续跳过清零、清除等待起始时刻并记录放行时刻
func (a *Approach) MarkServed(now float64) {
	a.consecutiveSkips = 0
	a.waiting = false
	a.waitingSince = 0
	a.served = true
	a.lastServedAt = now
}

// MarkSkipped 本次选相未被选中
// 功能：连续跳过加一，首次等待时记录等待起始时刻
func (a *Approach) MarkSkipped(now float64) {
	a.consecutiveSkips++
	if !a.waiting {
		a.waiting = true
		a.waitingSince = now
	}
}

func (a *Approach) Direction() entity.Direction { return a.direction }

func (a *Approach) Density() entity.DensityLevel { return a.density }

func (a *Approach) SmoothedCount() float64 { return a.smoother.Value() }

func (a *Approach) LastCount() int32 { return a.lastCount }

func (a *Approach) ConsecutiveSkips() int { return a.consecutiveSkips }

// HasObservation 是否收到过观测；未收到时沿用初始LOW
func (a *Approach) HasObservation() bool { return a.smoother.Seen() }

func (a *Approach) ObservedAt() float64 { return a.observedAt }

// LastServedAt 最近放行时刻，从未放行时第二个返回值为false
func (a *Approach) LastServedAt() (float64, bool) { return a.lastServedAt, a.served }

// WaitingSince 等待起始时刻，未在等待时第二个返回值为false
func (a *Approach) WaitingSince() (float64, bool) { return a.waitingSince, a.waiting }

// Snapshot 只读快照
func (a *Approach) Snapshot() Snapshot {
	return Snapshot{
		Direction:        a.direction,
		Density:          a.density,
		SmoothedCount:    a.smoother.Value(),
		LastCount:        a.lastCount,
		LastServedAt:     a.lastServedAt,
		Served:           a.served,
		ConsecutiveSkips: a.consecutiveSkips,
		WaitingSince:     a.waitingSince,
		Waiting:          a.waiting,
	}
}

// Snapshot 进口道状态的不可变副本，供读者使用
type Snapshot struct {
	Direction        entity.Direction
	Density          entity.DensityLevel
	SmoothedCount    float64
	LastCount        int32
	LastServedAt     float64
	Served           bool
	ConsecutiveSkips int
	WaitingSince     float64
	Waiting          bool
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%v[%v %.1f skips=%d]", s.Direction, s.Density, s.SmoothedCount, s.ConsecutiveSkips)
}
