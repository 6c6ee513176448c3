// 提供基于交通密度的自适应信号控制算法
// 在每个黄灯结束后按密度、连续跳过次数与等待时长选择下一个放行方向，绿灯时长在进入绿灯时按密度计算
package trafficlight

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
)

// maxTransitionsPerTick 单次Tick内允许连续应用的相位切换数量上限
const maxTransitionsPerTick = 1 << 12

// Controller 自适应信号状态机
// 功能：IDLE → GREEN(d) → YELLOW(d) → GREEN(next) → … 的循环控制器
// 说明：
//   - 不同方向的两个绿灯之间必须经过黄灯，黄灯不可跳过
//   - 绿灯时长在进入绿灯时一次算定，期间新的观测不会改变它
//   - 非线程安全，必须由单一控制循环独占调用
type Controller struct {
	params     TimingParameters
	approaches [entity.NumDirections]*approach.Approach

	phase      entity.SignalPhase // 当前相位，切换时整体替换
	lastServed entity.Direction   // 上一个（或当前）放行方向
	forced     entity.Direction   // 待执行的外部强制放行
	preempt    entity.Direction   // 饥饿违规后必须紧接放行的方向

	stopRequested bool // 优雅停止：完成当前相位后转全红
	stopped       bool

	observers observerManager
}

// NewController 创建自适应信号状态机
// 参数：params-配时参数，approaches-四个方向的状态（按方向索引）
// 返回：处于IDLE（全红）的状态机；参数非法时返回配置错误
func NewController(params TimingParameters, approaches [entity.NumDirections]*approach.Approach) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for i, a := range approaches {
		if a == nil || a.Direction() != entity.Direction(i) {
			return nil, entity.NewConfigurationError(fmt.Sprintf("approach %d missing or misplaced", i))
		}
	}
	return &Controller{
		params:     params,
		approaches: approaches,
		phase:      entity.SignalPhase{Serving: entity.DirectionNone, Light: entity.LightAllRed},
		lastServed: entity.DirectionNone,
		forced:     entity.DirectionNone,
		preempt:    entity.DirectionNone,
	}, nil
}

// AddObserver 添加观察者
func (c *Controller) AddObserver(o Observer) {
	c.observers.add(o)
}

// Params 配时参数
func (c *Controller) Params() TimingParameters {
	return c.params
}

// Phase 当前相位的只读副本
// 说明：两次Tick之间重复调用返回相同的值
func (c *Controller) Phase() entity.SignalPhase {
	return c.phase
}

// Remaining 当前相位剩余时间，全红时第二个返回值为false
func (c *Controller) Remaining(now float64) (float64, bool) {
	end, ok := c.phase.EndsAt()
	if !ok {
		return 0, false
	}
	return max(end-now, 0), true
}

// Stopped 是否已停止
func (c *Controller) Stopped() bool {
	return c.stopped
}

// Approaches 四个方向状态的快照
func (c *Controller) Approaches() []approach.Snapshot {
	return lo.Map(c.approaches[:], func(a *approach.Approach, _ int) approach.Snapshot {
		return a.Snapshot()
	})
}

// Observe 写入一次观测
// 功能：更新对应方向的平滑计数与密度，只影响下一次选相，不改变当前相位
// 返回：非法方向或负计数时返回InvalidInput错误
func (c *Controller) Observe(obs entity.Observation) error {
	var err error
	switch {
	case !obs.Direction.Valid():
		err = entity.NewInvalidInputError("observe", obs.Direction, entity.ErrInvalidDirection)
	case obs.VehicleCount < 0:
		err = entity.NewInvalidInputError("observe", obs.Direction, entity.ErrNegativeCount)
	default:
		err = c.approaches[obs.Direction].Observe(obs.VehicleCount, obs.T)
	}
	if err != nil {
		c.observers.rejected(obs, err)
	}
	return err
}

// ForceServe 外部强制放行
// 功能：当前相位正常结束（含黄灯）后，下一次选相直接放行d，仅生效一次
// 返回：d非法返回ErrInvalidDirection；d正处于绿灯/黄灯返回ErrAlreadyServing；已停止返回ErrStopped
func (c *Controller) ForceServe(d entity.Direction) error {
	if !d.Valid() {
		return entity.NewInvalidInputError("force_serve", d, entity.ErrInvalidDirection)
	}
	if c.stopped || c.stopRequested {
		return entity.NewInvalidInputError("force_serve", d, entity.ErrStopped)
	}
	if c.phase.Light != entity.LightAllRed && c.phase.Serving == d {
		return entity.NewInvalidInputError("force_serve", d, entity.ErrAlreadyServing)
	}
	c.forced = d
	log.Debugf("force serve %v queued", d)
	return nil
}

// Advance 提前结束当前绿灯
// 功能：立即进入同方向的黄灯，黄灯时长不变
// 返回：切换后的相位；当前不是绿灯时返回错误
func (c *Controller) Advance(now float64) (entity.SignalPhase, error) {
	if c.phase.Light != entity.LightGreen {
		return c.phase, fmt.Errorf("advance: current phase %v is not green", c.phase)
	}
	at := max(now, c.phase.StartedAt)
	c.enterYellow(at)
	return c.phase, nil
}

// RequestStop 优雅停止
// 功能：完成当前相位（绿灯之后仍经过黄灯）后进入全红并停止
func (c *Controller) RequestStop() {
	c.stopRequested = true
	c.forced = entity.DirectionNone
}

// Abort 立即停止
// 功能：无论当前相位如何，立即转入全红，不会以任何方向绿灯的状态退出
func (c *Controller) Abort(now float64) entity.SignalPhase {
	if c.stopped {
		return c.phase
	}
	c.forced = entity.DirectionNone
	c.preempt = entity.DirectionNone
	c.enterAllRed(max(now, c.phase.StartedAt))
	c.stopped = true
	c.observers.stopped(c.phase)
	return c.phase
}

// Tick 推进状态机
// 功能：应用所有在now之前到期的相位切换
// 参数：now-当前时刻（秒），调用频率应不低于最短相位时长
// 返回：本次依次进入的相位（可能为空）
// 算法说明：
// 1. IDLE：选出第一个放行方向并进入绿灯（已请求停止时直接停止）
// 2. 绿灯到期：无条件进入同方向黄灯
// 3. 黄灯到期：已请求停止则进入全红并停止，否则重新选相进入下一绿灯
// 4. 切换时刻取相位边界（开始时刻+时长），因此一次较粗的Tick可能连续切换多次
func (c *Controller) Tick(now float64) []entity.SignalPhase {
	if c.stopped {
		return nil
	}
	var entered []entity.SignalPhase
	for range maxTransitionsPerTick {
		switch c.phase.Light {
		case entity.LightAllRed:
			if c.stopRequested {
				c.stopped = true
				c.observers.stopped(c.phase)
				return entered
			}
			c.enterGreen(max(now, c.phase.StartedAt))
		case entity.LightGreen:
			end, _ := c.phase.EndsAt()
			if now < end {
				return entered
			}
			c.enterYellow(end)
		case entity.LightYellow:
			end, _ := c.phase.EndsAt()
			if now < end {
				return entered
			}
			if c.stopRequested {
				c.enterAllRed(end)
				c.stopped = true
				entered = append(entered, c.phase)
				c.observers.stopped(c.phase)
				return entered
			}
			c.enterGreen(end)
		}
		entered = append(entered, c.phase)
	}
	log.Warnf("tick at %.2f applied %d transitions, deferring the rest", now, maxTransitionsPerTick)
	return entered
}

// replace 整体替换当前相位并通知观察者
func (c *Controller) replace(next entity.SignalPhase) {
	prev := c.phase
	next.Seq = prev.Seq + 1
	c.phase = next
	c.observers.phaseChange(prev, next)
}

func (c *Controller) enterYellow(at float64) {
	c.replace(entity.SignalPhase{
		Serving:   c.phase.Serving,
		Light:     entity.LightYellow,
		StartedAt: at,
		Duration:  YellowDuration(c.params),
	})
}

func (c *Controller) enterAllRed(at float64) {
	c.replace(entity.SignalPhase{
		Serving:   entity.DirectionNone,
		Light:     entity.LightAllRed,
		StartedAt: at,
	})
}

// enterGreen 选相并进入绿灯
// 功能：选出下一个方向，更新各方向的跳过计数，计算绿灯时长并替换相位
// 说明：饥饿违规时，若新放行方向不是CRITICAL，其绿灯压缩到MinGreen，违规方向紧随其后放行
func (c *Controller) enterGreen(at float64) {
	d, reason := c.selectNext(at)
	a := c.approaches[d]
	level := a.Density()
	skips := a.ConsecutiveSkips()

	// 只有因密度较低而被越过的方向才加时，同密度轮转中的等待不算
	boostSkips := skips
	if !c.anyDenserThan(level) {
		boostSkips = 0
	}
	green := ComputeGreenWithFairness(level, boostSkips, c.params)
	if c.allCritical() {
		green = c.params.MaxGreen
	}

	// 选中方向清零，其余方向（包括刚放行的方向）跳过次数加一
	a.MarkServed(at)
	for _, other := range c.approaches {
		if other.Direction() != d {
			other.MarkSkipped(at)
		}
	}
	c.lastServed = d

	if starved, ok := c.checkStarvation(); ok {
		if level != entity.DensityCritical {
			green = c.params.MinGreen
		}
		c.preempt = starved
	}

	log.Debugf("select %v (%v, %v, skips=%d) green=%.1f", d, reason, level, skips, green)
	c.replace(entity.SignalPhase{
		Serving:   d,
		Light:     entity.LightGreen,
		StartedAt: at,
		Duration:  green,
	})
}

// selectNext 选择下一个放行方向
// 优先级：饥饿抢占 > 外部强制 > 选相策略（候选为除上一个放行方向外的所有方向）
func (c *Controller) selectNext(now float64) (entity.Direction, selectReason) {
	if d := c.preempt; d.Valid() {
		c.preempt = entity.DirectionNone
		return d, reasonPreempt
	}
	if d := c.forced; d.Valid() {
		c.forced = entity.DirectionNone
		return d, reasonForced
	}
	ordered, reason := rankCandidates(c.Approaches(), c.lastServed, now, c.params.MaxConsecutiveSkips)
	return ordered[0], reason
}

// checkStarvation 检查是否有方向超过连续跳过上限
// 返回：跳过次数最多的违规方向；存在违规时第二个返回值为true
func (c *Controller) checkStarvation() (entity.Direction, bool) {
	limit := c.params.MaxConsecutiveSkips
	violators := lo.Filter(c.approaches[:], func(a *approach.Approach, _ int) bool {
		return a.ConsecutiveSkips() > limit
	})
	if len(violators) == 0 {
		return entity.DirectionNone, false
	}
	worst := lo.MaxBy(violators, func(a, b *approach.Approach) bool {
		return a.ConsecutiveSkips() > b.ConsecutiveSkips()
	})
	err := entity.NewStarvationError(worst.Direction(), worst.ConsecutiveSkips(), limit)
	log.WithField("violation", "starvation").Error(err)
	c.observers.starvation(err)
	return worst.Direction(), true
}

func (c *Controller) anyDenserThan(level entity.DensityLevel) bool {
	return lo.SomeBy(c.approaches[:], func(a *approach.Approach) bool {
		return a.Density() > level
	})
}

func (c *Controller) allCritical() bool {
	return lo.EveryBy(c.approaches[:], func(a *approach.Approach) bool {
		return a.Density() == entity.DensityCritical
	})
}
