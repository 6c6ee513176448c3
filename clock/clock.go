package clock

import (
	"fmt"
	"math"
	"sync/atomic"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Clock 控制循环时钟
// 功能：管理控制循环的时间推进，仿真模式按固定步长推进，实时模式按墙钟对齐
// 说明：T只由控制循环写入，RPC读取发布出来的副本
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT         float64 // 每步时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步，控制区间[START, END)，与START相同表示不限

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前步数

	published atomic.Uint64 // T的发布副本（math.Float64bits）
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置，包含起始步、总步数与时间间隔
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 重置时钟到起始步
func (c *Clock) Init() {
	c.InternalStep = c.START_STEP
	c.T = float64(c.InternalStep) * c.DT
	c.publish()
}

// Step 推进一步
func (c *Clock) Step() {
	c.InternalStep++
	c.T = float64(c.InternalStep) * c.DT
	c.publish()
}

// Set 实时模式下将时钟对齐到t
// 说明：时间不回退，t早于当前时间时忽略
func (c *Clock) Set(t float64) {
	if t <= c.T {
		return
	}
	c.T = t
	c.InternalStep = int32(math.Floor(t / c.DT))
	c.publish()
}

// Bounded 是否设置了结束步
func (c *Clock) Bounded() bool {
	return c.END_STEP > c.START_STEP
}

// Finished 是否已到达结束步
func (c *Clock) Finished() bool {
	return c.Bounded() && c.InternalStep >= c.END_STEP
}

// EndT 结束时刻，不限时返回+Inf
func (c *Clock) EndT() float64 {
	if !c.Bounded() {
		return math.Inf(1)
	}
	return float64(c.END_STEP) * c.DT
}

// Published 最近一次发布的时间，可在控制循环外并发读取
func (c *Clock) Published() float64 {
	return math.Float64frombits(c.published.Load())
}

func (c *Clock) publish() {
	c.published.Store(math.Float64bits(c.T))
}

// String 获取时钟的字符串表示（HH:MM:SS）
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	hour := int(c.T) / 3600
	minute := int(c.T) % 3600 / 60
	second := c.T - float64(hour*3600+minute*60)
	return hour, minute, second
}
