package trafficlight

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// TimingParameters 配时参数（运行期间只读）
// 功能：密度到绿灯时长的映射、黄灯时长、绿灯上下限与公平性参数
// 说明：所有映射的绿灯时长都必须落在[MinGreen, MaxGreen]内
type TimingParameters struct {
	Green    [entity.NumDensityLevels]float64 // 按密度等级索引的绿灯时长
	Yellow   float64                          // 黄灯清空时间，与密度无关
	MinGreen float64
	MaxGreen float64

	MaxConsecutiveSkips int     // 连续跳过硬上限，达到后强制放行
	BoostAfterSkips     int     // 连续跳过超过该值时绿灯加时
	GreenBoost          float64 // 加时时长
}

// NewTimingParameters 从配置构造配时参数
func NewTimingParameters(c config.Config) TimingParameters {
	return TimingParameters{
		Green:               c.GreenTable(),
		Yellow:              c.Timing.Yellow,
		MinGreen:            c.Timing.MinGreen,
		MaxGreen:            c.Timing.MaxGreen,
		MaxConsecutiveSkips: c.Fairness.MaxConsecutiveSkips,
		BoostAfterSkips:     c.Fairness.BoostAfterSkips,
		GreenBoost:          c.Fairness.GreenBoost,
	}
}

// Validate 校验配时参数
func (p TimingParameters) Validate() error {
	if p.MinGreen <= 0 || p.MinGreen > p.MaxGreen {
		return entity.NewConfigurationError(fmt.Sprintf("invalid green bounds [%v, %v]", p.MinGreen, p.MaxGreen))
	}
	for i, g := range p.Green {
		if g < p.MinGreen || g > p.MaxGreen {
			return entity.NewConfigurationError(fmt.Sprintf("green for %v = %v outside [%v, %v]",
				entity.DensityLevel(i), g, p.MinGreen, p.MaxGreen))
		}
	}
	if p.Yellow <= 0 {
		return entity.NewConfigurationError(fmt.Sprintf("yellow must be > 0, got %v", p.Yellow))
	}
	if p.MaxConsecutiveSkips < 1 || p.BoostAfterSkips < 0 || p.GreenBoost < 0 {
		return entity.NewConfigurationError(fmt.Sprintf("invalid fairness parameters %d/%d/%v",
			p.MaxConsecutiveSkips, p.BoostAfterSkips, p.GreenBoost))
	}
	return nil
}

// ComputeGreen 按密度计算绿灯时长
// 功能：查表后截断到[MinGreen, MaxGreen]
func ComputeGreen(level entity.DensityLevel, p TimingParameters) float64 {
	if !level.Valid() {
		level = entity.DensityLow
	}
	return lo.Clamp(p.Green[level], p.MinGreen, p.MaxGreen)
}

// ComputeGreenWithFairness 带公平性加时的绿灯时长
// 参数：level-放行时刻的密度，skips-放行前的连续跳过次数
// 说明：连续跳过超过BoostAfterSkips时加GreenBoost，结果仍不超过MaxGreen
func ComputeGreenWithFairness(level entity.DensityLevel, skips int, p TimingParameters) float64 {
	g := ComputeGreen(level, p)
	if skips > p.BoostAfterSkips {
		g += p.GreenBoost
	}
	return lo.Clamp(g, p.MinGreen, p.MaxGreen)
}

// YellowDuration 黄灯时长，固定值
func YellowDuration(p TimingParameters) float64 {
	return p.Yellow
}
