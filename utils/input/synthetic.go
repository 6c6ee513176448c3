package input

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

// Synthetic 合成检测器
// 功能：每隔interval秒为每个方向生成一次泊松分布的车辆计数，用于没有真实检测器时驱动控制循环
// 说明：相同种子生成相同的观测序列
type Synthetic struct {
	engine   *randengine.Engine
	interval float64
	mean     [entity.NumDirections]float64
	nextT    float64
}

// NewSynthetic 创建合成检测器
// 参数：c-合成检测器配置（方向名称到平均车辆数），start-首次采样时刻
func NewSynthetic(c config.Synthetic, start float64) (*Synthetic, error) {
	if c.Interval <= 0 {
		return nil, fmt.Errorf("synthetic interval must be > 0, got %v", c.Interval)
	}
	s := &Synthetic{
		engine:   randengine.New(c.Seed),
		interval: c.Interval,
		nextT:    start,
	}
	for name, mean := range c.Mean {
		d, err := entity.ParseDirection(name)
		if err != nil {
			return nil, err
		}
		s.mean[d] = mean
	}
	return s, nil
}

func (s *Synthetic) Poll(now float64) []entity.Observation {
	var out []entity.Observation
	for s.nextT <= now {
		for _, d := range entity.AllDirections {
			out = append(out, entity.Observation{
				Direction:    d,
				VehicleCount: s.engine.Poisson(s.mean[d]),
				T:            s.nextT,
			})
		}
		s.nextT += s.interval
	}
	return out
}

// Exhausted 合成检测器不会耗尽
func (s *Synthetic) Exhausted() bool {
	return false
}
