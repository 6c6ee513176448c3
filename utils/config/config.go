package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"gopkg.in/yaml.v2"
)

const (
	SmoothingWindow = "window" // 最近K次观测的滑动平均
	SmoothingRaw    = "raw"    // 单次观测原值
	SmoothingEMA    = "ema"    // 指数滑动平均
)

// Default 默认配置
// 说明：密度分档 LOW[0,6) MEDIUM[6,16) HIGH[16,26) CRITICAL[26,∞)，
// 绿灯 15/30/45/60 秒，黄灯 3 秒，绿灯范围 [10,90]
func Default() Config {
	return Config{
		Density: Density{
			Thresholds: Thresholds{Low: 0, Medium: 6, High: 16, Critical: 26},
			Smoothing:  Smoothing{Method: SmoothingWindow, Window: 5, Alpha: 0.5},
		},
		Timing: Timing{
			Green:    GreenByDensity{Low: 15, Medium: 30, High: 45, Critical: 60},
			Yellow:   3,
			MinGreen: 10,
			MaxGreen: 90,
		},
		Fairness: Fairness{
			MaxConsecutiveSkips: 3,
			BoostAfterSkips:     2,
			GreenBoost:          10,
		},
		Control: Control{
			Step:      ControlStep{Start: 0, Total: 3600, Interval: 1},
			QueueSize: 1024,
		},
		Output: Output{BatchSize: 64},
	}
}

// Load 解析YAML配置并校验
// 功能：在默认配置基础上覆盖YAML中出现的字段，未知字段报错
// 返回：配置与错误，配置不合法时返回ErrCodeConfiguration错误
func Load(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, entity.NewConfigurationError(fmt.Sprintf("parse: %v", err))
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ThresholdTable 按密度等级索引的计数下界表
func (c Config) ThresholdTable() [entity.NumDensityLevels]int32 {
	t := c.Density.Thresholds
	return [entity.NumDensityLevels]int32{t.Low, t.Medium, t.High, t.Critical}
}

// GreenTable 按密度等级索引的绿灯时长表
func (c Config) GreenTable() [entity.NumDensityLevels]float64 {
	g := c.Timing.Green
	return [entity.NumDensityLevels]float64{g.Low, g.Medium, g.High, g.Critical}
}

// Validate 校验配置
// 功能：汇总所有问题后一次性返回，任一问题都会拒绝启动
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	th := c.ThresholdTable()
	if th[entity.DensityLow] != 0 {
		add("density.thresholds.low must be 0, got %d", th[entity.DensityLow])
	}
	for i := 1; i < len(th); i++ {
		if th[i] <= th[i-1] {
			add("density.thresholds not monotonic: %v (%d) <= %v (%d)",
				entity.DensityLevel(i), th[i], entity.DensityLevel(i-1), th[i-1])
		}
	}

	s := c.Density.Smoothing
	switch s.Method {
	case SmoothingWindow, SmoothingRaw:
	case SmoothingEMA:
		if s.Alpha <= 0 || s.Alpha > 1 {
			add("density.smoothing.alpha must be in (0, 1], got %v", s.Alpha)
		}
	default:
		add("density.smoothing.method must be one of window|raw|ema, got %q", s.Method)
	}
	if s.Window < 1 {
		add("density.smoothing.window must be >= 1, got %d", s.Window)
	}

	t := c.Timing
	if t.MinGreen <= 0 {
		add("timing.min_green must be > 0, got %v", t.MinGreen)
	}
	if t.MinGreen > t.MaxGreen {
		add("timing.min_green (%v) > timing.max_green (%v)", t.MinGreen, t.MaxGreen)
	}
	for i, g := range c.GreenTable() {
		if g < t.MinGreen || g > t.MaxGreen {
			add("timing.green.%s = %v outside [%v, %v]",
				strings.ToLower(entity.DensityLevel(i).String()), g, t.MinGreen, t.MaxGreen)
		}
	}
	if t.Yellow <= 0 {
		add("timing.yellow must be > 0, got %v", t.Yellow)
	}

	f := c.Fairness
	if f.MaxConsecutiveSkips < 1 {
		add("fairness.max_consecutive_skips must be >= 1, got %d", f.MaxConsecutiveSkips)
	}
	if f.BoostAfterSkips < 0 {
		add("fairness.boost_after_skips must be >= 0, got %d", f.BoostAfterSkips)
	}
	if f.GreenBoost < 0 {
		add("fairness.green_boost must be >= 0, got %v", f.GreenBoost)
	}

	if c.Control.Step.Interval <= 0 {
		add("control.step.interval must be > 0, got %v", c.Control.Step.Interval)
	}
	if c.Control.Step.Total < 0 {
		add("control.step.total must be >= 0, got %d", c.Control.Step.Total)
	}
	if c.Control.QueueSize < 1 {
		add("control.queue_size must be >= 1, got %d", c.Control.QueueSize)
	}

	if syn := c.Input.Synthetic; syn != nil {
		if syn.Interval <= 0 {
			add("input.synthetic.interval must be > 0, got %v", syn.Interval)
		}
		for name, mean := range syn.Mean {
			if _, err := entity.ParseDirection(name); err != nil {
				add("input.synthetic.mean: %v", err)
			}
			if mean < 0 {
				add("input.synthetic.mean.%s must be >= 0, got %v", name, mean)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return entity.NewConfigurationError(errors.Join(problems...).Error())
}
