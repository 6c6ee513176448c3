package density

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Method 平滑方式
type Method int

const (
	MethodWindow Method = iota // 最近K次观测的滑动平均（视频输入）
	MethodRaw                  // 单次观测原值（单帧图片输入）
	MethodEMA                  // 指数滑动平均
)

// ParseMethod 解析配置中的平滑方式名称
func ParseMethod(s string) (Method, error) {
	switch s {
	case "window", "":
		return MethodWindow, nil
	case "raw":
		return MethodRaw, nil
	case "ema":
		return MethodEMA, nil
	}
	return MethodWindow, fmt.Errorf("unknown smoothing method %q", s)
}

// Smoother 单个方向的计数平滑器
// 功能：吸收检测器帧间抖动，给出用于分类的稳定计数
// 说明：非线程安全，由控制循环独占
type Smoother struct {
	method Method
	alpha  float64

	window []float64 // 环形缓冲
	next   int
	filled int

	value float64
	seen  bool
}

// NewSmoother 创建平滑器
// 参数：method-平滑方式，k-窗口大小（<1按1处理），alpha-ema系数
func NewSmoother(method Method, k int, alpha float64) *Smoother {
	if k < 1 {
		k = 1
	}
	return &Smoother{
		method: method,
		alpha:  alpha,
		window: make([]float64, k),
	}
}

// Add 加入一次观测并返回平滑后的计数
func (s *Smoother) Add(count int32) float64 {
	x := float64(count)
	switch s.method {
	case MethodRaw:
		s.value = x
	case MethodEMA:
		if !s.seen {
			s.value = x
		} else {
			s.value = s.alpha*x + (1-s.alpha)*s.value
		}
	default:
		s.window[s.next] = x
		s.next = (s.next + 1) % len(s.window)
		if s.filled < len(s.window) {
			s.filled++
		}
		// 未满时有效数据位于[0, filled)，已满后环形顺序不影响均值
		s.value = stat.Mean(s.window[:s.filled], nil)
	}
	s.seen = true
	return s.value
}

// Value 当前平滑值，尚无观测时为0
func (s *Smoother) Value() float64 {
	return s.value
}

// Seen 是否已有观测
func (s *Smoother) Seen() bool {
	return s.seen
}

// Count 用于分类的整数计数（向下取整）
func (s *Smoother) Count() int32 {
	return int32(math.Floor(s.value))
}
