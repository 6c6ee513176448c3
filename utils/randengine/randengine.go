// 随机数引擎，包装了golang.org/x/exp/rand，提供了合成检测器所需的随机数生成方法
package randengine

import (
	"flag"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 功能：提供可复现的随机数生成功能
// 说明：基于golang.org/x/exp/rand库，相同种子得到相同序列；非线程安全
type Engine struct {
	*rand.Rand // 底层随机数生成器
}

// New 创建随机数引擎
// 功能：初始化一个新的随机数引擎实例
// 参数：seed-随机数种子
// 返回：随机数引擎指针
// 说明：种子偏移量允许在不修改配置的情况下调整随机数序列
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Poisson 按泊松分布生成非负整数
// 功能：模拟一个采样间隔内到达的车辆数
// 参数：mean-均值，不大于0时返回0
// 说明：采样由gonum的distuv.Poisson完成，结果截断到int32范围
func (e *Engine) Poisson(mean float64) int32 {
	if !(mean > 0) {
		return 0
	}
	v := distuv.Poisson{Lambda: mean, Src: e.Rand}.Rand()
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(max(v, 0))
}
