// 交通密度分类：将车辆计数映射为四个有序的密度等级
package density

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Thresholds 各密度等级的计数下界（含），按等级索引
// 说明：区间为左闭右开，最高档CRITICAL无上界；下界必须严格递增且LOW下界为0
type Thresholds [entity.NumDensityLevels]int32

// DefaultThresholds 默认分档 LOW[0,6) MEDIUM[6,16) HIGH[16,26) CRITICAL[26,∞)
var DefaultThresholds = Thresholds{0, 6, 16, 26}

// Validate 检查阈值单调性
func (t Thresholds) Validate() error {
	if t[0] != 0 {
		return entity.NewConfigurationError(fmt.Sprintf("lowest threshold must be 0, got %d", t[0]))
	}
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return entity.NewConfigurationError(fmt.Sprintf("thresholds not monotonic: %v", t))
		}
	}
	return nil
}

// Classify 车辆计数分类
// 功能：纯函数，相同输入总是得到相同输出，计数越大等级不降
// 参数：count-车辆数，thresholds-分档下界
// 返回：密度等级；count为负时返回ErrNegativeCount
func Classify(count int32, thresholds Thresholds) (entity.DensityLevel, error) {
	if count < 0 {
		return entity.DensityLow, entity.NewInvalidInputError("classify", entity.DirectionNone, entity.ErrNegativeCount)
	}
	level := entity.DensityLow
	for i := entity.NumDensityLevels - 1; i > 0; i-- {
		if count >= thresholds[i] {
			level = entity.DensityLevel(i)
			break
		}
	}
	return level, nil
}
