package junction

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/density"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Junction 四岔信控路口
// 功能：持有四个进口道状态与自适应信号状态机，对外提供观测写入、推进与信号程序读取
// 说明：与状态机一样只由控制循环调用
type Junction struct {
	id         int32
	controller *trafficlight.Controller
}

// New 根据配置创建路口
// 功能：解析平滑方式与密度阈值，为每个方向创建进口道状态，并构建信号状态机
// 参数：id-路口ID，c-已校验的配置
// 返回：路口实例；配置不合法时返回ErrCodeConfiguration错误
func New(id int32, c config.Config) (*Junction, error) {
	method, err := density.ParseMethod(c.Density.Smoothing.Method)
	if err != nil {
		return nil, entity.NewConfigurationError(err.Error())
	}
	thresholds := density.Thresholds(c.ThresholdTable())
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	var approaches [entity.NumDirections]*approach.Approach
	for _, d := range entity.AllDirections {
		smoother := density.NewSmoother(method, c.Density.Smoothing.Window, c.Density.Smoothing.Alpha)
		approaches[d] = approach.New(d, thresholds, smoother)
	}
	controller, err := trafficlight.NewController(trafficlight.NewTimingParameters(c), approaches)
	if err != nil {
		return nil, err
	}
	return &Junction{id: id, controller: controller}, nil
}

// ID 路口ID
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

// Controller 信号状态机
func (j *Junction) Controller() *trafficlight.Controller {
	return j.controller
}

// ReportObservation 写入一次检测器观测
// 返回：非法输入返回ErrCodeInvalidInput错误，当前相位不受影响
func (j *Junction) ReportObservation(obs entity.Observation) error {
	return j.controller.Observe(obs)
}

// Tick 推进到now，返回期间进入的相位
func (j *Junction) Tick(now float64) []entity.SignalPhase {
	return j.controller.Tick(now)
}

// Phase 当前相位
func (j *Junction) Phase() entity.SignalPhase {
	return j.controller.Phase()
}

// Program 相位对应的信号程序
// 功能：把相位转换为城市路网协议中的TrafficLight，每个方向对应一个进口，按固定方向顺序排列
// 说明：
//   - 绿灯：程序为[绿灯, 黄灯]，黄灯为必经的后续相位
//   - 黄灯：程序为[黄灯]，下一绿灯要到黄灯结束时才选出
//   - 全红：程序为[全红]，时长为无穷大
func (j *Junction) Program(phase entity.SignalPhase) *mapv2.TrafficLight {
	tl := &mapv2.TrafficLight{JunctionId: j.id}
	switch phase.Light {
	case entity.LightGreen:
		yellow := phase
		yellow.Light = entity.LightYellow
		yellow.Duration = trafficlight.YellowDuration(j.controller.Params())
		tl.Phases = []*mapv2.Phase{
			{Duration: phase.Duration, States: phase.Indications()},
			{Duration: yellow.Duration, States: yellow.Indications()},
		}
	case entity.LightYellow:
		tl.Phases = []*mapv2.Phase{{Duration: phase.Duration, States: phase.Indications()}}
	default:
		tl.Phases = []*mapv2.Phase{{Duration: mathutil.INF, States: phase.Indications()}}
	}
	return tl
}

// RemainingTime 相位在now时刻的剩余时间，全红为无穷大
func RemainingTime(phase entity.SignalPhase, now float64) float64 {
	end, ok := phase.EndsAt()
	if !ok {
		return mathutil.INF
	}
	return max(end-now, 0)
}

func (j *Junction) String() string {
	return fmt.Sprintf("Junction{%d %v}", j.id, j.controller.Phase())
}
