package junction

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// 依赖倒置，表达RPC服务对控制循环的接口需求

// 信控状态读取接口，返回控制循环最近一次发布的快照
type IStatusGetter interface {
	Status() Status
}

// 控制循环接口，所有写操作都经由控制循环串行执行
type IControlLoop interface {
	IStatusGetter
	ForceServe(d entity.Direction) error // 下一次选相放行d
	Stop(graceful bool)                  // 停止（true完成当前相位后全红|false立即全红）
}

// Status 控制循环发布的只读快照
type Status struct {
	JunctionID int32
	Now        float64             // 快照时刻
	Phase      entity.SignalPhase  // 当前相位
	Program    *mapv2.TrafficLight // 当前相位对应的信号程序，调用方修改前需复制
	Stopped    bool
}
