package task

import (
	"context"
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/output"
)

const commandQueueSize = 16

type commandKind int

const (
	cmdForceServe commandKind = iota
	cmdStop
	cmdAdvance
)

// command 交给控制循环串行执行的写操作
type command struct {
	kind      commandKind
	direction entity.Direction
	graceful  bool
	reply     chan error // 可为nil，容量为1，控制循环不会因回复阻塞
}

// Context 信控任务上下文
// 功能：包含一次信控任务的所有变量和状态：时钟、路口、观测来源、输出与RPC服务
// 说明：路口与信号状态机只由控制循环访问，其他协程通过观测队列、命令队列与状态快照交互
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock
	// 受控路口
	junction *junction.Junction

	// 辅助程序，处理分布式模式下相关调用，为nil时不提供RPC
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}

	// 观测来源（文件回放、数据库或合成检测器）
	source input.Source
	// 相位历史输出，可为nil
	recorder *output.Recorder
	// 运行统计
	stats *trafficlight.StatsObserver

	// 外部检测器写入的观测队列，控制循环为唯一消费者
	observations chan entity.Observation
	// 强制放行、停止等命令
	commands chan command
	// 控制循环退出时关闭
	done chan struct{}
	// 控制循环发布的状态快照
	status atomic.Pointer[junction.Status]

	// 下一次心跳日志的控制器时间
	nextHeartbeat float64
}

// NewContext 创建新的信控任务上下文
// 功能：初始化时钟、路口与观察者，并把信控服务与时钟服务注册到sidecar
// 参数：
//   - job: 任务名称
//   - c: 已校验的配置
//   - source: 观测来源，nil表示只接受外部写入的观测
//   - recorder: 相位历史输出，nil表示不输出
//   - sidecar: sidecar实例，nil表示不提供RPC
//   - startSidecarServe: 是否启动sidecar服务
//
// 返回：任务上下文；配置不合法时返回ErrCodeConfiguration错误
func NewContext(
	job string,
	c config.Config,
	source input.Source,
	recorder *output.Recorder,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
) (*Context, error) {
	j, err := junction.New(c.Control.JunctionID, c)
	if err != nil {
		return nil, err
	}
	if source == nil {
		source = input.NewReplay(nil)
	}
	ctx := &Context{
		job:            job,
		clock:          clock.New(c.Control.Step),
		junction:       j,
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
		source:         source,
		recorder:       recorder,
		stats:          trafficlight.NewStatsObserver(),
		observations:   make(chan entity.Observation, c.Control.QueueSize),
		commands:       make(chan command, commandQueueSize),
		done:           make(chan struct{}),
	}
	controller := j.Controller()
	controller.AddObserver(trafficlight.NewLoggingObserver(log.WithField("junction", j.ID()), logrus.DebugLevel))
	controller.AddObserver(ctx.stats)
	if recorder != nil {
		controller.AddObserver(recorder)
	}
	ctx.publish()

	if sidecar != nil {
		ctx.clock.Register(sidecar)
		junction.NewService(ctx).Register(sidecar)
		// sidecar协程，用于提供gRPC服务
		if startSidecarServe {
			go func() {
				err := sidecar.Serve()
				if err != nil {
					log.Panicf("failed to serve: %v", err)
				}
				ctx.sidecarCloseCh <- struct{}{}
			}()
		} else {
			close(ctx.sidecarCloseCh)
		}
	}
	return ctx, nil
}

// Stats 运行统计，仅在控制循环退出后读取
func (ctx *Context) Stats() *trafficlight.StatsObserver {
	return ctx.stats
}

// Done 控制循环退出时关闭
func (ctx *Context) Done() <-chan struct{} {
	return ctx.done
}

// ReportObservation 外部检测器写入一次观测
// 功能：在边界校验后放入观测队列，控制循环在两次推进之间取出
// 返回：非法输入返回ErrCodeInvalidInput错误；队列已满返回ErrQueueFull
// 说明：可被任意协程并发调用，从不阻塞
func (ctx *Context) ReportObservation(d entity.Direction, count int32, t float64) error {
	obs := entity.Observation{Direction: d, VehicleCount: count, T: t}
	var err error
	switch {
	case !d.Valid():
		err = entity.NewInvalidInputError("report", d, entity.ErrInvalidDirection)
	case count < 0:
		err = entity.NewInvalidInputError("report", d, entity.ErrNegativeCount)
	}
	if err != nil {
		log.Warnf("observation rejected: %v: %v", obs, err)
		return err
	}
	select {
	case ctx.observations <- obs:
		return nil
	default:
		log.Warnf("observation dropped, queue full: %v", obs)
		return entity.ErrQueueFull
	}
}

// ForceServe 请求下一次选相放行d
// 功能：经命令队列交给控制循环执行，阻塞到控制循环处理完该请求
// 返回：方向非法、正在放行该方向、信号机已停止时返回错误
func (ctx *Context) ForceServe(d entity.Direction) error {
	if !d.Valid() {
		return entity.NewInvalidInputError("force_serve", d, entity.ErrInvalidDirection)
	}
	return ctx.call(command{kind: cmdForceServe, direction: d})
}

// SkipToNext 提前结束当前绿灯
// 功能：当前绿灯在控制循环处理该命令的时刻进入黄灯，黄灯结束后按常规选相
// 返回：当前不是绿灯或信号机已停止时返回错误
func (ctx *Context) SkipToNext() error {
	return ctx.call(command{kind: cmdAdvance})
}

// call 放入命令队列并等待控制循环回复
func (ctx *Context) call(cmd command) error {
	reply := make(chan error, 1)
	cmd.reply = reply
	if err := ctx.enqueue(cmd); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.done:
		select {
		case err := <-reply:
			return err
		default:
			return entity.ErrStopped
		}
	}
}

// Stop 停止信号机
// 参数：graceful-true完成当前相位（含黄灯）后全红，false立即全红
// 说明：不等待控制循环执行
func (ctx *Context) Stop(graceful bool) {
	if err := ctx.enqueue(command{kind: cmdStop, graceful: graceful}); err != nil {
		log.Warnf("stop(graceful=%v) not delivered: %v", graceful, err)
	}
}

func (ctx *Context) enqueue(cmd command) error {
	select {
	case <-ctx.done:
		return entity.ErrStopped
	default:
	}
	select {
	case ctx.commands <- cmd:
		return nil
	default:
		return entity.ErrQueueFull
	}
}

// Status 控制循环最近一次发布的状态快照
func (ctx *Context) Status() junction.Status {
	return *ctx.status.Load()
}

// CurrentPhase 当前相位的只读快照
func (ctx *Context) CurrentPhase() entity.SignalPhase {
	return ctx.Status().Phase
}

// publish 发布状态快照，只由控制循环调用
func (ctx *Context) publish() {
	phase := ctx.junction.Phase()
	ctx.status.Store(&junction.Status{
		JunctionID: ctx.junction.ID(),
		Now:        ctx.clock.T,
		Phase:      phase,
		Program:    ctx.junction.Program(phase),
		Stopped:    ctx.junction.Controller().Stopped(),
	})
}

// Close 结束任务
// 功能：写入剩余的相位记录并关闭sidecar
func (ctx *Context) Close() {
	if ctx.closed.Swap(true) {
		return
	}
	if ctx.recorder != nil {
		if err := ctx.recorder.Close(context.Background()); err != nil {
			log.Errorf("close phase recorder: %v", err)
		}
	}
	if ctx.sidecar != nil {
		ctx.sidecar.Close()
		// wait for graceful stop
		<-ctx.sidecarCloseCh
	}
}
