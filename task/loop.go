package task

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
)

const (
	SelfName = "signal" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Float64("log.heartbeat_interval", 300, "心跳日志间隔（控制器时间，秒），<=0关闭")

	ErrUnboundedSimulation = errors.New("simulated run requires control.step.total > 0")
)

// prepare 准备阶段，每步执行一次
// 功能：在推进信号机之前处理外部写入
// 算法说明：
// 1. 执行排队的命令（强制放行、提前结束绿灯、停止）
// 2. 取出观测队列中的全部观测写入进口道状态
// 3. 从观测来源取出时刻不晚于now的观测
//
// 说明：只在两次推进之间取观测，观测不会改变已生效相位的时长
func (ctx *Context) prepare(now float64) {
	for {
		select {
		case cmd := <-ctx.commands:
			ctx.execute(cmd, now)
			continue
		default:
		}
		break
	}
	for {
		select {
		case obs := <-ctx.observations:
			ctx.observe(obs)
			continue
		default:
		}
		break
	}
	for _, obs := range ctx.source.Poll(now) {
		ctx.observe(obs)
	}
}

func (ctx *Context) observe(obs entity.Observation) {
	if err := ctx.junction.ReportObservation(obs); err != nil {
		log.Debugf("observation %v not applied: %v", obs, err)
	}
}

// execute 执行一条命令，只由控制循环调用
func (ctx *Context) execute(cmd command, now float64) {
	var err error
	controller := ctx.junction.Controller()
	switch cmd.kind {
	case cmdForceServe:
		err = controller.ForceServe(cmd.direction)
		if err == nil {
			log.Infof("force serve %v accepted", cmd.direction)
		}
	case cmdAdvance:
		var phase entity.SignalPhase
		phase, err = controller.Advance(now)
		if err == nil {
			log.Infof("green skipped at %.2f, now %v", now, phase)
		}
	case cmdStop:
		if cmd.graceful {
			log.Info("graceful stop requested, finishing current phase")
			controller.RequestStop()
		} else {
			log.Warn("immediate stop requested, switching to all red")
			controller.Abort(now)
		}
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// update 更新阶段，每步执行一次
// 功能：推进信号状态机到now并发布状态快照
// 说明：推进过程中的任何panic都被恢复为内部故障，信号机立即转入全红并停止
func (ctx *Context) update(now float64) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				err := entity.NewInternalError("tick", r)
				log.WithField("fault", true).Errorf("%v, falling back to all red", err)
				ctx.junction.Controller().Abort(now)
			}
		}()
		ctx.junction.Tick(now)
	}()
	ctx.publish()
	ctx.heartbeat(now)
}

// heartbeat 心跳日志
func (ctx *Context) heartbeat(now float64) {
	interval := *heartBeatInterval
	if interval <= 0 || now < ctx.nextHeartbeat {
		return
	}
	for ctx.nextHeartbeat <= now {
		ctx.nextHeartbeat += interval
	}
	hour, minute, second := ctx.clock.GetHourMinuteSecond()
	approaches := lo.Map(ctx.junction.Controller().Approaches(), func(s approach.Snapshot, _ int) string {
		return s.String()
	})
	log.WithFields(logrus.Fields{
		"phase":      ctx.junction.Phase().String(),
		"approaches": approaches,
	}).Infof("STEP: %d(%d:%d:%.2f)", ctx.clock.InternalStep, hour, minute, second)
}

// begin 控制循环开始
func (ctx *Context) begin() {
	ctx.clock.Init()
	ctx.nextHeartbeat = ctx.clock.T
	ctx.publish()
	log.Infof("[%s] control loop started at %s for junction %d", ctx.job, ctx.clock, ctx.junction.ID())
}

// finish 控制循环结束
// 功能：保证以全红退出，拒绝剩余命令，输出运行统计
func (ctx *Context) finish() {
	controller := ctx.junction.Controller()
	if !controller.Stopped() {
		controller.Abort(ctx.clock.T)
	}
	ctx.publish()
	close(ctx.done)
	for {
		select {
		case cmd := <-ctx.commands:
			if cmd.reply != nil {
				cmd.reply <- entity.ErrStopped
			}
			continue
		default:
		}
		break
	}
	s := ctx.stats
	log.WithFields(logrus.Fields{
		"cycles":     s.Cycles,
		"served":     s.TotalServed(),
		"violations": s.Violations,
		"rejected":   s.Rejected,
	}).Infof("control loop complete at %s", ctx.clock)
	rec := ctx.junction.Recommend()
	log.Infof("recommended timing by current density:\n%v", rec)
	if plan, err := rec.Plan(ctx.junction.ID()); err == nil {
		log.Debugf("recommended plan: %d phases, cycle %.0fs", len(plan.Program().Phases), plan.CycleLength())
	}
}

// RunSimulated 以仿真时钟运行
// 功能：按control.step.interval推进时钟，共control.step.total步，不等待墙钟
// 算法说明：
// 1. 初始化时钟；分布式模式下与syncer同步初始步
// 2. 每步依次执行准备阶段（命令、观测）和更新阶段（推进信号机）
// 3. 信号机停止、到达结束步、syncer要求关闭或上下文取消时退出
// 4. 退出时保证信号机处于全红
func (ctx *Context) RunSimulated(c context.Context) error {
	if !ctx.clock.Bounded() {
		return ErrUnboundedSimulation
	}
	ctx.begin()
	defer ctx.finish()
	// init syncer
	if ctx.sidecar != nil {
		ctx.sidecar.Step(false)
	}
	for {
		if err := c.Err(); err != nil {
			log.Warnf("control loop canceled: %v", err)
			ctx.junction.Controller().Abort(ctx.clock.T)
			return nil
		}
		now := ctx.clock.T
		ctx.prepare(now)
		if ctx.sidecar != nil {
			ctx.sidecar.NotifyStepReady()
		}
		ctx.update(now)
		if ctx.junction.Controller().Stopped() {
			return nil
		}
		last := ctx.clock.InternalStep+1 >= ctx.clock.END_STEP
		close := false
		if ctx.sidecar != nil {
			close = ctx.sidecar.Step(last)
		}
		if last || close || ctx.closed.Load() {
			return nil
		}
		ctx.clock.Step()
	}
}

// RunRealtime 以墙钟运行
// 功能：控制器时间随墙钟推进，等待当前相位结束或下一步到来，期间可被命令唤醒
// 说明：control.step.total为0时一直运行，直到停止或上下文取消
func (ctx *Context) RunRealtime(c context.Context) error {
	ctx.begin()
	defer ctx.finish()
	base := ctx.clock.T
	start := time.Now()
	end := ctx.clock.EndT()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-c.Done():
			log.Warnf("control loop canceled: %v", c.Err())
			ctx.clock.Set(min(base+time.Since(start).Seconds(), end))
			ctx.junction.Controller().Abort(ctx.clock.T)
			return nil
		case cmd := <-ctx.commands:
			ctx.clock.Set(min(base+time.Since(start).Seconds(), end))
			ctx.execute(cmd, ctx.clock.T)
		case <-timer.C:
		}
		now := min(base+time.Since(start).Seconds(), end)
		ctx.clock.Set(now)
		now = ctx.clock.T
		ctx.prepare(now)
		ctx.update(now)
		if ctx.junction.Controller().Stopped() || now >= end || ctx.closed.Load() {
			return nil
		}
		wake := float64(ctx.clock.InternalStep+1) * ctx.clock.DT
		if phaseEnd, ok := ctx.junction.Phase().EndsAt(); ok && phaseEnd > now {
			wake = min(wake, phaseEnd)
		}
		wake = min(wake, end)
		timer.Reset(time.Duration((wake - now) * float64(time.Second)))
	}
}
