package trafficlight

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Observer 相位变化观察者
type Observer interface {
	// OnPhaseChange 每次相位替换时调用，prev为被替换的相位
	OnPhaseChange(prev, next entity.SignalPhase)
}

// ExtendedObserver 可选的扩展观察接口
type ExtendedObserver interface {
	Observer

	// OnObservationRejected 观测在边界被拒绝
	OnObservationRejected(obs entity.Observation, err error)
	// OnStarvationViolation 检测到饥饿违规
	OnStarvationViolation(err error)
	// OnStopped 信号机进入停止状态（全红）
	OnStopped(last entity.SignalPhase)
}

// BaseObserver 空实现，可嵌入以只覆盖关心的方法
type BaseObserver struct{}

func (o *BaseObserver) OnPhaseChange(prev, next entity.SignalPhase) {}

func (o *BaseObserver) OnObservationRejected(obs entity.Observation, err error) {}

func (o *BaseObserver) OnStarvationViolation(err error) {}

func (o *BaseObserver) OnStopped(last entity.SignalPhase) {}

// observerManager 观察者集合，由控制循环同步通知
type observerManager struct {
	observers []Observer
}

func (m *observerManager) add(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *observerManager) phaseChange(prev, next entity.SignalPhase) {
	for _, o := range m.observers {
		o.OnPhaseChange(prev, next)
	}
}

func (m *observerManager) rejected(obs entity.Observation, err error) {
	for _, o := range m.observers {
		if eo, ok := o.(ExtendedObserver); ok {
			eo.OnObservationRejected(obs, err)
		}
	}
}

func (m *observerManager) starvation(err error) {
	for _, o := range m.observers {
		if eo, ok := o.(ExtendedObserver); ok {
			eo.OnStarvationViolation(err)
		}
	}
}

func (m *observerManager) stopped(last entity.SignalPhase) {
	for _, o := range m.observers {
		if eo, ok := o.(ExtendedObserver); ok {
			eo.OnStopped(last)
		}
	}
}

// LoggingObserver 将相位变化写入日志
type LoggingObserver struct {
	BaseObserver
	entry *logrus.Entry
	level logrus.Level
}

// NewLoggingObserver 创建日志观察者，相位变化按level输出
func NewLoggingObserver(entry *logrus.Entry, level logrus.Level) *LoggingObserver {
	if entry == nil {
		entry = log
	}
	return &LoggingObserver{entry: entry, level: level}
}

func (o *LoggingObserver) OnPhaseChange(prev, next entity.SignalPhase) {
	o.entry.WithFields(logrus.Fields{
		"seq":       next.Seq,
		"direction": next.Serving.String(),
		"light":     next.Light.String(),
		"duration":  next.Duration,
	}).Logf(o.level, "phase %v -> %v", prev, next)
}

func (o *LoggingObserver) OnObservationRejected(obs entity.Observation, err error) {
	o.entry.Warnf("observation rejected: %v: %v", obs, err)
}

func (o *LoggingObserver) OnStarvationViolation(err error) {
	o.entry.WithField("violation", "starvation").Error(err)
}

func (o *LoggingObserver) OnStopped(last entity.SignalPhase) {
	o.entry.Infof("signal stopped in %v", last)
}

// DirectionStats 单方向统计
type DirectionStats struct {
	Served     int     // 放行次数
	TotalGreen float64 // 累计绿灯时长
}

// StatsObserver 运行统计
// 功能：统计完成的信号周期数（绿灯+黄灯成对完成）、各方向放行次数与累计绿灯、违规次数
type StatsObserver struct {
	BaseObserver
	Cycles     int
	Violations int
	Rejected   int
	Directions [entity.NumDirections]DirectionStats
}

func NewStatsObserver() *StatsObserver {
	return &StatsObserver{}
}

func (s *StatsObserver) OnPhaseChange(prev, next entity.SignalPhase) {
	if next.Light == entity.LightGreen {
		s.Directions[next.Serving].Served++
		s.Directions[next.Serving].TotalGreen += next.Duration
	}
	// 黄灯结束（无论转入下一绿灯还是全红）即完成一个周期
	if prev.Light == entity.LightYellow {
		s.Cycles++
	}
}

func (s *StatsObserver) OnObservationRejected(obs entity.Observation, err error) {
	s.Rejected++
}

func (s *StatsObserver) OnStarvationViolation(err error) {
	s.Violations++
}

// TotalServed 所有方向放行次数之和
func (s *StatsObserver) TotalServed() int {
	return lo.SumBy(s.Directions[:], func(d DirectionStats) int { return d.Served })
}
