package junction

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"google.golang.org/protobuf/proto"
)

var (
	ErrJunctionNotFound = errors.New("junction id does not exist")
	ErrRestartStopped   = errors.New("cannot restart a stopped signal controller")
)

// Register 将信控服务注册到sidecar
// 功能：将信控服务注册为RPC服务，提供远程调用接口
// 参数：sidecar-同步器侧车实例
func (s *Service) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(s, opts...)
		},
	)
}

// Handler 信控服务的HTTP处理器，不经过sidecar直接挂载时使用
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return mapv2connect.NewTrafficLightServiceHandler(s, opts...)
}

// GetTrafficLight RPC接口：获取路口的信号灯状态
// 功能：返回当前相位对应的信号程序、相位索引和剩余时间
// 说明：全红时剩余时间为无穷大
func (s *Service) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	st := s.loop.Status()
	if in.Msg.JunctionId != st.JunctionID {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrJunctionNotFound)
	}
	res := &mapv2.GetTrafficLightResponse{
		PhaseIndex:    0,
		TimeRemaining: RemainingTime(st.Phase, st.Now),
	}
	if st.Program != nil {
		res.TrafficLight = proto.Clone(st.Program).(*mapv2.TrafficLight)
	}
	return connect.NewResponse(res), nil
}

// SetTrafficLightPhase RPC接口：强制放行
// 功能：PhaseIndex为方向索引（0北 1南 2东 3西），当前相位（含黄灯）正常结束后放行该方向
// 说明：TimeRemaining被忽略，绿灯时长仍按密度计算
func (s *Service) SetTrafficLightPhase(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightPhaseRequest],
) (*connect.Response[mapv2.SetTrafficLightPhaseResponse], error) {
	req := in.Msg
	if req.JunctionId != s.loop.Status().JunctionID {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrJunctionNotFound)
	}
	d := entity.Direction(req.PhaseIndex)
	if err := s.loop.ForceServe(d); err != nil {
		log.Warnf("force serve %v rejected: %v", d, err)
		return nil, connect.NewError(connectCode(err), err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightPhaseResponse{}), nil
}

// SetTrafficLightStatus RPC接口：设置信号灯开关
// 功能：false表示立即停止并转入全红；true对运行中的信号机无影响
func (s *Service) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	req := in.Msg
	st := s.loop.Status()
	if req.JunctionId != st.JunctionID {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrJunctionNotFound)
	}
	if req.Ok {
		if st.Stopped {
			return nil, connect.NewError(connect.CodeFailedPrecondition, ErrRestartStopped)
		}
		return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
	}
	log.Infof("immediate stop requested over rpc")
	s.loop.Stop(false)
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}

// connectCode 信控错误到RPC错误码的映射
func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, entity.ErrAlreadyServing), errors.Is(err, entity.ErrStopped):
		return connect.CodeFailedPrecondition
	case errors.Is(err, entity.ErrQueueFull):
		return connect.CodeResourceExhausted
	case entity.CodeOf(err) == entity.ErrCodeInvalidInput:
		return connect.CodeInvalidArgument
	}
	return connect.CodeInternal
}
