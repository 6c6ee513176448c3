package junction

import (
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
)

// Service 信控RPC服务
// 功能：以城市路网协议的TrafficLightService对外暴露单个路口的自适应信控
// 说明：只读请求使用快照，写请求转交控制循环，服务本身不持有可变状态
type Service struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler

	loop IControlLoop
}

// NewService 创建信控RPC服务
// 参数：loop-控制循环
func NewService(loop IControlLoop) *Service {
	return &Service{loop: loop}
}
