package entity

import (
	"fmt"
	"strings"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// Direction 路口进口道方向
// 功能：表示四岔路口的一个进口方向，集合固定，运行期间不会新增或删除
// 说明：固定顺序为 NORTH、SOUTH、EAST、WEST，轮转兜底策略按该顺序循环
type Direction int32

const (
	DirectionNone  Direction = -1 // 无放行方向（全红/空闲）
	DirectionNorth Direction = 0
	DirectionSouth Direction = 1
	DirectionEast  Direction = 2
	DirectionWest  Direction = 3
)

// NumDirections 进口道数量
const NumDirections = 4

// AllDirections 按固定顺序排列的所有方向
var AllDirections = [NumDirections]Direction{DirectionNorth, DirectionSouth, DirectionEast, DirectionWest}

var directionNames = [NumDirections]string{"NORTH", "SOUTH", "EAST", "WEST"}

// Valid 判断是否为四个合法方向之一
func (d Direction) Valid() bool {
	return d >= DirectionNorth && d <= DirectionWest
}

func (d Direction) String() string {
	if d.Valid() {
		return directionNames[d]
	}
	if d == DirectionNone {
		return "NONE"
	}
	return fmt.Sprintf("Direction(%d)", int32(d))
}

// Next 按固定顺序的下一个方向
// 功能：返回循环顺序中紧随其后的方向，DirectionNone的下一个为NORTH
func (d Direction) Next() Direction {
	if !d.Valid() {
		return DirectionNorth
	}
	return (d + 1) % NumDirections
}

// ParseDirection 解析方向名称（大小写不敏感，支持N/S/E/W缩写）
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORTH", "N":
		return DirectionNorth, nil
	case "SOUTH", "S":
		return DirectionSouth, nil
	case "EAST", "E":
		return DirectionEast, nil
	case "WEST", "W":
		return DirectionWest, nil
	}
	return DirectionNone, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// MarshalText 以名称序列化方向（JSON）
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText 以名称反序列化方向（JSON）
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML 支持在YAML中以名称书写方向
func (d *Direction) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DensityLevel 交通密度等级
// 功能：按拥堵程度全序排列的四个等级，数值越大越拥堵
type DensityLevel int32

const (
	DensityLow DensityLevel = iota
	DensityMedium
	DensityHigh
	DensityCritical
)

// NumDensityLevels 密度等级数量，所有按密度索引的表长度均为该值
const NumDensityLevels = 4

var densityNames = [NumDensityLevels]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (l DensityLevel) Valid() bool {
	return l >= DensityLow && l <= DensityCritical
}

func (l DensityLevel) String() string {
	if l.Valid() {
		return densityNames[l]
	}
	return fmt.Sprintf("DensityLevel(%d)", int32(l))
}

func (l DensityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Observation 检测器上报的单次观测
// 功能：某一方向在某一时刻的车辆计数，创建后不可修改
type Observation struct {
	Direction    Direction `yaml:"direction" json:"direction" bson:"direction"`
	VehicleCount int32     `yaml:"count" json:"count" bson:"count"`
	T            float64   `yaml:"t" json:"t" bson:"t"` // 观测时刻（秒）
}

func (o Observation) String() string {
	return fmt.Sprintf("Observation{%v count=%d t=%.2f}", o.Direction, o.VehicleCount, o.T)
}

// Light 当前相位的灯色
type Light int32

const (
	LightAllRed Light = iota // 全红（空闲、停止或故障）
	LightGreen
	LightYellow
)

func (l Light) String() string {
	switch l {
	case LightAllRed:
		return "ALL_RED"
	case LightGreen:
		return "GREEN"
	case LightYellow:
		return "YELLOW"
	}
	return fmt.Sprintf("Light(%d)", int32(l))
}

// SignalPhase 信号相位
// 功能：核心唯一的对外输出，任一时刻只有一个生效的相位
// 说明：相位切换时整体替换而非原地修改，调用方可保留历史作为审计记录
type SignalPhase struct {
	Seq       uint64    `bson:"seq"`        // 相位序号，单调递增
	Serving   Direction `bson:"serving"`    // 放行方向，全红时为DirectionNone
	Light     Light     `bson:"light"`      // 灯色
	StartedAt float64   `bson:"started_at"` // 相位开始时刻（秒）
	Duration  float64   `bson:"duration"`   // 相位时长（秒），全红时为0表示不限
}

// EndsAt 相位结束时刻，全红相位返回false
func (p SignalPhase) EndsAt() (float64, bool) {
	if p.Light == LightAllRed {
		return 0, false
	}
	return p.StartedAt + p.Duration, true
}

// IndicationOf 指定方向当前显示的灯色
// 说明：只有放行方向可能非红，保证任一时刻至多一个方向非红
func (p SignalPhase) IndicationOf(d Direction) mapv2.LightState {
	if p.Serving != d || p.Light == LightAllRed {
		return mapv2.LightState_LIGHT_STATE_RED
	}
	if p.Light == LightGreen {
		return mapv2.LightState_LIGHT_STATE_GREEN
	}
	return mapv2.LightState_LIGHT_STATE_YELLOW
}

// Indications 四个方向的灯色，按固定方向顺序排列
func (p SignalPhase) Indications() []mapv2.LightState {
	states := make([]mapv2.LightState, NumDirections)
	for i, d := range AllDirections {
		states[i] = p.IndicationOf(d)
	}
	return states
}

func (p SignalPhase) String() string {
	if p.Light == LightAllRed {
		return fmt.Sprintf("#%d ALL_RED@%.1f", p.Seq, p.StartedAt)
	}
	return fmt.Sprintf("#%d %v(%v)@%.1f+%.1fs", p.Seq, p.Light, p.Serving, p.StartedAt, p.Duration)
}
