package config

// InputPath 指定数据来源的配置（MongoDB、文件系统）
// 功能：定义输入/输出数据路径的配置结构
// 说明：File非空时优先使用文件，否则使用MongoDB的db与col
type InputPath struct {
	DB   string `yaml:"db"`             // 数据库名
	Col  string `yaml:"col"`            // 集合名
	File string `yaml:"file,omitempty"` // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// Empty 是否未配置任何来源
func (p InputPath) Empty() bool {
	return p.File == "" && (p.DB == "" || p.Col == "")
}

// Thresholds 密度等级下界（含），最高档无上界
type Thresholds struct {
	Low      int32 `yaml:"low"`
	Medium   int32 `yaml:"medium"`
	High     int32 `yaml:"high"`
	Critical int32 `yaml:"critical"`
}

// Smoothing 车辆计数平滑配置
// 功能：视频输入使用最近K次观测的滑动平均，单帧图片输入直接使用原始值
type Smoothing struct {
	Method string  `yaml:"method"`          // window | raw | ema
	Window int     `yaml:"window"`          // 滑动窗口大小K
	Alpha  float64 `yaml:"alpha,omitempty"` // ema系数
}

// Density 密度分类配置
type Density struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Smoothing  Smoothing  `yaml:"smoothing"`
}

// GreenByDensity 各密度等级对应的绿灯时长（秒）
type GreenByDensity struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// Timing 配时参数，运行期间只读
type Timing struct {
	Green    GreenByDensity `yaml:"green"`
	Yellow   float64        `yaml:"yellow"`    // 黄灯清空时间，与密度无关
	MinGreen float64        `yaml:"min_green"` // 绿灯下限
	MaxGreen float64        `yaml:"max_green"` // 绿灯上限
}

// Fairness 公平性与防饿死配置
type Fairness struct {
	MaxConsecutiveSkips int     `yaml:"max_consecutive_skips"` // 连续跳过次数硬上限，达到后强制放行
	BoostAfterSkips     int     `yaml:"boost_after_skips"`     // 连续跳过超过该值时绿灯加时
	GreenBoost          float64 `yaml:"green_boost"`           // 加时时长（秒），不超过max_green
}

// ControlStep 指定控制循环时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数，0表示不限（仅实时模式）
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 控制循环配置
type Control struct {
	JunctionID int32       `yaml:"junction_id"` // 受控路口ID，RPC按该ID寻址
	Step       ControlStep `yaml:"step"`
	QueueSize  int         `yaml:"queue_size"` // 观测队列容量
}

// Synthetic 合成检测器配置，未提供观测数据时使用
type Synthetic struct {
	Seed     uint64             `yaml:"seed"`
	Interval float64            `yaml:"interval"` // 采样间隔（秒）
	Mean     map[string]float64 `yaml:"mean"`     // 各方向平均车辆数，键为方向名
}

// Input 观测数据来源
type Input struct {
	URI          string     `yaml:"uri"` // MongoDB连接字符串
	Observations InputPath  `yaml:"observations"`
	Synthetic    *Synthetic `yaml:"synthetic,omitempty"`
}

// Output 相位历史输出
type Output struct {
	URI       string    `yaml:"uri"`
	Phases    InputPath `yaml:"phases"`
	BatchSize int       `yaml:"batch_size"`
}

// Config YAML配置文件的根结构
type Config struct {
	Density  Density  `yaml:"density"`
	Timing   Timing   `yaml:"timing"`
	Fairness Fairness `yaml:"fairness"`
	Control  Control  `yaml:"control"`
	Input    Input    `yaml:"input"`
	Output   Output   `yaml:"output"`
}
