package input

import (
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Replay 按时间回放已记录的观测
type Replay struct {
	obs  []entity.Observation
	next int
}

// NewReplay 创建回放数据源，obs需已按时间排序
func NewReplay(obs []entity.Observation) *Replay {
	return &Replay{obs: obs}
}

func (r *Replay) Poll(now float64) []entity.Observation {
	start := r.next
	for r.next < len(r.obs) && r.obs[r.next].T <= now {
		r.next++
	}
	return r.obs[start:r.next]
}

func (r *Replay) Exhausted() bool {
	return r.next >= len(r.obs)
}

// Len 观测总数
func (r *Replay) Len() int {
	return len(r.obs)
}
