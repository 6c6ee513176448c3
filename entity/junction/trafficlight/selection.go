package trafficlight

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/approach"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
)

// selectReason 选相结果的来源
type selectReason int

const (
	reasonPolicy     selectReason = iota // 密度优先的常规排序
	reasonRoundRobin                     // 全部LOW且无跳过，按固定顺序轮转
	reasonStarvation                     // 连续跳过达到上限，强制放行
	reasonDeadline                       // 为避免后续超限，只能在临近上限的方向中选择
	reasonForced                         // 外部强制放行
	reasonPreempt                        // 饥饿违规后的抢占
)

func (r selectReason) String() string {
	switch r {
	case reasonPolicy:
		return "policy"
	case reasonRoundRobin:
		return "round_robin"
	case reasonStarvation:
		return "starvation_override"
	case reasonDeadline:
		return "skip_deadline"
	case reasonForced:
		return "forced"
	case reasonPreempt:
		return "preempt"
	}
	return "unknown"
}

// cyclicRank 以last为起点的循环顺序中d的位置（0最靠前）
// 说明：last为DirectionNone时即固定顺序 N,S,E,W
func cyclicRank(d, last entity.Direction) int {
	if !last.Valid() {
		return int(d)
	}
	return (int(d) - int(last) - 1 + entity.NumDirections) % entity.NumDirections
}

// waitKey 等待起始时刻，未在等待视为最新（排在最后）
func waitKey(s approach.Snapshot, now float64) float64 {
	if s.Waiting {
		return s.WaitingSince
	}
	return now
}

// skipDeadline 还能被跳过的次数，0表示本次必须放行
func skipDeadline(s approach.Snapshot, maxSkips int) int {
	return maxSkips - s.ConsecutiveSkips
}

// urgentLimit 求最小的紧约束期限
// 功能：每次选相只能放行一个方向，若期限不超过k的方向恰有k+1个，
// 则本次必须从这些方向中选择，否则之后必有方向超过连续跳过上限
// 返回：期限上界k；不存在紧约束时第二个返回值为false
func urgentLimit(all []approach.Snapshot, maxSkips int) (int, bool) {
	deadlines := lo.Map(all, func(s approach.Snapshot, _ int) int {
		return skipDeadline(s, maxSkips)
	})
	for k := 0; k <= maxSkips; k++ {
		count := lo.CountBy(deadlines, func(d int) bool { return d <= k })
		if count >= k+1 {
			return k, true
		}
	}
	return 0, false
}

// rankCandidates 对候选方向排序
// 功能：按选相策略给出候选方向（除上一个放行方向外的所有方向）的完整先后顺序
// 参数：all-四个方向的快照，last-上一个放行方向，now-当前时刻，maxSkips-连续跳过上限
// 返回：排好序的候选方向，以及首位的选中原因
// 算法说明：
// 1. 连续跳过达到上限的方向强制排在最前；更一般地，存在紧约束时只在期限内的方向中选择
// 2. 全部LOW且都没有跳过时，按固定方向顺序轮转
// 3. 否则主键为密度降序，其次连续跳过降序，再次等待起始时刻升序
// 4. 最终按循环顺序打破平局，保证确定性
func rankCandidates(all []approach.Snapshot, last entity.Direction, now float64, maxSkips int) ([]entity.Direction, selectReason) {
	candidates := lo.Filter(all, func(s approach.Snapshot, _ int) bool {
		return s.Direction != last
	})
	if len(candidates) == 0 {
		return nil, reasonPolicy
	}
	limit, tight := urgentLimit(all, maxSkips)
	urgent := func(s approach.Snapshot) bool {
		return tight && skipDeadline(s, maxSkips) <= limit
	}
	idle := lo.EveryBy(candidates, func(s approach.Snapshot) bool {
		return s.Density == entity.DensityLow && s.ConsecutiveSkips == 0
	})

	less := func(a, b approach.Snapshot) bool {
		ua, ub := urgent(a), urgent(b)
		if ua != ub {
			return ua
		}
		// 已达上限的方向之间，跳过次数多的优先
		if ua && limit == 0 && a.ConsecutiveSkips != b.ConsecutiveSkips {
			return a.ConsecutiveSkips > b.ConsecutiveSkips
		}
		if !idle {
			if a.Density != b.Density {
				return a.Density > b.Density
			}
			if a.ConsecutiveSkips != b.ConsecutiveSkips {
				return a.ConsecutiveSkips > b.ConsecutiveSkips
			}
			if wa, wb := waitKey(a, now), waitKey(b, now); wa != wb {
				return wa < wb
			}
		}
		return cyclicRank(a.Direction, last) < cyclicRank(b.Direction, last)
	}

	pq := container.NewPriorityQueue(less)
	for _, c := range candidates {
		pq.Push(c)
	}
	pq.Heapify()
	ranked := pq.Drain()
	top := ranked[0]

	reason := reasonPolicy
	switch {
	case top.ConsecutiveSkips >= maxSkips:
		reason = reasonStarvation
	case tight && lo.CountBy(candidates, urgent) < len(candidates):
		reason = reasonDeadline
	case idle:
		reason = reasonRoundRobin
	}
	return lo.Map(ranked, func(s approach.Snapshot, _ int) entity.Direction {
		return s.Direction
	}), reason
}
