package container

import "container/heap"

// priorityQueue 优先队列实现了 heap.Interface 并保存了元素
// 功能：内部优先队列实现，基于Go标准库的heap包
// 说明：元素间的先后由构造时传入的less函数决定
type priorityQueue[T any] struct {
	items []T
	less  func(a, b T) bool
}

// Len 返回队列长度
func (pq *priorityQueue[T]) Len() int { return len(pq.items) }

// Less 比较两个元素的优先级
// 说明：less(a, b)为true时a先出队（小顶堆）
func (pq *priorityQueue[T]) Less(i, j int) bool {
	return pq.less(pq.items[i], pq.items[j])
}

// Swap 交换两个元素的位置
func (pq *priorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push 向队列末尾添加元素
func (pq *priorityQueue[T]) Push(x any) {
	pq.items = append(pq.items, x.(T))
}

// Pop 从队列中移除并返回最后一个元素
func (pq *priorityQueue[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	var zero T
	old[n-1] = zero // 避免内存泄漏
	pq.items = old[0 : n-1]
	return item
}

// PriorityQueue 优先队列
// 功能：提供优先队列的公共接口，封装内部堆实现
// 说明：支持任意类型的元素，排序规则由less函数给出，可表达多级比较键
type PriorityQueue[T any] struct {
	queue priorityQueue[T] // 内部优先队列实现
}

// NewPriorityQueue 创建优先队列
// 参数：less-比较函数，返回true表示a应先于b出队
// 返回：新创建的优先队列指针
func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{queue: priorityQueue[T]{items: make([]T, 0), less: less}}
}

// Len 获取当前队列长度
func (q *PriorityQueue[T]) Len() int {
	return q.queue.Len()
}

// First 获取第一个元素（最先出队的元素）
// 说明：不移除元素，仅查看队列顶部的元素；需在Heapify之后调用
func (q *PriorityQueue[T]) First() T {
	return q.queue.items[0]
}

// Push 加入元素（简单添加）
// 功能：向队列中添加新元素，但不维护堆结构
// 说明：添加后需要调用Heapify()来重新构建堆结构
func (q *PriorityQueue[T]) Push(value T) {
	q.queue.items = append(q.queue.items, value)
}

// Heapify 重新构建堆
// 功能：将队列重新构建为有效的堆结构
// 说明：在批量添加元素后调用，确保队列满足堆的性质
func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.queue)
}

// HeapPush 加入元素（堆操作）
func (q *PriorityQueue[T]) HeapPush(value T) {
	heap.Push(&q.queue, value)
}

// HeapPop 弹出元素（堆操作）
// 功能：从优先队列中移除并返回最先出队的元素
func (q *PriorityQueue[T]) HeapPop() T {
	return heap.Pop(&q.queue).(T)
}

// Drain 依次弹出全部元素
// 返回：按出队顺序排列的元素切片
func (q *PriorityQueue[T]) Drain() []T {
	res := make([]T, 0, q.Len())
	for q.Len() > 0 {
		res = append(res, q.HeapPop())
	}
	return res
}
