package formula

import (
	"fmt"

	"invarsynth/pkg/patterns"
)

// IDAllocator 按模式分类的单调编号分配器
// 每次合成运行持有自己的实例并在开始时Reset，运行之间不共享。
// 同一模式在多个合约上反复出现时，编号保证每条记录的ID唯一，
// 不同的真阳性不会被合并。
type IDAllocator struct {
	counters map[patterns.Category]int
}

// NewIDAllocator 创建分配器
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{counters: make(map[patterns.Category]int)}
}

// Reset 清空全部计数器
func (a *IDAllocator) Reset() {
	a.counters = make(map[patterns.Category]int)
}

// Next 为该分类分配下一个标识符，计数从1开始，零填充到3位
// 例如同一运行中第三个flash_change -> "flash_change_003"
func (a *IDAllocator) Next(category patterns.Category) string {
	a.counters[category]++
	return fmt.Sprintf("%s_%03d", category, a.counters[category])
}

// Count 返回该分类已分配的数量
func (a *IDAllocator) Count(category patterns.Category) int {
	return a.counters[category]
}
