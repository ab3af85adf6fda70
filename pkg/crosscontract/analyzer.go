// Package crosscontract 在攻击调用图上追踪跨合约的因果传播
package crosscontract

import (
	"fmt"
	"strings"

	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

// PathKind 传播路径类别
type PathKind string

const (
	Direct   PathKind = "direct"   // 受保护合约即状态变化合约
	Indirect PathKind = "indirect" // 经由调用链可达
	None     PathKind = "none"     // 在深度限制内不可达
)

// PropagationPath 从受保护调用到状态变化合约的因果路径
type PropagationPath struct {
	Kind      PathKind          `json:"kind"`
	Contracts []common.Address  `json:"contracts,omitempty"` // 有序路径，首元素为受保护合约
	Entry     *types.TraceEntry `json:"-"`                   // 路径起点的调用
	Reasoning string            `json:"reasoning,omitempty"`
}

// Analyzer 跨合约分析器
type Analyzer struct {
	maxDepth int
}

// NewAnalyzer 创建分析器；maxDepth是BFS的跳数上限
func NewAnalyzer(maxDepth int) *Analyzer {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &Analyzer{maxDepth: maxDepth}
}

// BuildGraph 从trace构造caller->callee有向图
// 缺失callee的条目已在展平时被丢弃，这里不会再失败
func (a *Analyzer) BuildGraph(trace []types.TraceEntry) map[common.Address][]common.Address {
	graph := make(map[common.Address][]common.Address)
	seen := make(map[common.Address]map[common.Address]bool)

	for _, entry := range trace {
		if seen[entry.Caller] == nil {
			seen[entry.Caller] = make(map[common.Address]bool)
		}
		if seen[entry.Caller][entry.Callee] {
			continue
		}
		seen[entry.Caller][entry.Callee] = true
		graph[entry.Caller] = append(graph[entry.Caller], entry.Callee)
	}
	return graph
}

// Analyze 判定受保护合约与状态变化合约之间的传播关系
func (a *Analyzer) Analyze(
	trace []types.TraceEntry,
	protected types.ProtectedTarget,
	changed common.Address,
) PropagationPath {
	if protected.Contract == changed {
		return PropagationPath{
			Kind:      Direct,
			Contracts: []common.Address{changed},
			Entry:     findEntryCall(trace, protected),
			Reasoning: "protected contract is the changed contract",
		}
	}

	graph := a.BuildGraph(trace)
	path := a.bfs(graph, protected.Contract, changed)
	if path == nil {
		return PropagationPath{Kind: None, Reasoning: fmt.Sprintf(
			"no path from %s to %s within %d hops", protected.Contract.Hex(), changed.Hex(), a.maxDepth)}
	}

	return PropagationPath{
		Kind:      Indirect,
		Contracts: path,
		Entry:     findEntryCall(trace, protected),
		Reasoning: formatPath(path),
	}
}

// bfs 有界广度优先搜索，visited集合保证环上终止
func (a *Analyzer) bfs(graph map[common.Address][]common.Address, from, to common.Address) []common.Address {
	type node struct {
		addr common.Address
		path []common.Address
	}

	visited := map[common.Address]bool{from: true}
	queue := []node{{addr: from, path: []common.Address{from}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if len(current.path)-1 >= a.maxDepth {
			continue
		}

		for _, next := range graph[current.addr] {
			if visited[next] {
				continue
			}
			visited[next] = true

			path := append(append([]common.Address{}, current.path...), next)
			if next == to {
				return path
			}
			queue = append(queue, node{addr: next, path: path})
		}
	}
	return nil
}

// findEntryCall 找到对受保护合约的首个调用 (优先匹配函数名)
func findEntryCall(trace []types.TraceEntry, protected types.ProtectedTarget) *types.TraceEntry {
	var fallback *types.TraceEntry
	for i := range trace {
		entry := &trace[i]
		if entry.Callee != protected.Contract {
			continue
		}
		if protected.Function == "" || strings.EqualFold(entry.Function, protected.Function) {
			return entry
		}
		if fallback == nil {
			fallback = entry
		}
	}
	return fallback
}

// formatPath 将路径渲染为可读的推理串
func formatPath(path []common.Address) string {
	parts := make([]string, len(path))
	for i, addr := range path {
		parts[i] = addr.Hex()
	}
	return "call propagation: " + strings.Join(parts, " -> ")
}
