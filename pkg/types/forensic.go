package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// StateVariable 合约声明的持久化状态变量
// 按声明顺序排列，继承的变量按 base-to-derived 线性化顺序排在前面
type StateVariable struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"` // Solidity类型标签 (uint256, address, mapping(...), uint256[], ...)
	Contract common.Address `json:"contract"`
}

// InterfaceDescription 合约接口描述
// 由取证harness提供；函数名是必需的，事件名和ABI JSON是可选补充
type InterfaceDescription struct {
	Functions []string `json:"functions"`
	Events    []string `json:"events,omitempty"`
	ABI       string   `json:"abi,omitempty"` // 原始ABI JSON (如果有)
}

// Snapshot 单个合约的存储快照: slot -> 32字节原始值
type Snapshot map[common.Hash]common.Hash

// ProtectedTarget 外部指定的受保护合约/函数
type ProtectedTarget struct {
	Contract common.Address `json:"contract"`
	Function string         `json:"function,omitempty"`
}

// CallFrame 攻击交易中的调用帧 (callTracer输出格式)
type CallFrame struct {
	Type     string           `json:"type,omitempty"` // CALL, DELEGATECALL, STATICCALL, CREATE
	From     common.Address   `json:"from"`
	To       string           `json:"to"` // 保留原始字符串，允许缺失callee的条目
	Function string           `json:"function,omitempty"`
	Input    string           `json:"input,omitempty"`
	Gas      FlexibleUint64   `json:"gas,omitempty"`
	Params   []FlexibleBigInt `json:"params,omitempty"` // 已解码的数值参数
	Calls    []CallFrame      `json:"calls,omitempty"`  // 子调用
}

// Callee 返回目标地址；第二个返回值表示该帧是否携带有效callee
func (f *CallFrame) Callee() (common.Address, bool) {
	to := strings.TrimSpace(f.To)
	if to == "" || to == "0x" {
		return common.Address{}, false
	}
	return common.HexToAddress(to), true
}

// TraceEntry 展平后的调用条目，带调用深度
type TraceEntry struct {
	Depth    int
	Caller   common.Address
	Callee   common.Address
	Function string
	Params   []FlexibleBigInt
}

// Flatten 将嵌套调用树展平为带深度标注的条目序列
// 缺失callee地址的帧被跳过，但其子调用仍会被遍历
func Flatten(frames []CallFrame) []TraceEntry {
	var entries []TraceEntry
	for i := range frames {
		flattenInto(&frames[i], 0, &entries)
	}
	return entries
}

func flattenInto(frame *CallFrame, depth int, entries *[]TraceEntry) {
	if callee, ok := frame.Callee(); ok {
		*entries = append(*entries, TraceEntry{
			Depth:    depth,
			Caller:   frame.From,
			Callee:   callee,
			Function: frame.Function,
			Params:   frame.Params,
		})
	}
	for i := range frame.Calls {
		flattenInto(&frame.Calls[i], depth+1, entries)
	}
}

// ExtractFunctionSignature 从输入数据提取函数选择器 (0x + 8个十六进制字符)
func ExtractFunctionSignature(input string) string {
	if len(input) < 10 {
		return ""
	}
	return input[:10]
}

// ForensicRecord 一次合成运行的完整取证输入
// 全部字段都是尽力而为的: 缺失的部分触发对应阶段的降级路径
type ForensicRecord struct {
	Protocol       string                      `json:"protocol,omitempty"` // 运行标识 (项目名等)
	Interface      InterfaceDescription        `json:"interface"`
	StateVariables []StateVariable             `json:"state_variables,omitempty"`
	PreState       map[common.Address]Snapshot `json:"pre_state"`
	PostState      map[common.Address]Snapshot `json:"post_state"`
	AttackTrace    []CallFrame                 `json:"attack_trace,omitempty"`
	Protected      *ProtectedTarget            `json:"protected,omitempty"`
}

// ContractsWithChanges 返回前后快照存在差异的合约地址集合
func (r *ForensicRecord) ContractsWithChanges() []common.Address {
	var changed []common.Address
	for addr, post := range r.PostState {
		pre := r.PreState[addr]
		for slot, after := range post {
			if pre[slot] != after {
				changed = append(changed, addr)
				break
			}
		}
	}
	return changed
}
