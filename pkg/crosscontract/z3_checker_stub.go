//go:build !z3
// +build !z3

package crosscontract

import "errors"

// Z3Checker 相关性候选的联合一致性检查器 (stub版本 - Z3未启用)
type Z3Checker struct {
	stats Z3Stats
}

// Z3Stats 检查器统计
type Z3Stats struct {
	TotalChecks      int
	ConsistentChecks int
	FailedChecks     int
}

// NewZ3Checker 创建Z3检查器 (stub - 返回错误)
func NewZ3Checker() (*Z3Checker, error) {
	return nil, errors.New("Z3 checker not available - rebuild with '-tags z3' to enable")
}

// Close 释放Z3资源 (stub)
func (zc *Z3Checker) Close() {
	// No-op
}

// CheckConsistency 检查候选集一致性 (stub - 返回错误)
// 调用方在Z3不可用时直接接受区间算术筛选出的候选
func (zc *Z3Checker) CheckConsistency(candidates []CorrelationCandidate) (bool, error) {
	return false, errors.New("Z3 checker not available - rebuild with '-tags z3' to enable")
}
