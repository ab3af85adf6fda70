//go:build z3
// +build z3

package crosscontract

import (
	"errors"
	"math/big"

	z3 "github.com/mitchellh/go-z3"
)

// Z3Checker 相关性候选的联合一致性检查器
// 检查全部候选是否共享同一个数量级的比例因子
type Z3Checker struct {
	config  *z3.Config
	context *z3.Context
	stats   Z3Stats
}

// Z3Stats 检查器统计
type Z3Stats struct {
	TotalChecks      int
	ConsistentChecks int
	FailedChecks     int
}

// NewZ3Checker 创建Z3检查器
func NewZ3Checker() (*Z3Checker, error) {
	config := z3.NewConfig()
	ctx := z3.NewContext(config)
	return &Z3Checker{config: config, context: ctx}, nil
}

// Close 释放Z3资源
func (zc *Z3Checker) Close() {
	if zc.context != nil {
		zc.context.Close()
	}
	if zc.config != nil {
		zc.config.Close()
	}
}

// CheckConsistency 检查候选集是否存在共同的比例因子
// 将每个候选的 delta/param 比率放大100倍取整，寻找整数m (同样放大100倍)
// 使得所有比率都落在 [m/10, m*10] 窗口内
func (zc *Z3Checker) CheckConsistency(candidates []CorrelationCandidate) (bool, error) {
	zc.stats.TotalChecks++
	if len(candidates) == 0 {
		return false, errors.New("no candidates to check")
	}

	solver := zc.context.NewSolver()
	defer solver.Close()

	intSort := zc.context.IntSort()
	m := zc.context.Const(zc.context.Symbol("scale"), intSort)
	ten := zc.context.Int(10, intSort)

	// m ∈ [10, 1000]，即比例因子0.1~10放大100倍
	solver.Assert(m.Ge(zc.context.Int(10, intSort)))
	solver.Assert(m.Le(zc.context.Int(1000, intSort)))

	for _, c := range candidates {
		scaled, ok := scaledRatio(c)
		if !ok {
			continue
		}
		r := zc.context.Int(scaled, intSort)
		// r <= 10*m 且 m <= 10*r
		solver.Assert(r.Le(m.Mul(ten)))
		solver.Assert(m.Le(r.Mul(ten)))
	}

	if solver.Check() != z3.True {
		zc.stats.FailedChecks++
		return false, nil
	}
	zc.stats.ConsistentChecks++
	return true, nil
}

// scaledRatio 取 round(100 * delta / param)，窗口过滤保证结果在int范围内
func scaledRatio(c CorrelationCandidate) (int, bool) {
	delta, ok1 := new(big.Int).SetString(c.Delta, 10)
	param, ok2 := new(big.Int).SetString(c.ParamValue, 10)
	if !ok1 || !ok2 || param.Sign() == 0 {
		return 0, false
	}
	scaled := new(big.Int).Mul(delta, big.NewInt(100))
	scaled.Div(scaled, param)
	if !scaled.IsInt64() {
		return 0, false
	}
	return int(scaled.Int64()), true
}
