package crosscontract

import (
	"fmt"
	"math/big"

	"invarsynth/pkg/patterns"
	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

// 参数与槽变化量被认为相关的数量级窗口
const (
	correlationRatioMin = 0.1
	correlationRatioMax = 10.0
)

// CorrelationCandidate 入口调用参数与目标槽变化量的相关性候选
type CorrelationCandidate struct {
	ParamIndex int         `json:"param_index"`
	ParamValue string      `json:"param_value"`
	Slot       common.Hash `json:"slot"`
	Delta      string      `json:"delta"`
	Ratio      float64     `json:"ratio"` // |delta| / param
	Reasoning  string      `json:"reasoning"`
}

// FindCorrelations 为Indirect路径寻找相关性候选
// 入口调用的每个数值参数与目标合约的每个槽变化量比较，
// 两者在一个数量级内 (比率0.1~10) 时记为候选
func FindCorrelations(entry *types.TraceEntry, changes []patterns.SlotChange, path PropagationPath) []CorrelationCandidate {
	if entry == nil || len(entry.Params) == 0 {
		return nil
	}

	var candidates []CorrelationCandidate
	for idx, param := range entry.Params {
		p := param.BigInt()
		if p.Sign() <= 0 {
			continue
		}
		for i := range changes {
			delta := new(big.Int).Abs(changes[i].Delta)
			if delta.Sign() == 0 {
				continue
			}

			ratio := bigRatio(delta, p)
			if ratio < correlationRatioMin || ratio > correlationRatioMax {
				continue
			}

			candidates = append(candidates, CorrelationCandidate{
				ParamIndex: idx,
				ParamValue: p.String(),
				Slot:       changes[i].Slot,
				Delta:      delta.String(),
				Ratio:      ratio,
				Reasoning: fmt.Sprintf("param[%d]=%s vs slot %s delta=%s (ratio %.4f); %s",
					idx, p.String(), changes[i].SlotLabel(), delta.String(), ratio, path.Reasoning),
			})
		}
	}
	return candidates
}

// bigRatio 计算 a/b 的float64近似
func bigRatio(a, b *big.Int) float64 {
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(a), new(big.Float).SetInt(b)).Float64()
	return ratio
}
