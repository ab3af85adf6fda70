// Package formula 将检测结果合成为带阈值的可执行不变量记录
package formula

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"invarsynth/pkg/crosscontract"
	"invarsynth/pkg/layout"
	"invarsynth/pkg/patterns"
	"invarsynth/pkg/protocol"
	"invarsynth/pkg/semantics"

	"github.com/ethereum/go-ethereum/common"
)

// 生成阈值的全局边界
const (
	thresholdFloor   = 0.05
	thresholdCeiling = 5.0
)

// formulaTemplates 八个固定公式模板
// 占位符词汇表: value_before/value_after/ratio_before/ratio_after/
// transfer_amount/total_supply/owner_before/owner_after
var formulaTemplates = map[patterns.Category]string{
	patterns.FlashChange:       "abs(value_after - value_before) / value_before <= threshold",
	patterns.RatioBreak:        "abs(ratio_after - ratio_before) / ratio_before <= threshold",
	patterns.MonotonicIncrease: "(value_after - value_before) / value_before <= threshold",
	patterns.ReentrancyBalance: "abs(value_after - value_before) <= threshold * value_before",
	patterns.ZeroValueChange:   "value_before > 0 OR value_after <= threshold * total_supply",
	patterns.MassiveTransfer:   "transfer_amount <= threshold * total_supply",
	patterns.PriceManipulation: "abs(value_after - value_before) / value_before <= threshold",
	patterns.OwnershipChange:   "owner_after == owner_before OR authorized_change",
}

// protocolDefaults 无法提取变化率时按协议类型使用的默认阈值
var protocolDefaults = map[protocol.Category]float64{
	protocol.Lending:        0.10,
	protocol.AMM:            0.30,
	protocol.Vault:          0.15,
	protocol.Staking:        0.20,
	protocol.Bridge:         0.05,
	protocol.ERC20:          0.50,
	protocol.Governance:     0.10,
	protocol.NFTMarketplace: 0.30,
	protocol.Unknown:        0.20,
}

// patternAdjustments 默认阈值的模式调整因子；未列出的模式因子为1.0
var patternAdjustments = map[patterns.Category]float64{
	patterns.FlashChange:       0.5,
	patterns.FlashMint:         0.3,
	patterns.PriceManipulation: 0.7,
	patterns.RatioBreak:        0.6,
	patterns.MonotonicIncrease: 0.8,
	patterns.ReentrancyBalance: 0.5,
	patterns.MassiveTransfer:   0.4,
}

// SlotMeta 构造槽溯源所需的布局与语义信息
type SlotMeta struct {
	Name               string
	Semantic           semantics.Category
	SemanticConfidence float64
	Source             layout.SlotSource
}

// SlotProvenance 不变量涉及槽的溯源记录
type SlotProvenance struct {
	Contract common.Address     `json:"contract"`
	Slot     common.Hash        `json:"slot"`
	Semantic semantics.Category `json:"semantic"`
	Source   layout.SlotSource  `json:"source"`
}

// Confidence 检测置信度分解
type Confidence struct {
	Protocol     float64 `json:"protocol"`
	Semantic     float64 `json:"semantic"`
	Relationship float64 `json:"relationship"`
}

// Invariant 供下游运行时验证器消费的不变量记录
type Invariant struct {
	ID             string                               `json:"id"`
	Pattern        patterns.Category                    `json:"pattern"`
	Formula        string                               `json:"formula"`
	Threshold      float64                              `json:"threshold"`
	Contracts      []string                             `json:"contracts"`
	SlotProvenance map[string]SlotProvenance            `json:"slot_provenance"`
	Confidence     Confidence                           `json:"confidence"`
	Evidence       []string                             `json:"evidence,omitempty"`
	Correlations   []crosscontract.CorrelationCandidate `json:"correlations,omitempty"`
}

// Builder 不变量构造器，持有本次运行的ID分配器
type Builder struct {
	alloc *IDAllocator
}

// NewBuilder 创建构造器并重置分配器
func NewBuilder() *Builder {
	return &Builder{alloc: NewIDAllocator()}
}

// Build 把模式、协议和传播结果合成为去重后的不变量集合
// 去重以 (合约, 槽, 模式) 为准，严格相同的记录只保留第一条；
// 去重发生在分配ID之前，保证编号连续。
func (b *Builder) Build(
	changePatterns []patterns.ChangePattern,
	protocolResult protocol.Result,
	paths map[common.Address]crosscontract.PropagationPath,
	correlations map[common.Address][]crosscontract.CorrelationCandidate,
	metas map[common.Address]map[common.Hash]SlotMeta,
) []Invariant {
	b.alloc.Reset()

	seen := make(map[string]bool)
	var result []Invariant

	for _, p := range changePatterns {
		key := fmt.Sprintf("%s|%s|%s", p.Contract.Hex(), p.Slot.Hex(), p.Category)
		if seen[key] {
			continue
		}
		seen[key] = true

		template, ok := formulaTemplates[p.Category]
		if !ok {
			continue
		}

		path := paths[p.Contract]
		meta := lookupMeta(metas, p.Contract, p.Slot)

		contracts := []string{p.Contract.Hex()}
		for _, addr := range path.Contracts {
			if addr != p.Contract {
				contracts = append(contracts, addr.Hex())
			}
		}

		logicalName := meta.Name
		if logicalName == "" {
			logicalName = "slot_" + p.Slot.Big().String()
		}

		// 模式未携带语义时退回槽元信息，保证溯源里是显式的unknown而不是空串
		semantic := p.Semantic
		if semantic == "" {
			semantic = meta.Semantic
		}

		result = append(result, Invariant{
			ID:        b.alloc.Next(p.Category),
			Pattern:   p.Category,
			Formula:   template,
			Threshold: b.Threshold(p, protocolResult.Category),
			Contracts: contracts,
			SlotProvenance: map[string]SlotProvenance{
				logicalName: {
					Contract: p.Contract,
					Slot:     p.Slot,
					Semantic: semantic,
					Source:   meta.Source,
				},
			},
			Confidence: Confidence{
				Protocol:     protocolResult.Confidence,
				Semantic:     meta.SemanticConfidence,
				Relationship: relationshipConfidence(path),
			},
			Evidence:     p.Evidence,
			Correlations: correlations[p.Contract],
		})
	}
	return result
}

// Threshold 为单个模式推导校准阈值
// 优先使用检测时生成的幅度值；缺失时回退到解析证据串；
// 两者都没有时使用协议默认表乘以模式调整因子。
func (b *Builder) Threshold(p patterns.ChangePattern, proto protocol.Category) float64 {
	rate, ok := p.Magnitude.Rate(), p.Magnitude != nil
	if !ok {
		rate, ok = ExtractRate(p.Evidence)
	}

	var threshold float64
	if ok {
		threshold = calibrate(rate)
	} else {
		threshold = defaultThreshold(proto, p.Category)
	}

	return round2(clamp(threshold, thresholdFloor, thresholdCeiling))
}

// calibrate 分层校准: 越剧烈的观测变化允许越宽的阈值，但层内有界
func calibrate(rate float64) float64 {
	switch {
	case rate >= 10.0:
		return clamp(rate*0.1, 0.5, 5.0)
	case rate >= 1.0:
		return clamp(rate*0.5, 0.2, 2.0)
	default:
		return clamp(rate*0.8, 0.05, 0.5)
	}
}

// defaultThreshold 协议默认值乘以模式调整因子
func defaultThreshold(proto protocol.Category, pattern patterns.Category) float64 {
	base, ok := protocolDefaults[proto]
	if !ok {
		base = protocolDefaults[protocol.Unknown]
	}
	adjust, ok := patternAdjustments[pattern]
	if !ok {
		adjust = 1.0
	}
	return base * adjust
}

var (
	multiplierPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)x change`)
	percentagePattern = regexp.MustCompile(`([+-][0-9]+(?:\.[0-9]+)?)%`)
)

// ExtractRate 从证据串中提取最大的观测变化率
// 倍数格式按原值，百分比格式除以100；仅在幅度值缺失时使用
func ExtractRate(evidence []string) (float64, bool) {
	best := 0.0
	found := false

	for _, e := range evidence {
		if m := multiplierPattern.FindStringSubmatch(e); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				found = true
				if v > best {
					best = v
				}
			}
		}
		if m := percentagePattern.FindStringSubmatch(e); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				v = math.Abs(v) / 100
				found = true
				if v > best {
					best = v
				}
			}
		}
	}
	return best, found
}

// relationshipConfidence 按传播路径类别给出关系置信度
func relationshipConfidence(path crosscontract.PropagationPath) float64 {
	switch path.Kind {
	case crosscontract.Direct:
		return 1.0
	case crosscontract.Indirect:
		hops := len(path.Contracts) - 1
		conf := 0.9 - 0.2*float64(hops-1)
		if conf < 0.3 {
			conf = 0.3
		}
		return conf
	default:
		return 0.0
	}
}

// lookupMeta 查找槽元信息，缺失时返回快照级降级
func lookupMeta(metas map[common.Address]map[common.Hash]SlotMeta, contract common.Address, slot common.Hash) SlotMeta {
	if m, ok := metas[contract]; ok {
		if meta, ok := m[slot]; ok {
			return meta
		}
	}
	return SlotMeta{Semantic: semantics.Unknown, Source: layout.FromSnapshotOnly}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
