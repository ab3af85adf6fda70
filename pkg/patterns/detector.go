// Package patterns 对攻击交易前后的状态差异进行模式分类
package patterns

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"invarsynth/pkg/semantics"
	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

// Category 状态变化的攻击模式分类
type Category string

const (
	ReentrancyBalance Category = "reentrancy_balance"
	FlashChange       Category = "flash_change"
	FlashMint         Category = "flash_mint" // 仅用于阈值调整表
	PriceManipulation Category = "price_manipulation"
	RatioBreak        Category = "ratio_break"
	MonotonicIncrease Category = "monotonic_increase"
	MassiveTransfer   Category = "massive_transfer"
	ZeroValueChange   Category = "zero_value_change"
	OwnershipChange   Category = "ownership_change"
)

// ChangePattern 分类后的状态变化
type ChangePattern struct {
	Contract  common.Address     `json:"contract"`
	Slot      common.Hash        `json:"slot"`
	Category  Category           `json:"category"`
	Semantic  semantics.Category `json:"semantic"`
	Before    string             `json:"before"`
	After     string             `json:"after"`
	Magnitude *Magnitude         `json:"magnitude,omitempty"`
	Evidence  []string           `json:"evidence"`
}

// Config 模式检测的可调常量
type Config struct {
	FlashChangeMultiplier   float64 // 视为闪电变化的最小变化率倍数
	SwapCallMinimum         int     // 价格操纵判定需要的最少swap类调用数
	RatioBreakDeviation     float64 // 配对槽比率的容忍偏离
	MassiveTransferFraction float64 // 判定大额转账的总供应量占比
}

// DefaultConfig 返回默认检测常量
func DefaultConfig() Config {
	return Config{
		FlashChangeMultiplier:   10.0,
		SwapCallMinimum:         3,
		RatioBreakDeviation:     0.2,
		MassiveTransferFraction: 0.1,
	}
}

// Detector 模式检测器
type Detector struct {
	cfg Config
}

// NewDetector 创建模式检测器
func NewDetector(cfg Config) *Detector {
	d := DefaultConfig()
	if cfg.FlashChangeMultiplier > 0 {
		d.FlashChangeMultiplier = cfg.FlashChangeMultiplier
	}
	if cfg.SwapCallMinimum > 0 {
		d.SwapCallMinimum = cfg.SwapCallMinimum
	}
	if cfg.RatioBreakDeviation > 0 {
		d.RatioBreakDeviation = cfg.RatioBreakDeviation
	}
	if cfg.MassiveTransferFraction > 0 {
		d.MassiveTransferFraction = cfg.MassiveTransferFraction
	}
	return &Detector{cfg: d}
}

// changeContext 单个槽变化的分类上下文
type changeContext struct {
	change *SlotChange
	ann    semantics.Annotation
	stats  *contractStats
	all    []SlotChange
}

// contractStats 从攻击trace预计算的合约级统计
type contractStats struct {
	nestedCalls int      // 深度>1的对该合约的调用数
	swapCalls   int      // 全trace中swap类调用数
	maxTransfer *big.Int // transfer类调用的最大数值参数
	totalSupply *big.Int // total_supply语义槽的交易后值
}

// patternRule 分类链中的单条规则
// 规则按表顺序自上而下求值，首个命中者决定分类
type patternRule struct {
	category Category
	match    func(d *Detector, ctx *changeContext) (bool, []string)
}

var ruleChain = []patternRule{
	{ReentrancyBalance, matchReentrancyBalance},
	{FlashChange, matchFlashChange},
	{PriceManipulation, matchPriceManipulation},
	{RatioBreak, matchRatioBreak},
	{MonotonicIncrease, matchMonotonicIncrease},
	{MassiveTransfer, matchMassiveTransfer},
	{ZeroValueChange, matchZeroValueChange},
	{OwnershipChange, matchOwnershipChange},
}

// Detect 对单个合约的全部槽变化进行分类
// annotations 以槽索引为key；trace是展平后的完整攻击调用序列
func (d *Detector) Detect(
	contract common.Address,
	pre, post types.Snapshot,
	annotations map[common.Hash]semantics.Annotation,
	trace []types.TraceEntry,
) []ChangePattern {
	changes := DiffSnapshots(contract, pre, post)
	if len(changes) == 0 {
		return nil
	}

	stats := collectContractStats(contract, trace, post, annotations)

	var result []ChangePattern
	for i := range changes {
		change := &changes[i]
		ann, ok := annotations[change.Slot]
		if !ok {
			ann = semantics.Annotation{Category: semantics.Unknown}
		}

		ctx := &changeContext{change: change, ann: ann, stats: stats, all: changes}
		for _, rule := range ruleChain {
			matched, extra := rule.match(d, ctx)
			if !matched {
				continue
			}
			result = append(result, d.buildPattern(rule.category, ctx, extra))
			break
		}
	}
	return result
}

// buildPattern 构造带幅度和证据的ChangePattern
// 幅度值只在这里生成一次，下游不再重新解析证据串
func (d *Detector) buildPattern(category Category, ctx *changeContext, extra []string) ChangePattern {
	change := ctx.change

	var magnitude *Magnitude
	var evidence []string
	if change.RateDefined {
		magnitude = NewMagnitude(change.Rate, change.Delta.Sign() < 0)
		evidence = append(evidence, magnitude.Evidence(change.SlotLabel()))
	}
	evidence = append(evidence, extra...)

	return ChangePattern{
		Contract:  change.Contract,
		Slot:      change.Slot,
		Category:  category,
		Semantic:  ctx.ann.Category,
		Before:    change.BeforeHex,
		After:     change.AfterHex,
		Magnitude: magnitude,
		Evidence:  evidence,
	}
}

// collectContractStats 扫描trace收集分类所需的统计量
func collectContractStats(
	contract common.Address,
	trace []types.TraceEntry,
	post types.Snapshot,
	annotations map[common.Hash]semantics.Annotation,
) *contractStats {
	stats := &contractStats{maxTransfer: new(big.Int)}

	for _, entry := range trace {
		fn := strings.ToLower(entry.Function)

		if entry.Callee == contract && entry.Depth >= 1 {
			stats.nestedCalls++
		}
		if strings.Contains(fn, "swap") || strings.Contains(fn, "exchange") {
			stats.swapCalls++
		}
		if strings.Contains(fn, "transfer") {
			for _, p := range entry.Params {
				if v := p.BigInt(); v.Cmp(stats.maxTransfer) > 0 {
					stats.maxTransfer = v
				}
			}
		}
	}

	// 多个槽携带supply语义时取槽索引最小者，保证确定性
	supplySlots := make([]common.Hash, 0, len(annotations))
	for slot, ann := range annotations {
		if ann.Category == semantics.TotalSupply {
			supplySlots = append(supplySlots, slot)
		}
	}
	sort.Slice(supplySlots, func(i, j int) bool {
		return supplySlots[i].Big().Cmp(supplySlots[j].Big()) < 0
	})
	for _, slot := range supplySlots {
		if value, ok := post[slot]; ok {
			stats.totalSupply = value.Big()
			break
		}
	}
	return stats
}

// matchReentrancyBalance 余额语义槽在嵌套调用中被多次触及
func matchReentrancyBalance(d *Detector, ctx *changeContext) (bool, []string) {
	if ctx.ann.Category != semantics.BalanceMapping {
		return false, nil
	}
	if ctx.stats.nestedCalls < 2 {
		return false, nil
	}
	return true, []string{fmt.Sprintf("balance slot touched by %d nested calls", ctx.stats.nestedCalls)}
}

// matchFlashChange 单交易内数量级级别的变化
func matchFlashChange(d *Detector, ctx *changeContext) (bool, []string) {
	return ctx.change.RateDefined && ctx.change.Rate >= d.cfg.FlashChangeMultiplier, nil
}

// matchPriceManipulation 价格/储备槽大幅波动且trace中swap调用密集
func matchPriceManipulation(d *Detector, ctx *changeContext) (bool, []string) {
	if ctx.ann.Category != semantics.Price && ctx.ann.Category != semantics.Reserve {
		return false, nil
	}
	if !ctx.change.RateDefined || ctx.change.Rate < 1.0 {
		return false, nil
	}
	if ctx.stats.swapCalls < d.cfg.SwapCallMinimum {
		return false, nil
	}
	return true, []string{fmt.Sprintf("%d swap-like calls in attack trace", ctx.stats.swapCalls)}
}

// matchRatioBreak 语义配对槽的比率偏离基线
// 两条路径: 单槽内的打包储备 (reserve0/reserve1)，或同合约两个储备/供应槽配对
func matchRatioBreak(d *Detector, ctx *changeContext) (bool, []string) {
	if dev, ok := reserveRatioDeviation(ctx.change.Before, ctx.change.After); ok {
		if dev > d.cfg.RatioBreakDeviation {
			return true, []string{fmt.Sprintf("packed reserve ratio deviated %.2f%% (tolerance %.2f%%)",
				dev*100, d.cfg.RatioBreakDeviation*100)}
		}
		return false, nil
	}

	if ctx.ann.Category != semantics.Reserve && ctx.ann.Category != semantics.TotalSupply {
		return false, nil
	}
	for i := range ctx.all {
		other := &ctx.all[i]
		if other.Slot == ctx.change.Slot {
			continue
		}
		dev, ok := ratioDeviation(ctx.change.Before, other.Before, ctx.change.After, other.After)
		if ok && dev > d.cfg.RatioBreakDeviation {
			return true, []string{fmt.Sprintf("ratio against slot %s deviated %.2f%% (tolerance %.2f%%)",
				other.SlotLabel(), dev*100, d.cfg.RatioBreakDeviation*100)}
		}
	}
	return false, nil
}

// matchMonotonicIncrease 供应/累加器语义槽的单向增长
func matchMonotonicIncrease(d *Detector, ctx *changeContext) (bool, []string) {
	if ctx.ann.Category != semantics.TotalSupply && ctx.ann.Category != semantics.Accumulator {
		return false, nil
	}
	return ctx.change.Delta.Sign() > 0, nil
}

// matchMassiveTransfer trace中出现占总供应量大头的转账
func matchMassiveTransfer(d *Detector, ctx *changeContext) (bool, []string) {
	supply := ctx.stats.totalSupply
	if supply == nil || supply.Sign() == 0 || ctx.stats.maxTransfer.Sign() == 0 {
		return false, nil
	}

	// maxTransfer >= fraction * supply，放大1e6避免浮点
	scaled := new(big.Int).Mul(ctx.stats.maxTransfer, big.NewInt(1e6))
	bound := new(big.Int).Mul(supply, big.NewInt(int64(d.cfg.MassiveTransferFraction*1e6)))
	if scaled.Cmp(bound) < 0 {
		return false, nil
	}
	return true, []string{fmt.Sprintf("transfer of %s against total supply %s",
		ctx.stats.maxTransfer.String(), supply.String())}
}

// matchZeroValueChange 从零值开始的初始化式变化
func matchZeroValueChange(d *Detector, ctx *changeContext) (bool, []string) {
	if ctx.change.Before.Sign() != 0 || ctx.change.After.Sign() <= 0 {
		return false, nil
	}
	return true, []string{fmt.Sprintf("Slot %s: initialized 0 -> %s",
		ctx.change.SlotLabel(), ctx.change.After.String())}
}

// matchOwnershipChange owner语义槽的地址值发生变化
func matchOwnershipChange(d *Detector, ctx *changeContext) (bool, []string) {
	if ctx.ann.Category != semantics.Owner {
		return false, nil
	}
	before := common.BigToAddress(ctx.change.Before)
	after := common.BigToAddress(ctx.change.After)
	return true, []string{fmt.Sprintf("owner changed %s -> %s", before.Hex(), after.Hex())}
}
