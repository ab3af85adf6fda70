// Package semantics 推断存储槽的业务含义
package semantics

import (
	"math/big"
	"strings"
)

// Category 槽的业务语义分类
type Category string

const (
	TotalSupply      Category = "total_supply"
	Reserve          Category = "reserve"
	Debt             Category = "debt"
	Collateral       Category = "collateral"
	BalanceMapping   Category = "balance_mapping"
	Owner            Category = "owner"
	Price            Category = "price"
	AddressReference Category = "address_reference"
	Accumulator      Category = "accumulator"
	Unknown          Category = "unknown"
)

// Annotation 槽语义标注结果
type Annotation struct {
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	MatchedRule string   `json:"matched_rule"` // 命中规则的说明
}

// rule 单条语义规则
// 规则按priority降序求值，同priority按注册顺序，首个命中者胜出
type rule struct {
	priority    int
	category    Category
	confidence  float64
	explanation string
	match       func(name, typeTag string, sample *big.Int) bool
}

// nameContains 构造大小写不敏感的名字包含谓词
func nameContains(substrs ...string) func(string, string, *big.Int) bool {
	return func(name, _ string, _ *big.Int) bool {
		lower := strings.ToLower(name)
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// nameEquals 构造大小写不敏感的名字精确匹配谓词 (允许下划线前缀)
func nameEquals(names ...string) func(string, string, *big.Int) bool {
	return func(name, _ string, _ *big.Int) bool {
		lower := strings.TrimLeft(strings.ToLower(name), "_")
		for _, n := range names {
			if lower == n {
				return true
			}
		}
		return false
	}
}

// 规则表按注册顺序排列，registration order即同priority时的决胜顺序
var rules = []rule{
	// priority 5: 规范名字的精确匹配
	{5, TotalSupply, 0.95, "exact name: totalSupply", nameEquals("totalsupply")},
	{5, Owner, 0.95, "exact name: owner/admin", nameEquals("owner", "admin", "governance")},
	{5, BalanceMapping, 0.95, "exact name: balances/balanceOf", nameEquals("balances", "balanceof")},

	// priority 4: ERC20/721等标准的常见命名模式
	{4, BalanceMapping, 0.9, "standard pattern: *balance* mapping", func(name, typeTag string, _ *big.Int) bool {
		return strings.Contains(strings.ToLower(name), "balance") && strings.HasPrefix(typeTag, "mapping")
	}},
	{4, TotalSupply, 0.85, "standard pattern: *supply*", nameContains("supply")},
	{4, Owner, 0.85, "standard pattern: *owner*", nameContains("owner")},

	// priority 3: 协议核心状态的命名模式
	{3, Reserve, 0.85, "protocol pattern: *reserve*", nameContains("reserve")},
	{3, Debt, 0.8, "protocol pattern: *debt*/*borrow*", nameContains("debt", "borrow")},
	{3, Collateral, 0.8, "protocol pattern: *collateral*", nameContains("collateral")},
	{3, Accumulator, 0.7, "protocol pattern: reward/index accumulator", nameContains("rewardpertoken", "accrued", "index", "totalstaked")},

	// priority 2: 价格相关模式
	{2, Price, 0.8, "price pattern: *price*/*sqrtRatio*/*exchangeRate*", nameContains("price", "sqrtratio", "sqrtprice", "exchangerate", "oracle")},

	// priority 1: 类型与采样值的通用回退
	{1, AddressReference, 0.5, "fallback: declared address type", func(_, typeTag string, _ *big.Int) bool {
		return strings.TrimSpace(typeTag) == "address"
	}},
	{1, AddressReference, 0.3, "fallback: 20-byte right-aligned sampled value", func(_, _ string, sample *big.Int) bool {
		return sample != nil && sample.Sign() > 0 && sample.BitLen() > 96 && sample.BitLen() <= 160
	}},
	{1, BalanceMapping, 0.4, "fallback: mapping type", func(_, typeTag string, _ *big.Int) bool {
		return strings.HasPrefix(strings.TrimSpace(typeTag), "mapping")
	}},
}

// Mapper 槽语义映射器
type Mapper struct{}

// NewMapper 创建语义映射器
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map 为单个变量推断语义
// sample 是该槽在快照中的采样值，可以为nil
func (m *Mapper) Map(name, typeTag string, sample *big.Int) Annotation {
	best := Annotation{Category: Unknown, Confidence: 0, MatchedRule: "no rule matched"}
	bestPriority := 0

	for _, r := range rules {
		if r.priority <= bestPriority {
			continue
		}
		if r.match(name, typeTag, sample) {
			best = Annotation{
				Category:    r.category,
				Confidence:  r.confidence,
				MatchedRule: r.explanation,
			}
			bestPriority = r.priority
		}
	}
	return best
}
