package patterns

import (
	"math/big"
	"sort"

	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

// SlotChange 单个槽在攻击交易前后的差异
type SlotChange struct {
	Contract    common.Address `json:"contract"`
	Slot        common.Hash    `json:"slot"`
	Before      *big.Int       `json:"-"`
	After       *big.Int       `json:"-"`
	BeforeHex   string         `json:"before"`
	AfterHex    string         `json:"after"`
	Delta       *big.Int       `json:"-"`
	Rate        float64        `json:"rate"`         // |delta|/before
	RateDefined bool           `json:"rate_defined"` // before为0时rate无定义
}

// SlotLabel 返回槽的显示标签: 小索引用十进制，派生槽用十六进制
func (c *SlotChange) SlotLabel() string {
	b := c.Slot.Big()
	if b.IsUint64() {
		return b.String()
	}
	return c.Slot.Hex()
}

// DiffSnapshots 计算单个合约前后快照的逐槽差异
// 结果按槽索引排序，保证确定性
func DiffSnapshots(contract common.Address, pre, post types.Snapshot) []SlotChange {
	slots := make(map[common.Hash]bool)
	for slot := range pre {
		slots[slot] = true
	}
	for slot := range post {
		slots[slot] = true
	}

	var changes []SlotChange
	for slot := range slots {
		beforeHash := pre[slot]
		afterHash := post[slot]
		if beforeHash == afterHash {
			continue
		}

		before := beforeHash.Big()
		after := afterHash.Big()
		rate, defined := changeRate(before, after)

		changes = append(changes, SlotChange{
			Contract:    contract,
			Slot:        slot,
			Before:      before,
			After:       after,
			BeforeHex:   beforeHash.Hex(),
			AfterHex:    afterHash.Hex(),
			Delta:       new(big.Int).Sub(after, before),
			Rate:        rate,
			RateDefined: defined,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Slot.Big().Cmp(changes[j].Slot.Big()) < 0
	})
	return changes
}
