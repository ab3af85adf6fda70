package patterns

import (
	"fmt"
	"math/big"
	"strconv"
)

// MagnitudeKind 变化幅度的表示形式
type MagnitudeKind string

const (
	MultiplierKind MagnitudeKind = "multiplier" // "Nx change"
	PercentageKind MagnitudeKind = "percentage" // "+N%" / "-N%"
)

// Magnitude 一次状态变化的幅度，在模式检测时生成一次，下游只做结构化消费
// Multiplier的Value是变化率倍数 (|delta|/before)
// Percentage的Value是带符号的百分比 (delta/before * 100)
type Magnitude struct {
	Kind  MagnitudeKind `json:"kind"`
	Value float64       `json:"value"`
}

// multiplierCutover 变化率达到该倍数时证据串采用倍数格式而不是百分比
const multiplierCutover = 2.0

// NewMagnitude 根据变化率和方向构造幅度值
func NewMagnitude(rate float64, negative bool) *Magnitude {
	if rate >= multiplierCutover {
		return &Magnitude{Kind: MultiplierKind, Value: rate}
	}
	percent := rate * 100
	if negative {
		percent = -percent
	}
	return &Magnitude{Kind: PercentageKind, Value: percent}
}

// Rate 返回归一化的变化率 (非负倍数)
func (m *Magnitude) Rate() float64 {
	if m == nil {
		return 0
	}
	switch m.Kind {
	case MultiplierKind:
		return m.Value
	case PercentageKind:
		v := m.Value / 100
		if v < 0 {
			v = -v
		}
		return v
	}
	return 0
}

// Evidence 渲染规范格式的证据串
func (m *Magnitude) Evidence(slot string) string {
	switch m.Kind {
	case MultiplierKind:
		return fmt.Sprintf("Slot %s: %sx change", slot, strconv.FormatFloat(m.Value, 'f', -1, 64))
	case PercentageKind:
		return fmt.Sprintf("Slot %s: %+.2f%%", slot, m.Value)
	}
	return ""
}

// changeRate 计算 |after-before| / before
// before为0时第二个返回值为false，调用方走zero_value_change路径
func changeRate(before, after *big.Int) (float64, bool) {
	if before == nil || before.Sign() == 0 {
		return 0, false
	}
	delta := new(big.Int).Sub(after, before)
	delta.Abs(delta)

	deltaFloat := new(big.Float).SetInt(delta)
	beforeFloat := new(big.Float).SetInt(new(big.Int).Abs(before))

	ratio := new(big.Float).Quo(deltaFloat, beforeFloat)
	rate, _ := ratio.Float64()
	return rate, true
}
