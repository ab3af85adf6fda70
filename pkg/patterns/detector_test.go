package patterns

import (
	"math/big"
	"testing"

	"invarsynth/pkg/semantics"
	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")

func slotHash(i int64) common.Hash {
	return common.BigToHash(big.NewInt(i))
}

func snapshot(pairs map[int64]*big.Int) types.Snapshot {
	s := make(types.Snapshot)
	for slot, val := range pairs {
		s[slotHash(slot)] = common.BigToHash(val)
	}
	return s
}

// TestFlashChange 测试数量级级别的单交易变化
func TestFlashChange(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{5: big.NewInt(100)})
	post := snapshot(map[int64]*big.Int{5: big.NewInt(1000000)})

	result := detector.Detect(testContract, pre, post, nil, nil)
	require.Len(t, result, 1)

	p := result[0]
	assert.Equal(t, FlashChange, p.Category)
	require.NotNil(t, p.Magnitude)
	assert.Equal(t, MultiplierKind, p.Magnitude.Kind)
	assert.InDelta(t, 9999.0, p.Magnitude.Value, 1e-6)
	assert.Contains(t, p.Evidence[0], "9999x change")
	assert.Contains(t, p.Evidence[0], "Slot 5")
}

// TestZeroValueChange 测试before为0时不产生除零错误并归入初始化模式
func TestZeroValueChange(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{3: big.NewInt(0)})
	post := snapshot(map[int64]*big.Int{3: big.NewInt(500)})

	result := detector.Detect(testContract, pre, post, nil, nil)
	require.Len(t, result, 1)

	p := result[0]
	assert.Equal(t, ZeroValueChange, p.Category)
	assert.Nil(t, p.Magnitude)
	assert.Contains(t, p.Evidence[0], "initialized 0 -> 500")
}

// TestMonotonicIncrease 测试供应语义槽的单向增长及百分比证据格式
func TestMonotonicIncrease(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{2: big.NewInt(1000)})
	post := snapshot(map[int64]*big.Int{2: big.NewInt(1500)})
	anns := map[common.Hash]semantics.Annotation{
		slotHash(2): {Category: semantics.TotalSupply, Confidence: 0.95},
	}

	result := detector.Detect(testContract, pre, post, anns, nil)
	require.Len(t, result, 1)

	p := result[0]
	assert.Equal(t, MonotonicIncrease, p.Category)
	require.NotNil(t, p.Magnitude)
	assert.Equal(t, PercentageKind, p.Magnitude.Kind)
	assert.Contains(t, p.Evidence[0], "+50.00%")
}

// TestReentrancyBalance 测试嵌套调用中被触及的余额槽优先归入重入模式
func TestReentrancyBalance(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{8: big.NewInt(10000)})
	post := snapshot(map[int64]*big.Int{8: big.NewInt(1)})
	anns := map[common.Hash]semantics.Annotation{
		slotHash(8): {Category: semantics.BalanceMapping, Confidence: 0.9},
	}

	attacker := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	trace := []types.TraceEntry{
		{Depth: 0, Caller: attacker, Callee: testContract, Function: "withdraw"},
		{Depth: 1, Caller: testContract, Callee: attacker, Function: "fallback"},
		{Depth: 2, Caller: attacker, Callee: testContract, Function: "withdraw"},
		{Depth: 3, Caller: testContract, Callee: attacker, Function: "fallback"},
		{Depth: 4, Caller: attacker, Callee: testContract, Function: "withdraw"},
	}

	result := detector.Detect(testContract, pre, post, anns, trace)
	require.Len(t, result, 1)
	assert.Equal(t, ReentrancyBalance, result[0].Category)
}

// TestPriceManipulation 测试swap密集trace中价格槽的大幅波动
func TestPriceManipulation(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{1: big.NewInt(1000)})
	post := snapshot(map[int64]*big.Int{1: big.NewInt(5000)}) // 4x，低于flash阈值
	anns := map[common.Hash]semantics.Annotation{
		slotHash(1): {Category: semantics.Price, Confidence: 0.8},
	}

	attacker := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	pool := common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	trace := []types.TraceEntry{
		{Depth: 0, Caller: attacker, Callee: pool, Function: "swap"},
		{Depth: 0, Caller: attacker, Callee: pool, Function: "swap"},
		{Depth: 0, Caller: attacker, Callee: pool, Function: "swapExactTokensForTokens"},
	}

	result := detector.Detect(testContract, pre, post, anns, trace)
	require.Len(t, result, 1)
	assert.Equal(t, PriceManipulation, result[0].Category)
}

// TestRatioBreakPackedReserves 测试打包储备槽的比率破坏检测
func TestRatioBreakPackedReserves(t *testing.T) {
	detector := NewDetector(Config{})

	packReserves := func(r0, r1 int64) *big.Int {
		packed := new(big.Int).Lsh(big.NewInt(r0), 144)
		packed.Or(packed, new(big.Int).Lsh(big.NewInt(r1), 32))
		packed.Or(packed, big.NewInt(1700000000)) // timestamp
		return packed
	}

	pre := snapshot(map[int64]*big.Int{8: packReserves(1000000, 2000000)})
	post := snapshot(map[int64]*big.Int{8: packReserves(3000000, 1000000)})

	result := detector.Detect(testContract, pre, post, nil, nil)
	require.Len(t, result, 1)

	p := result[0]
	assert.Equal(t, RatioBreak, p.Category)
	assert.Contains(t, p.Evidence[len(p.Evidence)-1], "packed reserve ratio deviated")
}

// TestMassiveTransfer 测试trace中占总供应量大头的转账
func TestMassiveTransfer(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{9: big.NewInt(100), 0: big.NewInt(1000000)})
	post := snapshot(map[int64]*big.Int{9: big.NewInt(150), 0: big.NewInt(1000000)})
	anns := map[common.Hash]semantics.Annotation{
		slotHash(0): {Category: semantics.TotalSupply, Confidence: 0.95},
	}

	attacker := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	trace := []types.TraceEntry{
		{Depth: 0, Caller: attacker, Callee: testContract, Function: "transfer",
			Params: []types.FlexibleBigInt{types.NewFlexibleBigInt(big.NewInt(200000))}},
	}

	result := detector.Detect(testContract, pre, post, anns, trace)
	require.Len(t, result, 1)
	assert.Equal(t, MassiveTransfer, result[0].Category)
}

// TestMassiveTransferSupplySlotDeterministic 测试多个supply语义槽时
// 取槽索引最小者作为总供应量，结果与map遍历顺序无关
func TestMassiveTransferSupplySlotDeterministic(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{
		5: big.NewInt(100),
		2: big.NewInt(1000000),   // 以该槽为supply时200000超过10%
		9: big.NewInt(100000000), // 以该槽为supply时不超过
	})
	post := snapshot(map[int64]*big.Int{
		5: big.NewInt(150),
		2: big.NewInt(1000000),
		9: big.NewInt(100000000),
	})
	anns := map[common.Hash]semantics.Annotation{
		slotHash(2): {Category: semantics.TotalSupply, Confidence: 0.95},
		slotHash(9): {Category: semantics.TotalSupply, Confidence: 0.85},
	}

	attacker := common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	trace := []types.TraceEntry{
		{Depth: 0, Caller: attacker, Callee: testContract, Function: "transfer",
			Params: []types.FlexibleBigInt{types.NewFlexibleBigInt(big.NewInt(200000))}},
	}

	for i := 0; i < 8; i++ {
		result := detector.Detect(testContract, pre, post, anns, trace)
		require.Len(t, result, 1)
		assert.Equal(t, MassiveTransfer, result[0].Category)
	}
}

// TestOwnershipChange 测试owner语义槽的地址变化
func TestOwnershipChange(t *testing.T) {
	detector := NewDetector(Config{})

	before := new(big.Int).SetBytes(common.HexToAddress("0x7777777777777777777777777777777777777777").Bytes())
	after := new(big.Int).SetBytes(common.HexToAddress("0x8888888888888888888888888888888888888888").Bytes())

	pre := snapshot(map[int64]*big.Int{1: before})
	post := snapshot(map[int64]*big.Int{1: after})
	anns := map[common.Hash]semantics.Annotation{
		slotHash(1): {Category: semantics.Owner, Confidence: 0.95},
	}

	result := detector.Detect(testContract, pre, post, anns, nil)
	require.Len(t, result, 1)

	p := result[0]
	assert.Equal(t, OwnershipChange, p.Category)
	assert.Contains(t, p.Evidence[len(p.Evidence)-1], "owner changed")
}

// TestNoChangeNoPatterns 测试无差异时不产生模式
func TestNoChangeNoPatterns(t *testing.T) {
	detector := NewDetector(Config{})

	pre := snapshot(map[int64]*big.Int{0: big.NewInt(42)})
	post := snapshot(map[int64]*big.Int{0: big.NewInt(42)})

	result := detector.Detect(testContract, pre, post, nil, nil)
	assert.Empty(t, result)
}
