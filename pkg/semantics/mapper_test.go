package semantics

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

// TestExactNameMatch 测试规范名字的精确匹配
func TestExactNameMatch(t *testing.T) {
	mapper := NewMapper()

	ann := mapper.Map("totalSupply", "uint256", nil)
	assert.Equal(t, TotalSupply, ann.Category)
	assert.Equal(t, 0.95, ann.Confidence)

	ann = mapper.Map("_owner", "address", nil)
	assert.Equal(t, Owner, ann.Category)

	ann = mapper.Map("balances", "mapping(address => uint256)", nil)
	assert.Equal(t, BalanceMapping, ann.Category)
}

// TestStandardPatterns 测试ERC20常见命名模式
func TestStandardPatterns(t *testing.T) {
	mapper := NewMapper()

	ann := mapper.Map("userBalances", "mapping(address => uint256)", nil)
	assert.Equal(t, BalanceMapping, ann.Category)

	ann = mapper.Map("cachedSupply", "uint256", nil)
	assert.Equal(t, TotalSupply, ann.Category)
}

// TestProtocolCorePatterns 测试协议核心状态的命名模式
func TestProtocolCorePatterns(t *testing.T) {
	mapper := NewMapper()

	assert.Equal(t, Reserve, mapper.Map("reserve0", "uint112", nil).Category)
	assert.Equal(t, Debt, mapper.Map("totalDebt", "uint256", nil).Category)
	assert.Equal(t, Collateral, mapper.Map("collateralFactor", "uint256", nil).Category)
}

// TestPricePatterns 测试价格相关模式
func TestPricePatterns(t *testing.T) {
	mapper := NewMapper()

	assert.Equal(t, Price, mapper.Map("sqrtPriceX96", "uint160", nil).Category)
	assert.Equal(t, Price, mapper.Map("exchangeRate", "uint256", nil).Category)
}

// TestPriorityOrdering 测试高priority规则覆盖低priority规则
func TestPriorityOrdering(t *testing.T) {
	mapper := NewMapper()

	// "reservePrice" 同时命中reserve(P3)和price(P2)，P3胜出
	ann := mapper.Map("reservePrice", "uint256", nil)
	assert.Equal(t, Reserve, ann.Category)
}

// TestTypeFallback 测试声明类型的通用回退
func TestTypeFallback(t *testing.T) {
	mapper := NewMapper()

	ann := mapper.Map("someContract", "address", nil)
	assert.Equal(t, AddressReference, ann.Category)
	assert.Equal(t, 0.5, ann.Confidence)
}

// TestSampledValueFallback 测试20字节右对齐采样值的地址启发
func TestSampledValueFallback(t *testing.T) {
	mapper := NewMapper()

	sample := new(big.Int).SetBytes(common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B").Bytes())
	ann := mapper.Map("", "", sample)
	assert.Equal(t, AddressReference, ann.Category)
	assert.InDelta(t, 0.3, ann.Confidence, 1e-9)
}

// TestNoMatchReturnsUnknown 测试无规则命中时返回Unknown且置信度为0
func TestNoMatchReturnsUnknown(t *testing.T) {
	mapper := NewMapper()

	ann := mapper.Map("x", "uint256", big.NewInt(42))
	assert.Equal(t, Unknown, ann.Category)
	assert.Equal(t, 0.0, ann.Confidence)
	assert.Equal(t, "no rule matched", ann.MatchedRule)
}
