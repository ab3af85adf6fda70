package protocol

import (
	"testing"

	"invarsynth/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetectERC20 测试纯ERC20接口的分类与置信度下限
func TestDetectERC20(t *testing.T) {
	detector := NewDetector(0.05)

	result := detector.Detect(types.InterfaceDescription{
		Functions: []string{"transfer", "approve", "balanceOf", "totalSupply"},
	})

	assert.Equal(t, ERC20, result.Category)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
	assert.NotEmpty(t, result.Evidence)
}

// TestDetectVault 测试ERC4626风格接口分类为vault
func TestDetectVault(t *testing.T) {
	detector := NewDetector(0.05)

	result := detector.Detect(types.InterfaceDescription{
		Functions: []string{"deposit", "withdraw", "totalAssets", "convertToShares"},
	})

	assert.Equal(t, Vault, result.Category)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
}

// TestDetectEmptyInterface 测试空接口返回Unknown
func TestDetectEmptyInterface(t *testing.T) {
	detector := NewDetector(0.05)

	result := detector.Detect(types.InterfaceDescription{})
	assert.Equal(t, Unknown, result.Category)
	assert.Equal(t, 0.0, result.Confidence)
}

// TestTieBreakByCoreFails 测试core命中数也相同时放弃判断
func TestTieBreakByCoreFails(t *testing.T) {
	detector := NewDetector(0.05)

	// borrow命中lending core，swap命中amm core，各0.3且core数相同
	result := detector.Detect(types.InterfaceDescription{
		Functions: []string{"borrow", "swap"},
	})
	assert.Equal(t, Unknown, result.Category)
}

// TestScoreCappedAtOne 测试单类别总分封顶1.0
func TestScoreCappedAtOne(t *testing.T) {
	detector := NewDetector(0.05)

	result := detector.Detect(types.InterfaceDescription{
		Functions: []string{"transfer", "transferFrom", "approve", "balanceOf", "totalSupply", "allowance", "mint", "burn"},
	})
	assert.Equal(t, ERC20, result.Category)
	assert.LessOrEqual(t, result.Confidence, 1.0)
}

// TestFunctionNamesFromABI 测试从ABI JSON提取函数名
func TestFunctionNamesFromABI(t *testing.T) {
	abiJSON := `[
		{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"success","type":"bool"}]},
		{"name":"balanceOf","type":"function","inputs":[{"name":"holder","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}
	]`

	names := FunctionNames(types.InterfaceDescription{ABI: abiJSON})
	require.Len(t, names, 2)
	assert.Contains(t, names, "transfer")
	assert.Contains(t, names, "balanceOf")
}

// TestInvalidABIFallsBack 测试损坏的ABI回退到名字列表而不报错
func TestInvalidABIFallsBack(t *testing.T) {
	names := FunctionNames(types.InterfaceDescription{
		ABI:       "{not json",
		Functions: []string{"swap"},
	})
	assert.Equal(t, []string{"swap"}, names)
}
