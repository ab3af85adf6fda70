package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFlexibleBigIntFormats 测试三种数值格式的解析
func TestFlexibleBigIntFormats(t *testing.T) {
	cases := []struct {
		input    string
		expected *big.Int
	}{
		{`100000000`, big.NewInt(100000000)},
		{`"0x5f5e100"`, big.NewInt(100000000)},
		{`"100000000"`, big.NewInt(100000000)},
		{`""`, big.NewInt(0)},
		{`"0x"`, big.NewInt(0)},
	}

	for _, tc := range cases {
		var f FlexibleBigInt
		err := json.Unmarshal([]byte(tc.input), &f)
		require.NoError(t, err, "input: %s", tc.input)
		assert.Equal(t, 0, tc.expected.Cmp(f.BigInt()), "input: %s", tc.input)
	}
}

// TestFlexibleBigIntBeyondUint64 测试超出uint64范围的槽值
func TestFlexibleBigIntBeyondUint64(t *testing.T) {
	var f FlexibleBigInt
	err := json.Unmarshal([]byte(`"0xffffffffffffffffffffffffffffffff"`), &f)
	require.NoError(t, err)
	assert.Equal(t, 128, f.BigInt().BitLen())
}

// TestFlexibleBigIntMarshalHex 测试序列化为十六进制字符串
func TestFlexibleBigIntMarshalHex(t *testing.T) {
	f := NewFlexibleBigInt(big.NewInt(255))
	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `"0xff"`, string(data))
}

// TestFlexibleUint64Overflow 测试超出uint64范围时报错
func TestFlexibleUint64Overflow(t *testing.T) {
	var f FlexibleUint64
	err := json.Unmarshal([]byte(`"0x10000000000000000"`), &f)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`"0xff"`), &f)
	require.NoError(t, err)
	assert.Equal(t, uint64(255), f.Value())
}

// TestFlattenDepths 测试嵌套调用树的展平与深度标注
func TestFlattenDepths(t *testing.T) {
	a := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	b := "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	c := "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"

	frames := []CallFrame{
		{
			From: common.HexToAddress(a), To: b, Function: "execute",
			Calls: []CallFrame{
				{From: common.HexToAddress(b), To: c, Function: "sync"},
			},
		},
	}

	entries := Flatten(frames)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Depth)
	assert.Equal(t, "execute", entries[0].Function)
	assert.Equal(t, 1, entries[1].Depth)
	assert.Equal(t, common.HexToAddress(c), entries[1].Callee)
}

// TestFlattenSkipsMissingCallee 测试缺失callee的帧被跳过但子调用保留
func TestFlattenSkipsMissingCallee(t *testing.T) {
	a := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	b := "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"

	frames := []CallFrame{
		{
			From: common.HexToAddress(a), To: "", Function: "create",
			Calls: []CallFrame{
				{From: common.HexToAddress(a), To: b, Function: "init"},
			},
		},
	}

	entries := Flatten(frames)
	require.Len(t, entries, 1)
	assert.Equal(t, "init", entries[0].Function)
	// 子调用保留原始深度
	assert.Equal(t, 1, entries[0].Depth)
}

// TestExtractFunctionSignature 测试函数选择器提取
func TestExtractFunctionSignature(t *testing.T) {
	assert.Equal(t, "0xa9059cbb", ExtractFunctionSignature("0xa9059cbb000000000000000000000000"))
	assert.Equal(t, "", ExtractFunctionSignature("0xa905"))
	assert.Equal(t, "", ExtractFunctionSignature(""))
}

// TestContractsWithChanges 测试快照差异合约的识别
func TestContractsWithChanges(t *testing.T) {
	changed := common.HexToAddress("0x1111111111111111111111111111111111111111")
	unchanged := common.HexToAddress("0x2222222222222222222222222222222222222222")
	slot := common.BigToHash(big.NewInt(0))

	record := &ForensicRecord{
		PreState: map[common.Address]Snapshot{
			changed:   {slot: common.BigToHash(big.NewInt(100))},
			unchanged: {slot: common.BigToHash(big.NewInt(42))},
		},
		PostState: map[common.Address]Snapshot{
			changed:   {slot: common.BigToHash(big.NewInt(200))},
			unchanged: {slot: common.BigToHash(big.NewInt(42))},
		},
	}

	result := record.ContractsWithChanges()
	require.Len(t, result, 1)
	assert.Equal(t, changed, result[0])
}
