package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// FlexibleUint64 是一个可以从多种 JSON 格式解析的 uint64 类型
// 取证记录来自不同的 tracer，数值字段格式并不统一:
// - JSON 数字: 100000000
// - 十六进制字符串: "0x5f5e100"
// - 十进制字符串: "100000000"
type FlexibleUint64 struct {
	value uint64
}

// NewFlexibleUint64 创建一个新的 FlexibleUint64
func NewFlexibleUint64(val uint64) FlexibleUint64 {
	return FlexibleUint64{value: val}
}

// Value 返回 uint64 值
func (f FlexibleUint64) Value() uint64 {
	return f.value
}

// IsZero 检查值是否为 0
func (f FlexibleUint64) IsZero() bool {
	return f.value == 0
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (f *FlexibleUint64) UnmarshalJSON(data []byte) error {
	big, err := parseFlexibleBig(data)
	if err != nil {
		return err
	}
	if !big.IsUint64() {
		return fmt.Errorf("数值超出 uint64 范围: %s", string(data))
	}
	f.value = big.Uint64()
	return nil
}

// MarshalJSON 序列化为十六进制字符串格式 (与以太坊标准一致)
func (f FlexibleUint64) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"0x%x\"", f.value)), nil
}

// String 返回十六进制字符串表示
func (f FlexibleUint64) String() string {
	return fmt.Sprintf("0x%x", f.value)
}

// FlexibleBigInt 是可以从多种 JSON 格式解析的 256 位整数
// 用于存储槽值和调用参数，两者都可能超出 uint64 范围
type FlexibleBigInt struct {
	value *big.Int
}

// NewFlexibleBigInt 创建一个新的 FlexibleBigInt
func NewFlexibleBigInt(val *big.Int) FlexibleBigInt {
	return FlexibleBigInt{value: new(big.Int).Set(val)}
}

// BigInt 返回底层大整数 (副本，调用方可以安全修改)
func (f FlexibleBigInt) BigInt() *big.Int {
	if f.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.value)
}

// IsZero 检查值是否为 0
func (f FlexibleBigInt) IsZero() bool {
	return f.value == nil || f.value.Sign() == 0
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (f *FlexibleBigInt) UnmarshalJSON(data []byte) error {
	val, err := parseFlexibleBig(data)
	if err != nil {
		return err
	}
	f.value = val
	return nil
}

// MarshalJSON 序列化为十六进制字符串格式
func (f FlexibleBigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"0x%x\"", f.BigInt())), nil
}

// String 返回十六进制字符串表示
func (f FlexibleBigInt) String() string {
	return fmt.Sprintf("0x%x", f.BigInt())
}

// parseFlexibleBig 解析多格式数值的公共路径
func parseFlexibleBig(data []byte) (*big.Int, error) {
	// 尝试作为数字解析
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		if val, err := num.Int64(); err == nil {
			return big.NewInt(val), nil
		}
		// 可能是科学计数法或浮点数
		floatVal, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("无法解析数字: %v", err)
		}
		result, _ := new(big.Float).SetFloat64(floatVal).Int(nil)
		return result, nil
	}

	// 尝试作为字符串解析
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return nil, fmt.Errorf("既不是数字也不是字符串: %s", string(data))
	}

	// 空字符串视为 0
	if str == "" || str == "0x" {
		return new(big.Int), nil
	}

	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		hexStr := strings.TrimPrefix(strings.ToLower(str), "0x")
		result, ok := new(big.Int).SetString(hexStr, 16)
		if !ok {
			return nil, fmt.Errorf("无效的十六进制字符串: %s", str)
		}
		return result, nil
	}

	// 十进制字符串
	if result, ok := new(big.Int).SetString(str, 10); ok {
		return result, nil
	}
	_, err := strconv.ParseUint(str, 10, 64)
	return nil, fmt.Errorf("无法解析十进制字符串: %s, 错误: %v", str, err)
}
