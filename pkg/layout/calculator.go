// Package layout 实现Solidity存储布局的模拟计算
//
// 按照编译器的打包规则，将声明顺序的状态变量分配到 (slot, offset, size)，
// 并提供mapping/动态数组的派生槽计算。
package layout

import (
	"math/big"
	"strconv"
	"strings"

	"invarsynth/pkg/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SlotWidth 单个存储槽的字节数
const SlotWidth = 32

// SlotSource 槽信息的来源层级
type SlotSource string

const (
	FromDeclaration        SlotSource = "declaration"         // 来自声明的变量列表
	FromInterfaceInference SlotSource = "interface_inference" // 来自接口推断
	FromSnapshotOnly       SlotSource = "snapshot_only"       // 仅有快照，类型未知
)

// SlotInfo 单个变量的槽位分配结果
type SlotInfo struct {
	Name   string     `json:"name"`
	Slot   uint64     `json:"slot"`
	Offset int        `json:"offset"` // 槽内字节偏移 (0-31)
	Size   int        `json:"size"`   // 字节宽度
	Packed bool       `json:"packed"` // 是否与其他变量共享槽
	Source SlotSource `json:"source"`
}

// SlotHash 返回槽索引的32字节表示
func (s *SlotInfo) SlotHash() common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(s.Slot))
}

// Calculator 存储布局计算器
// 纯函数: 相同的变量序列总是产生相同的布局
type Calculator struct{}

// NewCalculator 创建布局计算器
func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateLayout 按声明顺序为变量分配槽位
// 游标从 (slot=0, offset=0) 开始:
// - mapping和动态数组总是独占一个新槽，放置后游标移动到下一个槽
// - 定长值类型尝试打包进当前槽的剩余字节，放不下则换新槽
// - 未知类型降级为 FromSnapshotOnly，按完整32字节处理
func (c *Calculator) CalculateLayout(vars []types.StateVariable) []SlotInfo {
	infos := make([]SlotInfo, 0, len(vars))

	var slot uint64
	offset := 0

	for _, v := range vars {
		if isMappingType(v.Type) || isDynamicType(v.Type) {
			// 引用类型独占新槽，无视当前offset
			if offset != 0 {
				slot++
				offset = 0
			}
			infos = append(infos, SlotInfo{
				Name:   v.Name,
				Slot:   slot,
				Offset: 0,
				Size:   SlotWidth,
				Packed: false,
				Source: FromDeclaration,
			})
			slot++
			continue
		}

		size, known := valueTypeSize(v.Type)
		if !known {
			// 未知类型: 不做打包保证，整槽对待
			if offset != 0 {
				slot++
				offset = 0
			}
			infos = append(infos, SlotInfo{
				Name:   v.Name,
				Slot:   slot,
				Offset: 0,
				Size:   SlotWidth,
				Packed: false,
				Source: FromSnapshotOnly,
			})
			slot++
			continue
		}

		if SlotWidth-offset < size {
			slot++
			offset = 0
		}
		infos = append(infos, SlotInfo{
			Name:   v.Name,
			Slot:   slot,
			Offset: offset,
			Size:   size,
			Packed: offset != 0,
			Source: FromDeclaration,
		})
		offset += size
		if offset == SlotWidth {
			slot++
			offset = 0
		}
	}

	// 回填packed标记: 槽内首个变量在有后继共享者时也算packed
	occupancy := make(map[uint64]int)
	for i := range infos {
		if infos[i].Size < SlotWidth {
			occupancy[infos[i].Slot]++
		}
	}
	for i := range infos {
		if occupancy[infos[i].Slot] > 1 {
			infos[i].Packed = true
		}
	}

	return infos
}

// DeriveMappingSlot 计算单层mapping元素的存储槽
// slot = keccak256(pad32(key) || pad32(base))
func DeriveMappingSlot(key common.Hash, baseSlot uint64) common.Hash {
	base := common.BigToHash(new(big.Int).SetUint64(baseSlot))
	return crypto.Keccak256Hash(key.Bytes(), base.Bytes())
}

// DeriveAddressMappingSlot 以地址为key的mapping派生槽 (左填充到32字节)
func DeriveAddressMappingSlot(key common.Address, baseSlot uint64) common.Hash {
	padded := common.BytesToHash(common.LeftPadBytes(key.Bytes(), 32))
	return DeriveMappingSlot(padded, baseSlot)
}

// DeriveMappingSlotFromHash 以已派生的槽哈希为base再派生一层
func DeriveMappingSlotFromHash(key, base common.Hash) common.Hash {
	return crypto.Keccak256Hash(key.Bytes(), base.Bytes())
}

// DeriveNestedMappingSlot 计算两层mapping元素的存储槽
// 先对外层key派生，再以派生结果为base对内层key派生
func DeriveNestedMappingSlot(outerKey, innerKey common.Hash, baseSlot uint64) common.Hash {
	outer := DeriveMappingSlot(outerKey, baseSlot)
	return DeriveMappingSlotFromHash(innerKey, outer)
}

// DeriveArrayElementSlot 计算动态数组第i个元素的存储槽
// slot = keccak256(pad32(base)) + i
func DeriveArrayElementSlot(baseSlot uint64, index uint64) common.Hash {
	base := common.BigToHash(new(big.Int).SetUint64(baseSlot))
	start := crypto.Keccak256Hash(base.Bytes())
	elem := new(big.Int).Add(start.Big(), new(big.Int).SetUint64(index))
	return common.BigToHash(elem)
}

// isMappingType 判断是否为mapping类型
func isMappingType(typeStr string) bool {
	return strings.HasPrefix(strings.TrimSpace(typeStr), "mapping")
}

// isDynamicType 判断是否为动态长度类型 (动态数组、bytes、string)
func isDynamicType(typeStr string) bool {
	t := strings.TrimSpace(typeStr)
	if strings.HasSuffix(t, "[]") {
		return true
	}
	return t == "bytes" || t == "string"
}

// valueTypeSize 返回定长值类型的字节宽度
// 第二个返回值为false表示类型无法识别
func valueTypeSize(typeStr string) (int, bool) {
	t := strings.TrimSpace(typeStr)
	switch t {
	case "address":
		return 20, true
	case "bool":
		return 1, true
	case "uint", "int":
		return 32, true
	}

	if strings.HasPrefix(t, "uint") || strings.HasPrefix(t, "int") {
		bitsStr := strings.TrimPrefix(strings.TrimPrefix(t, "uint"), "int")
		bits, err := strconv.Atoi(bitsStr)
		if err != nil || bits <= 0 || bits > 256 || bits%8 != 0 {
			return 0, false
		}
		return bits / 8, true
	}

	if strings.HasPrefix(t, "bytes") {
		n, err := strconv.Atoi(strings.TrimPrefix(t, "bytes"))
		if err != nil || n < 1 || n > 32 {
			return 0, false
		}
		return n, true
	}

	// enum和contract类型偶尔以名字出现，无法在这里识别
	return 0, false
}
