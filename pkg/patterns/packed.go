package patterns

import (
	"math/big"
)

// PairReserves Uniswap V2风格的打包储备槽
// Layout: [reserve0 (112 bits)][reserve1 (112 bits)][blockTimestampLast (32 bits)]
type PairReserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// unpackPairReserves 解包储备槽；不是该布局时返回nil
func unpackPairReserves(value *big.Int) *PairReserves {
	if value == nil {
		return nil
	}

	mask32 := big.NewInt(0xFFFFFFFF)
	mask112 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))

	timestamp := new(big.Int).And(value, mask32)
	reserve1 := new(big.Int).And(new(big.Int).Rsh(value, 32), mask112)
	reserve0 := new(big.Int).Rsh(value, 144)

	return &PairReserves{
		Reserve0:           reserve0,
		Reserve1:           reserve1,
		BlockTimestampLast: uint32(timestamp.Uint64()),
	}
}

// looksLikePairReserves 启发式判断槽值是否为打包储备
// 要求reserve0非零 (值 > 2^144) 且两个reserve都在112位范围内非零
func looksLikePairReserves(value *big.Int) bool {
	if value == nil || value.Sign() == 0 {
		return false
	}
	if value.Cmp(new(big.Int).Lsh(big.NewInt(1), 144)) <= 0 {
		return false
	}

	reserves := unpackPairReserves(value)
	if reserves.Reserve0.Sign() <= 0 || reserves.Reserve1.Sign() <= 0 {
		return false
	}

	max112 := new(big.Int).Lsh(big.NewInt(1), 112)
	return reserves.Reserve0.Cmp(max112) < 0 && reserves.Reserve1.Cmp(max112) < 0
}

// reserveRatioDeviation 计算打包储备槽前后的reserve0/reserve1比率偏离
// 第二个返回值为false表示该槽不是打包储备或比率无定义
func reserveRatioDeviation(before, after *big.Int) (float64, bool) {
	if !looksLikePairReserves(before) || !looksLikePairReserves(after) {
		return 0, false
	}

	rb := unpackPairReserves(before)
	ra := unpackPairReserves(after)
	return ratioDeviation(rb.Reserve0, rb.Reserve1, ra.Reserve0, ra.Reserve1)
}

// ratioDeviation 计算 (a0/b0) 与 (a1/b1) 的相对偏离 |r1-r0|/r0
func ratioDeviation(a0, b0, a1, b1 *big.Int) (float64, bool) {
	if b0 == nil || b0.Sign() == 0 || b1 == nil || b1.Sign() == 0 {
		return 0, false
	}
	r0 := new(big.Float).Quo(new(big.Float).SetInt(a0), new(big.Float).SetInt(b0))
	r1 := new(big.Float).Quo(new(big.Float).SetInt(a1), new(big.Float).SetInt(b1))
	if r0.Sign() == 0 {
		return 0, false
	}

	diff := new(big.Float).Sub(r1, r0)
	diff.Abs(diff)
	dev, _ := new(big.Float).Quo(diff, r0).Float64()
	return dev, true
}
