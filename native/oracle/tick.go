package oracle

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// Ticks discretize price as 1.0001^tick, the reference market's log-price
// domain. sqrt ratios are Q64.96 fixed point over the pair's raw reserves.
const (
	minTick = -887272
	maxTick = 887272
)

var (
	maxUint256 = new(uint256.Int).Not(new(uint256.Int))

	// sqrtTickSteps[i] is 2^128-scaled sqrt(1.0001)^-(2^(i+1)); the base step
	// for bit 0 is applied separately.
	sqrtTickBase  = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	sqrtTickSteps = [19]*uint256.Int{
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// sqrtRatioAtTick returns sqrt(1.0001^tick) in Q64.96, exact to the
// reference market's fixed-point semantics.
func sqrtRatioAtTick(tick int64) (*uint256.Int, error) {
	if tick < minTick || tick > maxTick {
		return nil, ErrTickOutOfRange
	}
	absTick := uint64(tick)
	if tick < 0 {
		absTick = uint64(-tick)
	}
	ratio := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if absTick&1 != 0 {
		ratio.Set(sqrtTickBase)
	}
	for i, step := range sqrtTickSteps {
		if absTick&(1<<(i+1)) != 0 {
			// both operands are below 2^128 so the product fits 256 bits
			ratio.Mul(ratio, step)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}
	// downcast Q128.128 to Q64.96, rounding up
	rem := new(uint256.Int).And(ratio, uint256.NewInt(1<<32-1))
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// tickAtSqrtRatio inverts sqrtRatioAtTick: the greatest tick whose sqrt ratio
// is at most the argument. A float log gets within a few ticks; the exact
// boundary is then fixed against the fixed-point table.
func tickAtSqrtRatio(sqrtX96 *uint256.Int) (int64, error) {
	if sqrtX96.IsZero() {
		return 0, ErrTickOutOfRange
	}
	f, _ := new(big.Float).SetInt(sqrtX96.ToBig()).Float64()
	q96 := math.Pow(2, 96)
	estimate := int64(math.Floor(math.Log(f/q96) * 2 / math.Log(1.0001)))
	if estimate < minTick {
		estimate = minTick
	}
	if estimate > maxTick {
		estimate = maxTick
	}
	tick := estimate
	for tick > minTick {
		ratio, err := sqrtRatioAtTick(tick)
		if err != nil {
			return 0, err
		}
		if !ratio.Gt(sqrtX96) {
			break
		}
		tick--
	}
	for tick < maxTick {
		next, err := sqrtRatioAtTick(tick + 1)
		if err != nil {
			return 0, err
		}
		if next.Gt(sqrtX96) {
			break
		}
		tick++
	}
	return tick, nil
}

// tickFromReserves maps a pool's live reserves into the tick domain via
// sqrt(quote/base) scaled to Q64.96.
func tickFromReserves(baseReserve, quoteReserve *big.Int) (int64, error) {
	if baseReserve == nil || quoteReserve == nil || baseReserve.Sign() <= 0 || quoteReserve.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	// sqrt(quote * 2^192 / base) keeps full precision before the square root
	num := new(big.Int).Lsh(quoteReserve, 192)
	num.Quo(num, baseReserve)
	sqrt := new(big.Int).Sqrt(num)
	sqrtX96, overflow := uint256.FromBig(sqrt)
	if overflow {
		return 0, ErrTickOutOfRange
	}
	return tickAtSqrtRatio(sqrtX96)
}

// quoteAtTick scales baseAmount by the price implied by a tick.
func quoteAtTick(tick int64, baseAmount *big.Int) (*big.Int, error) {
	sqrt, err := sqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	ratio := sqrt.ToBig()
	ratio.Mul(ratio, ratio) // Q128.192
	out := new(big.Int).Mul(baseAmount, ratio)
	return out.Rsh(out, 192), nil
}

// floorDiv divides rounding toward negative infinity, matching the reference
// market's tick arithmetic for negative accumulator deltas.
func floorDiv(num, den int64) int64 {
	q := num / den
	if (num%den != 0) && ((num < 0) != (den < 0)) {
		q--
	}
	return q
}
