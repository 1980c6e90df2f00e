package amm

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Reserves are stored in 112 bits so that a full reserve product, and a
// UQ112x112 fixed-point price, both fit a single 256-bit word with room to
// spare. Intermediate mul-then-div arithmetic goes through MulDivOverflow,
// which keeps the full 512-bit product before dividing.
const reserveBits = 112

var (
	maxReserve = func() *uint256.Int {
		v := new(uint256.Int).Lsh(uint256.NewInt(1), reserveBits)
		return v.SubUint64(v, 1)
	}()
	one = uint256.NewInt(1)
)

// toReserve converts an externally supplied amount into reserve width,
// rejecting negative values and anything above 2^112-1.
func toReserve(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.Gt(maxReserve) {
		return nil, ErrReserveOverflow
	}
	return u, nil
}

// checkReserve enforces the 112-bit storage bound on a computed reserve.
func checkReserve(v *uint256.Int) error {
	if v.Gt(maxReserve) {
		return ErrReserveOverflow
	}
	return nil
}

// mulDiv computes floor(a*b/d) with a full-width intermediate product. The
// post-division result overflowing 256 bits is fatal.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrNoLiquidity
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrReserveOverflow
	}
	return z, nil
}

// mulDivCeil computes ceil(a*b/d), rounding against the caller.
func mulDivCeil(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(a, b, d)
	if !rem.IsZero() {
		if _, overflow := z.AddOverflow(z, one); overflow {
			return nil, ErrReserveOverflow
		}
	}
	return z, nil
}

// uq112 encodes num/den as a UQ112x112 fixed-point price. Both operands are
// reserve-bounded so the shifted numerator fits 224 bits.
func uq112(num, den *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Lsh(num, reserveBits)
	return z.Div(z, den)
}

// getAmountOut prices an input-driven swap: out = in*reserveOut/(reserveIn+in),
// rounded down.
func getAmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrNoLiquidity
	}
	denom, overflow := new(uint256.Int).AddOverflow(reserveIn, amountIn)
	if overflow {
		return nil, ErrReserveOverflow
	}
	return mulDiv(amountIn, reserveOut, denom)
}

// getAmountIn prices an output-driven swap: in = reserveIn*out/(reserveOut-out),
// rounded up to disfavor the taker.
func getAmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrNoLiquidity
	}
	if !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientReserve
	}
	denom := new(uint256.Int).Sub(reserveOut, amountOut)
	return mulDivCeil(reserveIn, amountOut, denom)
}

// liquidityForFirstMint issues floor(sqrt(base*quote)) shares for the
// bootstrap deposit; the minimum-liquidity lock is applied by the caller.
func liquidityForFirstMint(baseAmount, quoteAmount *uint256.Int) *uint256.Int {
	product := new(uint256.Int).Mul(baseAmount, quoteAmount)
	return product.Sqrt(product)
}

// impliedBaseAmount solves the beta-skewed impact formula used by mark-price
// estimation: base = quote * (B*Q) / (Q ± beta*quote/100)^2. negative selects
// the shrinking-quote branch.
func impliedBaseAmount(beta uint8, quoteAmount, baseReserve, quoteReserve *uint256.Int, negative bool) (*uint256.Int, error) {
	if beta < 50 || beta > 100 {
		return nil, ErrBetaOutOfRange
	}
	if quoteAmount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if baseReserve.IsZero() || quoteReserve.IsZero() {
		return nil, ErrNoLiquidity
	}
	rvalue := new(uint256.Int).Mul(quoteAmount, uint256.NewInt(uint64(beta)))
	rvalue.Div(rvalue, uint256.NewInt(100))
	denom := new(uint256.Int)
	if negative {
		if rvalue.Gt(quoteReserve) {
			return nil, ErrInsufficientReserve
		}
		denom.Sub(quoteReserve, rvalue)
	} else {
		if _, overflow := denom.AddOverflow(quoteReserve, rvalue); overflow {
			return nil, ErrReserveOverflow
		}
	}
	if denom.IsZero() {
		return nil, ErrNoLiquidity
	}
	// denom <= 2^113 so the square fits a 256-bit word.
	denomSq := new(uint256.Int).Mul(denom, denom)
	k := new(uint256.Int).Mul(baseReserve, quoteReserve)
	return mulDiv(quoteAmount, k, denomSq)
}

// ImpliedBaseAmount is the big.Int surface of the beta-skewed impact formula,
// shared with the price oracle's mark-price accuracy estimate.
func ImpliedBaseAmount(beta uint8, quoteAmount, baseReserve, quoteReserve *big.Int, negative bool) (*big.Int, error) {
	q, err := toReserve(quoteAmount)
	if err != nil {
		return nil, err
	}
	b, err := toReserve(baseReserve)
	if err != nil {
		return nil, err
	}
	qr, err := toReserve(quoteReserve)
	if err != nil {
		return nil, err
	}
	base, err := impliedBaseAmount(beta, q, b, qr, negative)
	if err != nil {
		return nil, err
	}
	return base.ToBig(), nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
