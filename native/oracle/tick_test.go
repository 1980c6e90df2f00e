package oracle

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestSqrtRatioAtTickAnchors(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	got, err := sqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("tick 0: %v", err)
	}
	if !got.Eq(q96) {
		t.Fatalf("tick 0 must be 2^96, got %s", got)
	}

	pos, err := sqrtRatioAtTick(1)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if !pos.Gt(q96) {
		t.Fatalf("tick 1 ratio must exceed 2^96")
	}
	neg, err := sqrtRatioAtTick(-1)
	if err != nil {
		t.Fatalf("tick -1: %v", err)
	}
	if !neg.Lt(q96) {
		t.Fatalf("tick -1 ratio must be below 2^96")
	}
	// sqrt(1.0001) scaled: ratio(1)/2^96 ~ 1.00005
	product := new(uint256.Int).Mul(pos, neg)
	product.Rsh(product, 96)
	diff := new(uint256.Int)
	if product.Gt(q96) {
		diff.Sub(product, q96)
	} else {
		diff.Sub(q96, product)
	}
	if diff.Gt(uint256.NewInt(1 << 20)) {
		t.Fatalf("ratio(1)*ratio(-1) should be ~2^96, off by %s", diff)
	}

	if _, err := sqrtRatioAtTick(maxTick + 1); err != ErrTickOutOfRange {
		t.Fatalf("expected ErrTickOutOfRange, got %v", err)
	}
	if _, err := sqrtRatioAtTick(minTick - 1); err != ErrTickOutOfRange {
		t.Fatalf("expected ErrTickOutOfRange, got %v", err)
	}
}

func TestTickAtSqrtRatioRoundTrip(t *testing.T) {
	for _, tick := range []int64{minTick, -500_000, -76_013, -1, 0, 1, 100, 76_012, 500_000, maxTick - 1} {
		ratio, err := sqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("ratio at %d: %v", tick, err)
		}
		got, err := tickAtSqrtRatio(ratio)
		if err != nil {
			t.Fatalf("tick at ratio for %d: %v", tick, err)
		}
		if got != tick {
			t.Fatalf("round trip for %d returned %d", tick, got)
		}
	}
}

func TestTickFromReserves(t *testing.T) {
	// price 2000 -> tick = floor(log_1.0001(2000)) = 76012
	tick, err := tickFromReserves(big.NewInt(1000), big.NewInt(2_000_000))
	if err != nil {
		t.Fatalf("tick from reserves: %v", err)
	}
	if tick != 76_012 {
		t.Fatalf("expected tick 76012, got %d", tick)
	}
	// price 1 -> tick 0
	tick, err = tickFromReserves(big.NewInt(5000), big.NewInt(5000))
	if err != nil {
		t.Fatalf("tick from equal reserves: %v", err)
	}
	if tick != 0 {
		t.Fatalf("expected tick 0, got %d", tick)
	}
	if _, err := tickFromReserves(big.NewInt(0), big.NewInt(1)); err != ErrInvalidPrice {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestQuoteAtTick(t *testing.T) {
	out, err := quoteAtTick(0, big.NewInt(123_456))
	if err != nil {
		t.Fatalf("quote at tick 0: %v", err)
	}
	if out.Cmp(big.NewInt(123_456)) != 0 {
		t.Fatalf("tick 0 must be identity, got %s", out)
	}

	out, err = quoteAtTick(76_012, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote at tick 76012: %v", err)
	}
	// 1.0001^76012 ~ 1999.8: within a tick of price 2000
	if out.Cmp(big.NewInt(1_999_000)) < 0 || out.Cmp(big.NewInt(2_000_000)) > 0 {
		t.Fatalf("expected ~2000000, got %s", out)
	}
}

func TestFloorDiv(t *testing.T) {
	cases := []struct{ num, den, want int64 }{
		{7, 2, 3},
		{-7, 2, -4},
		{-6, 2, -3},
		{6, -2, -3},
		{-7, -2, 3},
	}
	for _, tc := range cases {
		if got := floorDiv(tc.num, tc.den); got != tc.want {
			t.Fatalf("floorDiv(%d,%d) = %d, want %d", tc.num, tc.den, got, tc.want)
		}
	}
}
