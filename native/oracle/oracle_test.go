package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ammAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	baseToken  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	quoteToken = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolLow    = common.HexToAddress("0x0000000000000000000000000000000000000500")
	poolMid    = common.HexToAddress("0x0000000000000000000000000000000000003000")
	poolHigh   = common.HexToAddress("0x0000000000000000000000000000000000010000")
)

type stubAmm struct {
	addr         common.Address
	base, quote  common.Address
	baseReserve  *big.Int
	quoteReserve *big.Int
}

func (a *stubAmm) Address() common.Address    { return a.addr }
func (a *stubAmm) BaseToken() common.Address  { return a.base }
func (a *stubAmm) QuoteToken() common.Address { return a.quote }
func (a *stubAmm) Reserves() (*big.Int, *big.Int, int64) {
	return new(big.Int).Set(a.baseReserve), new(big.Int).Set(a.quoteReserve), 0
}

type stubMarket struct {
	pools     map[uint32]common.Address
	liquidity map[common.Address]*big.Int
	capacity  map[common.Address]uint16
	grown     map[common.Address]uint16
	avgTick   int64
}

func newStubMarket() *stubMarket {
	return &stubMarket{
		pools:     make(map[uint32]common.Address),
		liquidity: make(map[common.Address]*big.Int),
		capacity:  make(map[common.Address]uint16),
		grown:     make(map[common.Address]uint16),
	}
}

func (m *stubMarket) PoolFor(base, quote common.Address, fee uint32) (common.Address, bool) {
	pool, ok := m.pools[fee]
	return pool, ok
}

func (m *stubMarket) Liquidity(pool common.Address) (*big.Int, error) {
	if liq, ok := m.liquidity[pool]; ok {
		return new(big.Int).Set(liq), nil
	}
	return new(big.Int), nil
}

func (m *stubMarket) ObservationCapacity(pool common.Address) (uint16, error) {
	return m.capacity[pool], nil
}

func (m *stubMarket) GrowObservationCapacity(pool common.Address, minimum uint16) error {
	m.grown[pool] = minimum
	return nil
}

func (m *stubMarket) ObserveTickCumulatives(pool common.Address, secondsAgos []uint32) ([]int64, error) {
	out := make([]int64, len(secondsAgos))
	for i, ago := range secondsAgos {
		// constant avgTick: cumulative grows linearly with time
		out[i] = -int64(ago) * m.avgTick
	}
	return out, nil
}

type stubMeta map[common.Address]uint8

func (m stubMeta) Decimals(token common.Address) (uint8, error) {
	dec, ok := m[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return dec, nil
}

type oracleRig struct {
	oracle *Oracle
	market *stubMarket
	amm    *stubAmm
	now    int64
}

func newOracleRig(t *testing.T) *oracleRig {
	t.Helper()
	rig := &oracleRig{
		market: newStubMarket(),
		amm: &stubAmm{
			addr:         ammAddr,
			base:         baseToken,
			quote:        quoteToken,
			baseReserve:  big.NewInt(1000),
			quoteReserve: big.NewInt(2_000_000),
		},
		now: 1_700_000_000,
	}
	rig.market.pools[3000] = poolMid
	rig.market.liquidity[poolMid] = big.NewInt(5_000_000)
	meta := stubMeta{baseToken: 6, quoteToken: 6}
	o, err := New(rig.market, meta)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	o.SetClock(func() int64 { return rig.now })
	rig.oracle = o
	return rig
}

func (rig *oracleRig) setup(t *testing.T) {
	t.Helper()
	if err := rig.oracle.SetupTwap(rig.amm); err != nil {
		t.Fatalf("setup twap: %v", err)
	}
}

func TestSetupTwapSelectsDeepestTier(t *testing.T) {
	rig := newOracleRig(t)
	rig.market.pools[500] = poolLow
	rig.market.pools[10000] = poolHigh
	rig.market.liquidity[poolLow] = big.NewInt(9_000_000)
	// ties broken by probe order: 10000-tier matching 500-tier must lose
	rig.market.liquidity[poolHigh] = big.NewInt(9_000_000)

	rig.setup(t)
	chosen, err := rig.oracle.TrackedMarketPool(ammAddr)
	if err != nil {
		t.Fatalf("tracked market pool: %v", err)
	}
	if chosen != poolLow {
		t.Fatalf("expected 500-tier pool to win the tie, got %s", chosen)
	}
}

func TestSetupTwapGrowsObservationCapacity(t *testing.T) {
	rig := newOracleRig(t)
	rig.market.capacity[poolMid] = 10
	rig.setup(t)
	if got := rig.market.grown[poolMid]; got != defaultCardinality {
		t.Fatalf("expected growth request to %d, got %d", defaultCardinality, got)
	}

	rig2 := newOracleRig(t)
	rig2.market.capacity[poolMid] = 500
	rig2.setup(t)
	if _, ok := rig2.market.grown[poolMid]; ok {
		t.Fatalf("expected no growth request when capacity suffices")
	}
}

func TestSetupTwapErrors(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)
	if err := rig.oracle.SetupTwap(rig.amm); !errors.Is(err, ErrAlreadySetup) {
		t.Fatalf("expected ErrAlreadySetup, got %v", err)
	}

	rig2 := newOracleRig(t)
	delete(rig2.market.pools, 3000)
	if err := rig2.oracle.SetupTwap(rig2.amm); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestUpdateAmmTwapIdempotentPerTimestamp(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)

	rig.now += 30
	if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
		t.Fatalf("update: %v", err)
	}
	tp := rig.oracle.tracked[ammAddr]
	if tp.index != 1 {
		t.Fatalf("expected write index 1, got %d", tp.index)
	}
	// same timestamp: overwrite, no advance
	rig.amm.quoteReserve = big.NewInt(2_100_000)
	if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
		t.Fatalf("update same ts: %v", err)
	}
	if tp.index != 1 {
		t.Fatalf("expected index to stay at 1, got %d", tp.index)
	}
	wantTick, err := tickFromReserves(big.NewInt(1000), big.NewInt(2_100_000))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tp.latest().Tick != wantTick {
		t.Fatalf("expected overwritten tick %d, got %d", wantTick, tp.latest().Tick)
	}

	if err := rig.oracle.UpdateAmmTwap(common.Address{}); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
}

func TestUpdateAmmTwapWrapsAtCardinality(t *testing.T) {
	rig := newOracleRig(t)
	rig.oracle.SetCardinality(4)
	rig.setup(t)

	for i := 0; i < 6; i++ {
		rig.now += 10
		if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	tp := rig.oracle.tracked[ammAddr]
	if tp.cardinality != 4 {
		t.Fatalf("expected cardinality 4, got %d", tp.cardinality)
	}
	// 6 writes after slot 0: index = 6 mod 4
	if tp.index != 2 {
		t.Fatalf("expected wrapped index 2, got %d", tp.index)
	}
	for i, obs := range tp.observations {
		if !obs.Initialized {
			t.Fatalf("slot %d should be initialized after wrap", i)
		}
	}
}

func TestQuoteFromAmmTwapStablePrice(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)

	for i := 0; i < 10; i++ {
		rig.now += 300
		if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	out, err := rig.oracle.QuoteFromAmmTwap(ammAddr, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote from amm twap: %v", err)
	}
	// flat price 2000 with tick-granularity rounding
	if out.Cmp(big.NewInt(1_998_000)) < 0 || out.Cmp(big.NewInt(2_001_000)) > 0 {
		t.Fatalf("expected ~2000000, got %s", out)
	}
}

func TestQuoteFromAmmTwapShrinksWindow(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)

	// only 60 seconds of history, far less than the 1800s window
	rig.now += 30
	if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
		t.Fatalf("update: %v", err)
	}
	rig.amm.quoteReserve = big.NewInt(8_000_000) // price jumps 2000 -> 8000
	rig.now += 30
	if err := rig.oracle.UpdateAmmTwap(ammAddr); err != nil {
		t.Fatalf("update: %v", err)
	}
	out, err := rig.oracle.QuoteFromAmmTwap(ammAddr, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// the shrunk window averages the old and new price instead of diluting
	// the jump across the full 1800s
	if out.Cmp(big.NewInt(3_000_000)) < 0 || out.Cmp(big.NewInt(6_000_000)) > 0 {
		t.Fatalf("expected average between 2000 and 8000 per base, got %s", out)
	}

	if _, err := rig.oracle.QuoteFromAmmTwap(ammAddr, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestQuoteUsesExternalMarket(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)
	rig.market.avgTick = 0 // price 1

	out, err := rig.oracle.Quote(baseToken, quoteToken, big.NewInt(777))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if out.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("tick 0 quote must be identity, got %s", out)
	}

	if _, err := rig.oracle.Quote(quoteToken, baseToken, big.NewInt(1)); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound for unknown pair, got %v", err)
	}
}

func TestQuoteInvertsTickForReversedPairOrder(t *testing.T) {
	rig := newOracleRig(t)
	// make the base token the address-sorted pair's token1
	hi, lo := quoteToken, baseToken
	rig.amm.base, rig.amm.quote = hi, lo
	rig.setup(t)

	// the market tick prices token0 (here the quote side) in token1: with the
	// base worth 2000 quote, one quote unit is 1/2000 base
	tick, err := tickFromReserves(big.NewInt(2_000_000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	rig.market.avgTick = tick

	out, err := rig.oracle.Quote(hi, lo, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// without the inversion this collapses toward zero (1000/2000)
	if out.Cmp(big.NewInt(1_998_000)) < 0 || out.Cmp(big.NewInt(2_001_000)) > 0 {
		t.Fatalf("expected ~2000000 for reversed pair, got %s", out)
	}

	index, err := rig.oracle.GetIndexPrice(ammAddr)
	if err != nil {
		t.Fatalf("index price: %v", err)
	}
	low := new(big.Int).Mul(big.NewInt(1998), priceScale)
	high := new(big.Int).Mul(big.NewInt(2001), priceScale)
	if index.Cmp(low) < 0 || index.Cmp(high) > 0 {
		t.Fatalf("expected ~2000e18 index for reversed pair, got %s", index)
	}
}

func TestGetIndexPriceNormalizesDecimals(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)
	rig.market.avgTick = 0

	index, err := rig.oracle.GetIndexPrice(ammAddr)
	if err != nil {
		t.Fatalf("index price: %v", err)
	}
	// price 1 with equal decimals -> exactly 1e18
	if index.Cmp(priceScale) != 0 {
		t.Fatalf("expected 1e18, got %s", index)
	}
}

func TestGetMarkPrice(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)

	mark, err := rig.oracle.GetMarkPrice(ammAddr)
	if err != nil {
		t.Fatalf("mark price: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2000), priceScale)
	if mark.Cmp(want) != 0 {
		t.Fatalf("expected 2000e18, got %s", mark)
	}

	rig.amm.quoteReserve = big.NewInt(0)
	if _, err := rig.oracle.GetMarkPrice(ammAddr); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for empty reserve, got %v", err)
	}
}

func TestGetMarkPriceAccScenario(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)

	// implied base = 10000 * 1000*2000000 / 2010000^2 = 4
	price, err := rig.oracle.GetMarkPriceAcc(ammAddr, 100, big.NewInt(10_000), false)
	if err != nil {
		t.Fatalf("mark price acc: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(10_000), priceScale)
	want.Quo(want, big.NewInt(4))
	if price.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, price)
	}
}

func TestGetPremiumFraction(t *testing.T) {
	rig := newOracleRig(t)
	rig.setup(t)
	rig.market.avgTick = 0 // index exactly 1e18, mark 2000e18

	premium, err := rig.oracle.GetPremiumFraction(ammAddr)
	if err != nil {
		t.Fatalf("premium fraction: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(1999), priceScale)
	want.Quo(want, big.NewInt(premiumInterval))
	if premium.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, premium)
	}

	// negative premium when the mark trails the index
	rig.amm.baseReserve = big.NewInt(2_000_000)
	rig.amm.quoteReserve = big.NewInt(1_000_000)
	premium, err = rig.oracle.GetPremiumFraction(ammAddr)
	if err != nil {
		t.Fatalf("premium fraction: %v", err)
	}
	if premium.Sign() >= 0 {
		t.Fatalf("expected negative premium, got %s", premium)
	}
}
