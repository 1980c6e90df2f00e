package uniswap

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// fakeCaller answers contract calls by ABI selector, packing canned results
// with the same parsed ABIs the adapter decodes with.
type fakeCaller struct {
	t               *testing.T
	pool            common.Address
	liquidity       *big.Int
	cardinality     uint16
	cardinalityNext uint16
	cumulatives     []*big.Int
	calls           int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	factory, err := FactoryABI()
	if err != nil {
		f.t.Fatalf("factory abi: %v", err)
	}
	pool, err := PoolABI()
	if err != nil {
		f.t.Fatalf("pool abi: %v", err)
	}
	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, factory.Methods["getPool"].ID):
		return factory.Methods["getPool"].Outputs.Pack(f.pool)
	case bytes.Equal(selector, pool.Methods["liquidity"].ID):
		return pool.Methods["liquidity"].Outputs.Pack(f.liquidity)
	case bytes.Equal(selector, pool.Methods["slot0"].ID):
		return pool.Methods["slot0"].Outputs.Pack(
			big.NewInt(1<<62), big.NewInt(0), uint16(0), f.cardinality, f.cardinalityNext, uint8(0), true,
		)
	case bytes.Equal(selector, pool.Methods["observe"].ID):
		seconds := make([]*big.Int, len(f.cumulatives))
		for i := range seconds {
			seconds[i] = big.NewInt(0)
		}
		return pool.Methods["observe"].Outputs.Pack(f.cumulatives, seconds)
	}
	return nil, errors.New("unexpected call")
}

type recordingTransactor struct {
	to   common.Address
	data []byte
}

func (r *recordingTransactor) SendContractCall(_ context.Context, to common.Address, data []byte) error {
	r.to = to
	r.data = data
	return nil
}

func newTestMarket(t *testing.T, caller ContractCaller, transactor Transactor) *Market {
	t.Helper()
	market, err := NewMarket(caller, transactor, common.HexToAddress("0xfac"))
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return market
}

func TestPoolForResolvesAndCaches(t *testing.T) {
	caller := &fakeCaller{t: t, pool: common.HexToAddress("0xa0a0")}
	market := newTestMarket(t, caller, nil)

	base := common.HexToAddress("0xb1")
	quote := common.HexToAddress("0xc1")
	pool, ok := market.PoolFor(base, quote, 3000)
	if !ok || pool != caller.pool {
		t.Fatalf("expected pool %s, got %s (%v)", caller.pool.Hex(), pool.Hex(), ok)
	}

	before := caller.calls
	if _, ok := market.PoolFor(base, quote, 3000); !ok {
		t.Fatalf("cached resolution failed")
	}
	if caller.calls != before {
		t.Fatalf("expected cached answer, saw %d extra calls", caller.calls-before)
	}
}

func TestPoolForZeroAddressMeansNoPool(t *testing.T) {
	caller := &fakeCaller{t: t}
	market := newTestMarket(t, caller, nil)

	if _, ok := market.PoolFor(common.HexToAddress("0xb1"), common.HexToAddress("0xc1"), 500); ok {
		t.Fatalf("zero factory answer must report no pool")
	}
}

func TestLiquidityAndCapacity(t *testing.T) {
	caller := &fakeCaller{t: t, liquidity: big.NewInt(987654321), cardinality: 80, cardinalityNext: 80}
	market := newTestMarket(t, caller, nil)
	pool := common.HexToAddress("0xa0a0")

	liquidity, err := market.Liquidity(pool)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Cmp(big.NewInt(987654321)) != 0 {
		t.Fatalf("unexpected liquidity %s", liquidity)
	}

	capacity, err := market.ObservationCapacity(pool)
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if capacity != 80 {
		t.Fatalf("expected capacity 80, got %d", capacity)
	}
}

func TestObservationCapacityCountsPendingGrowth(t *testing.T) {
	// a requested grow raises observationCardinalityNext before the ring
	// fills in; capacity must report the committed value so the growth is
	// not re-requested
	caller := &fakeCaller{t: t, cardinality: 1, cardinalityNext: 120}
	market := newTestMarket(t, caller, nil)

	capacity, err := market.ObservationCapacity(common.HexToAddress("0xa0a0"))
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if capacity != 120 {
		t.Fatalf("expected committed capacity 120, got %d", capacity)
	}
}

func TestObserveTickCumulatives(t *testing.T) {
	caller := &fakeCaller{t: t, cumulatives: []*big.Int{big.NewInt(-1800 * 76012), big.NewInt(0)}}
	market := newTestMarket(t, caller, nil)

	out, err := market.ObserveTickCumulatives(common.HexToAddress("0xa0a0"), []uint32{1800, 0})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(out) != 2 || out[0] != -1800*76012 || out[1] != 0 {
		t.Fatalf("unexpected cumulatives %v", out)
	}
}

func TestGrowObservationCapacity(t *testing.T) {
	caller := &fakeCaller{t: t}
	market := newTestMarket(t, caller, nil)
	pool := common.HexToAddress("0xa0a0")

	if err := market.GrowObservationCapacity(pool, 120); !errors.Is(err, ErrNoTransactor) {
		t.Fatalf("expected ErrNoTransactor without transactor, got %v", err)
	}

	transactor := &recordingTransactor{}
	market = newTestMarket(t, caller, transactor)
	if err := market.GrowObservationCapacity(pool, 120); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if transactor.to != pool {
		t.Fatalf("grow sent to %s, expected %s", transactor.to.Hex(), pool.Hex())
	}
	parsed, _ := PoolABI()
	if !bytes.Equal(transactor.data[:4], parsed.Methods["increaseObservationCardinalityNext"].ID) {
		t.Fatalf("grow used wrong selector")
	}
}
