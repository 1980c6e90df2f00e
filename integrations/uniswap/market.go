package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoTransactor is returned when growing a pool's observation buffer would
// require an on-chain transaction but none can be sent.
var ErrNoTransactor = errors.New("uniswap market: observation growth requires a transactor")

// ContractCaller is the subset of ethclient.Client the market reads through.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Transactor submits state-changing calls. It is optional; a read-only market
// cannot grow pool observation buffers.
type Transactor interface {
	SendContractCall(ctx context.Context, to common.Address, data []byte) error
}

type poolKey struct {
	tokenA common.Address
	tokenB common.Address
	fee    uint32
}

// Market adapts a Uniswap V3 deployment to the oracle's reference-market
// surface. Pool resolutions are cached; everything else is read per call.
type Market struct {
	caller     ContractCaller
	transactor Transactor
	factory    common.Address
	timeout    time.Duration

	mu    sync.RWMutex
	pools map[poolKey]common.Address
}

// NewMarket builds a market over the given caller and factory address. The
// transactor may be nil for read-only deployments.
func NewMarket(caller ContractCaller, transactor Transactor, factory common.Address) (*Market, error) {
	if caller == nil {
		return nil, fmt.Errorf("uniswap market: nil contract caller")
	}
	if _, err := FactoryABI(); err != nil {
		return nil, fmt.Errorf("uniswap market: parse factory abi: %w", err)
	}
	if _, err := PoolABI(); err != nil {
		return nil, fmt.Errorf("uniswap market: parse pool abi: %w", err)
	}
	return &Market{
		caller:     caller,
		transactor: transactor,
		factory:    factory,
		timeout:    10 * time.Second,
		pools:      make(map[poolKey]common.Address),
	}, nil
}

// SetCallTimeout overrides the per-call deadline.
func (m *Market) SetCallTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.timeout = timeout
	}
}

// PoolFor resolves the market pool for a pair at the given fee tier. A zero
// factory answer means the tier has no pool.
func (m *Market) PoolFor(baseToken, quoteToken common.Address, fee uint32) (common.Address, bool) {
	key := poolKey{tokenA: baseToken, tokenB: quoteToken, fee: fee}
	m.mu.RLock()
	pool, ok := m.pools[key]
	m.mu.RUnlock()
	if ok {
		return pool, pool != (common.Address{})
	}

	parsed, _ := FactoryABI()
	values, err := m.call(m.factory, parsed.Pack, parsed.Unpack, "getPool", baseToken, quoteToken, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, false
	}
	pool, ok = values[0].(common.Address)
	if !ok {
		return common.Address{}, false
	}

	m.mu.Lock()
	m.pools[key] = pool
	m.mu.Unlock()
	return pool, pool != (common.Address{})
}

// Liquidity reports the pool's current in-range liquidity.
func (m *Market) Liquidity(pool common.Address) (*big.Int, error) {
	parsed, _ := PoolABI()
	values, err := m.call(pool, parsed.Pack, parsed.Unpack, "liquidity")
	if err != nil {
		return nil, err
	}
	liquidity, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("uniswap market: unexpected liquidity type %T", values[0])
	}
	return liquidity, nil
}

// ObservationCapacity reports the pool's committed observation cardinality.
// slot0's observationCardinalityNext is the value to compare growth targets
// against: a pending grow already covers the requested capacity even before
// the ring has filled in.
func (m *Market) ObservationCapacity(pool common.Address) (uint16, error) {
	parsed, _ := PoolABI()
	values, err := m.call(pool, parsed.Pack, parsed.Unpack, "slot0")
	if err != nil {
		return 0, err
	}
	if len(values) < 5 {
		return 0, fmt.Errorf("uniswap market: short slot0 response")
	}
	cardinalityNext, ok := values[4].(uint16)
	if !ok {
		return 0, fmt.Errorf("uniswap market: unexpected cardinality type %T", values[4])
	}
	return cardinalityNext, nil
}

// GrowObservationCapacity asks the pool to extend its observation buffer.
func (m *Market) GrowObservationCapacity(pool common.Address, minimum uint16) error {
	if m.transactor == nil {
		return ErrNoTransactor
	}
	parsed, _ := PoolABI()
	data, err := parsed.Pack("increaseObservationCardinalityNext", minimum)
	if err != nil {
		return fmt.Errorf("uniswap market: pack grow: %w", err)
	}
	ctx, cancel := m.callContext()
	defer cancel()
	return m.transactor.SendContractCall(ctx, pool, data)
}

// ObserveTickCumulatives returns the tick accumulator at each offset in
// secondsAgos, most recent last.
func (m *Market) ObserveTickCumulatives(pool common.Address, secondsAgos []uint32) ([]int64, error) {
	parsed, _ := PoolABI()
	values, err := m.call(pool, parsed.Pack, parsed.Unpack, "observe", secondsAgos)
	if err != nil {
		return nil, err
	}
	cumulatives, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("uniswap market: unexpected observe type %T", values[0])
	}
	out := make([]int64, len(cumulatives))
	for i, cumulative := range cumulatives {
		if !cumulative.IsInt64() {
			return nil, fmt.Errorf("uniswap market: tick cumulative overflows int64")
		}
		out[i] = cumulative.Int64()
	}
	return out, nil
}

type packFunc func(name string, args ...interface{}) ([]byte, error)
type unpackFunc func(name string, data []byte) ([]interface{}, error)

func (m *Market) call(to common.Address, pack packFunc, unpack unpackFunc, method string, args ...interface{}) ([]interface{}, error) {
	data, err := pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("uniswap market: pack %s: %w", method, err)
	}
	ctx, cancel := m.callContext()
	defer cancel()
	resp, err := m.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("uniswap market: call %s: %w", method, err)
	}
	values, err := unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("uniswap market: unpack %s: %w", method, err)
	}
	if len(values) == 0 && method != "increaseObservationCardinalityNext" {
		return nil, fmt.Errorf("uniswap market: empty %s response", method)
	}
	return values, nil
}

func (m *Market) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}
