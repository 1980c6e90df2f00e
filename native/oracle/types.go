package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// bufferCapacity is the arena size backing every observation ring. Slots
	// beyond the configured cardinality stay unused; the arena is allocated
	// once at setup and never reallocated.
	bufferCapacity = 65535
	// defaultCardinality bounds the write index until a larger value is
	// configured at setup time.
	defaultCardinality = 120
	// defaultTwapInterval is the time-weighting window in seconds.
	defaultTwapInterval = 1800
	// premiumInterval normalizes the premium fraction to a per-second rate.
	premiumInterval = 86400
)

// feeTiers are the reference-market tiers probed at setup, in probe order.
// Ties are broken by first-seen order via a strictly-greater comparison.
var feeTiers = []uint32{500, 3000, 10000}

// Observation is one slot in a tracked pool's circular buffer.
type Observation struct {
	Timestamp      int64
	Tick           int64
	TickCumulative int64
	Initialized    bool
}

// Amm is the read-only surface the oracle needs from a reserve engine.
type Amm interface {
	Address() common.Address
	BaseToken() common.Address
	QuoteToken() common.Address
	Reserves() (base, quote *big.Int, lastUpdate int64)
}

// ReferenceMarket is the narrow interface onto the external market supplying
// liquidity-weighted spot ticks.
type ReferenceMarket interface {
	// PoolFor resolves the market pool for a pair at the given fee tier.
	PoolFor(baseToken, quoteToken common.Address, fee uint32) (common.Address, bool)
	// Liquidity reports the pool's current in-range liquidity.
	Liquidity(pool common.Address) (*big.Int, error)
	// ObservationCapacity reports the pool's own observation cardinality.
	ObservationCapacity(pool common.Address) (uint16, error)
	// GrowObservationCapacity asks the pool to extend its observation buffer.
	GrowObservationCapacity(pool common.Address, minimum uint16) error
	// ObserveTickCumulatives returns the tick accumulator at each offset in
	// secondsAgos, most recent last. Ticks price the address-sorted pair's
	// token0 in units of token1, regardless of the caller's base/quote roles.
	ObserveTickCumulatives(pool common.Address, secondsAgos []uint32) ([]int64, error)
}

// TokenMeta resolves token decimal precision for price normalization.
type TokenMeta interface {
	Decimals(token common.Address) (uint8, error)
}

// trackedPool is the per-pool oracle state: the chosen reference pool
// (immutable after setup), the local observation ring, and its write cursor.
type trackedPool struct {
	amm          Amm
	marketPool   common.Address
	index        uint16
	cardinality  uint16
	observations []Observation
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

var priceScale = pow10(18)
