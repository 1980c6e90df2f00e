package oracle

import (
	"bytes"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aupiff/apex-protocol/native/amm"
)

// Oracle blends an external reference market's time-weighted price with the
// tracked pools' own implied prices, deriving index price, mark price, and
// the funding premium fraction. Observation state is owned here, keyed by
// pool identity; reserve engines are only read.
type Oracle struct {
	mu           sync.RWMutex
	market       ReferenceMarket
	meta         TokenMeta
	twapInterval int64
	cardinality  uint16
	clock        func() int64

	tracked map[common.Address]*trackedPool
	pairs   map[[2]common.Address]common.Address
}

// New constructs an oracle over the given reference market and token
// metadata source.
func New(market ReferenceMarket, meta TokenMeta) (*Oracle, error) {
	if market == nil || meta == nil {
		return nil, ErrNilCollaborator
	}
	return &Oracle{
		market:       market,
		meta:         meta,
		twapInterval: defaultTwapInterval,
		cardinality:  defaultCardinality,
		clock:        func() int64 { return time.Now().Unix() },
		tracked:      make(map[common.Address]*trackedPool),
		pairs:        make(map[[2]common.Address]common.Address),
	}, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (o *Oracle) SetClock(clock func() int64) {
	if o == nil || clock == nil {
		return
	}
	o.clock = clock
}

// SetTwapInterval overrides the time-weighting window in seconds.
func (o *Oracle) SetTwapInterval(seconds int64) {
	if o == nil || seconds <= 0 {
		return
	}
	o.twapInterval = seconds
}

// SetCardinality overrides the observation cardinality applied at setup.
func (o *Oracle) SetCardinality(cardinality uint16) {
	if o == nil || cardinality == 0 || cardinality > bufferCapacity {
		return
	}
	o.cardinality = cardinality
}

// SetupTwap starts tracking a reserve engine: it selects the deepest
// reference-market pool for the pair across the probed fee tiers, asks it to
// grow its own observation capacity, and seeds slot 0 of the local ring.
// One-time per pool.
func (o *Oracle) SetupTwap(pool Amm) error {
	if pool == nil {
		return ErrNilCollaborator
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	key := pool.Address()
	if existing, ok := o.tracked[key]; ok && existing.observations[0].Initialized {
		return ErrAlreadySetup
	}

	var (
		best          common.Address
		bestLiquidity *big.Int
	)
	for _, fee := range feeTiers {
		candidate, ok := o.market.PoolFor(pool.BaseToken(), pool.QuoteToken(), fee)
		if !ok {
			continue
		}
		liquidity, err := o.market.Liquidity(candidate)
		if err != nil {
			return err
		}
		if bestLiquidity == nil || liquidity.Cmp(bestLiquidity) > 0 {
			best = candidate
			bestLiquidity = liquidity
		}
	}
	if bestLiquidity == nil {
		return ErrPoolNotFound
	}

	capacity, err := o.market.ObservationCapacity(best)
	if err != nil {
		return err
	}
	if capacity < o.cardinality {
		if err := o.market.GrowObservationCapacity(best, o.cardinality); err != nil {
			return err
		}
	}

	tick := int64(0)
	base, quote, _ := pool.Reserves()
	if base != nil && base.Sign() > 0 && quote != nil && quote.Sign() > 0 {
		if tick, err = tickFromReserves(base, quote); err != nil {
			return err
		}
	}
	tp := &trackedPool{
		amm:          pool,
		marketPool:   best,
		cardinality:  o.cardinality,
		observations: make([]Observation, o.cardinality, bufferCapacity),
	}
	tp.observations[0] = Observation{
		Timestamp:   o.clock(),
		Tick:        tick,
		Initialized: true,
	}
	o.tracked[key] = tp
	o.pairs[[2]common.Address{pool.BaseToken(), pool.QuoteToken()}] = best
	return nil
}

// UpdateAmmTwap samples the tracked pool's live reserves into its local
// observation ring. Repeated calls within one timestamp overwrite in place.
func (o *Oracle) UpdateAmmTwap(pool common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	tp, ok := o.tracked[pool]
	if !ok {
		return ErrNotTracked
	}
	base, quote, _ := tp.amm.Reserves()
	tick, err := tickFromReserves(base, quote)
	if err != nil {
		return err
	}
	tp.write(o.clock(), tick)
	return nil
}

// QuoteFromAmmTwap scales baseAmount by the pool's own time-weighted price
// over a window of up to twapInterval seconds, shrunk to the available
// observation history.
func (o *Oracle) QuoteFromAmmTwap(pool common.Address, baseAmount *big.Int) (*big.Int, error) {
	if baseAmount == nil || baseAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	tp, ok := o.tracked[pool]
	if !ok {
		return nil, ErrNotTracked
	}
	now := o.clock()
	target := now - o.twapInterval
	latest := tp.latest()
	anchor := tp.at(target)
	window := now - anchor.Timestamp
	if window > o.twapInterval {
		window = o.twapInterval
	}
	avgTick := latest.Tick
	if window > 0 {
		start := target
		if anchor.Timestamp > target {
			start = anchor.Timestamp
		}
		avgTick = floorDiv(latest.cumulativeAt(now)-anchor.cumulativeAt(start), window)
	}
	return quoteAtTick(avgTick, baseAmount)
}

// Quote converts baseAmount using the external reference market's
// time-weighted tick over twapInterval, independent of local pool activity.
func (o *Oracle) Quote(baseToken, quoteToken common.Address, baseAmount *big.Int) (*big.Int, error) {
	if baseAmount == nil || baseAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	o.mu.RLock()
	marketPool, ok := o.pairs[[2]common.Address{baseToken, quoteToken}]
	interval := o.twapInterval
	o.mu.RUnlock()
	if !ok {
		return nil, ErrPoolNotFound
	}
	cumulatives, err := o.market.ObserveTickCumulatives(marketPool, []uint32{uint32(interval), 0})
	if err != nil {
		return nil, err
	}
	if len(cumulatives) != 2 {
		return nil, ErrInvalidPrice
	}
	avgTick := floorDiv(cumulatives[1]-cumulatives[0], interval)
	// Market ticks price the address-sorted pair's token0 in token1. When the
	// base token sorts after the quote token it is the pair's token1, so the
	// tick must be inverted to stay in the base-to-quote domain.
	if sortsAfter(baseToken, quoteToken) {
		avgTick = -avgTick
	}
	return quoteAtTick(avgTick, baseAmount)
}

// sortsAfter reports whether a would be the pair's token1 under the reference
// market's address ordering.
func sortsAfter(a, b common.Address) bool {
	return bytes.Compare(a[:], b[:]) > 0
}

// GetIndexPrice returns the external market's time-weighted price of one base
// unit, decimal-normalized to 18 places.
func (o *Oracle) GetIndexPrice(pool common.Address) (*big.Int, error) {
	tp, err := o.trackedPoolFor(pool)
	if err != nil {
		return nil, err
	}
	baseDecimals, quoteDecimals, err := o.pairDecimals(tp.amm)
	if err != nil {
		return nil, err
	}
	unit := pow10(baseDecimals)
	quoted, err := o.Quote(tp.amm.BaseToken(), tp.amm.QuoteToken(), unit)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(quoted, priceScale)
	price.Quo(price, pow10(quoteDecimals))
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// GetMarkPrice derives the price purely from the tracked pool's live virtual
// reserves, on the same 18-decimal scale as the index price.
func (o *Oracle) GetMarkPrice(pool common.Address) (*big.Int, error) {
	tp, err := o.trackedPoolFor(pool)
	if err != nil {
		return nil, err
	}
	base, quote, _ := tp.amm.Reserves()
	if base == nil || quote == nil || base.Sign() <= 0 || quote.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	baseDecimals, quoteDecimals, err := o.pairDecimals(tp.amm)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(quote, pow10(baseDecimals))
	price.Mul(price, priceScale)
	price.Quo(price, new(big.Int).Mul(base, pow10(quoteDecimals)))
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// GetMarkPriceAcc estimates the liquidation-relevant mark price under a
// hypothetical beta-skewed quote-side impact of size quoteAmount.
func (o *Oracle) GetMarkPriceAcc(pool common.Address, beta uint8, quoteAmount *big.Int, negative bool) (*big.Int, error) {
	tp, err := o.trackedPoolFor(pool)
	if err != nil {
		return nil, err
	}
	base, quote, _ := tp.amm.Reserves()
	baseAmount, err := amm.ImpliedBaseAmount(beta, quoteAmount, base, quote, negative)
	if err != nil {
		return nil, err
	}
	if baseAmount.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	baseDecimals, quoteDecimals, err := o.pairDecimals(tp.amm)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(quoteAmount, pow10(baseDecimals))
	price.Mul(price, priceScale)
	price.Quo(price, new(big.Int).Mul(baseAmount, pow10(quoteDecimals)))
	return price, nil
}

// GetPremiumFraction returns (mark - index) / index / 86400 at 18 decimals:
// the per-second funding premium. Signed.
func (o *Oracle) GetPremiumFraction(pool common.Address) (*big.Int, error) {
	mark, err := o.GetMarkPrice(pool)
	if err != nil {
		return nil, err
	}
	index, err := o.GetIndexPrice(pool)
	if err != nil {
		return nil, err
	}
	if mark.Sign() <= 0 || index.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	premium := new(big.Int).Sub(mark, index)
	premium.Mul(premium, priceScale)
	premium.Quo(premium, index)
	return premium.Quo(premium, big.NewInt(premiumInterval)), nil
}

// TrackedMarketPool exposes the chosen reference pool for a tracked amm.
func (o *Oracle) TrackedMarketPool(pool common.Address) (common.Address, error) {
	tp, err := o.trackedPoolFor(pool)
	if err != nil {
		return common.Address{}, err
	}
	return tp.marketPool, nil
}

func (o *Oracle) trackedPoolFor(pool common.Address) (*trackedPool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tp, ok := o.tracked[pool]
	if !ok {
		return nil, ErrNotTracked
	}
	return tp, nil
}

func (o *Oracle) pairDecimals(pool Amm) (uint8, uint8, error) {
	baseDecimals, err := o.meta.Decimals(pool.BaseToken())
	if err != nil {
		return 0, 0, err
	}
	quoteDecimals, err := o.meta.Decimals(pool.QuoteToken())
	if err != nil {
		return 0, 0, err
	}
	return baseDecimals, quoteDecimals, nil
}
