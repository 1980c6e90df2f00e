package amm

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/aupiff/apex-protocol/core/events"
)

// Engine is the reserve engine for one tradable pair: virtual base/quote
// reserves used purely for price discovery, a liquidity-share ledger, and a
// cumulative-price TWAP accumulator. The hosting environment serializes calls;
// the engine itself only rejects reentrant entry during external calls.
type Engine struct {
	address common.Address
	factory common.Address

	entered atomic.Bool

	initialized bool
	baseToken   common.Address
	quoteToken  common.Address
	margin      common.Address
	config      ConfigModule
	oracle      PriceSource
	vault       Vault

	pool   ReservePool
	ledger shareLedger

	emitter events.Emitter
	clock   func() int64
}

// NewEngine constructs an engine with the given identity, created by the
// factory identity that is later allowed to call Initialize.
func NewEngine(address, factory common.Address) *Engine {
	return &Engine{
		address: address,
		factory: factory,
		pool:    newReservePool(),
		ledger:  newShareLedger(),
		emitter: events.NoopEmitter{},
		clock:   func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() int64) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetEmitter wires the engine to a downstream event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// Initialize wires the immutable pair references. One-time, factory-only.
func (e *Engine) Initialize(caller, baseToken, quoteToken common.Address, config ConfigModule, vault Vault, margin common.Address) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if caller != e.factory {
		return ErrNotFactory
	}
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if baseToken == (common.Address{}) || quoteToken == (common.Address{}) || baseToken == quoteToken {
		return ErrInvalidToken
	}
	if config == nil || vault == nil {
		return ErrNilCollaborator
	}
	oracle := config.PriceOracle()
	if oracle == nil {
		return ErrNilCollaborator
	}
	e.baseToken = baseToken
	e.quoteToken = quoteToken
	e.config = config
	e.oracle = oracle
	e.vault = vault
	e.margin = margin
	e.initialized = true
	return nil
}

// Address returns the engine's own identity, which also holds shares queued
// for burning.
func (e *Engine) Address() common.Address { return e.address }

// BaseToken returns the base side of the pair.
func (e *Engine) BaseToken() common.Address { return e.baseToken }

// QuoteToken returns the quote side of the pair.
func (e *Engine) QuoteToken() common.Address { return e.quoteToken }

// Reserves returns the live virtual reserves and the last accumulator update.
func (e *Engine) Reserves() (*big.Int, *big.Int, int64) {
	return e.pool.baseReserve.ToBig(), e.pool.quoteReserve.ToBig(), e.pool.lastUpdateTime
}

// PriceCumulatives returns both UQ112x112 cumulative-price accumulators.
func (e *Engine) PriceCumulatives() (*big.Int, *big.Int, int64) {
	return e.pool.cumulativePrice0.ToBig(), e.pool.cumulativePrice1.ToBig(), e.pool.lastUpdateTime
}

// TotalShares returns the total issued liquidity, locked minimum included.
func (e *Engine) TotalShares() *big.Int { return new(big.Int).Set(e.ledger.total) }

// BalanceOf returns the share balance of a holder.
func (e *Engine) BalanceOf(holder common.Address) *big.Int { return e.ledger.balanceOf(holder) }

// TransferShares moves liquidity shares between holders; transferring to the
// engine's own address stages them for Burn.
func (e *Engine) TransferShares(from, to common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if !e.ledger.transfer(from, to, amount) {
		return ErrInsufficientShares
	}
	return nil
}

// Mint issues liquidity for a base deposit the caller has already transferred
// in. The matching quote amount comes from the oracle on the bootstrap mint
// and from the live reserve ratio afterwards; the minimum-of-two-ratios rule
// protects existing holders from unbalanced deposits.
func (e *Engine) Mint(caller, to common.Address, baseAmount *big.Int) (*big.Int, *big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if !e.initialized {
		return nil, nil, ErrNotInitialized
	}
	baseIn, err := toReserve(baseAmount)
	if err != nil {
		return nil, nil, err
	}
	if baseIn.IsZero() {
		return nil, nil, ErrInvalidAmount
	}

	var (
		quoteIn     *uint256.Int
		liquidity   *big.Int
		lockMinimum bool
	)
	if e.ledger.total.Sign() == 0 {
		quoted, err := e.oracle.Quote(e.baseToken, e.quoteToken, baseAmount)
		if err != nil {
			return nil, nil, err
		}
		if quoteIn, err = toReserve(quoted); err != nil {
			return nil, nil, err
		}
		liquidity = liquidityForFirstMint(baseIn, quoteIn).ToBig()
		liquidity.Sub(liquidity, big.NewInt(MinimumLiquidity))
		if liquidity.Sign() <= 0 {
			return nil, nil, ErrInsufficientLiquidityMinted
		}
		lockMinimum = true
	} else {
		if quoteIn, err = mulDiv(baseIn, e.pool.quoteReserve, e.pool.baseReserve); err != nil {
			return nil, nil, err
		}
		total := e.ledger.total
		byBase := new(big.Int).Mul(baseAmount, total)
		byBase.Quo(byBase, e.pool.baseReserve.ToBig())
		byQuote := new(big.Int).Mul(quoteIn.ToBig(), total)
		byQuote.Quo(byQuote, e.pool.quoteReserve.ToBig())
		liquidity = new(big.Int).Set(minBig(byBase, byQuote))
		if liquidity.Sign() <= 0 {
			return nil, nil, ErrInsufficientLiquidityMinted
		}
	}

	newBase, overflow := new(uint256.Int).AddOverflow(e.pool.baseReserve, baseIn)
	if overflow {
		return nil, nil, ErrReserveOverflow
	}
	newQuote, overflow := new(uint256.Int).AddOverflow(e.pool.quoteReserve, quoteIn)
	if overflow {
		return nil, nil, ErrReserveOverflow
	}
	if err := checkReserve(newBase); err != nil {
		return nil, nil, err
	}
	if err := checkReserve(newQuote); err != nil {
		return nil, nil, err
	}

	// All state checks passed; the deposit call is the only remaining
	// failure point, so an error here leaves the engine untouched.
	if err := e.vault.Deposit(caller, baseAmount); err != nil {
		return nil, nil, err
	}

	e.applyReserves(newBase, newQuote)
	if lockMinimum {
		e.ledger.mint(BurnAddress, big.NewInt(MinimumLiquidity))
	}
	e.ledger.mint(to, liquidity)
	e.emitter.Emit(events.AmmMint{
		Caller:      caller,
		To:          to,
		BaseAmount:  new(big.Int).Set(baseAmount),
		QuoteAmount: quoteIn.ToBig(),
		Liquidity:   new(big.Int).Set(liquidity),
	})
	return quoteIn.ToBig(), liquidity, nil
}

// Burn redeems the shares previously transferred to the engine's own address
// for pro-rata amounts of both reserves.
func (e *Engine) Burn(caller, to common.Address) (*big.Int, *big.Int, *big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, nil, nil, err
	}
	defer e.exit()
	if !e.initialized {
		return nil, nil, nil, ErrNotInitialized
	}
	liquidity := e.ledger.balanceOf(e.address)
	if liquidity.Sign() == 0 {
		return nil, nil, nil, ErrInsufficientLiquidityBurned
	}
	total := e.ledger.total
	baseOut := new(big.Int).Mul(liquidity, e.pool.baseReserve.ToBig())
	baseOut.Quo(baseOut, total)
	quoteOut := new(big.Int).Mul(liquidity, e.pool.quoteReserve.ToBig())
	quoteOut.Quo(quoteOut, total)
	if baseOut.Sign() == 0 || quoteOut.Sign() == 0 {
		return nil, nil, nil, ErrInsufficientLiquidityBurned
	}
	baseDelta, _ := uint256.FromBig(baseOut)
	quoteDelta, _ := uint256.FromBig(quoteOut)
	newBase := new(uint256.Int).Sub(e.pool.baseReserve, baseDelta)
	newQuote := new(uint256.Int).Sub(e.pool.quoteReserve, quoteDelta)

	if err := e.vault.Withdraw(caller, to, baseOut); err != nil {
		return nil, nil, nil, err
	}

	e.ledger.burn(e.address, liquidity)
	e.applyReserves(newBase, newQuote)
	e.emitter.Emit(events.AmmBurn{
		Caller:      caller,
		To:          to,
		BaseAmount:  baseOut,
		QuoteAmount: quoteOut,
		Liquidity:   liquidity,
	})
	return baseOut, quoteOut, liquidity, nil
}

// Swap executes a fee-less constant-product trade. Exactly one of the two
// amounts drives the computation; the other leg is derived from the invariant.
// Margin-module only.
func (e *Engine) Swap(caller, inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*big.Int, *big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if !e.initialized {
		return nil, nil, ErrNotInitialized
	}
	if caller != e.margin {
		return nil, nil, ErrNotMargin
	}
	in, out, err := e.swapAmounts(inputToken, outputToken, inputAmount, outputAmount)
	if err != nil {
		return nil, nil, err
	}
	newBase, newQuote, err := e.shiftReserves(inputToken, in, out)
	if err != nil {
		return nil, nil, err
	}
	e.applyReserves(newBase, newQuote)
	e.emitter.Emit(events.AmmSwap{
		InputToken:   inputToken,
		OutputToken:  outputToken,
		InputAmount:  in.ToBig(),
		OutputAmount: out.ToBig(),
	})
	return in.ToBig(), out.ToBig(), nil
}

// ForceSwap applies the given reserve deltas with no invariant check. It is a
// trusted escape hatch for settlement transfers the margin module determines
// unilaterally; only the 112-bit reserve bound still applies.
func (e *Engine) ForceSwap(caller, inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if !e.initialized {
		return ErrNotInitialized
	}
	if caller != e.margin {
		return ErrNotMargin
	}
	if err := e.checkPair(inputToken, outputToken); err != nil {
		return err
	}
	in, err := toReserve(zeroIfNil(inputAmount))
	if err != nil {
		return err
	}
	out, err := toReserve(zeroIfNil(outputAmount))
	if err != nil {
		return err
	}
	newBase, newQuote, err := e.shiftReserves(inputToken, in, out)
	if err != nil {
		return err
	}
	e.applyReserves(newBase, newQuote)
	e.emitter.Emit(events.AmmForceSwap{
		InputToken:   inputToken,
		OutputToken:  outputToken,
		InputAmount:  in.ToBig(),
		OutputAmount: out.ToBig(),
	})
	return nil
}

// rebaseThresholdPct is the deviation band: the quote reserve is realigned
// only when the oracle-implied value diverges by more than 5%.
const rebaseThresholdPct = 5

// Rebase realigns the quote reserve toward the oracle-implied value for the
// current base reserve. Inside the band it is a silent no-op returning a zero
// delta; outside it resets the quote reserve and reports old minus new.
func (e *Engine) Rebase() (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	if e.pool.baseReserve.IsZero() || e.pool.quoteReserve.IsZero() {
		return nil, ErrNoLiquidity
	}
	quoted, err := e.oracle.Quote(e.baseToken, e.quoteToken, e.pool.baseReserve.ToBig())
	if err != nil {
		return nil, err
	}
	target, err := toReserve(quoted)
	if err != nil {
		return nil, err
	}
	if target.IsZero() {
		return nil, ErrInvalidAmount
	}
	old := e.pool.quoteReserve
	diff := new(uint256.Int)
	if target.Gt(old) {
		diff.Sub(target, old)
	} else {
		diff.Sub(old, target)
	}
	// trigger iff diff/old > 5%, i.e. diff*100 > old*5
	lhs := new(uint256.Int).Mul(diff, uint256.NewInt(100))
	rhs := new(uint256.Int).Mul(old, uint256.NewInt(rebaseThresholdPct))
	if !lhs.Gt(rhs) {
		return new(big.Int), nil
	}
	oldBig := old.ToBig()
	delta := new(big.Int).Sub(target.ToBig(), oldBig)
	e.applyReserves(e.pool.baseReserve.Clone(), target)
	e.emitter.Emit(events.AmmRebase{
		OldQuoteReserve: oldBig,
		NewQuoteReserve: target.ToBig(),
		BaseReserve:     e.pool.baseReserve.ToBig(),
	})
	return delta, nil
}

// EstimateSwap mirrors Swap's math without mutating state.
func (e *Engine) EstimateSwap(inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*big.Int, *big.Int, error) {
	if !e.initialized {
		return nil, nil, ErrNotInitialized
	}
	in, out, err := e.swapAmounts(inputToken, outputToken, inputAmount, outputAmount)
	if err != nil {
		return nil, nil, err
	}
	return in.ToBig(), out.ToBig(), nil
}

// EstimateSwapWithMarkPrice previews the base amount implied by a quote-side
// trade under the configured beta skew, modelling the hypothetical post-trade
// mark price.
func (e *Engine) EstimateSwapWithMarkPrice(inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*big.Int, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	beta, err := e.config.Beta()
	if err != nil {
		return nil, err
	}
	if beta < 50 || beta > 100 {
		return nil, ErrBetaOutOfRange
	}
	var (
		quoteAmount *big.Int
		negative    bool
	)
	switch {
	case inputToken == e.quoteToken && inputAmount != nil && inputAmount.Sign() > 0:
		quoteAmount = inputAmount
		negative = false
	case outputToken == e.quoteToken && outputAmount != nil && outputAmount.Sign() > 0:
		quoteAmount = outputAmount
		negative = true
	default:
		return nil, ErrInvalidToken
	}
	q, err := toReserve(quoteAmount)
	if err != nil {
		return nil, err
	}
	base, err := impliedBaseAmount(beta, q, e.pool.baseReserve, e.pool.quoteReserve, negative)
	if err != nil {
		return nil, err
	}
	return base.ToBig(), nil
}

func (e *Engine) enter() error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) exit() { e.entered.Store(false) }

func (e *Engine) checkPair(inputToken, outputToken common.Address) error {
	if inputToken == outputToken {
		return ErrInvalidToken
	}
	for _, token := range []common.Address{inputToken, outputToken} {
		if token != e.baseToken && token != e.quoteToken {
			return ErrInvalidToken
		}
	}
	return nil
}

// swapAmounts resolves the driven and derived legs of a swap without touching
// state; Swap and EstimateSwap share it so previews match executions exactly.
func (e *Engine) swapAmounts(inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*uint256.Int, *uint256.Int, error) {
	if err := e.checkPair(inputToken, outputToken); err != nil {
		return nil, nil, err
	}
	if (inputAmount != nil && inputAmount.Sign() < 0) || (outputAmount != nil && outputAmount.Sign() < 0) {
		return nil, nil, ErrInvalidAmount
	}
	inSet := inputAmount != nil && inputAmount.Sign() > 0
	outSet := outputAmount != nil && outputAmount.Sign() > 0
	if inSet == outSet {
		return nil, nil, ErrAmbiguousAmounts
	}
	reserveIn, reserveOut := e.pool.quoteReserve, e.pool.baseReserve
	if inputToken == e.baseToken {
		reserveIn, reserveOut = e.pool.baseReserve, e.pool.quoteReserve
	}
	if inSet {
		in, err := toReserve(inputAmount)
		if err != nil {
			return nil, nil, err
		}
		out, err := getAmountOut(in, reserveIn, reserveOut)
		if err != nil {
			return nil, nil, err
		}
		return in, out, nil
	}
	out, err := toReserve(outputAmount)
	if err != nil {
		return nil, nil, err
	}
	in, err := getAmountIn(out, reserveIn, reserveOut)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// shiftReserves applies +in on the input side and -out on the output side,
// bound-checked on both.
func (e *Engine) shiftReserves(inputToken common.Address, in, out *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	reserveIn, reserveOut := e.pool.quoteReserve, e.pool.baseReserve
	if inputToken == e.baseToken {
		reserveIn, reserveOut = e.pool.baseReserve, e.pool.quoteReserve
	}
	if out.Gt(reserveOut) {
		return nil, nil, ErrInsufficientReserve
	}
	newIn, overflow := new(uint256.Int).AddOverflow(reserveIn, in)
	if overflow {
		return nil, nil, ErrReserveOverflow
	}
	if err := checkReserve(newIn); err != nil {
		return nil, nil, err
	}
	newOut := new(uint256.Int).Sub(reserveOut, out)
	if inputToken == e.baseToken {
		return newIn, newOut, nil
	}
	return newOut, newIn, nil
}

// applyReserves folds the elapsed-time price into the cumulative accumulators
// before installing the new reserves, then emits the Sync fact.
func (e *Engine) applyReserves(newBase, newQuote *uint256.Int) {
	now := e.clock()
	elapsed := now - e.pool.lastUpdateTime
	if elapsed > 0 && !e.pool.baseReserve.IsZero() && !e.pool.quoteReserve.IsZero() {
		dt := uint256.NewInt(uint64(elapsed))
		p0 := uq112(e.pool.quoteReserve, e.pool.baseReserve)
		e.pool.cumulativePrice0.Add(e.pool.cumulativePrice0, p0.Mul(p0, dt))
		p1 := uq112(e.pool.baseReserve, e.pool.quoteReserve)
		e.pool.cumulativePrice1.Add(e.pool.cumulativePrice1, p1.Mul(p1, dt))
	}
	e.pool.baseReserve = newBase
	e.pool.quoteReserve = newQuote
	e.pool.lastUpdateTime = now
	e.emitter.Emit(events.AmmSync{
		BaseReserve:  newBase.ToBig(),
		QuoteReserve: newQuote.ToBig(),
	})
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
