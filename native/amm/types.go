package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MinimumLiquidity is permanently locked to the burn address on the first
// mint and can never be redeemed.
const MinimumLiquidity = 1000

// BurnAddress holds the permanently locked bootstrap shares.
var BurnAddress = common.Address{}

// ReservePool carries the virtual reserves used for price discovery along
// with the cumulative-price TWAP accumulators. Reserves are accounting
// quantities only; real custody lives in the vault.
type ReservePool struct {
	baseReserve  *uint256.Int
	quoteReserve *uint256.Int
	// UQ112x112 price * seconds accumulators; additions wrap by design so
	// consumers work with deltas.
	cumulativePrice0 *uint256.Int
	cumulativePrice1 *uint256.Int
	lastUpdateTime   int64
}

func newReservePool() ReservePool {
	return ReservePool{
		baseReserve:      new(uint256.Int),
		quoteReserve:     new(uint256.Int),
		cumulativePrice0: new(uint256.Int),
		cumulativePrice1: new(uint256.Int),
	}
}

// shareLedger tracks issued liquidity shares. The sum of holder balances
// always equals the total.
type shareLedger struct {
	total    *big.Int
	balances map[common.Address]*big.Int
}

func newShareLedger() shareLedger {
	return shareLedger{
		total:    new(big.Int),
		balances: make(map[common.Address]*big.Int),
	}
}

func (l *shareLedger) balanceOf(holder common.Address) *big.Int {
	if bal, ok := l.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (l *shareLedger) mint(to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	bal, ok := l.balances[to]
	if !ok {
		bal = new(big.Int)
		l.balances[to] = bal
	}
	bal.Add(bal, amount)
	l.total.Add(l.total, amount)
}

func (l *shareLedger) burn(from common.Address, amount *big.Int) bool {
	bal, ok := l.balances[from]
	if !ok || amount == nil || amount.Sign() <= 0 || bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(l.balances, from)
	}
	l.total.Sub(l.total, amount)
	return true
}

func (l *shareLedger) transfer(from, to common.Address, amount *big.Int) bool {
	bal, ok := l.balances[from]
	if !ok || amount == nil || amount.Sign() <= 0 || bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(l.balances, from)
	}
	dst, ok := l.balances[to]
	if !ok {
		dst = new(big.Int)
		l.balances[to] = dst
	}
	dst.Add(dst, amount)
	return true
}

// Vault custodies the real assets backing the virtual reserves. The engine
// reconciles with it only through explicit deposit/withdraw calls.
type Vault interface {
	Deposit(payer common.Address, amount *big.Int) error
	Withdraw(payer, recipient common.Address, amount *big.Int) error
}

// PriceSource converts a base amount into the externally observed quote
// amount. The price oracle implements it.
type PriceSource interface {
	Quote(baseToken, quoteToken common.Address, baseAmount *big.Int) (*big.Int, error)
}

// ConfigModule supplies the skew parameter and the oracle reference.
type ConfigModule interface {
	// Beta returns the impact skew in [50,100].
	Beta() (uint8, error)
	// PriceOracle returns the oracle used for quote conversions.
	PriceOracle() PriceSource
}
