package apexd

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errVaultInsufficient = errors.New("apexd: vault balance insufficient")

// ledgerVault is an in-process custody ledger. Deposits credit the payer and
// withdrawals debit it, so a pool can never pay out more than was put in.
type ledgerVault struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func newLedgerVault() *ledgerVault {
	return &ledgerVault{balances: make(map[common.Address]*big.Int)}
}

func (v *ledgerVault) Deposit(payer common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("apexd: vault deposit amount invalid")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.balances[payer]
	if !ok {
		balance = new(big.Int)
		v.balances[payer] = balance
	}
	balance.Add(balance, amount)
	return nil
}

func (v *ledgerVault) Withdraw(payer, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("apexd: vault withdraw amount invalid")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.balances[payer]
	if !ok || balance.Cmp(amount) < 0 {
		return errVaultInsufficient
	}
	balance.Sub(balance, amount)
	credited, ok := v.balances[recipient]
	if !ok {
		credited = new(big.Int)
		v.balances[recipient] = credited
	}
	credited.Add(credited, amount)
	return nil
}

func (v *ledgerVault) balanceOf(holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.balances[holder]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}
