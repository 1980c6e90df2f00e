package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aupiff/apex-protocol/core/types"
)

const (
	TypeAmmMint      = "amm.mint"
	TypeAmmBurn      = "amm.burn"
	TypeAmmSwap      = "amm.swap"
	TypeAmmForceSwap = "amm.forceswap"
	TypeAmmSync      = "amm.sync"
	TypeAmmRebase    = "amm.rebase"
)

// AmmMint records liquidity provision: the deposited amounts and the shares
// issued to the recipient.
type AmmMint struct {
	Caller      common.Address
	To          common.Address
	BaseAmount  *big.Int
	QuoteAmount *big.Int
	Liquidity   *big.Int
}

func (AmmMint) EventType() string { return TypeAmmMint }

func (e AmmMint) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmMint,
		Attributes: map[string]string{
			"caller":      e.Caller.Hex(),
			"to":          e.To.Hex(),
			"baseAmount":  formatAmount(e.BaseAmount),
			"quoteAmount": formatAmount(e.QuoteAmount),
			"liquidity":   formatAmount(e.Liquidity),
		},
	}
}

// AmmBurn records liquidity redemption and the pro-rata amounts released.
type AmmBurn struct {
	Caller      common.Address
	To          common.Address
	BaseAmount  *big.Int
	QuoteAmount *big.Int
	Liquidity   *big.Int
}

func (AmmBurn) EventType() string { return TypeAmmBurn }

func (e AmmBurn) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmBurn,
		Attributes: map[string]string{
			"caller":      e.Caller.Hex(),
			"to":          e.To.Hex(),
			"baseAmount":  formatAmount(e.BaseAmount),
			"quoteAmount": formatAmount(e.QuoteAmount),
			"liquidity":   formatAmount(e.Liquidity),
		},
	}
}

// AmmSwap records a constant-product trade driven by the margin module.
type AmmSwap struct {
	InputToken   common.Address
	OutputToken  common.Address
	InputAmount  *big.Int
	OutputAmount *big.Int
}

func (AmmSwap) EventType() string { return TypeAmmSwap }

func (e AmmSwap) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmSwap,
		Attributes: map[string]string{
			"inputToken":   e.InputToken.Hex(),
			"outputToken":  e.OutputToken.Hex(),
			"inputAmount":  formatAmount(e.InputAmount),
			"outputAmount": formatAmount(e.OutputAmount),
		},
	}
}

// AmmForceSwap records an unchecked settlement adjustment of the reserves.
type AmmForceSwap struct {
	InputToken   common.Address
	OutputToken  common.Address
	InputAmount  *big.Int
	OutputAmount *big.Int
}

func (AmmForceSwap) EventType() string { return TypeAmmForceSwap }

func (e AmmForceSwap) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmForceSwap,
		Attributes: map[string]string{
			"inputToken":   e.InputToken.Hex(),
			"outputToken":  e.OutputToken.Hex(),
			"inputAmount":  formatAmount(e.InputAmount),
			"outputAmount": formatAmount(e.OutputAmount),
		},
	}
}

// AmmSync records the reserve values after every state-mutating call.
type AmmSync struct {
	BaseReserve  *big.Int
	QuoteReserve *big.Int
}

func (AmmSync) EventType() string { return TypeAmmSync }

func (e AmmSync) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmSync,
		Attributes: map[string]string{
			"baseReserve":  formatAmount(e.BaseReserve),
			"quoteReserve": formatAmount(e.QuoteReserve),
		},
	}
}

// AmmRebase records a quote-reserve realignment toward the oracle-implied
// value, with the reserve values before and after.
type AmmRebase struct {
	OldQuoteReserve *big.Int
	NewQuoteReserve *big.Int
	BaseReserve     *big.Int
}

func (AmmRebase) EventType() string { return TypeAmmRebase }

func (e AmmRebase) Event() *types.Event {
	return &types.Event{
		Type: TypeAmmRebase,
		Attributes: map[string]string{
			"oldQuoteReserve": formatAmount(e.OldQuoteReserve),
			"newQuoteReserve": formatAmount(e.NewQuoteReserve),
			"baseReserve":     formatAmount(e.BaseReserve),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
