package amm

import "errors"

var (
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("amm engine: already initialized")
	// ErrNotInitialized guards every operation that needs wired collaborators.
	ErrNotInitialized = errors.New("amm engine: not initialized")
	// ErrNotFactory rejects Initialize from anyone but the creating factory.
	ErrNotFactory = errors.New("amm engine: caller is not the factory")
	// ErrNotMargin rejects swap/forceSwap from anyone but the margin module.
	ErrNotMargin = errors.New("amm engine: caller is not the margin module")
	// ErrInvalidToken is returned when a token is not part of the pair or the
	// input and output sides name the same token.
	ErrInvalidToken = errors.New("amm engine: token not part of this pair")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amm engine: amount must be positive")
	// ErrAmbiguousAmounts requires exactly one of the input/output amounts to
	// drive a swap.
	ErrAmbiguousAmounts = errors.New("amm engine: exactly one of input and output amount must be set")
	// ErrInsufficientLiquidityMinted is returned when a deposit would issue
	// zero shares.
	ErrInsufficientLiquidityMinted = errors.New("amm engine: insufficient liquidity minted")
	// ErrInsufficientLiquidityBurned is returned when redeemed shares round to
	// a zero amount on either side.
	ErrInsufficientLiquidityBurned = errors.New("amm engine: insufficient liquidity burned")
	// ErrInsufficientReserve is returned when a swap asks for more output than
	// the pool holds.
	ErrInsufficientReserve = errors.New("amm engine: insufficient reserve for requested output")
	// ErrReserveOverflow is fatal: a reserve or intermediate result exceeded
	// the 112-bit storage bound.
	ErrReserveOverflow = errors.New("amm engine: reserve exceeds 112-bit bound")
	// ErrReentrantCall rejects nested entry into a mutating operation.
	ErrReentrantCall = errors.New("amm engine: reentrant call")
	// ErrBetaOutOfRange is returned when the configured skew parameter leaves
	// the [50,100] window.
	ErrBetaOutOfRange = errors.New("amm engine: beta outside [50,100]")
	// ErrNoLiquidity is returned when pricing math needs non-zero reserves.
	ErrNoLiquidity = errors.New("amm engine: no liquidity in pool")
	// ErrInsufficientShares is returned when a share transfer exceeds the
	// holder's balance.
	ErrInsufficientShares = errors.New("amm engine: insufficient share balance")
	// ErrNilCollaborator rejects initialization with missing collaborators.
	ErrNilCollaborator = errors.New("amm engine: nil collaborator")
)
