package routes

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/aupiff/apex-protocol/core/types"
	"github.com/aupiff/apex-protocol/native/amm"
	"github.com/aupiff/apex-protocol/native/oracle"
	"github.com/aupiff/apex-protocol/observability"
)

// Pool is the read-only surface the pricing API exposes per reserve pool.
type Pool interface {
	Address() common.Address
	BaseToken() common.Address
	QuoteToken() common.Address
	Reserves() (*big.Int, *big.Int, int64)
	PriceCumulatives() (*big.Int, *big.Int, int64)
	TotalShares() *big.Int
	EstimateSwap(inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*big.Int, *big.Int, error)
	EstimateSwapWithMarkPrice(inputToken, outputToken common.Address, inputAmount, outputAmount *big.Int) (*big.Int, error)
}

// PriceFeed is the oracle surface the pricing API reads through.
type PriceFeed interface {
	GetIndexPrice(pool common.Address) (*big.Int, error)
	GetMarkPrice(pool common.Address) (*big.Int, error)
	GetPremiumFraction(pool common.Address) (*big.Int, error)
}

// FactLog replays the persisted audit trail.
type FactLog interface {
	Replay(fn func(seq uint64, evt *types.Event) error) error
}

// PricingRoutes serves the read-only pricing API over a set of pools.
type PricingRoutes struct {
	pools map[common.Address]Pool
	feed  PriceFeed
	facts FactLog
}

func NewPricingRoutes(pools []Pool, feed PriceFeed, facts FactLog) *PricingRoutes {
	indexed := make(map[common.Address]Pool, len(pools))
	for _, pool := range pools {
		if pool != nil {
			indexed[pool.Address()] = pool
		}
	}
	return &PricingRoutes{pools: indexed, feed: feed, facts: facts}
}

func (pr *PricingRoutes) mount(r chi.Router) {
	r.Get("/pools", pr.listPools)
	r.Get("/pools/{pool}", pr.getPool)
	r.Get("/pools/{pool}/prices", pr.getPrices)
	r.Post("/pools/{pool}/estimate", pr.estimateSwap)
	r.Post("/pools/{pool}/estimate-mark", pr.estimateSwapMark)
	r.Get("/facts", pr.listFacts)
}

type poolResponse struct {
	Address          string `json:"address"`
	BaseToken        string `json:"baseToken"`
	QuoteToken       string `json:"quoteToken"`
	BaseReserve      string `json:"baseReserve"`
	QuoteReserve     string `json:"quoteReserve"`
	LastUpdateTime   int64  `json:"lastUpdateTime"`
	TotalShares      string `json:"totalShares"`
	CumulativePrice0 string `json:"cumulativePrice0"`
	CumulativePrice1 string `json:"cumulativePrice1"`
}

func (pr *PricingRoutes) listPools(w http.ResponseWriter, _ *http.Request) {
	out := make([]poolResponse, 0, len(pr.pools))
	for _, pool := range pr.pools {
		out = append(out, poolPayload(pool))
	}
	writeJSON(w, http.StatusOK, out)
}

func (pr *PricingRoutes) getPool(w http.ResponseWriter, r *http.Request) {
	pool, ok := pr.resolvePool(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, poolPayload(pool))
}

type pricesResponse struct {
	IndexPrice      string `json:"indexPrice"`
	MarkPrice       string `json:"markPrice"`
	PremiumFraction string `json:"premiumFraction"`
}

func (pr *PricingRoutes) getPrices(w http.ResponseWriter, r *http.Request) {
	pool, ok := pr.resolvePool(w, r)
	if !ok {
		return
	}
	if pr.feed == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("price feed unavailable"))
		return
	}
	index, err := pr.feed.GetIndexPrice(pool.Address())
	if err != nil {
		writeOracleError(w, err)
		return
	}
	mark, err := pr.feed.GetMarkPrice(pool.Address())
	if err != nil {
		writeOracleError(w, err)
		return
	}
	premium, err := pr.feed.GetPremiumFraction(pool.Address())
	if err != nil {
		writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{
		IndexPrice:      index.String(),
		MarkPrice:       mark.String(),
		PremiumFraction: premium.String(),
	})
}

type estimateRequest struct {
	InputToken   string `json:"inputToken"`
	OutputToken  string `json:"outputToken"`
	InputAmount  string `json:"inputAmount"`
	OutputAmount string `json:"outputAmount"`
}

type estimateResponse struct {
	InputAmount  string `json:"inputAmount"`
	OutputAmount string `json:"outputAmount"`
}

func (pr *PricingRoutes) estimateSwap(w http.ResponseWriter, r *http.Request) {
	pool, ok := pr.resolvePool(w, r)
	if !ok {
		return
	}
	input, output, inAmount, outAmount, err := decodeEstimate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	started := time.Now()
	in, out, err := pool.EstimateSwap(input, output, inAmount, outAmount)
	observability.Engine().Observe("estimate_swap", err, time.Since(started))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{InputAmount: in.String(), OutputAmount: out.String()})
}

func (pr *PricingRoutes) estimateSwapMark(w http.ResponseWriter, r *http.Request) {
	pool, ok := pr.resolvePool(w, r)
	if !ok {
		return
	}
	input, output, inAmount, outAmount, err := decodeEstimate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	started := time.Now()
	base, err := pool.EstimateSwapWithMarkPrice(input, output, inAmount, outAmount)
	observability.Engine().Observe("estimate_swap_mark", err, time.Since(started))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"baseAmount": base.String()})
}

type factResponse struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (pr *PricingRoutes) listFacts(w http.ResponseWriter, r *http.Request) {
	if pr.facts == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("fact log unavailable"))
		return
	}
	after := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid after cursor"))
			return
		}
		after = parsed
	}
	limit := 500
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	out := make([]factResponse, 0, 64)
	err := pr.facts.Replay(func(seq uint64, evt *types.Event) error {
		if seq < after {
			return nil
		}
		if len(out) >= limit {
			return errFactPageFull
		}
		out = append(out, factResponse{Sequence: seq, Type: evt.Type, Attributes: evt.Attributes})
		return nil
	})
	if err != nil && !errors.Is(err, errFactPageFull) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

var errFactPageFull = errors.New("fact page full")

func (pr *PricingRoutes) resolvePool(w http.ResponseWriter, r *http.Request) (Pool, bool) {
	raw := chi.URLParam(r, "pool")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.New("invalid pool address"))
		return nil, false
	}
	pool, ok := pr.pools[common.HexToAddress(raw)]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("pool not tracked"))
		return nil, false
	}
	return pool, true
}

func poolPayload(pool Pool) poolResponse {
	base, quote, last := pool.Reserves()
	cum0, cum1, _ := pool.PriceCumulatives()
	return poolResponse{
		Address:          pool.Address().Hex(),
		BaseToken:        pool.BaseToken().Hex(),
		QuoteToken:       pool.QuoteToken().Hex(),
		BaseReserve:      base.String(),
		QuoteReserve:     quote.String(),
		LastUpdateTime:   last,
		TotalShares:      pool.TotalShares().String(),
		CumulativePrice0: cum0.String(),
		CumulativePrice1: cum1.String(),
	}
}

func decodeEstimate(r *http.Request) (common.Address, common.Address, *big.Int, *big.Int, error) {
	var req estimateRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&req); err != nil {
		return common.Address{}, common.Address{}, nil, nil, errors.New("malformed request body")
	}
	if !common.IsHexAddress(req.InputToken) || !common.IsHexAddress(req.OutputToken) {
		return common.Address{}, common.Address{}, nil, nil, errors.New("invalid token address")
	}
	inAmount, err := parseAmount(req.InputAmount)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	outAmount, err := parseAmount(req.OutputAmount)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, err
	}
	return common.HexToAddress(req.InputToken), common.HexToAddress(req.OutputToken), inAmount, outAmount, nil
}

// parseAmount accepts a decimal string; empty means the side is unspecified.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, amm.ErrInvalidToken),
		errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, amm.ErrAmbiguousAmounts),
		errors.Is(err, amm.ErrBetaOutOfRange):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, amm.ErrInsufficientReserve),
		errors.Is(err, amm.ErrNoLiquidity):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeOracleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oracle.ErrPoolNotFound), errors.Is(err, oracle.ErrNotTracked):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
