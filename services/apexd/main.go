package apexd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/aupiff/apex-protocol/config"
	"github.com/aupiff/apex-protocol/gateway/middleware"
	"github.com/aupiff/apex-protocol/gateway/routes"
	"github.com/aupiff/apex-protocol/integrations/uniswap"
	"github.com/aupiff/apex-protocol/native/amm"
	"github.com/aupiff/apex-protocol/native/oracle"
	"github.com/aupiff/apex-protocol/observability"
	"github.com/aupiff/apex-protocol/observability/logging"
	"github.com/aupiff/apex-protocol/storage"
)

// tokenMeta resolves decimals from the static token table in the config file.
type tokenMeta struct {
	cfg *config.Config
}

func (m tokenMeta) Decimals(token common.Address) (uint8, error) {
	decimals, ok := m.cfg.TokenDecimals(token)
	if !ok {
		return 0, fmt.Errorf("apexd: no decimals configured for token %s", token.Hex())
	}
	return decimals, nil
}

// configModule feeds the engine its skew parameter and oracle reference.
type configModule struct {
	beta   uint8
	oracle amm.PriceSource
}

func (c configModule) Beta() (uint8, error) { return c.beta, nil }

func (c configModule) PriceOracle() amm.PriceSource { return c.oracle }

// Main runs the apexd pricing daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "apexd.toml", "path to apexd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("APEX_ENV"))
	logger := logging.Setup("apexd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}
	defer func() { _ = db.Close() }()

	journal, err := storage.NewJournal(db)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	ethClient, err := ethclient.Dial(cfg.EthRPCEndpoint)
	if err != nil {
		return fmt.Errorf("dial eth rpc: %w", err)
	}
	defer ethClient.Close()

	market, err := uniswap.NewMarket(ethClient, nil, common.HexToAddress(cfg.UniswapFactory))
	if err != nil {
		return fmt.Errorf("build reference market: %w", err)
	}

	priceOracle, err := oracle.New(market, tokenMeta{cfg: cfg})
	if err != nil {
		return fmt.Errorf("build oracle: %w", err)
	}
	priceOracle.SetTwapInterval(cfg.TwapIntervalSeconds)
	priceOracle.SetCardinality(cfg.ObservationCardinality)

	vault := newLedgerVault()
	module := configModule{beta: cfg.Beta, oracle: priceOracle}
	// the engine-creator authority is its own identity, unrelated to the
	// reference market's factory contract
	factory := common.HexToAddress(cfg.EngineFactory)

	engines := make([]*amm.Engine, 0, len(cfg.Pools))
	pools := make([]routes.Pool, 0, len(cfg.Pools))
	for _, poolCfg := range cfg.Pools {
		address := common.HexToAddress(poolCfg.Address)
		margin := common.HexToAddress(poolCfg.Margin)
		engine := amm.NewEngine(address, factory)
		engine.SetEmitter(journal)
		err := engine.Initialize(
			factory,
			common.HexToAddress(poolCfg.BaseToken),
			common.HexToAddress(poolCfg.QuoteToken),
			module,
			vault,
			margin,
		)
		if err != nil {
			return fmt.Errorf("initialize pool %s: %w", address.Hex(), err)
		}
		if err := priceOracle.SetupTwap(engine); err != nil {
			return fmt.Errorf("setup twap for pool %s: %w", address.Hex(), err)
		}
		engines = append(engines, engine)
		pools = append(pools, engine)
		logger.Info("pool online",
			"pool", address.Hex(),
			"base", poolCfg.BaseToken,
			"quote", poolCfg.QuoteToken,
		)
	}

	var limiter *middleware.RateLimiter
	if cfg.APIRequestsPerMinute > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.APIRequestsPerMinute,
			Burst:             int(cfg.APIRequestsPerMinute),
		})
	}
	handler := routes.New(routes.Config{
		Pricing:     routes.NewPricingRoutes(pools, priceOracle, journal),
		RateLimiter: limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pollTwap(stopCtx, logger, priceOracle, engines, cfg.PollIntervalSeconds)

	errs := make(chan error, 1)
	go func() {
		logger.Info("apexd listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// pollTwap drives the oracle's observation rings and refreshes price gauges
// until the context is cancelled.
func pollTwap(ctx context.Context, logger *slog.Logger, priceOracle *oracle.Oracle, engines []*amm.Engine, intervalSeconds int64) {
	limiter := rate.NewLimiter(rate.Every(time.Duration(intervalSeconds)*time.Second), 1)
	metrics := observability.Oracle()
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		for _, engine := range engines {
			pool := engine.Address()
			err := priceOracle.UpdateAmmTwap(pool)
			metrics.RecordUpdate(pool.Hex(), err)
			if err != nil {
				logger.Warn("twap update failed", "pool", pool.Hex(), "err", err)
				continue
			}
			metrics.RecordPrices(pool.Hex(),
				quietPrice(priceOracle.GetMarkPrice, pool),
				quietPrice(priceOracle.GetIndexPrice, pool),
				quietPrice(priceOracle.GetPremiumFraction, pool),
			)
		}
	}
}

// quietPrice swallows read errors so a transient oracle failure skips the
// gauge instead of killing the poll loop.
func quietPrice(read func(common.Address) (*big.Int, error), pool common.Address) *big.Int {
	value, err := read(pool)
	if err != nil {
		return nil
	}
	return value
}
