// Command node runs one exchange node: REST + websocket API, matching engine,
// periodic sweeper, trade log, and the on-chain settlement and AMM clients.
// Without RPC_URL it runs in dev mode with in-process settlement stubs.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foresightex/foresight/params"
	"github.com/foresightex/foresight/pkg/api"
	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/chain"
	"github.com/foresightex/foresight/pkg/crypto"
	"github.com/foresightex/foresight/pkg/engine"
	"github.com/foresightex/foresight/pkg/history"
	"github.com/foresightex/foresight/pkg/market"
	"github.com/foresightex/foresight/pkg/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := params.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *zap.Logger
	if cfg.LogPath != "" {
		log, err = util.NewLoggerWithFile(zapcore.InfoLevel, cfg.LogPath)
	} else {
		log, err = util.NewLogger(zapcore.InfoLevel)
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := book.NewStore()
	registry := market.NewRegistry()
	if err := registerMarkets(registry, os.Getenv("MARKETS"), log); err != nil {
		return err
	}

	trades, err := history.Open(filepath.Join(cfg.DataDir, "trades"), log)
	if err != nil {
		return err
	}
	defer trades.Close()

	tradeLog := engine.TradeLog(trades)
	var pgWriter *history.PostgresWriter
	if cfg.DatabaseURL != "" {
		pgWriter, err = history.NewPostgresWriter(ctx, cfg.DatabaseURL, cfg.TradeBatchSize, cfg.TradeFlushInterval, log)
		if err != nil {
			return fmt.Errorf("connect price history database: %w", err)
		}
		pgWriter.Start(ctx)
		defer pgWriter.Stop(context.Background())
		tradeLog = multiTradeLog{trades, pgWriter}
	}

	var (
		settler engine.Settler
		oracle  engine.PriceOracle
		amm     engine.AmmExecutor
	)
	if cfg.RPCURL != "" {
		sc, err := chain.NewSettlementClient(cfg.RPCURL, common.HexToAddress(cfg.SettlementContract), cfg.OperatorKey, cfg.ChainID, log)
		if err != nil {
			return fmt.Errorf("settlement client: %w", err)
		}
		defer sc.Close()
		ac, err := chain.NewAmmClient(cfg.RPCURL, common.HexToAddress(cfg.AmmContract), cfg.OperatorKey, cfg.ChainID, log)
		if err != nil {
			return fmt.Errorf("amm client: %w", err)
		}
		defer ac.Close()
		settler, oracle, amm = sc, ac, ac
	} else {
		log.Warn("RPC_URL not set, running with dev settlement stubs")
		settler = devSettler{log: log}
		oracle = devOracle{price: book.MaxTick / 2}
		amm = devAmm{log: log}
	}

	signer := crypto.NewEIP712Signer(crypto.EIP712Domain{
		Name:              "Foresight",
		Version:           "1",
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(cfg.VerifyingContract),
	})

	coord := engine.NewCoordinator(store, settler, tradeLog, log)

	// Book changes fan out to the websocket hub and to sweep nudges. The
	// sweeper itself notifies only the hub, so its own fills do not re-nudge.
	fan := &fanout{}
	exchange := engine.NewExchange(store, registry, signer, coord, fan, log, cfg.SnapshotDepth)
	server := api.NewServer(exchange, trades, log)
	sweeper := engine.NewSweeper(store, registry, coord, oracle, amm, server, log,
		cfg.MatchInterval, cfg.AmmMarginTicks, cfg.SnapshotDepth, util.RealClock{})
	fan.targets = []engine.Notifier{server, sweeper}

	go sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.APIAddr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}
	return server.Shutdown(context.Background())
}

// registerMarkets parses MARKETS ("id:outcomes,id:outcomes") or falls back to
// a dev catalog.
func registerMarkets(r *market.Registry, catalog string, log *zap.Logger) error {
	if catalog == "" {
		for _, m := range []*market.Market{
			{ID: "btc-150k-2026", Question: "Will BTC close above $150k in 2026?", Outcomes: 2},
			{ID: "fed-cut-march", Question: "Will the Fed cut rates in March?", Outcomes: 2},
		} {
			if err := r.Register(m); err != nil {
				return err
			}
			log.Info("registered dev market", zap.String("market", m.ID), zap.Int("outcomes", m.Outcomes))
		}
		return nil
	}
	for _, entry := range strings.Split(catalog, ",") {
		id, outcomesStr, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			return fmt.Errorf("MARKETS entry %q: want id:outcomes", entry)
		}
		outcomes, err := strconv.Atoi(outcomesStr)
		if err != nil {
			return fmt.Errorf("MARKETS entry %q: %w", entry, err)
		}
		if err := r.Register(&market.Market{ID: id, Question: id, Outcomes: outcomes}); err != nil {
			return err
		}
		log.Info("registered market", zap.String("market", id), zap.Int("outcomes", outcomes))
	}
	return nil
}

// fanout delivers book-change notifications to multiple targets.
type fanout struct {
	targets []engine.Notifier
}

func (f *fanout) OrderBookChanged(marketID string, outcomeID int, snap book.Snapshot) {
	for _, t := range f.targets {
		t.OrderBookChanged(marketID, outcomeID, snap)
	}
}

// multiTradeLog records each fill in every backing log.
type multiTradeLog []engine.TradeLog

func (m multiTradeLog) RecordTrade(t engine.Trade) {
	for _, l := range m {
		l.RecordTrade(t)
	}
}

// devSettler acknowledges settlement locally. The fake tx hash is derived
// from the idempotency key so retries stay stable.
type devSettler struct {
	log *zap.Logger
}

func (d devSettler) SettleTrade(_ context.Context, maker, taker *book.Order, size *big.Int, price int64, key common.Hash) (common.Hash, error) {
	d.log.Info("dev settlement",
		zap.String("maker", maker.ID),
		zap.String("taker", taker.ID),
		zap.String("size", size.String()),
		zap.Int64("price", price))
	return ethcrypto.Keccak256Hash([]byte("dev-settle"), key[:]), nil
}

// devOracle reports a fixed mid price.
type devOracle struct {
	price int64
}

func (d devOracle) AmmPrice(context.Context, string, int) (int64, error) {
	return d.price, nil
}

// devAmm acknowledges AMM execution locally.
type devAmm struct {
	log *zap.Logger
}

func (d devAmm) ExecuteViaAmm(_ context.Context, o *book.Order) (common.Hash, error) {
	d.log.Info("dev amm execution", zap.String("order", o.ID), zap.String("size", o.Remaining().String()))
	return ethcrypto.Keccak256Hash([]byte("dev-amm"), o.OrderHash[:]), nil
}
