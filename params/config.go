// Package params loads node configuration from the environment, with an
// optional .env file for development.
package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full node configuration. Chain settings are optional: with
// no RPC URL the node runs with in-process dev stubs for settlement and the
// AMM oracle.
type Config struct {
	APIAddr string
	DataDir string
	LogPath string

	MatchInterval  time.Duration
	AmmMarginTicks int64
	SnapshotDepth  int

	ChainID            *big.Int
	VerifyingContract  string
	RPCURL             string
	SettlementContract string
	AmmContract        string
	OperatorKey        string

	DatabaseURL        string
	TradeBatchSize     int
	TradeFlushInterval time.Duration
}

// Load reads the environment, first merging an optional .env file. A missing
// .env is not an error.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		APIAddr:            envStr("API_ADDR", ":8080"),
		DataDir:            envStr("DATA_DIR", "./data"),
		LogPath:            envStr("LOG_PATH", ""),
		VerifyingContract:  envStr("VERIFYING_CONTRACT", ""),
		RPCURL:             envStr("RPC_URL", ""),
		SettlementContract: envStr("SETTLEMENT_CONTRACT", ""),
		AmmContract:        envStr("AMM_CONTRACT", ""),
		OperatorKey:        envStr("OPERATOR_KEY", ""),
		DatabaseURL:        envStr("DATABASE_URL", ""),
	}

	intervalMS, err := envInt("MATCH_INTERVAL_MS", 5000)
	if err != nil {
		return nil, err
	}
	if intervalMS <= 0 {
		return nil, fmt.Errorf("MATCH_INTERVAL_MS must be positive, got %d", intervalMS)
	}
	cfg.MatchInterval = time.Duration(intervalMS) * time.Millisecond

	margin, err := envInt("AMM_MARGIN_TICKS", 5)
	if err != nil {
		return nil, err
	}
	cfg.AmmMarginTicks = int64(margin)

	cfg.SnapshotDepth, err = envInt("ORDERBOOK_DEPTH", 20)
	if err != nil {
		return nil, err
	}

	chainID, err := envInt("CHAIN_ID", 1337)
	if err != nil {
		return nil, err
	}
	cfg.ChainID = big.NewInt(int64(chainID))

	cfg.TradeBatchSize, err = envInt("TRADE_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	flushMS, err := envInt("TRADE_FLUSH_INTERVAL_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.TradeFlushInterval = time.Duration(flushMS) * time.Millisecond

	if cfg.RPCURL != "" {
		if cfg.SettlementContract == "" || cfg.AmmContract == "" || cfg.OperatorKey == "" {
			return nil, fmt.Errorf("RPC_URL set but SETTLEMENT_CONTRACT, AMM_CONTRACT or OPERATOR_KEY missing")
		}
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
