package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foresightex/foresight/pkg/book"
)

// Settler drives the external on-chain settlement of a matched pair. The call
// may be slow and may fail; it must be idempotent under retry, which the
// coordinator supports by passing a stable idempotency key derived from the
// two order hashes and the fill size.
type Settler interface {
	SettleTrade(ctx context.Context, maker, taker *book.Order, size *big.Int, price int64, key common.Hash) (common.Hash, error)
}

// PriceOracle reports the AMM-implied price for an outcome, in ticks.
type PriceOracle interface {
	AmmPrice(ctx context.Context, marketID string, outcomeID int) (int64, error)
}

// AmmExecutor routes an order to the external AMM execution path.
type AmmExecutor interface {
	ExecuteViaAmm(ctx context.Context, o *book.Order) (common.Hash, error)
}

// Notifier is told after every state-changing book operation so external
// transports (WebSocket fan-out, sweep nudges) can react.
type Notifier interface {
	OrderBookChanged(marketID string, outcomeID int, snap book.Snapshot)
}

// TradeLog records settled fills for history queries and persistence.
type TradeLog interface {
	RecordTrade(t Trade)
}

// Trade is one executed fill as recorded in history.
type Trade struct {
	MarketID     string      `json:"marketId"`
	OutcomeID    int         `json:"outcomeId"`
	MakerOrderID string      `json:"makerOrderId"`
	TakerOrderID string      `json:"takerOrderId"`
	Price        int64       `json:"price"`
	Size         *big.Int    `json:"size"`
	TakerSide    book.Side   `json:"takerSide"`
	TxHash       common.Hash `json:"txHash"`
	ExecutedAt   int64       `json:"executedAt"` // unix millis
}

// NopNotifier discards notifications. Useful in tests and tooling.
type NopNotifier struct{}

func (NopNotifier) OrderBookChanged(string, int, book.Snapshot) {}
