package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
)

// FillResult is one applied fill plus its settlement outcome.
type FillResult struct {
	MakerOrderID string      `json:"makerOrderId"`
	TakerOrderID string      `json:"takerOrderId"`
	Price        int64       `json:"price"`
	Size         *big.Int    `json:"size"`
	Settled      bool        `json:"settled"`
	TxHash       common.Hash `json:"txHash"`
	Error        string      `json:"error,omitempty"`
}

// ExecResult is the outcome of executing one taker order.
type ExecResult struct {
	OrderID           string
	TakerStatus       book.Status
	Fills             []FillResult
	Rested            bool
	NoMatches         bool
	SettlementPending bool
	Expired           int // resting orders expired and unlinked during the pass
}

// Coordinator applies matching plans to the store and drives external
// settlement. Book fills and settlement are deliberately decoupled: fills are
// applied atomically inside the book's section, then each pair is settled
// outside it. A failed settlement is never rolled back; the local book is
// the optimistic source of truth and the failure surfaces as "matched,
// settlement pending".
type Coordinator struct {
	store   *book.Store
	settler Settler
	trades  TradeLog // optional
	log     *zap.Logger
}

func NewCoordinator(store *book.Store, settler Settler, trades TradeLog, log *zap.Logger) *Coordinator {
	return &Coordinator{store: store, settler: settler, trades: trades, log: log}
}

// pendingFill carries order clones out of the book section for settlement.
type pendingFill struct {
	maker, taker *book.Order
	size         *big.Int
	price        int64
	takerSide    book.Side
}

// ExecuteTaker registers the taker, matches it against its book, applies the
// resulting fills, rests any remainder per order type, and settles the
// matched pairs. Market orders never rest: with zero counterparties the
// result reports NoMatches so the caller can fall back to the AMM, and a
// partially filled market order's remainder converts to a resting limit at
// the last fill price.
func (c *Coordinator) ExecuteTaker(ctx context.Context, taker *book.Order, isMarket bool) (*ExecResult, error) {
	if err := c.store.Register(taker, isMarket); err != nil {
		return nil, err
	}

	res := &ExecResult{OrderID: taker.ID}
	now := c.store.Now()

	var (
		pend     []pendingFill
		applyErr error
	)
	c.store.Update(taker.MarketID, taker.OutcomeID, func(b *book.Book) {
		plan := FindMatches(taker, isMarket, b, now)
		res.Expired = expirePlan(b, plan)

		pend, applyErr = applyPlan(b, plan)
		if applyErr != nil {
			return
		}

		if taker.Remaining().Sign() > 0 {
			switch {
			case !isMarket:
				b.Insert(taker)
				res.Rested = true
			case len(plan.Fills) > 0:
				// remainder of a partially filled market order rests as a
				// limit at the last fill price
				taker.Price = b.LastPrice()
				b.Insert(taker)
				res.Rested = true
			default:
				taker.Status = book.Canceled
				res.NoMatches = true
			}
		}
		res.TakerStatus = taker.Status
	})
	if applyErr != nil {
		return nil, applyErr
	}

	res.Fills, res.SettlementPending = c.settle(ctx, pend)
	return res, nil
}

// SweepBook re-matches one book against itself, clearing any bid >= ask
// crossings left by concurrent placements, and settles what it fills. The
// second return value counts resting orders the pass expired and unlinked,
// so the caller knows the depth changed even when nothing filled.
func (c *Coordinator) SweepBook(ctx context.Context, marketID string, outcomeID int) ([]FillResult, int, bool, error) {
	now := c.store.Now()

	var (
		pend     []pendingFill
		expired  int
		applyErr error
	)
	c.store.Update(marketID, outcomeID, func(b *book.Book) {
		plan := FindCrossings(b, now)
		expired = expirePlan(b, plan)
		pend, applyErr = applyPlan(b, plan)
	})
	if applyErr != nil {
		return nil, expired, false, applyErr
	}

	fills, pending := c.settle(ctx, pend)
	return fills, expired, pending, nil
}

// applyPlan applies every fill of a plan to both sides' counters, in plan
// order, under the caller's book section. The plan was computed against the
// same locked state, so an overfill here is an engine bug and aborts.
func applyPlan(b *book.Book, plan Plan) ([]pendingFill, error) {
	pend := make([]pendingFill, 0, len(plan.Fills))
	for _, f := range plan.Fills {
		if err := b.Fill(f.maker, f.Size, f.Price); err != nil {
			return nil, fmt.Errorf("apply maker fill %s: %w", f.MakerOrderID, err)
		}
		if err := b.Fill(f.taker, f.Size, f.Price); err != nil {
			return nil, fmt.Errorf("apply taker fill %s: %w", f.TakerOrderID, err)
		}
		pend = append(pend, pendingFill{
			maker:     f.maker.Clone(),
			taker:     f.taker.Clone(),
			size:      new(big.Int).Set(f.Size),
			price:     f.Price,
			takerSide: f.taker.Side,
		})
	}
	return pend, nil
}

// expirePlan transitions resting orders the matcher found past deadline and
// reports how many were unlinked, so callers can broadcast the depth change.
func expirePlan(b *book.Book, plan Plan) int {
	n := 0
	for _, o := range plan.Expired {
		if !o.Status.Terminal() {
			o.Status = book.Expired
			b.Remove(o)
			n++
		}
	}
	return n
}

// settle drives the external settlement call for each applied fill. Failures
// are reported per fill and never undo book state.
func (c *Coordinator) settle(ctx context.Context, pend []pendingFill) ([]FillResult, bool) {
	fills := make([]FillResult, 0, len(pend))
	pending := false
	for _, p := range pend {
		fr := FillResult{
			MakerOrderID: p.maker.ID,
			TakerOrderID: p.taker.ID,
			Price:        p.price,
			Size:         p.size,
		}
		key := IdempotencyKey(p.maker.OrderHash, p.taker.OrderHash, p.size)
		txHash, err := c.settler.SettleTrade(ctx, p.maker, p.taker, p.size, p.price, key)
		if err != nil {
			pending = true
			fr.Error = err.Error()
			c.log.Warn("settlement failed, book fills stand, retry needed",
				zap.String("maker", p.maker.ID),
				zap.String("taker", p.taker.ID),
				zap.String("size", p.size.String()),
				zap.Int64("price", p.price),
				zap.String("key", key.Hex()),
				zap.Error(err))
		} else {
			fr.Settled = true
			fr.TxHash = txHash
			if c.trades != nil {
				c.trades.RecordTrade(Trade{
					MarketID:     p.maker.MarketID,
					OutcomeID:    p.maker.OutcomeID,
					MakerOrderID: p.maker.ID,
					TakerOrderID: p.taker.ID,
					Price:        p.price,
					Size:         p.size,
					TakerSide:    p.takerSide,
					TxHash:       txHash,
					ExecutedAt:   time.Now().UnixMilli(),
				})
			}
		}
		fills = append(fills, fr)
	}
	return fills, pending
}

// IdempotencyKey derives the stable settlement deduplication key for a fill:
// keccak256(makerHash || takerHash || fillSize).
func IdempotencyKey(makerHash, takerHash common.Hash, size *big.Int) common.Hash {
	return ethcrypto.Keccak256Hash(makerHash[:], takerHash[:], common.LeftPadBytes(size.Bytes(), 32))
}
