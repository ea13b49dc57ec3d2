package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/market"
	"github.com/foresightex/foresight/pkg/util"
)

// maxAmmFillsPerSweep caps how many starved orders one sweep routes to the
// AMM per book; the next sweep picks up the rest.
const maxAmmFillsPerSweep = 16

// Sweeper is the defensive background pass over every book. On each tick it
// re-runs the matcher to clear crossings that concurrent placements left
// behind, and routes resting orders that crossed the AMM-implied price to
// the AMM execution fallback. Placements also nudge it through a channel so
// reaction is event-driven and the fixed interval is only a fallback.
type Sweeper struct {
	store    *book.Store
	markets  *market.Registry
	coord    *Coordinator
	oracle   PriceOracle
	amm      AmmExecutor
	notifier Notifier
	log      *zap.Logger

	interval time.Duration
	margin   int64 // ticks beyond the AMM price before fallback triggers
	depth    int
	clock    util.Clock

	nudge chan book.Key
}

func NewSweeper(store *book.Store, markets *market.Registry, coord *Coordinator,
	oracle PriceOracle, amm AmmExecutor, notifier Notifier, log *zap.Logger,
	interval time.Duration, marginTicks int64, snapshotDepth int, clock util.Clock) *Sweeper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Sweeper{
		store:    store,
		markets:  markets,
		coord:    coord,
		oracle:   oracle,
		amm:      amm,
		notifier: notifier,
		log:      log,
		interval: interval,
		margin:   marginTicks,
		depth:    snapshotDepth,
		clock:    clock,
		nudge:    make(chan book.Key, 256),
	}
}

// Nudge requests an immediate sweep of one book. Non-blocking: if the queue
// is full the periodic pass will catch the book anyway.
func (s *Sweeper) Nudge(marketID string, outcomeID int) {
	select {
	case s.nudge <- book.Key{MarketID: marketID, OutcomeID: outcomeID}:
	default:
	}
}

// OrderBookChanged lets the Sweeper sit behind the Notifier port: every book
// change becomes a targeted sweep nudge.
func (s *Sweeper) OrderBookChanged(marketID string, outcomeID int, _ book.Snapshot) {
	s.Nudge(marketID, outcomeID)
}

// Run drives the sweep loop until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("periodic matcher started",
		zap.Duration("interval", s.interval),
		zap.Int64("amm_margin_ticks", s.margin))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("periodic matcher stopped")
			return
		case <-s.clock.After(s.interval):
			s.SweepAll(ctx)
		case k := <-s.nudge:
			s.sweepBook(ctx, k)
		}
	}
}

// SweepAll runs one pass over every (market, outcome) book of every active
// market. Iteration order is stable (registry is sorted); a failure in one
// book never aborts the rest of the pass.
func (s *Sweeper) SweepAll(ctx context.Context) {
	for _, m := range s.markets.ListActive() {
		for outcome := 0; outcome < m.Outcomes; outcome++ {
			s.sweepBook(ctx, book.Key{MarketID: m.ID, OutcomeID: outcome})
		}
	}
}

func (s *Sweeper) sweepBook(ctx context.Context, k book.Key) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panic, continuing with next book",
				zap.String("book", k.String()), zap.Any("panic", r))
		}
	}()

	fills, expired, pending, err := s.coord.SweepBook(ctx, k.MarketID, k.OutcomeID)
	if err != nil {
		s.log.Error("sweep failed", zap.String("book", k.String()), zap.Error(err))
		return
	}
	if len(fills) > 0 {
		s.log.Info("sweep cleared crossed orders",
			zap.String("book", k.String()),
			zap.Int("fills", len(fills)),
			zap.Bool("settlement_pending", pending))
	}
	if len(fills) > 0 || expired > 0 {
		// expiries change depth too; subscribers need the fresh snapshot
		s.notifier.OrderBookChanged(k.MarketID, k.OutcomeID, s.store.Depth(k.MarketID, k.OutcomeID, s.depth))
	}

	s.checkAmmCrossing(ctx, k)
}

// checkAmmCrossing compares the book's best prices against the AMM-implied
// price and routes orders beyond the margin to AMM execution, so a crossed
// resting order does not starve waiting for book liquidity. Local fills are
// applied before the external call, same optimistic policy as settlement:
// an AMM execution failure is logged for retry, never rolled back.
func (s *Sweeper) checkAmmCrossing(ctx context.Context, k book.Key) {
	if s.oracle == nil || s.amm == nil {
		return
	}
	ammPrice, err := s.oracle.AmmPrice(ctx, k.MarketID, k.OutcomeID)
	if err != nil {
		s.log.Warn("amm price unavailable", zap.String("book", k.String()), zap.Error(err))
		return
	}

	changed := false
	for i := 0; i < maxAmmFillsPerSweep; i++ {
		o := s.takeAmmCrossed(k, ammPrice)
		if o == nil {
			break
		}
		changed = true
		if _, err := s.amm.ExecuteViaAmm(ctx, o); err != nil {
			s.log.Warn("amm execution failed, retry needed",
				zap.String("order", o.ID),
				zap.String("book", k.String()),
				zap.Error(err))
			continue
		}
		s.log.Info("order executed via amm fallback",
			zap.String("order", o.ID),
			zap.String("book", k.String()),
			zap.Int64("order_price", o.Price),
			zap.Int64("amm_price", ammPrice))
	}
	if changed {
		s.notifier.OrderBookChanged(k.MarketID, k.OutcomeID, s.store.Depth(k.MarketID, k.OutcomeID, s.depth))
	}
}

// takeAmmCrossed removes the best order whose price crossed the AMM price
// beyond the margin, marking it filled locally. The returned clone still
// reports the pre-fill remaining size, which is the amount to execute.
func (s *Sweeper) takeAmmCrossed(k book.Key, ammPrice int64) *book.Order {
	var clone *book.Order
	s.store.Update(k.MarketID, k.OutcomeID, func(b *book.Book) {
		side := book.Side(0)
		if bid, ok := b.BestBid(); ok && bid >= ammPrice+s.margin {
			side = book.Buy
		} else if ask, ok := b.BestAsk(); ok && ask <= ammPrice-s.margin {
			side = book.Sell
		} else {
			return
		}
		b.Scan(side, func(o *book.Order) bool {
			clone = o.Clone()
			if err := b.Fill(o, o.Remaining(), o.Price); err != nil {
				s.log.Error("amm fallback fill failed", zap.String("order", o.ID), zap.Error(err))
				clone = nil
			}
			return false
		})
	})
	return clone
}
