package engine

import (
	"math/big"

	"github.com/foresightex/foresight/pkg/book"
)

// Fill is one proposed match. Price is always the resting maker's price, so
// the taker gets price improvement when the book offers it.
type Fill struct {
	MakerOrderID string   `json:"makerOrderId"`
	TakerOrderID string   `json:"takerOrderId"`
	Price        int64    `json:"price"`
	Size         *big.Int `json:"size"`

	// live pointers, valid only while the book section that produced the
	// plan is still held
	maker *book.Order
	taker *book.Order
}

// Plan is the deterministic output of a matching pass. It proposes fills and
// lists resting orders found past their deadline; nothing is mutated until
// the coordinator applies it under the same book section.
type Plan struct {
	Fills   []Fill
	Expired []*book.Order
}

// FindMatches scans the side opposite the taker in price-time priority and
// greedily builds fills until the taker is exhausted or no crossable maker
// remains. Market takers have no price cap and consume depth until the book
// is empty. The function is pure: it never mutates the book or the orders.
//
// A maker owned by the taker's own address is skipped, never crossed
// (self-trade prevention).
func FindMatches(taker *book.Order, isMarket bool, b *book.Book, now int64) Plan {
	var plan Plan
	remaining := taker.Remaining()

	opposite := book.Sell
	if taker.Side == book.Sell {
		opposite = book.Buy
	}

	b.Scan(opposite, func(m *book.Order) bool {
		if remaining.Sign() == 0 {
			return false
		}
		if !isMarket && !crosses(taker.Side, taker.Price, m.Price) {
			// price-priority scan: the first non-crossing level ends it
			return false
		}
		if m.ExpiredAt(now) {
			plan.Expired = append(plan.Expired, m)
			return true
		}
		if m.Maker == taker.Maker {
			return true
		}
		step := minBig(remaining, m.Remaining())
		plan.Fills = append(plan.Fills, Fill{
			MakerOrderID: m.ID,
			TakerOrderID: taker.ID,
			Price:        m.Price,
			Size:         step,
			maker:        m,
			taker:        taker,
		})
		remaining = new(big.Int).Sub(remaining, step)
		return true
	})

	return plan
}

// FindCrossings proposes fills for a book that was left crossed (bid >= ask),
// e.g. by concurrent placements that each matched against a stale snapshot.
// The older of the two crossing orders is treated as the maker and sets the
// fill price; a same-maker pair is never crossed, the scan moves on to the
// next counterparty instead.
func FindCrossings(b *book.Book, now int64) Plan {
	var plan Plan

	type entry struct {
		o   *book.Order
		rem *big.Int
	}
	collect := func(side book.Side) []entry {
		var out []entry
		b.Scan(side, func(o *book.Order) bool {
			if o.ExpiredAt(now) {
				plan.Expired = append(plan.Expired, o)
				return true
			}
			out = append(out, entry{o: o, rem: o.Remaining()})
			return true
		})
		return out
	}

	bids := collect(book.Buy)
	asks := collect(book.Sell)

	for i := range bids {
		bid := &bids[i]
		for j := range asks {
			ask := &asks[j]
			if ask.rem.Sign() == 0 {
				continue
			}
			if bid.o.Price < ask.o.Price {
				// asks ascend; nothing deeper crosses this bid
				break
			}
			if bid.o.Maker == ask.o.Maker {
				// self-cross: look deeper for another counterparty
				continue
			}
			maker, taker := bid, ask
			if ask.o.Sequence < bid.o.Sequence {
				maker, taker = ask, bid
			}
			step := minBig(bid.rem, ask.rem)
			plan.Fills = append(plan.Fills, Fill{
				MakerOrderID: maker.o.ID,
				TakerOrderID: taker.o.ID,
				Price:        maker.o.Price,
				Size:         step,
				maker:        maker.o,
				taker:        taker.o,
			})
			bid.rem.Sub(bid.rem, step)
			ask.rem.Sub(ask.rem, step)
			if bid.rem.Sign() == 0 {
				break
			}
		}
	}

	return plan
}

func crosses(takerSide book.Side, takerPrice, makerPrice int64) bool {
	if takerSide == book.Buy {
		return takerPrice >= makerPrice
	}
	return takerPrice <= makerPrice
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
