package book

import (
	"container/heap"
	"fmt"
	"math/big"
	"sort"
)

// Level is an aggregated price level: total remaining size across all
// resting orders at that price.
type Level struct {
	Price int64    `json:"price"`
	Size  *big.Int `json:"size"`
}

// Snapshot is a depth view of one (market, outcome) book. Bids are sorted
// price-descending, asks price-ascending.
type Snapshot struct {
	MarketID  string  `json:"marketId"`
	OutcomeID int     `json:"outcomeId"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
}

// Book holds the resting orders of one (market, outcome) pair. Bids and asks
// are FIFO slices per price level with heaps for O(1) best-price peeks.
//
// Book is not self-locking: every method must run inside Store.Update (or
// another Store method holding the book's section). The Store owns the
// serialization; Book is pure data structure.
type Book struct {
	marketID  string
	outcomeID int

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[int64][]*Order // price -> orders, sequence-ascending
	asks map[int64][]*Order

	// order ID -> resting price, for O(1) unlink
	resting map[string]int64

	lastPrice int64
}

func newBook(marketID string, outcomeID int) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		marketID:  marketID,
		outcomeID: outcomeID,
		bidHeap:   bidHeap,
		askHeap:   askHeap,
		bids:      make(map[int64][]*Order),
		asks:      make(map[int64][]*Order),
		resting:   make(map[string]int64),
	}
}

func (b *Book) MarketID() string { return b.marketID }
func (b *Book) OutcomeID() int   { return b.outcomeID }

// BestBid returns the highest bid price, if any.
func (b *Book) BestBid() (int64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest ask price, if any.
func (b *Book) BestAsk() (int64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// LastPrice returns the price of the most recent fill applied to this book,
// 0 if none.
func (b *Book) LastPrice() int64 { return b.lastPrice }

// Insert links a resting order into its side's level queue. Orders within a
// level are kept sequence-ascending; concurrent placements serialize on the
// store lock, so an append is almost always already in position.
func (b *Book) Insert(o *Order) {
	side := b.bids
	if o.Side == Sell {
		side = b.asks
	}
	level := side[o.Price]
	if len(level) == 0 {
		if o.Side == Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	i := len(level)
	for i > 0 && level[i-1].Sequence > o.Sequence {
		i--
	}
	level = append(level, nil)
	copy(level[i+1:], level[i:])
	level[i] = o
	side[o.Price] = level
	b.resting[o.ID] = o.Price
}

// Remove unlinks a resting order. Returns false if the order is not resting
// in this book.
func (b *Book) Remove(o *Order) bool {
	price, ok := b.resting[o.ID]
	if !ok {
		return false
	}
	side := b.bids
	if o.Side == Sell {
		side = b.asks
	}
	level := side[price]
	for i, r := range level {
		if r.ID == o.ID {
			side[price] = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(side[price]) == 0 {
		delete(side, price)
		b.dropHeapPrice(o.Side, price)
	}
	delete(b.resting, o.ID)
	return true
}

// Resting reports whether the order is currently linked into a level.
func (b *Book) Resting(id string) bool {
	_, ok := b.resting[id]
	return ok
}

// Fill advances an order's filled counter and status. Fully filled resting
// orders are unlinked. Overfilling is an internal invariant violation and
// returns ErrOverfill without mutating anything.
func (b *Book) Fill(o *Order, size *big.Int, price int64) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrOverfill, o.ID, o.Status)
	}
	if size.Sign() <= 0 || size.Cmp(o.Remaining()) > 0 {
		return fmt.Errorf("%w: order %s remaining %s, fill %s",
			ErrOverfill, o.ID, o.Remaining(), size)
	}
	o.Filled.Add(o.Filled, size)
	if o.Filled.Cmp(o.Size) == 0 {
		o.Status = Filled
		b.Remove(o)
	} else {
		o.Status = PartiallyFilled
	}
	b.lastPrice = price
	return nil
}

// Scan visits resting orders on one side in price-time priority: bids from
// highest price down, asks from lowest price up, sequence-ascending within a
// level. Visiting stops when visit returns false.
func (b *Book) Scan(side Side, visit func(o *Order) bool) {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	if side == Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	for _, p := range prices {
		for _, o := range levels[p] {
			if !visit(o) {
				return
			}
		}
	}
}

// Levels aggregates remaining size per price on one side, best price first.
// depth <= 0 means all levels.
func (b *Book) Levels(side Side, depth int) []Level {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	out := make([]Level, 0, len(levels))
	for price, orders := range levels {
		if len(orders) == 0 {
			continue
		}
		total := new(big.Int)
		for _, o := range orders {
			total.Add(total, o.Remaining())
		}
		out = append(out, Level{Price: price, Size: total})
	}
	if side == Buy {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}

// Snapshot returns the aggregated depth view of both sides.
func (b *Book) Snapshot(depth int) Snapshot {
	return Snapshot{
		MarketID:  b.marketID,
		OutcomeID: b.outcomeID,
		Bids:      b.Levels(Buy, depth),
		Asks:      b.Levels(Sell, depth),
	}
}

func (b *Book) dropHeapPrice(side Side, price int64) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}
