package book

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func size(n int64) *big.Int { return big.NewInt(n) }

func testOrder(id string, side Side, price int64, sz int64, seq uint64) *Order {
	return &Order{
		ID:       id,
		MarketID: "m1",
		Maker:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Side:     side,
		Price:    price,
		Size:     size(sz),
		Filled:   new(big.Int),
		Sequence: seq,
	}
}

func TestBookBestPrices(t *testing.T) {
	b := newBook("m1", 0)
	if _, ok := b.BestBid(); ok {
		t.Fatal("empty book reported a best bid")
	}
	if _, ok := b.BestAsk(); ok {
		t.Fatal("empty book reported a best ask")
	}

	b.Insert(testOrder("b1", Buy, 4500, 10, 1))
	b.Insert(testOrder("b2", Buy, 4800, 10, 2))
	b.Insert(testOrder("a1", Sell, 5200, 10, 3))
	b.Insert(testOrder("a2", Sell, 5100, 10, 4))

	if bid, _ := b.BestBid(); bid != 4800 {
		t.Errorf("best bid = %d, want 4800", bid)
	}
	if ask, _ := b.BestAsk(); ask != 5100 {
		t.Errorf("best ask = %d, want 5100", ask)
	}
}

func TestBookScanPriceTimePriority(t *testing.T) {
	b := newBook("m1", 0)
	// two levels, two orders each, inserted out of order
	b.Insert(testOrder("late-best", Buy, 4800, 10, 4))
	b.Insert(testOrder("early-best", Buy, 4800, 10, 2))
	b.Insert(testOrder("early-deep", Buy, 4500, 10, 1))
	b.Insert(testOrder("late-deep", Buy, 4500, 10, 3))

	var got []string
	b.Scan(Buy, func(o *Order) bool {
		got = append(got, o.ID)
		return true
	})
	want := []string{"early-best", "late-best", "early-deep", "late-deep"}
	if len(got) != len(want) {
		t.Fatalf("visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visited %v, want %v", got, want)
		}
	}
}

func TestBookScanStops(t *testing.T) {
	b := newBook("m1", 0)
	b.Insert(testOrder("a1", Sell, 5000, 10, 1))
	b.Insert(testOrder("a2", Sell, 5100, 10, 2))

	visits := 0
	b.Scan(Sell, func(o *Order) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Errorf("scan visited %d orders after stop, want 1", visits)
	}
}

func TestBookRemove(t *testing.T) {
	b := newBook("m1", 0)
	o := testOrder("b1", Buy, 4800, 10, 1)
	b.Insert(o)

	if !b.Resting(o.ID) {
		t.Fatal("inserted order not resting")
	}
	if !b.Remove(o) {
		t.Fatal("remove returned false for resting order")
	}
	if b.Resting(o.ID) {
		t.Error("removed order still resting")
	}
	if _, ok := b.BestBid(); ok {
		t.Error("empty level left a heap price behind")
	}
	if b.Remove(o) {
		t.Error("second remove returned true")
	}
}

func TestBookFill(t *testing.T) {
	b := newBook("m1", 0)
	o := testOrder("b1", Buy, 4800, 10, 1)
	b.Insert(o)

	if err := b.Fill(o, size(4), 4800); err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	if o.Status != PartiallyFilled {
		t.Errorf("status after partial fill = %s, want PARTIALLY_FILLED", o.Status)
	}
	if o.Remaining().Cmp(size(6)) != 0 {
		t.Errorf("remaining = %s, want 6", o.Remaining())
	}
	if !b.Resting(o.ID) {
		t.Error("partially filled order was unlinked")
	}

	if err := b.Fill(o, size(6), 4800); err != nil {
		t.Fatalf("final fill: %v", err)
	}
	if o.Status != Filled {
		t.Errorf("status after full fill = %s, want FILLED", o.Status)
	}
	if b.Resting(o.ID) {
		t.Error("filled order still resting")
	}
	if b.LastPrice() != 4800 {
		t.Errorf("last price = %d, want 4800", b.LastPrice())
	}
}

func TestBookFillOverfill(t *testing.T) {
	b := newBook("m1", 0)
	o := testOrder("b1", Buy, 4800, 10, 1)
	b.Insert(o)

	if err := b.Fill(o, size(11), 4800); err == nil {
		t.Fatal("overfill accepted")
	}
	if o.Filled.Sign() != 0 {
		t.Errorf("failed fill mutated order, filled = %s", o.Filled)
	}
	if o.Status != Open {
		t.Errorf("failed fill changed status to %s", o.Status)
	}
}

func TestBookLevels(t *testing.T) {
	b := newBook("m1", 0)
	b.Insert(testOrder("b1", Buy, 4800, 10, 1))
	b.Insert(testOrder("b2", Buy, 4800, 5, 2))
	b.Insert(testOrder("b3", Buy, 4500, 7, 3))
	b.Insert(testOrder("a1", Sell, 5200, 3, 4))

	bids := b.Levels(Buy, 0)
	if len(bids) != 2 {
		t.Fatalf("bid levels = %d, want 2", len(bids))
	}
	if bids[0].Price != 4800 || bids[0].Size.Cmp(size(15)) != 0 {
		t.Errorf("top bid level = %d/%s, want 4800/15", bids[0].Price, bids[0].Size)
	}
	if bids[1].Price != 4500 {
		t.Errorf("second bid level price = %d, want 4500", bids[1].Price)
	}

	if got := b.Levels(Buy, 1); len(got) != 1 {
		t.Errorf("depth-limited levels = %d, want 1", len(got))
	}

	snap := b.Snapshot(0)
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Errorf("snapshot = %d bids / %d asks, want 2/1", len(snap.Bids), len(snap.Asks))
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{Open, false},
		{PartiallyFilled, false},
		{Filled, true},
		{Canceled, true},
		{Expired, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestOrderValidate(t *testing.T) {
	base := func() *Order { return testOrder("o", Buy, 5000, 10, 1) }

	cases := []struct {
		name    string
		mutate  func(o *Order)
		market  bool
		wantErr bool
	}{
		{name: "valid limit", mutate: func(o *Order) {}},
		{name: "empty market", mutate: func(o *Order) { o.MarketID = "" }, wantErr: true},
		{name: "bad side", mutate: func(o *Order) { o.Side = 0 }, wantErr: true},
		{name: "price at lower bound", mutate: func(o *Order) { o.Price = 0 }},
		{name: "price at upper bound", mutate: func(o *Order) { o.Price = MaxTick }},
		{name: "price below range", mutate: func(o *Order) { o.Price = -1 }, wantErr: true},
		{name: "price above range", mutate: func(o *Order) { o.Price = MaxTick + 1 }, wantErr: true},
		{name: "market skips price bounds", mutate: func(o *Order) { o.Price = -1 }, market: true},
		{name: "zero size", mutate: func(o *Order) { o.Size = new(big.Int) }, wantErr: true},
		{name: "negative size", mutate: func(o *Order) { o.Size = big.NewInt(-1) }, wantErr: true},
		{name: "already expired", mutate: func(o *Order) { o.Expiry = 50 }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := base()
			tc.mutate(o)
			err := o.Validate(tc.market, 100)
			if tc.wantErr && err == nil {
				t.Error("want validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOrderCloneIsolation(t *testing.T) {
	o := testOrder("o", Buy, 5000, 10, 1)
	o.Salt = big.NewInt(7)
	cp := o.Clone()
	cp.Filled.Add(cp.Filled, size(5))
	cp.Salt.SetInt64(99)
	if o.Filled.Sign() != 0 || o.Salt.Int64() != 7 {
		t.Error("clone aliases live order state")
	}
}
