package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/market"
	"github.com/foresightex/foresight/pkg/util"
)

type stubOracle struct {
	price int64
	err   error
}

func (s stubOracle) AmmPrice(context.Context, string, int) (int64, error) {
	return s.price, s.err
}

type stubAmm struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (s *stubAmm) ExecuteViaAmm(_ context.Context, o *book.Order) (common.Hash, error) {
	s.mu.Lock()
	s.orders = append(s.orders, o.ID)
	s.mu.Unlock()
	if s.err != nil {
		return common.Hash{}, s.err
	}
	return ethcrypto.Keccak256Hash(o.OrderHash[:]), nil
}

func (s *stubAmm) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.orders...)
}

type sweeperFixture struct {
	sweeper *Sweeper
	store   *book.Store
	oracle  *stubOracle
	amm     *stubAmm
	notify  *notifyRecorder
	clock   *util.FakeClock
}

func newSweeperFixture(t *testing.T, ammPrice int64) *sweeperFixture {
	t.Helper()
	st := book.NewStore()
	registry := market.NewRegistry()
	if err := registry.Register(&market.Market{ID: "m1", Question: "q", Outcomes: 2}); err != nil {
		t.Fatal(err)
	}
	coord := NewCoordinator(st, &stubSettler{}, nil, zap.NewNop())
	oracle := &stubOracle{price: ammPrice}
	amm := &stubAmm{}
	notify := &notifyRecorder{}
	clock := util.NewFakeClock(time.Unix(0, 0))
	sweeper := NewSweeper(st, registry, coord, oracle, amm, notify, zap.NewNop(),
		time.Second, 100, 20, clock)
	return &sweeperFixture{sweeper: sweeper, store: st, oracle: oracle, amm: amm, notify: notify, clock: clock}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSweepAllClearsCrossedBooks(t *testing.T) {
	f := newSweeperFixture(t, 5000)
	if _, err := f.store.AddOrder(newOrder(alice, book.Sell, 4900, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddOrder(newOrder(bob, book.Buy, 5000, 10)); err != nil {
		t.Fatal(err)
	}

	f.sweeper.SweepAll(context.Background())

	snap := f.store.Depth("m1", 0, 0)
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("book still crossed after sweep: %+v", snap)
	}
	if f.notify.count() == 0 {
		t.Error("sweep fills did not notify")
	}
	if len(f.amm.executed()) != 0 {
		t.Errorf("orders inside the AMM margin routed out: %v", f.amm.executed())
	}
}

func TestSweepNotifiesOnExpiryOnly(t *testing.T) {
	f := newSweeperFixture(t, 5000)
	stale := newOrder(alice, book.Buy, 4000, 10)
	if _, err := f.store.AddOrder(stale); err != nil {
		t.Fatal(err)
	}
	stale.Expiry = 1 // deadline already passed, nothing crosses

	f.sweeper.SweepAll(context.Background())

	if snap := f.store.Depth("m1", 0, 0); len(snap.Bids) != 0 {
		t.Errorf("expired order still resting: %+v", snap.Bids)
	}
	if f.notify.count() == 0 {
		t.Error("expiry-only sweep did not notify")
	}
}

func TestSweepRoutesCrossedBidToAmm(t *testing.T) {
	// AMM at 4000, margin 100: a bid at 4200 is beyond the margin
	f := newSweeperFixture(t, 4000)
	o := newOrder(alice, book.Buy, 4200, 10)
	if _, err := f.store.AddOrder(o); err != nil {
		t.Fatal(err)
	}

	f.sweeper.SweepAll(context.Background())

	got := f.amm.executed()
	if len(got) != 1 || got[0] != o.ID {
		t.Fatalf("amm executions = %v, want [%s]", got, o.ID)
	}
	res, err := f.store.Get(o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != book.Filled {
		t.Errorf("amm-routed order status = %s, want FILLED", res.Status)
	}
	if snap := f.store.Depth("m1", 0, 0); len(snap.Bids) != 0 {
		t.Errorf("amm-routed order still resting: %+v", snap.Bids)
	}
}

func TestSweepLeavesOrdersInsideMargin(t *testing.T) {
	f := newSweeperFixture(t, 4150) // bid 4200 is within 100 ticks of 4150
	if _, err := f.store.AddOrder(newOrder(alice, book.Buy, 4200, 10)); err != nil {
		t.Fatal(err)
	}

	f.sweeper.SweepAll(context.Background())

	if len(f.amm.executed()) != 0 {
		t.Errorf("order inside margin routed to amm: %v", f.amm.executed())
	}
	if snap := f.store.Depth("m1", 0, 0); len(snap.Bids) != 1 {
		t.Errorf("order inside margin removed from book: %+v", snap)
	}
}

func TestSweepAmmFailureIsNotRolledBack(t *testing.T) {
	f := newSweeperFixture(t, 4000)
	f.amm.err = errors.New("amm unavailable")
	o := newOrder(alice, book.Buy, 4200, 10)
	if _, err := f.store.AddOrder(o); err != nil {
		t.Fatal(err)
	}

	f.sweeper.SweepAll(context.Background())

	// local fill stands; the failed external call is retried out of band
	res, err := f.store.Get(o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != book.Filled {
		t.Errorf("status after failed amm execution = %s, want FILLED", res.Status)
	}
}

func TestSweepSkipsWhenOracleDown(t *testing.T) {
	f := newSweeperFixture(t, 4000)
	f.oracle.err = errors.New("oracle down")
	if _, err := f.store.AddOrder(newOrder(alice, book.Buy, 4200, 10)); err != nil {
		t.Fatal(err)
	}

	f.sweeper.SweepAll(context.Background())

	if len(f.amm.executed()) != 0 {
		t.Error("amm routed with oracle unavailable")
	}
	if snap := f.store.Depth("m1", 0, 0); len(snap.Bids) != 1 {
		t.Errorf("book mutated with oracle unavailable: %+v", snap)
	}
}

func TestRunSweepsOnTick(t *testing.T) {
	f := newSweeperFixture(t, 5000)
	if _, err := f.store.AddOrder(newOrder(alice, book.Sell, 4900, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddOrder(newOrder(bob, book.Buy, 5000, 10)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sweeper.Run(ctx)

	waitFor(t, "run loop to arm its timer", func() bool {
		f.clock.Tick(time.Second)
		snap := f.store.Depth("m1", 0, 0)
		return len(snap.Bids) == 0 && len(snap.Asks) == 0
	})
}

func TestRunSweepsOnNudge(t *testing.T) {
	f := newSweeperFixture(t, 5000)
	if _, err := f.store.AddOrder(newOrder(alice, book.Sell, 4900, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddOrder(newOrder(bob, book.Buy, 5000, 10)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sweeper.Run(ctx)

	f.sweeper.Nudge("m1", 0)
	waitFor(t, "nudged sweep", func() bool {
		snap := f.store.Depth("m1", 0, 0)
		return len(snap.Bids) == 0 && len(snap.Asks) == 0
	})
}
