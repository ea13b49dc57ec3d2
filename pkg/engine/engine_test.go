package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/crypto"
	"github.com/foresightex/foresight/pkg/market"
)

type notifyRecorder struct {
	mu    sync.Mutex
	books []book.Key
}

func (n *notifyRecorder) OrderBookChanged(marketID string, outcomeID int, _ book.Snapshot) {
	n.mu.Lock()
	n.books = append(n.books, book.Key{MarketID: marketID, OutcomeID: outcomeID})
	n.mu.Unlock()
}

func (n *notifyRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.books)
}

type exchangeFixture struct {
	exchange *Exchange
	store    *book.Store
	settler  *stubSettler
	notify   *notifyRecorder
	eip712   *crypto.EIP712Signer
}

func newExchangeFixture(t *testing.T) *exchangeFixture {
	t.Helper()
	st := book.NewStore()
	registry := market.NewRegistry()
	for _, m := range []*market.Market{
		{ID: "m1", Question: "test market", Outcomes: 2},
		{ID: "paused", Question: "paused market", Outcomes: 2, Status: market.Paused},
	} {
		if err := registry.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	settler := &stubSettler{}
	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain())
	notify := &notifyRecorder{}
	coord := NewCoordinator(st, settler, nil, zap.NewNop())
	return &exchangeFixture{
		exchange: NewExchange(st, registry, eip712, coord, notify, zap.NewNop(), 20),
		store:    st,
		settler:  settler,
		notify:   notify,
		eip712:   eip712,
	}
}

// signedRequest builds and signs a placement the way a maker's wallet would.
func (f *exchangeFixture) signedRequest(t *testing.T, signer *crypto.Signer, side book.Side, price, size int64, isMarket bool) PlaceRequest {
	t.Helper()
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	req := PlaceRequest{
		MarketID:  "m1",
		OutcomeID: 0,
		Maker:     signer.Address(),
		Side:      side,
		Price:     price,
		Size:      big.NewInt(size),
		Salt:      salt,
		Market:    isMarket,
	}
	sig, err := f.eip712.SignOrder(signer, orderMessage(req))
	if err != nil {
		t.Fatal(err)
	}
	req.Signature = sig
	return req
}

func TestPlaceOrderRestsLimit(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()

	res, err := f.exchange.PlaceOrder(context.Background(), f.signedRequest(t, maker, book.Buy, 5000, 10, false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOpen || res.UseAMM {
		t.Fatalf("result = %+v, want open", res)
	}
	if f.notify.count() != 1 {
		t.Errorf("notifications = %d, want 1", f.notify.count())
	}
}

func TestPlaceOrderMatches(t *testing.T) {
	f := newExchangeFixture(t)
	seller, _ := crypto.GenerateKey()
	buyer, _ := crypto.GenerateKey()

	if _, err := f.exchange.PlaceOrder(context.Background(), f.signedRequest(t, seller, book.Sell, 4800, 10, false)); err != nil {
		t.Fatal(err)
	}
	res, err := f.exchange.PlaceOrder(context.Background(), f.signedRequest(t, buyer, book.Buy, 5000, 10, false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusMatched || len(res.Fills) != 1 {
		t.Fatalf("result = %+v, want matched with one fill", res)
	}
	if res.Fills[0].Price != 4800 {
		t.Errorf("fill price = %d, want maker's 4800", res.Fills[0].Price)
	}
}

func TestPlaceOrderMarketNoMatchesRoutesToAMM(t *testing.T) {
	f := newExchangeFixture(t)
	buyer, _ := crypto.GenerateKey()

	res, err := f.exchange.PlaceOrder(context.Background(), f.signedRequest(t, buyer, book.Buy, 0, 10, true))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNoMatches || !res.UseAMM {
		t.Fatalf("result = %+v, want no_matches with AMM hint", res)
	}
}

func TestPlaceOrderRejectsBadSignature(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()
	imposter, _ := crypto.GenerateKey()

	req := f.signedRequest(t, maker, book.Buy, 5000, 10, false)
	req.Maker = imposter.Address() // claims another maker

	_, err := f.exchange.PlaceOrder(context.Background(), req)
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
	if f.notify.count() != 0 {
		t.Error("rejected order notified subscribers")
	}
}

func TestPlaceOrderRejectsReplay(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()

	req := f.signedRequest(t, maker, book.Buy, 5000, 10, false)
	if _, err := f.exchange.PlaceOrder(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, err := f.exchange.PlaceOrder(context.Background(), req)
	if !errors.Is(err, book.ErrDuplicateOrder) {
		t.Errorf("replay error = %v, want ErrDuplicateOrder", err)
	}
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()

	req := f.signedRequest(t, maker, book.Buy, 5000, 10, false)
	req.MarketID = "nope"
	if _, err := f.exchange.PlaceOrder(context.Background(), req); !errors.Is(err, ErrMarketUnknown) {
		t.Errorf("error = %v, want ErrMarketUnknown", err)
	}

	req2 := f.signedRequest(t, maker, book.Buy, 5000, 10, false)
	req2.OutcomeID = 5
	if _, err := f.exchange.PlaceOrder(context.Background(), req2); !errors.Is(err, ErrMarketUnknown) {
		t.Errorf("bad outcome error = %v, want ErrMarketUnknown", err)
	}
}

func TestPlaceOrderInactiveMarket(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()

	req := f.signedRequest(t, maker, book.Buy, 5000, 10, false)
	req.MarketID = "paused"
	if _, err := f.exchange.PlaceOrder(context.Background(), req); !errors.Is(err, ErrMarketInactive) {
		t.Errorf("error = %v, want ErrMarketInactive", err)
	}
}

func TestCancelOrderRoundTrip(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()

	res, err := f.exchange.PlaceOrder(context.Background(), f.signedRequest(t, maker, book.Buy, 5000, 10, false))
	if err != nil {
		t.Fatal(err)
	}

	status, err := f.exchange.CancelOrder(context.Background(), res.OrderID, maker.Address())
	if err != nil || status != book.Canceled {
		t.Fatalf("cancel = %s, %v, want CANCELED", status, err)
	}

	other, _ := crypto.GenerateKey()
	if _, err := f.exchange.CancelOrder(context.Background(), res.OrderID, other.Address()); !errors.Is(err, book.ErrNotMaker) {
		t.Errorf("foreign cancel error = %v, want ErrNotMaker", err)
	}
}

func TestVerifyCancel(t *testing.T) {
	f := newExchangeFixture(t)
	maker, _ := crypto.GenerateKey()
	salt, _ := crypto.GenerateSalt()

	msg := &crypto.CancelMessage{OrderID: "order-1", Salt: salt, Maker: maker.Address()}
	sig, err := f.eip712.SignCancel(maker, msg)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.exchange.VerifyCancel("order-1", salt, maker.Address(), sig); err != nil {
		t.Errorf("valid cancel rejected: %v", err)
	}
	if err := f.exchange.VerifyCancel("order-2", salt, maker.Address(), sig); !errors.Is(err, ErrAuthentication) {
		t.Errorf("tampered cancel error = %v, want ErrAuthentication", err)
	}
}

func TestDepthValidatesMarket(t *testing.T) {
	f := newExchangeFixture(t)
	if _, err := f.exchange.Depth("nope", 0, 10); !errors.Is(err, ErrMarketUnknown) {
		t.Errorf("error = %v, want ErrMarketUnknown", err)
	}
	snap, err := f.exchange.Depth("m1", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if snap.MarketID != "m1" || snap.OutcomeID != 1 {
		t.Errorf("snapshot identity = %s/%d", snap.MarketID, snap.OutcomeID)
	}
}
