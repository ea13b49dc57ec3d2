// Package engine contains the matching core of the exchange: the pure
// price-time matcher, the settlement coordinator that applies its plans, the
// exchange facade serving placements and cancels, and the periodic sweeper.
package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/crypto"
	"github.com/foresightex/foresight/pkg/market"
)

// PlaceStatus is the user-visible outcome of a placement. Always one of
// open, matched, no_matches.
type PlaceStatus string

const (
	StatusOpen      PlaceStatus = "open"
	StatusMatched   PlaceStatus = "matched"
	StatusNoMatches PlaceStatus = "no_matches"
)

// PlaceRequest is a signed inbound order. Market orders carry no price cap
// and never rest; their signed price field is 0.
type PlaceRequest struct {
	MarketID  string
	OutcomeID int
	Maker     common.Address
	Side      book.Side
	Price     int64
	Size      *big.Int
	Expiry    int64
	Salt      *big.Int
	Signature []byte
	Market    bool
}

// PlaceResult reports what happened to a placement.
type PlaceResult struct {
	OrderID           string       `json:"orderId"`
	Status            PlaceStatus  `json:"status"`
	UseAMM            bool         `json:"useAmm,omitempty"`
	Fills             []FillResult `json:"matches,omitempty"`
	SettlementPending bool         `json:"settlementPending,omitempty"`
}

// Exchange is the facade over the matching core. All collaborators are
// injected at construction; nothing is wired late.
type Exchange struct {
	store    *book.Store
	markets  *market.Registry
	signer   *crypto.EIP712Signer
	coord    *Coordinator
	notifier Notifier
	log      *zap.Logger
	depth    int // levels per broadcast snapshot
}

func NewExchange(store *book.Store, markets *market.Registry, signer *crypto.EIP712Signer,
	coord *Coordinator, notifier Notifier, log *zap.Logger, snapshotDepth int) *Exchange {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	x := &Exchange{
		store:    store,
		markets:  markets,
		signer:   signer,
		coord:    coord,
		notifier: notifier,
		log:      log,
		depth:    snapshotDepth,
	}
	// lazy expiries unlink orders outside the placement path (reads, cancels);
	// those depth changes must reach subscribers too
	store.NotifyExpiry(x.notify)
	return x
}

// PlaceOrder authenticates, validates, matches and settles one inbound
// order. Validation and signature failures reject the order before any book
// mutation; settlement failures do not fail the request.
func (x *Exchange) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	m, err := x.markets.Get(req.MarketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMarketUnknown, req.MarketID)
	}
	if !m.ValidOutcome(req.OutcomeID) {
		return nil, fmt.Errorf("%w: outcome %d of %s", ErrMarketUnknown, req.OutcomeID, req.MarketID)
	}
	if m.Status != market.Active {
		return nil, fmt.Errorf("%w: %s is %s", ErrMarketInactive, m.ID, m.Status)
	}

	msg := orderMessage(req)
	hash, err := x.signer.HashOrder(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	ok, err := x.signer.VerifyOrderSignature(msg, req.Signature)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: maker %s", ErrAuthentication, req.Maker.Hex())
	}

	price := req.Price
	if req.Market {
		price = 0 // no cap; remainder price is decided at fill time
	}
	taker := &book.Order{
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Maker:     req.Maker,
		Side:      req.Side,
		Price:     price,
		Size:      new(big.Int).Set(req.Size),
		Expiry:    req.Expiry,
		Salt:      req.Salt,
		Signature: append([]byte(nil), req.Signature...),
		OrderHash: hash,
	}

	res, err := x.coord.ExecuteTaker(ctx, taker, req.Market)
	if err != nil {
		return nil, err
	}

	if len(res.Fills) > 0 || res.Rested || res.Expired > 0 {
		x.notify(req.MarketID, req.OutcomeID)
	}

	out := &PlaceResult{
		OrderID:           res.OrderID,
		Fills:             res.Fills,
		SettlementPending: res.SettlementPending,
	}
	switch {
	case len(res.Fills) > 0:
		out.Status = StatusMatched
	case res.NoMatches:
		out.Status = StatusNoMatches
		out.UseAMM = true
	default:
		out.Status = StatusOpen
	}

	x.log.Info("order placed",
		zap.String("order", out.OrderID),
		zap.String("market", req.MarketID),
		zap.Int("outcome", req.OutcomeID),
		zap.String("side", req.Side.String()),
		zap.String("status", string(out.Status)),
		zap.Int("fills", len(out.Fills)))
	return out, nil
}

// CancelOrder cancels an order on behalf of its maker. Repeat cancels are
// idempotent and report the terminal status.
func (x *Exchange) CancelOrder(ctx context.Context, orderID string, requester common.Address) (book.Status, error) {
	status, err := x.store.CancelOrder(orderID, requester)
	if err != nil {
		return status, err
	}
	if status == book.Canceled {
		if o, err := x.store.Get(orderID); err == nil {
			x.notify(o.MarketID, o.OutcomeID)
		}
	}
	return status, nil
}

// VerifyCancel checks a signed cancel request against its claimed maker.
func (x *Exchange) VerifyCancel(orderID string, salt *big.Int, maker common.Address, signature []byte) error {
	ok, err := x.signer.VerifyCancelSignature(&crypto.CancelMessage{
		OrderID: orderID,
		Salt:    salt,
		Maker:   maker,
	}, signature)
	if err != nil || !ok {
		return fmt.Errorf("%w: cancel of %s", ErrAuthentication, orderID)
	}
	return nil
}

// Depth returns the aggregated top-N levels of one book.
func (x *Exchange) Depth(marketID string, outcomeID, depth int) (book.Snapshot, error) {
	m, err := x.markets.Get(marketID)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("%w: %s", ErrMarketUnknown, marketID)
	}
	if !m.ValidOutcome(outcomeID) {
		return book.Snapshot{}, fmt.Errorf("%w: outcome %d of %s", ErrMarketUnknown, outcomeID, marketID)
	}
	return x.store.Depth(marketID, outcomeID, depth), nil
}

// UserOrders returns all orders by one maker, optionally scoped to a market.
func (x *Exchange) UserOrders(maker common.Address, marketID string) []*book.Order {
	return x.store.UserOrders(maker, marketID)
}

// GetOrder returns one order by ID.
func (x *Exchange) GetOrder(id string) (*book.Order, error) {
	return x.store.Get(id)
}

// Markets lists the registered markets.
func (x *Exchange) Markets() []*market.Market {
	return x.markets.List()
}

func (x *Exchange) notify(marketID string, outcomeID int) {
	x.notifier.OrderBookChanged(marketID, outcomeID, x.store.Depth(marketID, outcomeID, x.depth))
}

func orderMessage(req PlaceRequest) *crypto.OrderMessage {
	price := req.Price
	if req.Market {
		price = 0
	}
	return &crypto.OrderMessage{
		MarketID:  req.MarketID,
		OutcomeID: big.NewInt(int64(req.OutcomeID)),
		Side:      sideWire(req.Side),
		Price:     big.NewInt(price),
		Size:      req.Size,
		Salt:      req.Salt,
		Expiry:    big.NewInt(req.Expiry),
		Maker:     req.Maker,
	}
}

func sideWire(s book.Side) uint8 {
	if s == book.Buy {
		return 1
	}
	return 2
}
