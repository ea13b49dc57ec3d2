package book

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Status is the order lifecycle state. Transitions only move forward:
// Open -> PartiallyFilled -> Filled, or Open/PartiallyFilled -> Canceled/Expired.
// Terminal states are never left.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Canceled
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "OPEN"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == Filled || s == Canceled || s == Expired
}

const (
	// MaxTick is the top of the price range: 10000 ticks = 100%.
	MaxTick int64 = 10000

	// SizeDecimals is the fixed-point scale for order sizes.
	SizeDecimals = 18
)

// Order is a signed resting or incoming order. Price is in integer ticks,
// Size and Filled are fixed-point integers at 18 decimals. Sequence is a
// monotonic insertion counter assigned by the Store; time priority is decided
// by Sequence, never by wall clock.
type Order struct {
	ID        string
	MarketID  string
	OutcomeID int
	Maker     common.Address
	Side      Side
	Price     int64
	Size      *big.Int
	Filled    *big.Int
	Status    Status
	OrderHash common.Hash
	Signature []byte
	Expiry    int64 // unix seconds, 0 = no expiry
	Salt      *big.Int
	Sequence  uint64
}

// Remaining returns size - filled. Always >= 0 for a valid order.
func (o *Order) Remaining() *big.Int {
	return new(big.Int).Sub(o.Size, o.Filled)
}

// ExpiredAt reports whether the order's deadline has passed at the given
// unix time. Orders with Expiry == 0 never expire.
func (o *Order) ExpiredAt(now int64) bool {
	return o.Expiry != 0 && now >= o.Expiry
}

// Validate checks the order terms at construction time, before any book
// mutation. A market (uncapped) taker skips the price bounds check.
func (o *Order) Validate(isMarket bool, now int64) error {
	if o.MarketID == "" {
		return fmt.Errorf("%w: empty market id", ErrValidation)
	}
	if o.OutcomeID < 0 {
		return fmt.Errorf("%w: negative outcome id", ErrValidation)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: invalid side %d", ErrValidation, o.Side)
	}
	if !isMarket && (o.Price < 0 || o.Price > MaxTick) {
		return fmt.Errorf("%w: price %d out of range [0, %d]", ErrValidation, o.Price, MaxTick)
	}
	if o.Size == nil || o.Size.Sign() <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if o.ExpiredAt(now) {
		return fmt.Errorf("%w: order already expired", ErrValidation)
	}
	return nil
}

// Clone returns a copy safe to hand outside the store's locks. Big ints are
// copied so callers can never alias live book state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Size = new(big.Int).Set(o.Size)
	cp.Filled = new(big.Int).Set(o.Filled)
	if o.Salt != nil {
		cp.Salt = new(big.Int).Set(o.Salt)
	}
	cp.Signature = append([]byte(nil), o.Signature...)
	return &cp
}
