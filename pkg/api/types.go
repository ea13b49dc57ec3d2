package api

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/foresightex/foresight/pkg/book"
	"github.com/foresightex/foresight/pkg/crypto"
	"github.com/foresightex/foresight/pkg/engine"
)

// PlaceOrderRequest is the JSON body for POST /orders. Size and salt are
// decimal integer strings; the signature is 0x-prefixed hex over the EIP-712
// order digest.
type PlaceOrderRequest struct {
	MarketID  string `json:"marketId"`
	OutcomeID int    `json:"outcomeId"`
	Maker     string `json:"maker"`
	Side      string `json:"side"`      // "buy" | "sell"
	Price     int64  `json:"price"`     // ticks, ignored for market orders
	Size      string `json:"size"`      // fixed-point integer, 18 decimals
	Expiry    int64  `json:"expiry"`    // unix seconds, 0 = none
	Salt      string `json:"salt"`      // replay nonce
	Signature string `json:"signature"` // 0x hex, 65 bytes
	OrderType string `json:"orderType"` // "limit" (default) | "market"
}

// CancelOrderRequest is the JSON body for POST /orders/cancel. Salt and
// signature are optional; when present the cancel is verified as EIP-712
// typed data in addition to the maker check.
type CancelOrderRequest struct {
	OrderID   string `json:"orderId"`
	Maker     string `json:"maker"`
	Salt      string `json:"salt,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID           string      `json:"orderId"`
	Status            string      `json:"status"` // open | matched | no_matches
	UseAMM            bool        `json:"useAmm,omitempty"`
	Matches           []MatchInfo `json:"matches,omitempty"`
	SettlementPending bool        `json:"settlementPending,omitempty"`
	Message           string      `json:"message,omitempty"`
}

type CancelOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type MatchInfo struct {
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	Price        int64  `json:"price"`
	Size         string `json:"size"`
	SizeDecimal  string `json:"sizeDecimal"`
	Settled      bool   `json:"settled"`
	TxHash       string `json:"txHash,omitempty"`
	Error        string `json:"error,omitempty"`
}

type PriceLevel struct {
	Price       int64  `json:"price"`
	Size        string `json:"size"`
	SizeDecimal string `json:"sizeDecimal"`
}

type OrderbookResponse struct {
	MarketID  string       `json:"marketId"`
	OutcomeID int          `json:"outcomeId"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type OrderInfo struct {
	ID          string `json:"id"`
	MarketID    string `json:"marketId"`
	OutcomeID   int    `json:"outcomeId"`
	Maker       string `json:"maker"`
	Side        string `json:"side"`
	Price       int64  `json:"price"`
	Size        string `json:"size"`
	Filled      string `json:"filled"`
	Remaining   string `json:"remaining"`
	SizeDecimal string `json:"sizeDecimal"`
	Status      string `json:"status"`
	Expiry      int64  `json:"expiry,omitempty"`
}

type TradeInfo struct {
	MarketID     string `json:"marketId"`
	OutcomeID    int    `json:"outcomeId"`
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	Price        int64  `json:"price"`
	Size         string `json:"size"`
	SizeDecimal  string `json:"sizeDecimal"`
	TakerSide    string `json:"takerSide"`
	TxHash       string `json:"txHash"`
	ExecutedAt   int64  `json:"executedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

// OrderbookUpdate is pushed to subscribers of "orderbook:{market}:{outcome}"
// after every state-changing book operation.
type OrderbookUpdate struct {
	Type      string       `json:"type"`
	MarketID  string       `json:"marketId"`
	OutcomeID int          `json:"outcomeId"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// sizeDecimal renders an 18-decimal fixed-point integer as a human decimal
// string, e.g. 50000000000000000 -> "0.05".
func sizeDecimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -book.SizeDecimals).String()
}

func levels(in []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: l.Price, Size: l.Size.String(), SizeDecimal: sizeDecimal(l.Size)}
	}
	return out
}

func orderInfo(o *book.Order) OrderInfo {
	return OrderInfo{
		ID:          o.ID,
		MarketID:    o.MarketID,
		OutcomeID:   o.OutcomeID,
		Maker:       crypto.ChecksumAddress(o.Maker),
		Side:        o.Side.String(),
		Price:       o.Price,
		Size:        o.Size.String(),
		Filled:      o.Filled.String(),
		Remaining:   o.Remaining().String(),
		SizeDecimal: sizeDecimal(o.Size),
		Status:      o.Status.String(),
		Expiry:      o.Expiry,
	}
}

func matchInfos(fills []engine.FillResult) []MatchInfo {
	out := make([]MatchInfo, len(fills))
	for i, f := range fills {
		m := MatchInfo{
			MakerOrderID: f.MakerOrderID,
			TakerOrderID: f.TakerOrderID,
			Price:        f.Price,
			Size:         f.Size.String(),
			SizeDecimal:  sizeDecimal(f.Size),
			Settled:      f.Settled,
			Error:        f.Error,
		}
		if f.Settled {
			m.TxHash = f.TxHash.Hex()
		}
		out[i] = m
	}
	return out
}

func tradeInfo(t engine.Trade) TradeInfo {
	return TradeInfo{
		MarketID:     t.MarketID,
		OutcomeID:    t.OutcomeID,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		Price:        t.Price,
		Size:         t.Size.String(),
		SizeDecimal:  sizeDecimal(t.Size),
		TakerSide:    t.TakerSide.String(),
		TxHash:       t.TxHash.Hex(),
		ExecutedAt:   t.ExecutedAt,
	}
}
