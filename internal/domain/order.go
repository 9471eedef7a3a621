package domain

import (
	"fmt"
	"log/slog"

	"marketsim/pkg/quant"
)

// Kind discriminates the closed set of order variants.
type Kind uint8

const (
	KindMarket Kind = iota + 1
	KindLimit
	KindBasket
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "MARKET"
	case KindLimit:
		return "LIMIT"
	case KindBasket:
		return "BASKET"
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Order is the single record type behind all three variants. Kind selects
// the variant; LimitPrice is meaningful only for limit orders and Dollar
// only for basket orders. Buy is fixed at construction and never changes.
//
// A partially filled order is represented by new records with reduced
// quantity; Qty is never rewritten on a record that has been published.
type Order struct {
	ID         uint64 // assigned by the kernel when left zero
	AgentID    int
	Symbol     string
	TimePlaced quant.TimeStamp
	Qty        quant.Qty // magnitude, always > 0
	Buy        bool
	Kind       Kind

	LimitPrice quant.PriceCents // limit orders only
	Dollar     bool             // basket orders only: dollar-denominated instruction

	Tag string // opaque metadata, not interpreted by the book

	// FillPrice is nil until the record is executed and is set exactly
	// once per fill event for a given record.
	FillPrice *quant.PriceCents
}

// NewMarketOrder builds a buy or sell market order.
func NewMarketOrder(agentID int, placed quant.TimeStamp, symbol string, qty quant.Qty, buy bool) Order {
	return Order{
		AgentID:    agentID,
		Symbol:     symbol,
		TimePlaced: placed,
		Qty:        qty,
		Buy:        buy,
		Kind:       KindMarket,
	}
}

// NewLimitOrder builds a bid (buy) or ask (sell) limit order. The limit
// price is the maximum a buyer will pay or the minimum a seller will accept.
func NewLimitOrder(agentID int, placed quant.TimeStamp, symbol string, qty quant.Qty, buy bool, limit quant.PriceCents) Order {
	return Order{
		AgentID:    agentID,
		Symbol:     symbol,
		TimePlaced: placed,
		Qty:        qty,
		Buy:        buy,
		Kind:       KindLimit,
		LimitPrice: limit,
	}
}

// NewBasketOrder builds a basket creation (buy) or redemption (sell)
// instruction. It settles immediately and never rests in a book.
func NewBasketOrder(agentID int, placed quant.TimeStamp, symbol string, qty quant.Qty, buy, dollar bool) Order {
	return Order{
		AgentID:    agentID,
		Symbol:     symbol,
		TimePlaced: placed,
		Qty:        qty,
		Buy:        buy,
		Kind:       KindBasket,
		Dollar:     dollar,
	}
}

// Clone returns a structurally independent copy that preserves identity.
// Mutating the clone's fill state never affects the original.
func (o *Order) Clone() Order {
	cp := *o
	if o.FillPrice != nil {
		fp := *o.FillPrice
		cp.FillPrice = &fp
	}
	return cp
}

// SetFillPrice marks the record executed at the given price.
func (o *Order) SetFillPrice(p quant.PriceCents) {
	fp := p
	o.FillPrice = &fp
}

// IsMatch reports whether other can execute against o. It is defined only
// between opposite-direction limit orders; calling it on same-direction
// orders is a caller bug that is logged and answered with false so the
// matching loop stays alive.
func (o *Order) IsMatch(other *Order) bool {
	if o.Buy == other.Buy {
		slog.Warn("IS_MATCH_SAME_DIRECTION",
			slog.String("self", o.String()),
			slog.String("other", other.String()))
		return false
	}
	if o.Buy {
		return o.LimitPrice >= other.LimitPrice
	}
	return o.LimitPrice <= other.LimitPrice
}

// HasEqPrice reports whether both limit orders carry the same price.
func (o *Order) HasEqPrice(other *Order) bool {
	return o.LimitPrice == other.LimitPrice
}

// HasBetterPrice reports whether o is priced strictly better than other
// within one direction: higher for buys, lower for sells. Equal prices
// are never better. Cross-direction comparison is a caller bug: warn,
// return false.
func (o *Order) HasBetterPrice(other *Order) bool {
	if o.Buy != other.Buy {
		slog.Warn("HAS_BETTER_PRICE_DIRECTION_MISMATCH",
			slog.String("self", o.String()),
			slog.String("other", other.String()))
		return false
	}
	if o.Buy {
		return o.LimitPrice > other.LimitPrice
	}
	return o.LimitPrice < other.LimitPrice
}

func (o *Order) side() string {
	switch o.Kind {
	case KindBasket:
		if o.Buy {
			return "CREATE"
		}
		return "REDEEM"
	default:
		if o.Buy {
			return "BUY"
		}
		return "SELL"
	}
}

func (o *Order) String() string {
	filled := ""
	if o.FillPrice != nil {
		filled = fmt.Sprintf(" (filled @ %s)", o.FillPrice.Dollarize())
	}
	switch o.Kind {
	case KindLimit:
		tag := ""
		if o.Tag != "" {
			tag = fmt.Sprintf(" [%s]", o.Tag)
		}
		return fmt.Sprintf("(Agent %d @ %s%s) : %s %d %s @ %s%s",
			o.AgentID, o.TimePlaced, tag, o.side(), o.Qty, o.Symbol, o.LimitPrice, filled)
	case KindBasket:
		return fmt.Sprintf("(Order %d Agent %d @ %s) : %s %d %s%s",
			o.ID, o.AgentID, o.TimePlaced, o.side(), o.Qty, o.Symbol, filled)
	default:
		return fmt.Sprintf("(Agent %d @ %s) : MKT Order %s %d %s%s",
			o.AgentID, o.TimePlaced, o.side(), o.Qty, o.Symbol, filled)
	}
}
