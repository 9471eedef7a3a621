package domain

import (
	"fmt"

	"marketsim/pkg/quant"
	"marketsim/pkg/safe"
)

// Fill records one match between a buy and a sell order at one price for
// one quantity. It is consumed immediately to build execution notices and
// the run log; it is not a persistent entity of the book.
type Fill struct {
	Symbol      string
	BuyOrderID  uint64
	SellOrderID uint64
	BuyAgentID  int
	SellAgentID int
	Price       quant.PriceCents
	Qty         quant.Qty
	Time        quant.TimeStamp
}

// Notional returns price x quantity in cents.
func (f Fill) Notional() int64 {
	return safe.Mul(int64(f.Price), int64(f.Qty))
}

func (f Fill) String() string {
	return fmt.Sprintf("FILL %s %d @ %s (buy #%d / sell #%d) at %s",
		f.Symbol, f.Qty, f.Price.Dollarize(), f.BuyOrderID, f.SellOrderID, f.Time)
}
