package book

import (
	"fmt"
	"log/slog"

	"github.com/tidwall/btree"

	"marketsim/internal/domain"
	"marketsim/pkg/quant"
)

// resting wraps an order sitting in a ladder. arrival is the book's own
// monotone counter; together with the limit price it forms the ladder key,
// so equal-priced orders keep FIFO (price-time) priority.
type resting struct {
	ord     *domain.Order
	arrival uint64
}

// Level is an aggregated price level, best levels first.
type Level struct {
	Price quant.PriceCents `json:"price"`
	Qty   quant.Qty        `json:"qty"`
}

// Book is the per-symbol matching engine. It is owned and mutated
// exclusively by the kernel's delivery step; there is no internal locking
// by design.
//
// Invariant: no resting order crosses the opposite side. Crossing orders
// are matched at insertion and only a non-crossing remainder rests.
type Book struct {
	symbol  string
	bids    *btree.BTreeG[*resting] // price descending, arrival ascending
	asks    *btree.BTreeG[*resting] // price ascending, arrival ascending
	index   map[uint64]*resting     // order id -> resting entry
	arrival uint64
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids: btree.NewBTreeG(func(a, b *resting) bool {
			if a.ord.LimitPrice != b.ord.LimitPrice {
				return a.ord.LimitPrice > b.ord.LimitPrice
			}
			return a.arrival < b.arrival
		}),
		asks: btree.NewBTreeG(func(a, b *resting) bool {
			if a.ord.LimitPrice != b.ord.LimitPrice {
				return a.ord.LimitPrice < b.ord.LimitPrice
			}
			return a.arrival < b.arrival
		}),
		index: make(map[uint64]*resting),
	}
}

// Symbol returns the symbol this book matches.
func (b *Book) Symbol() string { return b.symbol }

// InsertLimit matches an incoming limit order against the opposing ladder
// and rests any non-crossing remainder at its price level, after existing
// orders at that price. Fills execute at the resting order's price.
func (b *Book) InsertLimit(o *domain.Order, now quant.TimeStamp) ([]domain.Fill, error) {
	if err := b.validate(o, domain.KindLimit); err != nil {
		return nil, err
	}

	taker := o.Clone()
	fills := b.match(&taker, now, false)

	if taker.Qty > 0 {
		b.rest(&taker)
	}
	return fills, nil
}

// InsertMarket matches an incoming market order at the best opposing price
// repeatedly. An empty opposing side, before or during matching, is
// reported as ErrNoLiquidity alongside whatever fills did happen; the
// remainder never rests.
func (b *Book) InsertMarket(o *domain.Order, now quant.TimeStamp) ([]domain.Fill, error) {
	if err := b.validate(o, domain.KindMarket); err != nil {
		return nil, err
	}

	taker := o.Clone()
	fills := b.match(&taker, now, true)

	if taker.Qty > 0 {
		return fills, fmt.Errorf("%w: %s %s, %d unfilled", ErrNoLiquidity, taker.Symbol, sideName(taker.Buy), taker.Qty)
	}
	return fills, nil
}

// Cancel removes a resting order by id and returns the removed record.
func (b *Book) Cancel(id uint64) (domain.Order, error) {
	r, ok := b.index[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	b.ladderFor(r.ord.Buy).Delete(r)
	delete(b.index, id)
	return r.ord.Clone(), nil
}

// Modify is cancel-then-reinsert: the old resting slot is vacated first so
// the replacement cannot match against itself, and the replacement joins
// the back of its price level, forfeiting the original time priority.
func (b *Book) Modify(id uint64, replacement *domain.Order, now quant.TimeStamp) ([]domain.Fill, error) {
	if _, err := b.Cancel(id); err != nil {
		return nil, err
	}
	return b.InsertLimit(replacement, now)
}

// match walks the opposing ladder from the best price, filling at resting
// prices while the taker crosses, and removes consumed resting records.
// The taker's remaining quantity is decremented in place on the working
// copy; resting records are replaced, never mutated.
func (b *Book) match(taker *domain.Order, now quant.TimeStamp, market bool) []domain.Fill {
	opp := b.ladderFor(!taker.Buy)

	var fills []domain.Fill
	for taker.Qty > 0 {
		best, ok := opp.Min()
		if !ok {
			break
		}
		if !market && !taker.IsMatch(best.ord) {
			break
		}

		price := best.ord.LimitPrice
		qty := taker.Qty
		if best.ord.Qty < qty {
			qty = best.ord.Qty
		}

		fills = append(fills, b.fillRecord(taker, best.ord, price, qty, now))
		taker.Qty -= qty

		if qty == best.ord.Qty {
			// Fully consumed: stamp the fill and drop the record.
			best.ord.SetFillPrice(price)
			opp.Delete(best)
			delete(b.index, best.ord.ID)
		} else {
			// Partial: replace with a reduced-quantity record under the
			// same (price, arrival) key, preserving its priority.
			reduced := best.ord.Clone()
			reduced.Qty -= qty
			best.ord = &reduced
		}
	}
	return fills
}

func (b *Book) fillRecord(taker, maker *domain.Order, price quant.PriceCents, qty quant.Qty, now quant.TimeStamp) domain.Fill {
	f := domain.Fill{
		Symbol: b.symbol,
		Price:  price,
		Qty:    qty,
		Time:   now,
	}
	if taker.Buy {
		f.BuyOrderID, f.BuyAgentID = taker.ID, taker.AgentID
		f.SellOrderID, f.SellAgentID = maker.ID, maker.AgentID
	} else {
		f.BuyOrderID, f.BuyAgentID = maker.ID, maker.AgentID
		f.SellOrderID, f.SellAgentID = taker.ID, taker.AgentID
	}
	return f
}

func (b *Book) rest(o *domain.Order) {
	cp := o.Clone()
	if _, dup := b.index[cp.ID]; dup {
		// Two live records under one id would make cancel ambiguous.
		panic(fmt.Sprintf("BOOK_DUPLICATE_ORDER_ID: %d on %s", cp.ID, b.symbol))
	}
	b.arrival++
	r := &resting{ord: &cp, arrival: b.arrival}
	b.ladderFor(o.Buy).Set(r)
	b.index[cp.ID] = r
}

func (b *Book) validate(o *domain.Order, want domain.Kind) error {
	if o.Kind != want {
		return fmt.Errorf("%w: %s order routed to %s insert", ErrInvalidOrder, o.Kind, want)
	}
	if o.Qty <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Qty)
	}
	if o.Symbol != b.symbol {
		return fmt.Errorf("%w: symbol %s routed to book %s", ErrInvalidOrder, o.Symbol, b.symbol)
	}
	if o.ID == 0 {
		slog.Warn("BOOK_UNASSIGNED_ORDER_ID", slog.String("order", o.String()))
	}
	if _, dup := b.index[o.ID]; dup {
		return fmt.Errorf("%w: id %d already resting", ErrInvalidOrder, o.ID)
	}
	return nil
}

func (b *Book) ladderFor(buy bool) *btree.BTreeG[*resting] {
	if buy {
		return b.bids
	}
	return b.asks
}

// BestBid returns a copy of the highest-priority resting bid.
func (b *Book) BestBid() (domain.Order, bool) {
	if r, ok := b.bids.Min(); ok {
		return r.ord.Clone(), true
	}
	return domain.Order{}, false
}

// BestAsk returns a copy of the highest-priority resting ask.
func (b *Book) BestAsk() (domain.Order, bool) {
	if r, ok := b.asks.Min(); ok {
		return r.ord.Clone(), true
	}
	return domain.Order{}, false
}

// BidLevels returns aggregated bid levels, best (highest) first.
func (b *Book) BidLevels() []Level { return levels(b.bids) }

// AskLevels returns aggregated ask levels, best (lowest) first.
func (b *Book) AskLevels() []Level { return levels(b.asks) }

func levels(tr *btree.BTreeG[*resting]) []Level {
	var out []Level
	tr.Scan(func(r *resting) bool {
		n := len(out)
		if n > 0 && out[n-1].Price == r.ord.LimitPrice {
			out[n-1].Qty += r.ord.Qty
		} else {
			out = append(out, Level{Price: r.ord.LimitPrice, Qty: r.ord.Qty})
		}
		return true
	})
	return out
}

// Depth returns the number of resting orders on both sides.
func (b *Book) Depth() int { return b.bids.Len() + b.asks.Len() }

func sideName(buy bool) string {
	if buy {
		return "BUY"
	}
	return "SELL"
}
