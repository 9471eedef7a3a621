package book

import (
	"errors"
	"testing"

	"marketsim/internal/domain"
	"marketsim/pkg/quant"
)

const sym = "ABM"

var nextID uint64

func limit(t *testing.T, b *Book, agent int, qty quant.Qty, buy bool, price quant.PriceCents, now quant.TimeStamp) (uint64, []domain.Fill) {
	t.Helper()
	nextID++
	o := domain.NewLimitOrder(agent, now, sym, qty, buy, price)
	o.ID = nextID
	fills, err := b.InsertLimit(&o, now)
	if err != nil {
		t.Fatalf("InsertLimit(%v): %v", o, err)
	}
	return o.ID, fills
}

func TestMarketableLimitWalksLadder(t *testing.T) {
	b := New(sym)

	// Resting asks: (100, qty 5) then (101, qty 5).
	limit(t, b, 1, 5, false, 100, 0)
	askID2, _ := limit(t, b, 1, 5, false, 101, 1)

	// Incoming buy qty 8 @ limit 101.
	nextID++
	o := domain.NewLimitOrder(2, 2, sym, 8, true, 101)
	o.ID = nextID
	fills, err := b.InsertLimit(&o, 2)
	if err != nil {
		t.Fatalf("InsertLimit: %v", err)
	}

	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].Price != 100 || fills[0].Qty != 5 {
		t.Errorf("fill 0 = (%d, %d), want (100, 5)", fills[0].Price, fills[0].Qty)
	}
	if fills[1].Price != 101 || fills[1].Qty != 3 {
		t.Errorf("fill 1 = (%d, %d), want (101, 3)", fills[1].Price, fills[1].Qty)
	}

	// Remaining ask: (101, qty 2); the buy rests nowhere.
	best, ok := b.BestAsk()
	if !ok || best.LimitPrice != 101 || best.Qty != 2 || best.ID != askID2 {
		t.Errorf("best ask = %+v, want id %d (101, 2)", best, askID2)
	}
	if _, ok := b.BestBid(); ok {
		t.Error("fully consumed incoming buy must not rest")
	}
}

func TestFillsExecuteAtRestingPrice(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 10, true, 105, 0) // resting bid @ 105

	// Aggressive sell @ 100 executes at the resting 105, not at 100.
	nextID++
	o := domain.NewLimitOrder(2, 1, sym, 10, false, 100)
	o.ID = nextID
	fills, err := b.InsertLimit(&o, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].Price != 105 {
		t.Fatalf("fills = %+v, want one fill @ 105", fills)
	}
}

func TestTimePriorityAtSamePrice(t *testing.T) {
	b := New(sym)
	first, _ := limit(t, b, 1, 5, false, 100, 0)
	second, _ := limit(t, b, 2, 5, false, 100, 1)

	nextID++
	o := domain.NewLimitOrder(3, 2, sym, 5, true, 100)
	o.ID = nextID
	fills, err := b.InsertLimit(&o, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].SellOrderID != first {
		t.Errorf("matched sell #%d, want earliest #%d", fills[0].SellOrderID, first)
	}
	if best, _ := b.BestAsk(); best.ID != second {
		t.Errorf("remaining best ask #%d, want #%d", best.ID, second)
	}
}

func TestNonCrossingOrderRests(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 5, false, 101, 0)
	bidID, fills := limit(t, b, 2, 5, true, 100, 1)

	if len(fills) != 0 {
		t.Fatalf("non-crossing bid produced fills: %+v", fills)
	}
	best, ok := b.BestBid()
	if !ok || best.ID != bidID {
		t.Error("non-crossing bid should rest on its own side")
	}
}

func TestCancel(t *testing.T) {
	b := New(sym)
	id, _ := limit(t, b, 1, 5, false, 100, 0)

	got, err := b.Cancel(id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.ID != id || got.Qty != 5 {
		t.Errorf("cancelled = %+v", got)
	}
	if b.Depth() != 0 {
		t.Error("book not empty after cancel")
	}
}

func TestCancelNotFoundLeavesBookUnchanged(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 5, false, 100, 0)
	limit(t, b, 1, 7, true, 90, 1)

	bidsBefore, asksBefore := b.BidLevels(), b.AskLevels()

	_, err := b.Cancel(99999)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}

	if !levelsEqual(b.BidLevels(), bidsBefore) || !levelsEqual(b.AskLevels(), asksBefore) {
		t.Error("failed cancel mutated the book")
	}
}

func TestMarketOrder(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 5, true, 100, 0)
	limit(t, b, 1, 5, true, 99, 0)

	nextID++
	o := domain.NewMarketOrder(2, 1, sym, 8, false)
	o.ID = nextID
	fills, err := b.InsertMarket(&o, 1)
	if err != nil {
		t.Fatalf("InsertMarket: %v", err)
	}
	if len(fills) != 2 || fills[0].Price != 100 || fills[0].Qty != 5 || fills[1].Price != 99 || fills[1].Qty != 3 {
		t.Fatalf("fills = %+v", fills)
	}
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 5, false, 100, 0) // asks only

	nextID++
	o := domain.NewMarketOrder(2, 1, sym, 5, false) // sell into empty bids
	o.ID = nextID
	fills, err := b.InsertMarket(&o, 1)
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("err = %v, want ErrNoLiquidity", err)
	}
	if len(fills) != 0 {
		t.Errorf("fills = %+v, want none", fills)
	}
	if len(b.AskLevels()) != 1 {
		t.Error("book changed by rejected market order")
	}
}

func TestMarketOrderPartialLiquidity(t *testing.T) {
	b := New(sym)
	limit(t, b, 1, 3, true, 100, 0)

	nextID++
	o := domain.NewMarketOrder(2, 1, sym, 8, false)
	o.ID = nextID
	fills, err := b.InsertMarket(&o, 1)
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("err = %v, want ErrNoLiquidity after partial execution", err)
	}
	if len(fills) != 1 || fills[0].Qty != 3 {
		t.Fatalf("fills = %+v, want one fill of 3", fills)
	}
	if b.Depth() != 0 {
		t.Error("market order remainder must not rest")
	}
}

func TestModifyLosesTimePriority(t *testing.T) {
	b := New(sym)
	modified, _ := limit(t, b, 1, 5, false, 100, 0)
	stayed, _ := limit(t, b, 2, 5, false, 100, 1)

	repl := domain.NewLimitOrder(1, 2, sym, 4, false, 100)
	repl.ID = modified
	if _, err := b.Modify(modified, &repl, 2); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	// The unmodified order now holds priority at 100.
	if best, _ := b.BestAsk(); best.ID != stayed {
		t.Errorf("best ask #%d, want #%d to have gained priority", best.ID, stayed)
	}
}

func TestModifyCannotSelfMatch(t *testing.T) {
	b := New(sym)
	id, _ := limit(t, b, 1, 5, true, 100, 0)

	// Repriced to cross its own old slot: old slot is vacated first, so
	// the replacement simply rests.
	repl := domain.NewLimitOrder(1, 1, sym, 5, false, 95)
	repl.ID = id
	fills, err := b.Modify(id, &repl, 1)
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if len(fills) != 0 {
		t.Errorf("modify self-matched: %+v", fills)
	}
	if _, ok := b.BestBid(); ok {
		t.Error("old bid slot should be vacated")
	}
}

func TestModifyUnknownID(t *testing.T) {
	b := New(sym)
	repl := domain.NewLimitOrder(1, 0, sym, 5, false, 95)
	repl.ID = 424242
	if _, err := b.Modify(424242, &repl, 0); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestInvalidOrders(t *testing.T) {
	b := New(sym)

	tests := []struct {
		name string
		o    domain.Order
	}{
		{"Zero Quantity", domain.NewLimitOrder(1, 0, sym, 0, true, 100)},
		{"Negative Quantity", domain.NewLimitOrder(1, 0, sym, -3, true, 100)},
		{"Wrong Symbol", domain.NewLimitOrder(1, 0, "OTHER", 5, true, 100)},
		{"Wrong Variant", domain.NewMarketOrder(1, 0, sym, 5, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.o
			o.ID = 77777
			if _, err := b.InsertLimit(&o, 0); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
			if b.Depth() != 0 {
				t.Error("rejected order mutated the book")
			}
		})
	}
}

func TestPartialFillReplacesRestingRecord(t *testing.T) {
	b := New(sym)
	id, _ := limit(t, b, 1, 10, false, 100, 0)

	nextID++
	o := domain.NewLimitOrder(2, 1, sym, 4, true, 100)
	o.ID = nextID
	if _, err := b.InsertLimit(&o, 1); err != nil {
		t.Fatal(err)
	}

	best, _ := b.BestAsk()
	if best.ID != id || best.Qty != 6 {
		t.Errorf("resting remainder = (#%d, %d), want (#%d, 6)", best.ID, best.Qty, id)
	}
	if best.FillPrice != nil {
		t.Error("remainder record must not carry a fill price")
	}
}

func levelsEqual(a, b []Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func BenchmarkInsertLimit(b *testing.B) {
	b.ReportAllocs()
	bk := New(sym)
	for i := 0; i < b.N; i++ {
		buy := i%2 == 0
		price := quant.PriceCents(100 + i%5)
		o := domain.NewLimitOrder(1, quant.TimeStamp(i), sym, 1, buy, price)
		o.ID = uint64(1_000_000 + i)
		_, _ = bk.InsertLimit(&o, quant.TimeStamp(i))
	}
}
