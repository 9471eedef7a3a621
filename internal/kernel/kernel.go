package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"marketsim/internal/agent"
	"marketsim/internal/book"
	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/pkg/quant"
)

// Observer receives fills and notices as the kernel produces them. Used by
// the run log and the trade stream; observers must not mutate anything.
type Observer interface {
	OnFill(f domain.Fill)
	OnNotice(agentID int, now quant.TimeStamp, n event.ExecNotice)
}

// DepthObserver optionally receives an aggregated depth snapshot after
// each book mutation. Snapshots are taken inside the delivery step, so
// observers never see (or hold) a live book.
type DepthObserver interface {
	OnDepth(symbol string, bids, asks []book.Level)
}

// Kernel drives simulated time forward by delivering queued events one at
// a time. It is the sole owner of the event queue, the virtual clock, and
// every order book: all book mutation happens synchronously inside a
// delivery step, so the whole simulation is single-threaded by
// construction and bit-reproducible for a given seed and agent set.
type Kernel struct {
	name  string
	queue *event.Queue
	books map[string]*book.Book

	agents   map[int]agent.Agent
	agentIDs []int // sorted, for deterministic startup

	ids idAllocator
	now quant.TimeStamp
	end quant.TimeStamp

	observers []Observer
	depthObs  []DepthObserver

	delivered int
	fills     int
}

// New creates a kernel covering simulated time [start, end].
func New(name string, start, end quant.TimeStamp) *Kernel {
	return &Kernel{
		name:   name,
		queue:  event.NewQueue(start),
		books:  make(map[string]*book.Book),
		agents: make(map[int]agent.Agent),
		now:    start,
		end:    end,
	}
}

// AddSymbol opens an order book for symbol.
func (k *Kernel) AddSymbol(symbol string) {
	k.books[symbol] = book.New(symbol)
}

// AddAgent registers a participant. Agent ids must be unique.
func (k *Kernel) AddAgent(a agent.Agent) error {
	if _, dup := k.agents[a.ID()]; dup {
		return fmt.Errorf("duplicate agent id %d", a.ID())
	}
	k.agents[a.ID()] = a
	k.agentIDs = append(k.agentIDs, a.ID())
	sort.Ints(k.agentIDs)
	return nil
}

// AddObserver attaches a fill/notice observer. Observers that also
// implement DepthObserver additionally receive depth snapshots.
func (k *Kernel) AddObserver(o Observer) {
	k.observers = append(k.observers, o)
	if d, ok := o.(DepthObserver); ok {
		k.depthObs = append(k.depthObs, d)
	}
}

// Now returns current simulated time.
func (k *Kernel) Now() quant.TimeStamp { return k.now }

// Book exposes the book for a symbol. The book is owned by the kernel's
// delivery loop; callers on other goroutines must not touch it while the
// simulation runs (depth snapshots go through DepthObserver instead).
func (k *Kernel) Book(symbol string) (*book.Book, bool) {
	b, ok := k.books[symbol]
	return b, ok
}

// Run executes the event loop until the queue drains, the next event is
// past the end time, or ctx is cancelled. It returns the final simulated
// time (the due time of the last delivered event).
func (k *Kernel) Run(ctx context.Context) (quant.TimeStamp, error) {
	slog.Info("KERNEL_START",
		slog.String("name", k.name),
		slog.String("start", k.now.String()),
		slog.String("end", k.end.String()),
		slog.Int("agents", len(k.agents)))

	// Agents seed their first wakeups in id order so startup is
	// deterministic regardless of registration order.
	for _, id := range k.agentIDs {
		k.applyAll(id, k.agents[id].Start(k.now))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("KERNEL_INTERRUPTED", slog.String("at", k.now.String()))
			return k.now, ctx.Err()
		default:
		}

		it, ok := k.queue.PopNext()
		if !ok {
			break
		}
		if it.Due > k.end {
			slog.Info("KERNEL_END_TIME_REACHED",
				slog.String("undelivered_due", it.Due.String()))
			break
		}

		k.now = it.Due
		k.deliver(it)
	}

	slog.Info("KERNEL_STOPPED",
		slog.String("final_time", k.now.String()),
		slog.Int("delivered", k.delivered),
		slog.Int("fills", k.fills))
	return k.now, nil
}

func (k *Kernel) deliver(it event.Item) {
	ag, ok := k.agents[it.Recipient]
	if !ok {
		slog.Warn("KERNEL_UNKNOWN_RECIPIENT", slog.Int("agent", it.Recipient))
		return
	}
	k.delivered++
	k.applyAll(it.Recipient, ag.OnEvent(k.now, it.Payload))
}

func (k *Kernel) applyAll(agentID int, actions []agent.Action) {
	for _, a := range actions {
		k.apply(agentID, a)
	}
}

func (k *Kernel) apply(agentID int, a agent.Action) {
	switch act := a.(type) {
	case agent.ScheduleWakeup:
		if err := k.queue.Schedule(act.At, agentID, event.Wakeup{}); err != nil {
			slog.Warn("KERNEL_INVALID_WAKEUP",
				slog.Int("agent", agentID), slog.Any("error", err))
			k.notify(agentID, event.ExecNotice{Kind: event.NoticeRejected, Reason: err.Error()})
		}
	case agent.PlaceOrder:
		k.place(agentID, act.Order)
	case agent.ModifyOrder:
		k.modify(agentID, act)
	case agent.CancelOrder:
		k.cancel(agentID, act)
	default:
		// A new action type without kernel support is a programming
		// error, not agent misbehavior.
		panic(fmt.Sprintf("KERNEL_UNKNOWN_ACTION: %T", a))
	}
}

func (k *Kernel) place(agentID int, ord domain.Order) {
	ord.AgentID = agentID
	ord.TimePlaced = k.now
	if ord.ID == 0 {
		ord.ID = k.ids.next()
	}

	if ord.Kind == domain.KindBasket {
		k.settleBasket(agentID, ord)
		return
	}

	bk, ok := k.books[ord.Symbol]
	if !ok {
		k.reject(agentID, ord.Symbol, ord.ID, fmt.Sprintf("unknown symbol %s", ord.Symbol))
		return
	}

	var (
		fills []domain.Fill
		err   error
	)
	switch ord.Kind {
	case domain.KindLimit:
		fills, err = bk.InsertLimit(&ord, k.now)
	case domain.KindMarket:
		fills, err = bk.InsertMarket(&ord, k.now)
	default:
		err = fmt.Errorf("%w: kind %s", book.ErrInvalidOrder, ord.Kind)
	}

	k.notifyFills(fills)
	k.publishDepth(bk)

	switch {
	case err != nil:
		// Recoverable by definition; partial market executions have
		// already been notified above.
		k.reject(agentID, ord.Symbol, ord.ID, err.Error())
	case ord.Kind == domain.KindLimit && sumQty(fills) < ord.Qty:
		// Remainder rested: acknowledge the resting record.
		k.notify(agentID, event.ExecNotice{
			Kind:    event.NoticeAcked,
			Symbol:  ord.Symbol,
			OrderID: ord.ID,
			Qty:     ord.Qty - sumQty(fills),
		})
	}
}

// settleBasket settles a basket creation/redemption immediately: it never
// touches a book, and the fill price was set by the submitter's external
// settlement logic. The order record merely carries that result.
func (k *Kernel) settleBasket(agentID int, ord domain.Order) {
	if ord.Qty <= 0 {
		k.reject(agentID, ord.Symbol, ord.ID, fmt.Sprintf("invalid basket quantity %d", ord.Qty))
		return
	}
	if ord.FillPrice == nil {
		k.reject(agentID, ord.Symbol, ord.ID, "basket order missing settlement price")
		return
	}
	k.notify(agentID, event.ExecNotice{
		Kind:      event.NoticeExecuted,
		Symbol:    ord.Symbol,
		OrderID:   ord.ID,
		FillPrice: ord.FillPrice,
		Qty:       ord.Qty,
	})
}

func (k *Kernel) modify(agentID int, act agent.ModifyOrder) {
	repl := act.Replacement
	repl.AgentID = agentID
	repl.ID = act.OrderID
	repl.TimePlaced = k.now

	bk, ok := k.books[repl.Symbol]
	if !ok {
		k.reject(agentID, repl.Symbol, repl.ID, fmt.Sprintf("unknown symbol %s", repl.Symbol))
		return
	}
	// Validate the replacement before vacating the old slot, so a
	// malformed modify cannot destroy the resting order.
	if repl.Kind != domain.KindLimit || repl.Qty <= 0 {
		k.reject(agentID, repl.Symbol, repl.ID, "invalid replacement order")
		return
	}

	fills, err := bk.Modify(act.OrderID, &repl, k.now)
	k.notifyFills(fills)
	k.publishDepth(bk)

	switch {
	case err != nil:
		k.reject(agentID, repl.Symbol, repl.ID, err.Error())
	case sumQty(fills) < repl.Qty:
		k.notify(agentID, event.ExecNotice{
			Kind:    event.NoticeAcked,
			Symbol:  repl.Symbol,
			OrderID: repl.ID,
			Qty:     repl.Qty - sumQty(fills),
		})
	}
}

func (k *Kernel) cancel(agentID int, act agent.CancelOrder) {
	bk, ok := k.books[act.Symbol]
	if !ok {
		k.reject(agentID, act.Symbol, act.OrderID, fmt.Sprintf("unknown symbol %s", act.Symbol))
		return
	}

	ord, err := bk.Cancel(act.OrderID)
	if err != nil {
		if errors.Is(err, book.ErrOrderNotFound) {
			// Common benign race inside a tick: the order executed
			// before the cancel was delivered.
			slog.Debug("KERNEL_CANCEL_NOT_FOUND",
				slog.Int("agent", agentID), slog.Uint64("order", act.OrderID))
		}
		k.reject(agentID, act.Symbol, act.OrderID, err.Error())
		return
	}
	k.notify(agentID, event.ExecNotice{
		Kind:    event.NoticeCancelled,
		Symbol:  act.Symbol,
		OrderID: ord.ID,
		Qty:     ord.Qty,
	})
	k.publishDepth(bk)
}

// publishDepth hands a freshly aggregated snapshot to depth observers.
// The level slices are built here and never touched again, so observers
// may keep them across goroutines.
func (k *Kernel) publishDepth(bk *book.Book) {
	if len(k.depthObs) == 0 {
		return
	}
	bids, asks := bk.BidLevels(), bk.AskLevels()
	for _, d := range k.depthObs {
		d.OnDepth(bk.Symbol(), bids, asks)
	}
}

// notifyFills schedules an EXECUTED notice to both sides of every fill at
// the current time: fills become visible to agents on their next delivery,
// never through a synchronous callback.
func (k *Kernel) notifyFills(fills []domain.Fill) {
	for _, f := range fills {
		k.fills++
		for _, o := range k.observers {
			o.OnFill(f)
		}
		price := f.Price
		k.notify(f.BuyAgentID, event.ExecNotice{
			Kind:      event.NoticeExecuted,
			Symbol:    f.Symbol,
			OrderID:   f.BuyOrderID,
			FillPrice: &price,
			Qty:       f.Qty,
		})
		sellPrice := f.Price
		k.notify(f.SellAgentID, event.ExecNotice{
			Kind:      event.NoticeExecuted,
			Symbol:    f.Symbol,
			OrderID:   f.SellOrderID,
			FillPrice: &sellPrice,
			Qty:       f.Qty,
		})
	}
}

func (k *Kernel) reject(agentID int, symbol string, orderID uint64, reason string) {
	k.notify(agentID, event.ExecNotice{
		Kind:    event.NoticeRejected,
		Symbol:  symbol,
		OrderID: orderID,
		Reason:  reason,
	})
}

func (k *Kernel) notify(agentID int, n event.ExecNotice) {
	for _, o := range k.observers {
		o.OnNotice(agentID, k.now, n)
	}
	if err := k.queue.Schedule(k.now, agentID, n); err != nil {
		// Same-tick scheduling can only fail if the clock ran backwards.
		panic(fmt.Sprintf("KERNEL_NOTIFY_FAILED: %v", err))
	}
}

func sumQty(fills []domain.Fill) quant.Qty {
	var total quant.Qty
	for _, f := range fills {
		total += f.Qty
	}
	return total
}
