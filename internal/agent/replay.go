package agent

import (
	"log/slog"

	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/internal/replay"
	"marketsim/pkg/quant"
)

// ExecutedTrade is one of the replay agent's own executions.
type ExecutedTrade struct {
	Price quant.PriceCents
	Qty   quant.Qty
}

// ReplayAgent re-submits a historical order stream against the simulated
// book: one wakeup per distinct historical timestamp, each translated
// into place/modify/cancel actions. It carries no strategy of its own.
type ReplayAgent struct {
	id     int
	symbol string
	stream *replay.Stream
	next   int // index of the next wakeup in stream.Times

	live      map[uint64]bool // ids we believe are resting
	executed  map[quant.TimeStamp][]ExecutedTrade
	lastTrade quant.PriceCents
}

// NewReplayAgent builds a replay agent for symbol over stream.
func NewReplayAgent(id int, symbol string, stream *replay.Stream) *ReplayAgent {
	return &ReplayAgent{
		id:       id,
		symbol:   symbol,
		stream:   stream,
		live:     make(map[uint64]bool),
		executed: make(map[quant.TimeStamp][]ExecutedTrade),
	}
}

func (a *ReplayAgent) ID() int { return a.id }

// Start schedules the first historical wakeup.
func (a *ReplayAgent) Start(start quant.TimeStamp) []Action {
	if len(a.stream.Times) == 0 {
		slog.Warn("REPLAY_AGENT_EMPTY_STREAM", slog.Int("agent", a.id))
		return nil
	}
	first := a.stream.Times[0]
	if first < start {
		first = start
	}
	return []Action{ScheduleWakeup{At: first}}
}

func (a *ReplayAgent) OnEvent(now quant.TimeStamp, msg event.Message) []Action {
	switch m := msg.(type) {
	case event.Wakeup:
		return a.onWakeup(now)
	case event.ExecNotice:
		a.onNotice(now, m)
	}
	return nil
}

func (a *ReplayAgent) onWakeup(now quant.TimeStamp) []Action {
	var out []Action
	for _, rec := range a.stream.ByTime[now] {
		if act, ok := a.translate(now, rec); ok {
			out = append(out, act)
		}
	}

	a.next++
	if a.next < len(a.stream.Times) {
		out = append(out, ScheduleWakeup{At: a.stream.Times[a.next]})
	} else {
		slog.Info("REPLAY_AGENT_DONE",
			slog.Int("agent", a.id), slog.String("last_order_at", now.String()))
	}
	return out
}

// translate maps one historical record onto an order action: an unknown
// id with positive size is a placement, a known id with size zero is a
// cancellation, and a known id with positive size is a modification.
func (a *ReplayAgent) translate(now quant.TimeStamp, rec replay.Record) (Action, bool) {
	known := a.live[rec.OrderID]
	switch {
	case !known && rec.Qty > 0 && rec.Type == "R":
		ord := domain.NewLimitOrder(a.id, now, a.symbol, rec.Qty, rec.Buy, rec.Price)
		ord.ID = rec.OrderID
		a.live[rec.OrderID] = true
		return PlaceOrder{Order: ord}, true
	case known && rec.Qty == 0:
		delete(a.live, rec.OrderID)
		return CancelOrder{Symbol: a.symbol, OrderID: rec.OrderID}, true
	case known && rec.Qty > 0:
		repl := domain.NewLimitOrder(a.id, now, a.symbol, rec.Qty, rec.Buy, rec.Price)
		repl.ID = rec.OrderID
		return ModifyOrder{OrderID: rec.OrderID, Replacement: repl}, true
	default:
		// Record types other than R (additions to hidden books etc.) are
		// not replayed.
		slog.Debug("REPLAY_AGENT_SKIPPED_RECORD",
			slog.Uint64("order", rec.OrderID), slog.String("type", rec.Type))
		return nil, false
	}
}

func (a *ReplayAgent) onNotice(now quant.TimeStamp, n event.ExecNotice) {
	switch n.Kind {
	case event.NoticeExecuted:
		if n.FillPrice != nil {
			a.executed[now] = append(a.executed[now], ExecutedTrade{Price: *n.FillPrice, Qty: n.Qty})
			a.lastTrade = *n.FillPrice
		}
	case event.NoticeRejected:
		// A rejected placement is not resting; forget it so a later
		// historical record for the same id reads as a fresh placement.
		delete(a.live, n.OrderID)
	}
}

// ExecutedTrades returns the agent's executions grouped by virtual time.
func (a *ReplayAgent) ExecutedTrades() map[quant.TimeStamp][]ExecutedTrade {
	return a.executed
}

// LastTrade returns the price of the agent's most recent execution.
func (a *ReplayAgent) LastTrade() quant.PriceCents { return a.lastTrade }
