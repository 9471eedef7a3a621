package agent

import (
	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/pkg/quant"
)

// Agent is the kernel's view of a market participant. Policy lives behind
// this interface; the kernel only delivers messages and applies the
// returned actions. Agents observe the world exclusively through delivered
// messages and must never touch shared state directly.
type Agent interface {
	ID() int

	// Start is called once before the event loop begins, in agent-id
	// order, and typically returns the agent's first wakeup.
	Start(start quant.TimeStamp) []Action

	// OnEvent is called once per delivered message. Returned actions are
	// applied by the kernel within the same delivery step.
	OnEvent(now quant.TimeStamp, msg event.Message) []Action
}

// Action is one request an agent hands back to the kernel.
type Action interface {
	isAction()
}

// PlaceOrder submits a new order. A zero Order.ID asks the kernel to
// assign one. Basket orders must arrive with FillPrice already set by the
// external settlement logic.
type PlaceOrder struct {
	Order domain.Order
}

// ModifyOrder replaces a resting order: logically cancel-then-reinsert at
// the current time, which forfeits the original time priority.
type ModifyOrder struct {
	OrderID     uint64
	Replacement domain.Order
}

// CancelOrder removes a resting order.
type CancelOrder struct {
	Symbol  string
	OrderID uint64
}

// ScheduleWakeup asks for a Wakeup delivery at At.
type ScheduleWakeup struct {
	At quant.TimeStamp
}

func (PlaceOrder) isAction()     {}
func (ModifyOrder) isAction()    {}
func (CancelOrder) isAction()    {}
func (ScheduleWakeup) isAction() {}
