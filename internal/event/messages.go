package event

import (
	"fmt"

	"marketsim/pkg/quant"
)

// Message is the payload delivered to an agent by the kernel. The set of
// message types is closed; agents switch on the concrete type.
type Message interface {
	MessageKind() string
}

// Wakeup is a self-scheduled timer delivery with no body.
type Wakeup struct{}

func (Wakeup) MessageKind() string { return "WAKEUP" }

// NoticeKind classifies execution notices.
type NoticeKind uint8

const (
	NoticeExecuted NoticeKind = iota + 1
	NoticeAcked
	NoticeCancelled
	NoticeRejected
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeExecuted:
		return "EXECUTED"
	case NoticeAcked:
		return "ACKED"
	case NoticeCancelled:
		return "CANCELLED"
	case NoticeRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("NOTICE(%d)", uint8(k))
}

// ExecNotice tells an agent what happened to one of its orders. FillPrice
// is nil unless Kind is NoticeExecuted; Reason is empty unless Kind is
// NoticeRejected.
type ExecNotice struct {
	Kind      NoticeKind
	Symbol    string
	OrderID   uint64
	FillPrice *quant.PriceCents
	Qty       quant.Qty
	Reason    string
}

func (n ExecNotice) MessageKind() string { return n.Kind.String() }
