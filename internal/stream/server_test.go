package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/internal/book"
	"marketsim/internal/domain"
	"marketsim/pkg/quant"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	h.Broadcast(7)

	if got := <-a.C(); got != 7 {
		t.Errorf("sub a = %d", got)
	}
	if got := <-b.C(); got != 7 {
		t.Errorf("sub b = %d", got)
	}

	h.Unsubscribe(a)
	if _, open := <-a.C(); open {
		t.Error("channel still open after unsubscribe")
	}
	if h.Len() != 1 {
		t.Errorf("len = %d, want 1", h.Len())
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub[int]()
	slow := h.Subscribe(1)

	h.Broadcast(1)
	h.Broadcast(2) // no room; must not block

	if got := <-slow.C(); got != 1 {
		t.Errorf("first = %d", got)
	}
	select {
	case v := <-slow.C():
		t.Errorf("unexpected second value %d", v)
	default:
	}
}

func TestDepthEndpointServesLatestSnapshot(t *testing.T) {
	s := NewServer()
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	s.OnDepth("ABM", []book.Level{{Price: 10000, Qty: 5}}, nil)
	s.OnDepth("ABM", []book.Level{{Price: 10000, Qty: 3}}, []book.Level{{Price: 10100, Qty: 2}})

	resp, err := srv.Client().Get(srv.URL + "/depth?symbol=ABM")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var msg DepthMsg
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.Bids) != 1 || msg.Bids[0].Price != 10000 || msg.Bids[0].Qty != 3 {
		t.Errorf("bids = %+v", msg.Bids)
	}
	if len(msg.Asks) != 1 || msg.Asks[0].Price != 10100 {
		t.Errorf("asks = %+v", msg.Asks)
	}

	resp2, err := srv.Client().Get(srv.URL + "/depth?symbol=NOPE")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != 404 {
		t.Errorf("unknown symbol status = %d", resp2.StatusCode)
	}
}

func TestDepthSafeUnderConcurrentPublish(t *testing.T) {
	s := NewServer()
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.OnDepth("ABM", []book.Level{{Price: 10000, Qty: quant.Qty(i + 1)}}, nil)
		}
	}()

	for i := 0; i < 50; i++ {
		resp, err := srv.Client().Get(srv.URL + "/depth?symbol=ABM")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode == 200 {
			var msg DepthMsg
			if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
				t.Fatal(err)
			}
			if len(msg.Bids) != 1 || msg.Bids[0].Qty < 1 {
				t.Fatalf("torn snapshot: %+v", msg)
			}
		}
		resp.Body.Close()
	}
	<-done
}

func TestTradeStreamDeliversFills(t *testing.T) {
	s := NewServer()
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/trades"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription registration races with the broadcast below; wait for
	// the hub to see the client.
	deadline := time.Now().Add(2 * time.Second)
	for s.trades.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.OnFill(domain.Fill{Symbol: "ABM", Price: 10050, Qty: 3, Time: 40})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string   `json:"type"`
		Data TradeMsg `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "trade" || msg.Data.Symbol != "ABM" || msg.Data.Price != 10050 || msg.Data.Qty != 3 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Data.Dollar != "$100.50" {
		t.Errorf("dollar = %q", msg.Data.Dollar)
	}
}
