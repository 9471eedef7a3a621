package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"marketsim/internal/book"
	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/pkg/quant"
)

// TradeMsg is the public form of one execution on the trade feed.
type TradeMsg struct {
	Symbol string           `json:"symbol"`
	Price  quant.PriceCents `json:"price"`
	Dollar string           `json:"dollar"`
	Qty    quant.Qty        `json:"qty"`
	Time   quant.TimeStamp  `json:"time"`
}

// DepthMsg is the public form of one side-aggregated book snapshot.
type DepthMsg struct {
	Symbol string       `json:"symbol"`
	Bids   []book.Level `json:"bids"`
	Asks   []book.Level `json:"asks"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Server exposes the running simulation over HTTP: a websocket trade
// feed and a depth snapshot endpoint. It consumes kernel output as an
// observer; it never touches a live book, only snapshots the kernel
// published, so HTTP requests cannot race the simulation loop.
type Server struct {
	trades *Hub[TradeMsg]

	mu    sync.RWMutex
	depth map[string]DepthMsg

	upgrader websocket.Upgrader
}

// NewServer builds an empty server; attach it to the kernel as an
// observer to feed it.
func NewServer() *Server {
	return &Server{
		trades:   NewHub[TradeMsg](),
		depth:    make(map[string]DepthMsg),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// OnFill implements the kernel observer: each fill becomes one message
// on the trade feed.
func (s *Server) OnFill(f domain.Fill) {
	s.trades.Broadcast(TradeMsg{
		Symbol: f.Symbol,
		Price:  f.Price,
		Dollar: f.Price.String(),
		Qty:    f.Qty,
		Time:   f.Time,
	})
}

// OnNotice implements the kernel observer. Notices are private to their
// recipient and are not published.
func (s *Server) OnNotice(int, quant.TimeStamp, event.ExecNotice) {}

// OnDepth implements the kernel depth observer: the snapshot replaces
// the served state for its symbol.
func (s *Server) OnDepth(symbol string, bids, asks []book.Level) {
	s.mu.Lock()
	s.depth[symbol] = DepthMsg{Symbol: symbol, Bids: bids, Asks: asks}
	s.mu.Unlock()
}

// Routes returns the server's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/trades", s.handleTradeStream)
	mux.HandleFunc("/depth", s.handleDepth)
	return mux
}

// ListenAndServe serves Routes on addr. Intended to run in its own
// goroutine alongside the simulation.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("STREAM_LISTENING", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Routes())
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("STREAM_UPGRADE_FAILED", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := s.trades.Subscribe(64)
	defer s.trades.Unsubscribe(sub)

	for trade := range sub.C() {
		if err := conn.WriteJSON(outbound{Type: "trade", Data: trade}); err != nil {
			return
		}
	}
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	s.mu.RLock()
	msg, ok := s.depth[symbol]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}
