// Package storage records simulation output in sqlite: every fill and
// every notice, in the exact order the kernel produced them, keyed by a
// per-run id. The log is append-only during a run and is the input for
// post-run analysis and determinism checks.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/pkg/quant"
)

// EventKind tags a logged row.
type EventKind uint16

const (
	EvFill EventKind = iota + 1
	EvNotice
)

// FillRecord is the logged form of a fill, carrying the derived notional
// value alongside the raw fill.
type FillRecord struct {
	domain.Fill
	Notional int64 `json:"notional"`
}

// NoticeRecord is the logged form of an ExecNotice delivery.
type NoticeRecord struct {
	AgentID   int               `json:"agent_id"`
	Kind      string            `json:"kind"`
	Symbol    string            `json:"symbol"`
	OrderID   uint64            `json:"order_id"`
	FillPrice *quant.PriceCents `json:"fill_price,omitempty"`
	Qty       quant.Qty         `json:"qty"`
	Reason    string            `json:"reason,omitempty"`
}

// RunLog is a single-writer sqlite log, WAL mode, one writer per run.
type RunLog struct {
	db    *sql.DB
	runID string
	seq   uint64
}

// NewRunLog opens (creating if needed) the run database at path.
func NewRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			seed       INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			config     TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS events (
			run_id  TEXT    NOT NULL,
			seq     INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			kind    INTEGER NOT NULL,
			payload BLOB    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", err)
	}

	return &RunLog{db: db}, nil
}

// BeginRun registers a new run and makes it the write target.
func (l *RunLog) BeginRun(ctx context.Context, seed int64, createdAt quant.TimeStamp, config string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (id, seed, created_at, config) VALUES (?, ?, ?, ?)",
		id, seed, createdAt, config)
	if err != nil {
		return "", fmt.Errorf("storage: begin run: %w", err)
	}
	l.runID = id
	l.seq = 0
	slog.Info("RUN_LOG_STARTED", slog.String("run_id", id), slog.Int64("seed", seed))
	return id, nil
}

// RunID returns the active run id.
func (l *RunLog) RunID() string { return l.runID }

// OnFill implements kernel.Observer. Log-first policy: a persistence
// failure mid-run invalidates the output, so it halts loudly.
func (l *RunLog) OnFill(f domain.Fill) {
	l.append(EvFill, f.Time, FillRecord{Fill: f, Notional: f.Notional()})
}

// OnNotice implements kernel.Observer.
func (l *RunLog) OnNotice(agentID int, now quant.TimeStamp, n event.ExecNotice) {
	l.append(EvNotice, now, NoticeRecord{
		AgentID:   agentID,
		Kind:      n.Kind.String(),
		Symbol:    n.Symbol,
		OrderID:   n.OrderID,
		FillPrice: n.FillPrice,
		Qty:       n.Qty,
		Reason:    n.Reason,
	})
}

func (l *RunLog) append(kind EventKind, ts quant.TimeStamp, payload any) {
	if l.runID == "" {
		panic("RUN_LOG_NOT_STARTED")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("RUN_LOG_MARSHAL_FAILURE: %v", err))
	}
	l.seq++
	if _, err := l.db.Exec(
		"INSERT INTO events (run_id, seq, ts, kind, payload) VALUES (?, ?, ?, ?, ?)",
		l.runID, l.seq, ts, kind, body); err != nil {
		panic(fmt.Sprintf("RUN_LOG_PERSISTENCE_FAILURE: %v", err))
	}
}

// Close releases the database handle.
func (l *RunLog) Close() error {
	return l.db.Close()
}
