package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"marketsim/pkg/quant"
)

// LoggedEvent is one decoded row of a recorded run.
type LoggedEvent struct {
	Seq    uint64
	Ts     quant.TimeStamp
	Kind   EventKind
	Fill   *FillRecord   // set when Kind == EvFill
	Notice *NoticeRecord // set when Kind == EvNotice
}

// Replayer reads a recorded run back in its original order. Two runs of
// the same configuration and seed must replay identically; Fingerprint
// collapses a run to a single comparable value for that check.
type Replayer struct {
	db *sql.DB
}

// NewReplayer opens the run database at path read-only usage.
func NewReplayer(path string) (*Replayer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	return &Replayer{db: db}, nil
}

// Runs lists recorded run ids, oldest first.
func (r *Replayer) Runs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadEvents returns the run's events from fromSeq (inclusive) in order.
func (r *Replayer) LoadEvents(ctx context.Context, runID string, fromSeq uint64) ([]LoggedEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT seq, ts, kind, payload FROM events WHERE run_id = ? AND seq >= ? ORDER BY seq ASC",
		runID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []LoggedEvent
	for rows.Next() {
		var (
			ev      LoggedEvent
			payload []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.Ts, &ev.Kind, &payload); err != nil {
			return nil, err
		}
		switch ev.Kind {
		case EvFill:
			var f FillRecord
			if err := json.Unmarshal(payload, &f); err != nil {
				return nil, fmt.Errorf("storage: decode fill seq %d: %w", ev.Seq, err)
			}
			ev.Fill = &f
		case EvNotice:
			var n NoticeRecord
			if err := json.Unmarshal(payload, &n); err != nil {
				return nil, fmt.Errorf("storage: decode notice seq %d: %w", ev.Seq, err)
			}
			ev.Notice = &n
		default:
			return nil, fmt.Errorf("storage: unknown event kind %d at seq %d", ev.Kind, ev.Seq)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Fingerprint hashes the run's full payload stream in sequence order.
func (r *Replayer) Fingerprint(ctx context.Context, runID string) (uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT payload FROM events WHERE run_id = ? ORDER BY seq ASC", runID)
	if err != nil {
		return 0, fmt.Errorf("storage: fingerprint: %w", err)
	}
	defer rows.Close()

	h := fnv.New64a()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return 0, err
		}
		h.Write(payload)
		h.Write([]byte{0})
	}
	return h.Sum64(), rows.Err()
}

// Close releases the database handle.
func (r *Replayer) Close() error {
	return r.db.Close()
}
