// Package replay loads historical L3 order streams that drive the
// market-replay agent. Parsed streams are cached in sqlite so repeat runs
// over the same window skip the CSV parse.
package replay

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	_ "github.com/glebarez/go-sqlite"

	"marketsim/pkg/quant"
)

// Record is one historical order-flow action. Type "R" is a resting-order
// record; a Qty of zero against a known id encodes a cancellation, a
// positive Qty against a known id encodes a modification.
type Record struct {
	Ts      quant.TimeStamp
	Type    string
	OrderID uint64
	Qty     quant.Qty
	Price   quant.PriceCents
	Buy     bool
}

// Stream is an ordered view over the records: distinct ascending
// timestamps, with same-timestamp records grouped in file order.
type Stream struct {
	Times  []quant.TimeStamp
	ByTime map[quant.TimeStamp][]Record
}

// Len returns the total number of records.
func (s *Stream) Len() int {
	n := 0
	for _, g := range s.ByTime {
		n += len(g)
	}
	return n
}

// Load reads the stream for [start, end) from csvPath, consulting and
// populating the sqlite cache at cachePath when it is non-empty.
//
// CSV rows: rfc3339_time,type,order_id,size,dollar_price,direction
// with direction one of BUY/SELL.
func Load(csvPath string, start, end quant.TimeStamp, cachePath string) (*Stream, error) {
	if cachePath != "" {
		if st, err := loadCache(cachePath, csvPath, start, end); err != nil {
			slog.Warn("REPLAY_CACHE_UNREADABLE", slog.String("path", cachePath), slog.Any("error", err))
		} else if st != nil {
			slog.Info("REPLAY_CACHE_HIT", slog.String("path", cachePath), slog.Int("records", st.Len()))
			return st, nil
		}
	}

	records, err := parseCSV(csvPath, start, end)
	if err != nil {
		return nil, err
	}
	slog.Info("REPLAY_STREAM_PARSED", slog.String("path", csvPath), slog.Int("records", len(records)))

	if cachePath != "" {
		if err := saveCache(cachePath, csvPath, start, end, records); err != nil {
			slog.Warn("REPLAY_CACHE_WRITE_FAILED", slog.String("path", cachePath), slog.Any("error", err))
		}
	}
	return group(records), nil
}

func parseCSV(path string, start, end quant.TimeStamp) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open orders file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var out []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: read %s: %w", path, err)
		}

		ts, err := quant.ParseTimeStamp(row[0])
		if err != nil {
			return nil, fmt.Errorf("replay: bad time %q: %w", row[0], err)
		}
		if ts < start || ts >= end {
			continue
		}
		id, err := strconv.ParseUint(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("replay: bad order id %q: %w", row[2], err)
		}
		size, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("replay: bad size %q: %w", row[3], err)
		}

		out = append(out, Record{
			Ts:      ts,
			Type:    row[1],
			OrderID: id,
			Qty:     quant.Qty(size),
			Price:   quant.ParsePriceCentsStr(row[4]),
			Buy:     row[5] == "BUY",
		})
	}
	return out, nil
}

func group(records []Record) *Stream {
	st := &Stream{ByTime: make(map[quant.TimeStamp][]Record)}
	for _, rec := range records {
		if _, seen := st.ByTime[rec.Ts]; !seen {
			st.Times = append(st.Times, rec.Ts)
		}
		st.ByTime[rec.Ts] = append(st.ByTime[rec.Ts], rec)
	}
	// The source stream is time-sorted already; sort anyway so a shuffled
	// input cannot corrupt the wakeup plan.
	sort.Slice(st.Times, func(i, j int) bool { return st.Times[i] < st.Times[j] })
	return st
}

// cacheKey identifies a cached parse: same source and same window.
func cacheKey(csvPath string, start, end quant.TimeStamp) string {
	return fmt.Sprintf("%s|%d|%d", csvPath, start, end)
}

func openCache(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replay: open cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS records (
			idx      INTEGER PRIMARY KEY,
			ts       INTEGER NOT NULL,
			typ      TEXT    NOT NULL,
			order_id INTEGER NOT NULL,
			qty      INTEGER NOT NULL,
			price    INTEGER NOT NULL,
			buy      INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("replay: init cache schema: %w", err)
	}
	return db, nil
}

func loadCache(path, csvPath string, start, end quant.TimeStamp) (*Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil // no cache yet
	}
	db, err := openCache(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var key string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'source'`).Scan(&key)
	if err == sql.ErrNoRows || (err == nil && key != cacheKey(csvPath, start, end)) {
		return nil, nil // cache built for a different source/window
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT ts, typ, order_id, qty, price, buy FROM records ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var buy int
		if err := rows.Scan(&rec.Ts, &rec.Type, &rec.OrderID, &rec.Qty, &rec.Price, &buy); err != nil {
			return nil, err
		}
		rec.Buy = buy != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return group(records), nil
}

func saveCache(path, csvPath string, start, end quant.TimeStamp, records []Record) error {
	db, err := openCache(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('source', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cacheKey(csvPath, start, end)); err != nil {
		return err
	}
	for i, rec := range records {
		buy := 0
		if rec.Buy {
			buy = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO records (idx, ts, typ, order_id, qty, price, buy) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i, rec.Ts, rec.Type, rec.OrderID, rec.Qty, rec.Price, buy); err != nil {
			return err
		}
	}
	return tx.Commit()
}
