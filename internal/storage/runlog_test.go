package storage

import (
	"context"
	"path/filepath"
	"testing"

	"marketsim/internal/domain"
	"marketsim/internal/event"
	"marketsim/pkg/quant"
)

func openLog(t *testing.T) (*RunLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := NewRunLog(path)
	if err != nil {
		t.Fatalf("NewRunLog: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func sampleFill(ts quant.TimeStamp) domain.Fill {
	return domain.Fill{
		Symbol:      "ABM",
		BuyOrderID:  1,
		SellOrderID: 2,
		BuyAgentID:  10,
		SellAgentID: 11,
		Price:       10050,
		Qty:         5,
		Time:        ts,
	}
}

func TestRunLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, path := openLog(t)

	runID, err := l.BeginRun(ctx, 42, 0, "{}")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	l.OnFill(sampleFill(100))
	price := quant.PriceCents(10050)
	l.OnNotice(10, 100, event.ExecNotice{
		Kind:      event.NoticeExecuted,
		Symbol:    "ABM",
		OrderID:   1,
		FillPrice: &price,
		Qty:       5,
	})

	r, err := NewReplayer(path)
	if err != nil {
		t.Fatalf("NewReplayer: %v", err)
	}
	defer r.Close()

	events, err := r.LoadEvents(ctx, runID, 1)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	if events[0].Kind != EvFill || events[0].Fill == nil {
		t.Fatalf("event 0 = %+v, want fill", events[0])
	}
	if events[0].Fill.Fill != sampleFill(100) {
		t.Errorf("fill round trip = %+v", events[0].Fill.Fill)
	}
	if want := sampleFill(100).Notional(); events[0].Fill.Notional != want {
		t.Errorf("notional = %d, want %d", events[0].Fill.Notional, want)
	}

	if events[1].Kind != EvNotice || events[1].Notice == nil {
		t.Fatalf("event 1 = %+v, want notice", events[1])
	}
	n := events[1].Notice
	if n.AgentID != 10 || n.Kind != "EXECUTED" || n.OrderID != 1 || n.FillPrice == nil || *n.FillPrice != 10050 {
		t.Errorf("notice round trip = %+v", n)
	}
}

func TestFingerprintMatchesForIdenticalRuns(t *testing.T) {
	ctx := context.Background()
	l, path := openLog(t)

	record := func() string {
		id, err := l.BeginRun(ctx, 7, 0, "{}")
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 10; i++ {
			l.OnFill(sampleFill(quant.TimeStamp(i * 10)))
		}
		return id
	}

	run1, run2 := record(), record()

	r, err := NewReplayer(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	f1, err := r.Fingerprint(ctx, run1)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := r.Fingerprint(ctx, run2)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Errorf("identical runs fingerprint differently: %d vs %d", f1, f2)
	}

	runs, err := r.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %v", runs)
	}
}

func TestFingerprintDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	l, path := openLog(t)

	run1, _ := l.BeginRun(ctx, 7, 0, "{}")
	l.OnFill(sampleFill(10))

	run2, _ := l.BeginRun(ctx, 7, 0, "{}")
	diverged := sampleFill(10)
	diverged.Price = 9999
	l.OnFill(diverged)

	r, err := NewReplayer(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	f1, _ := r.Fingerprint(ctx, run1)
	f2, _ := r.Fingerprint(ctx, run2)
	if f1 == f2 {
		t.Error("diverged runs must fingerprint differently")
	}
}
