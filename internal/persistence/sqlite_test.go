package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleCycle(id string, started time.Time) CycleRecord {
	return CycleRecord{
		CycleID:     id,
		Symbol:      "00700",
		Side:        types.SideBuy,
		Outcome:     "filled",
		Price:       decimal.RequireFromString("6.20"),
		Requested:   2000,
		Filled:      2000,
		Checks:      2,
		Reprices:    1,
		LastOrderID: "PAPER-2",
		StartedAt:   started,
		FinishedAt:  started.Add(6 * time.Second),
		Attempts: []AttemptRecord{
			{
				OrderID:     "PAPER-1",
				ClientID:    "c-1",
				Price:       decimal.RequireFromString("6.20"),
				Volume:      2000,
				Traded:      500,
				Status:      types.OrderStatusCancelled,
				SubmittedAt: started,
			},
			{
				OrderID:     "PAPER-2",
				ClientID:    "c-2",
				Price:       decimal.RequireFromString("6.21"),
				Volume:      1500,
				Traded:      1500,
				Status:      types.OrderStatusAllTraded,
				SubmittedAt: started.Add(3 * time.Second),
			},
		},
	}
}

func TestSQLiteRepository_Cycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.SaveCycle(ctx, sampleCycle("cyc-1", t0)); err != nil {
		t.Fatalf("SaveCycle() error = %v", err)
	}

	got, err := repo.GetCycle(ctx, "cyc-1")
	if err != nil {
		t.Fatalf("GetCycle() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected cycle")
	}

	if got.Side != types.SideBuy || got.Outcome != "filled" {
		t.Errorf("side/outcome = %s/%s, want BUY/filled", got.Side, got.Outcome)
	}
	if !got.Price.Equal(decimal.RequireFromString("6.20")) {
		t.Errorf("Price = %s, want 6.20", got.Price)
	}
	if got.Filled != 2000 || got.Reprices != 1 || got.Checks != 2 {
		t.Errorf("filled/reprices/checks = %d/%d/%d", got.Filled, got.Reprices, got.Checks)
	}
	if got.InFlightOrderID != "" || got.Error != "" {
		t.Errorf("nullable fields = %q/%q, want empty", got.InFlightOrderID, got.Error)
	}
	if !got.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, t0)
	}

	if len(got.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(got.Attempts))
	}
	a := got.Attempts[0]
	if a.Seq != 1 || a.OrderID != "PAPER-1" || a.Traded != 500 || a.Status != types.OrderStatusCancelled {
		t.Errorf("attempt[0] = %+v", a)
	}
	if got.Attempts[1].Seq != 2 || !got.Attempts[1].Price.Equal(decimal.RequireFromString("6.21")) {
		t.Errorf("attempt[1] = %+v", got.Attempts[1])
	}
}

func TestSQLiteRepository_SaveCycleReplacesAttempts(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	c := sampleCycle("cyc-1", t0)
	if err := repo.SaveCycle(ctx, c); err != nil {
		t.Fatalf("SaveCycle() error = %v", err)
	}

	c.Attempts = c.Attempts[:1]
	c.Outcome = "timed_out"
	c.InFlightOrderID = "PAPER-1"
	if err := repo.SaveCycle(ctx, c); err != nil {
		t.Fatalf("SaveCycle() second error = %v", err)
	}

	got, err := repo.GetCycle(ctx, "cyc-1")
	if err != nil {
		t.Fatalf("GetCycle() error = %v", err)
	}
	if got.Outcome != "timed_out" || got.InFlightOrderID != "PAPER-1" {
		t.Errorf("cycle = %+v, want updated", got)
	}
	if len(got.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(got.Attempts))
	}
}

func TestSQLiteRepository_RecentCycles(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		c := sampleCycle(id, t0.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			c.Symbol = "00005"
		}
		if err := repo.SaveCycle(ctx, c); err != nil {
			t.Fatalf("SaveCycle(%s) error = %v", id, err)
		}
	}

	all, err := repo.RecentCycles(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(all) != 3 || all[0].CycleID != "c" || all[2].CycleID != "a" {
		t.Errorf("order = %v, want newest first", ids(all))
	}
	if len(all[0].Attempts) != 2 {
		t.Errorf("attempts not loaded: %d", len(all[0].Attempts))
	}

	bySymbol, err := repo.RecentCycles(ctx, "00700", 1)
	if err != nil {
		t.Fatalf("RecentCycles() error = %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].CycleID != "c" {
		t.Errorf("by symbol = %v, want [c]", ids(bySymbol))
	}
}

func ids(cs []CycleRecord) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.CycleID
	}
	return out
}

func TestSQLiteRepository_CycleStats(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	records := []CycleRecord{
		sampleCycle("b1", t0),
		sampleCycle("b2", t0.Add(time.Minute)),
		sampleCycle("s1", t0.Add(2*time.Minute)),
		sampleCycle("old", t0.Add(-48*time.Hour)),
	}
	records[2].Side = types.SideSell
	records[2].Outcome = "timed_out"
	records[2].Filled = 800

	for _, c := range records {
		if err := repo.SaveCycle(ctx, c); err != nil {
			t.Fatalf("SaveCycle(%s) error = %v", c.CycleID, err)
		}
	}

	stats, err := repo.CycleStats(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("CycleStats() error = %v", err)
	}

	want := []OutcomeCount{
		{Side: types.SideBuy, Outcome: "filled", Cycles: 2, Filled: 4000},
		{Side: types.SideSell, Outcome: "timed_out", Cycles: 1, Filled: 800},
	}
	if len(stats) != len(want) {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

func TestSQLiteRepository_NoData(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	c, err := repo.GetCycle(ctx, "missing")
	if err != nil || c != nil {
		t.Errorf("GetCycle() = %v, %v; want nil, nil", c, err)
	}

	s, err := repo.GetState(ctx, "00700")
	if err != nil || s != nil {
		t.Errorf("GetState() = %v, %v; want nil, nil", s, err)
	}

	cycles, err := repo.RecentCycles(ctx, "", 0)
	if err != nil || len(cycles) != 0 {
		t.Errorf("RecentCycles() = %v, %v; want empty", cycles, err)
	}
}
