package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/update"
)

func TestRecord_BoundsHistory(t *testing.T) {
	var state State
	for i := 0; i < MaxHistory+5; i++ {
		state.Record(update.Result{Stack: "prod", RunID: fmt.Sprintf("run-%d", i)})
	}

	record := state.Stacks["prod"]
	if len(record.History) != MaxHistory {
		t.Fatalf("expected %d runs, got %d", MaxHistory, len(record.History))
	}
	if record.History[0].RunID != "run-5" {
		t.Fatalf("expected oldest runs to be dropped, first is %s", record.History[0].RunID)
	}
	last, _ := record.Last()
	if last.RunID != fmt.Sprintf("run-%d", MaxHistory+4) {
		t.Fatalf("unexpected last run: %s", last.RunID)
	}
}

func TestRecord_KeepsLastHealthAcrossShortCircuit(t *testing.T) {
	var state State
	snapshot := &health.Snapshot{Running: 2, Total: 2, Status: health.StatusOK}
	state.Record(update.Result{Stack: "prod", State: update.StateSuccess, Health: snapshot})
	record := state.Record(update.Result{Stack: "prod", State: update.StateShortCircuit})

	if record.LastHealth == nil || record.LastHealth.Running != 2 {
		t.Fatalf("expected last health to survive, got %+v", record.LastHealth)
	}

	snapshot.Running = 0
	if record.LastHealth.Running != 2 {
		t.Fatalf("expected record to hold its own copy of the snapshot")
	}
}

func TestStackRecord_LastEmpty(t *testing.T) {
	if _, ok := (StackRecord{}).Last(); ok {
		t.Fatalf("expected no last run")
	}
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var state State
	state.Record(update.Result{Stack: "prod", RunID: "one", FinishedAt: time.Now()})
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded.Record(update.Result{Stack: "prod", RunID: "two"})

	again, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(again.Stacks["prod"].History); got != 1 {
		t.Fatalf("expected stored history to be unaffected, got %d runs", got)
	}
}
