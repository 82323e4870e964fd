package journal

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	run := &Run{ID: "run-1", Network: "anvil", State: "init", CreatedAt: 10}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("expected status to default to running, got %s", run.Status)
	}
	if err := store.Create(ctx, &Run{ID: "run-1"}); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := store.Transition(ctx, "run-1", Step{From: "init", To: "key_generated", Attributes: map[string]string{"signer": "0x1"}}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := store.Transition(ctx, "run-1", Step{From: "key_generated", To: "account_deployed", Attributes: map[string]string{"account": "0x2"}}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := store.Finish(ctx, "run-1", Completion{Status: StatusFailed, State: "account_deployed", ErrorCode: "CONFIRMATION_TIMEOUT", LastError: "timed out"}); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	stored, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusFailed || stored.State != "account_deployed" || stored.ErrorCode != "CONFIRMATION_TIMEOUT" {
		t.Fatalf("unexpected run: %+v", stored)
	}
	if len(stored.Steps) != 2 || stored.Steps[1].To != "account_deployed" {
		t.Fatalf("unexpected steps: %+v", stored.Steps)
	}
	if stored.Attributes["signer"] != "0x1" || stored.Attributes["account"] != "0x2" {
		t.Fatalf("attributes not merged: %+v", stored.Attributes)
	}

	stored.Attributes["signer"] = "mutated"
	again, _ := store.Get(ctx, "run-1")
	if again.Attributes["signer"] != "0x1" {
		t.Fatalf("store shares maps with callers")
	}
}

func TestMemoryStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Run{}); err == nil {
		t.Fatalf("expected empty ID to be rejected")
	}
	if err := store.Create(ctx, &Run{ID: "x", Status: "paused"}); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
	if err := store.Transition(ctx, "missing", Step{To: "key_generated"}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Finish(ctx, "missing", Completion{Status: StatusSucceeded}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Run{ID: id}); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(list))
	}
	all, _ := store.List(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("expected default limit to return all 3 runs, got %d", len(all))
	}
}
