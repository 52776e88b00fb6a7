package s3

import (
	"bytes"
	"testing"

	"github.com/objectstream/objectstream/internal/buffer"
)

func TestPartitionRanges(t *testing.T) {
	parts := partitionRanges(100*MiB, 8*MiB)
	if len(parts) != 13 {
		t.Fatalf("100 MiB / 8 MiB = %d parts, want 13", len(parts))
	}
	var total int64
	for i, p := range parts {
		if p.index != i {
			t.Errorf("part %d has index %d", i, p.index)
		}
		if p.offset != int64(i)*8*MiB {
			t.Errorf("part %d offset = %d", i, p.offset)
		}
		total += p.length
	}
	if total != 100*MiB {
		t.Errorf("part lengths sum to %d, want %d", total, 100*MiB)
	}
	if last := parts[12]; last.length != 4*MiB {
		t.Errorf("last part length = %d, want %d", last.length, 4*MiB)
	}
}

func TestPartitionRanges_ExactMultiple(t *testing.T) {
	parts := partitionRanges(16*MiB, 8*MiB)
	if len(parts) != 2 {
		t.Fatalf("Expected 2 parts, got %d", len(parts))
	}
	if parts[1].length != 8*MiB {
		t.Errorf("Final part of an exact multiple = %d", parts[1].length)
	}
}

func TestPartitionRanges_Empty(t *testing.T) {
	parts := partitionRanges(0, 8*MiB)
	if len(parts) != 1 || parts[0].length != 0 {
		t.Errorf("Zero-byte object should yield one empty part, got %+v", parts)
	}
}

func TestOrderedSink_ReordersOutOfOrderParts(t *testing.T) {
	var out []byte
	ordered := newOrderedSink(func(p []byte) error {
		out = append(out, p...)
		return nil
	}, buffer.NewBudget(0))

	// Deliver 2, 0, 3, 1 — output must read 0123.
	if err := ordered.deliver(2, []byte("2")); err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatal("Nothing should be emitted before part 0 arrives")
	}
	if err := ordered.deliver(0, []byte("0")); err != nil {
		t.Fatal(err)
	}
	if err := ordered.deliver(3, []byte("3")); err != nil {
		t.Fatal(err)
	}
	if err := ordered.deliver(1, []byte("1")); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(out, []byte("0123")) {
		t.Errorf("Emission order = %q, want 0123", out)
	}
}

func TestOrderedSink_ReleasesBudget(t *testing.T) {
	budget := buffer.NewBudget(GiB)
	ordered := newOrderedSink(func([]byte) error { return nil }, budget)

	data := make([]byte, 1024)
	if !budget.TryAcquire(1024) {
		t.Fatal("charge failed")
	}
	if err := ordered.deliver(1, data); err != nil { // parked out of order
		t.Fatal(err)
	}
	if budget.Used() != 1024 {
		t.Errorf("Parked data should keep its charge, used = %d", budget.Used())
	}

	if !budget.TryAcquire(1024) {
		t.Fatal("charge failed")
	}
	if err := ordered.deliver(0, data); err != nil {
		t.Fatal(err)
	}
	if budget.Used() != 0 {
		t.Errorf("Emission should release all charges, used = %d", budget.Used())
	}
}

func TestOrderedSink_DrainPendingReleases(t *testing.T) {
	budget := buffer.NewBudget(GiB)
	ordered := newOrderedSink(func([]byte) error { return nil }, budget)

	if !budget.TryAcquire(512) {
		t.Fatal("charge failed")
	}
	if err := ordered.deliver(5, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}

	ordered.drainPending()
	if budget.Used() != 0 {
		t.Errorf("drainPending should release parked charges, used = %d", budget.Used())
	}
}

func TestMetaRequest_Lifecycle(t *testing.T) {
	mr := newMetaRequest(KindGetObject, "b", "k", nil)
	if mr.State() != StatePlanning {
		t.Errorf("Initial state = %s", mr.State())
	}
	if mr.ID == "" {
		t.Error("Meta-request needs an ID")
	}

	parts := partitionRanges(16*MiB, 8*MiB)
	mr.plan(16*MiB, parts)
	if mr.State() != StateRunning {
		t.Errorf("State after plan = %s", mr.State())
	}
	if mr.TotalParts() != 2 {
		t.Errorf("TotalParts = %d", mr.TotalParts())
	}

	parts[0].setStatus(PartDone)
	if got := mr.Progress(); got != 50 {
		t.Errorf("Progress = %v, want 50", got)
	}
	if mr.CompletedParts() != 1 {
		t.Errorf("CompletedParts = %d", mr.CompletedParts())
	}

	mr.finish(StateSucceeded)
	if mr.State() != StateSucceeded {
		t.Errorf("Terminal state = %s", mr.State())
	}

	// Terminal states are sticky.
	mr.finish(StateFailed)
	if mr.State() != StateSucceeded {
		t.Error("Terminal state must not be overwritten")
	}
}
