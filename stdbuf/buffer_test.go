package stdbuf

import (
	"testing"

	"github.com/nautilusav/bdmux/clock"
)

func TestCheckRejectsOverflow(t *testing.T) {
	b := NewSimpleBranch(8*1504, 0, 1_000_000) // TB capacity 1504 bytes, B unbounded.
	if err := b.Check(0, 8*1504); err != nil {
		t.Fatalf("Check at capacity: %v", err)
	}
	if err := b.Check(0, 8*1505); err != ErrOverflow {
		t.Fatalf("Check over capacity: got %v, want ErrOverflow", err)
	}
}

func TestUpdateThenLeakFreesCapacity(t *testing.T) {
	b := NewSimpleBranch(188*8, 0, 188*8) // leaks its own capacity worth of bits per second.
	if err := b.Update(0, 188*8); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := b.Check(0, 1); err != ErrOverflow {
		t.Fatalf("Check immediately after full Update: got %v, want ErrOverflow", err)
	}
	// One second later the leak should have fully drained the TB.
	later := clock.Stc(clock.MasterHz)
	if err := b.Check(later, 188*8); err != nil {
		t.Fatalf("Check after leak: %v", err)
	}
}

func TestDrainDueUnderflow(t *testing.T) {
	b := NewSimpleBranch(0, 1000, 0)
	if err := b.AddFrameToESBranch(0, 100, 10); err != nil {
		t.Fatalf("AddFrameToESBranch: %v", err)
	}
	// Manually drop the fill below the frame's size to force an
	// underflow at its removal time.
	b.EB.Fill = 50
	if err := b.DrainDue(10); err != ErrUnderflow {
		t.Fatalf("DrainDue = %v, want ErrUnderflow", err)
	}
}

func TestVideoBranchNoOverflowUnderNormalCadence(t *testing.T) {
	b := NewVideoBranch(1504*8, 1_000_000*8, 4_000_000*8, 2_000_000*8)
	now := clock.Stc(0)
	for i := 0; i < 100; i++ {
		if err := b.Update(now, 1504*8); err != nil {
			t.Fatalf("packet %d: Update: %v", i, err)
		}
		now += clock.Stc(clock.MasterHz / 1000) // 1ms between packets.
	}
	if err := b.AddPESFrame(now, 150_400*8, now+clock.Stc(clock.MasterHz/24)); err != nil {
		t.Fatalf("AddPESFrame: %v", err)
	}
}
