package sweep

import (
	"math"
	"testing"
	"time"
)

func TestRecordDerivesResistanceAndPower(t *testing.T) {
	b := NewBuffer(3)
	now := time.Now()

	b.Record(1, now, 0.5, -0.002, 1e-5)

	snap := b.Snapshot()
	if snap.Excitation[1] != 0.5 || snap.Response[1] != -0.002 {
		t.Fatalf("recorded row = %+v", snap)
	}
	if got, want := snap.Resistance[1], math.Abs(0.5/-0.002); got != want {
		t.Errorf("resistance = %v, want %v", got, want)
	}
	if got, want := snap.Power[1], math.Abs(0.5*-0.002); got != want {
		t.Errorf("power = %v, want %v", got, want)
	}
	if !snap.Time[1].Equal(now) {
		t.Errorf("time = %v, want %v", snap.Time[1], now)
	}
}

func TestRecordZeroResponseIsDegenerateNotFatal(t *testing.T) {
	b := NewBuffer(2)

	// zero response: resistance blows up, power collapses; neither may panic
	b.Record(0, time.Now(), 0.5, 0, 0)
	snap := b.Snapshot()
	if !math.IsInf(snap.Resistance[0], 1) {
		t.Errorf("resistance = %v, want +Inf", snap.Resistance[0])
	}
	if snap.Power[0] != 0 {
		t.Errorf("power = %v, want 0", snap.Power[0])
	}

	// zero over zero is NaN
	b.Record(1, time.Now(), 0, 0, 0)
	snap = b.Snapshot()
	if !math.IsNaN(snap.Resistance[1]) {
		t.Errorf("0/0 resistance = %v, want NaN", snap.Resistance[1])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBuffer(2)
	b.Record(0, time.Now(), 1.0, -0.5, 0)

	snap := b.Snapshot()
	snap.Excitation[0] = 99
	snap.Response[0] = 99

	again := b.Snapshot()
	if again.Excitation[0] != 1.0 || again.Response[0] != -0.5 {
		t.Errorf("snapshot mutation leaked into the buffer: %+v", again)
	}
}

func TestResetZeroesAndResizes(t *testing.T) {
	b := NewBuffer(2)
	b.Record(0, time.Now(), 1.0, -0.5, 0)

	b.Reset(4)
	snap := b.Snapshot()
	if snap.Len() != 4 {
		t.Fatalf("len after reset = %d, want 4", snap.Len())
	}
	for i := 0; i < snap.Len(); i++ {
		if snap.Excitation[i] != 0 || snap.Response[i] != 0 {
			t.Errorf("row %d not zeroed after reset", i)
		}
	}
}

func TestOverwriteInPlaceKeepsLatestOnly(t *testing.T) {
	b := NewBuffer(1)
	b.Record(0, time.Now(), 1.0, -1.0, 0)
	b.Record(0, time.Now(), 2.0, -2.0, 0)

	snap := b.Snapshot()
	if snap.Excitation[0] != 2.0 {
		t.Errorf("excitation = %v, want the later value 2.0", snap.Excitation[0])
	}
}
