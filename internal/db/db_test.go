package db

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/iv.report/internal/sweep"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewDB(filepath.Join(t.TempDir(), "iv_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, d.Close())
	})
	return d
}

func testSnapshot(n int) sweep.Snapshot {
	snap := sweep.Snapshot{
		Time:        make([]time.Time, n),
		Excitation:  make([]float64, n),
		Response:    make([]float64, n),
		ResponseStd: make([]float64, n),
		Resistance:  make([]float64, n),
		Power:       make([]float64, n),
	}
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		snap.Time[i] = base.Add(time.Duration(i) * time.Second)
		snap.Excitation[i] = float64(i) * 0.1
		snap.Response[i] = float64(i) * 0.001
		snap.ResponseStd[i] = 1e-6
		snap.Resistance[i] = 100
		snap.Power[i] = float64(i) * 0.0001
	}
	return snap
}

func TestRecordAndReadBackRepetition(t *testing.T) {
	d := newTestDB(t)

	runID, err := d.CreateRun("/dev/ttyUSB0", 3, 2)
	require.NoError(t, err)

	snap := testSnapshot(3)
	require.NoError(t, d.RecordRepetition(runID, 1, snap))

	samples, err := d.Samples(runID, 1)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	want := Sample{
		Point:       2,
		MeasuredAt:  snap.Time[2],
		Excitation:  snap.Excitation[2],
		Response:    snap.Response[2],
		ResponseStd: snap.ResponseStd[2],
		Resistance:  100,
		Power:       snap.Power[2],
	}
	got := samples[2]
	got.MeasuredAt = got.MeasuredAt.UTC()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAndReadBackDegenerateSamples(t *testing.T) {
	d := newTestDB(t)

	runID, err := d.CreateRun("dummy", 3, 1)
	require.NoError(t, err)

	// A zero-response point yields NaN or Inf in the derived columns; those
	// rows must survive persistence like any other.
	snap := testSnapshot(3)
	snap.Resistance[0] = math.NaN()
	snap.Power[0] = math.NaN()
	snap.Resistance[1] = math.Inf(1)
	require.NoError(t, d.RecordRepetition(runID, 1, snap))

	samples, err := d.Samples(runID, 1)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.True(t, math.IsNaN(samples[0].Resistance), "resistance[0] = %v, want NaN", samples[0].Resistance)
	assert.True(t, math.IsNaN(samples[0].Power), "power[0] = %v, want NaN", samples[0].Power)
	assert.True(t, math.IsInf(samples[1].Resistance, 1), "resistance[1] = %v, want +Inf", samples[1].Resistance)
	assert.Equal(t, 100.0, samples[2].Resistance)
}

func TestRecordRepetitionOverwrites(t *testing.T) {
	d := newTestDB(t)

	runID, err := d.CreateRun("dummy", 2, 1)
	require.NoError(t, err)

	first := testSnapshot(2)
	require.NoError(t, d.RecordRepetition(runID, 1, first))

	second := testSnapshot(2)
	second.Excitation[0] = 42
	require.NoError(t, d.RecordRepetition(runID, 1, second))

	samples, err := d.Samples(runID, 1)
	require.NoError(t, err)
	require.Len(t, samples, 2, "repetition should overwrite, not append")
	assert.Equal(t, 42.0, samples[0].Excitation)
}

func TestRunsListsNewestFirst(t *testing.T) {
	d := newTestDB(t)

	_, err := d.CreateRun("dummy", 5, 1)
	require.NoError(t, err)
	_, err = d.CreateRun("/dev/ttyUSB0", 10, 2)
	require.NoError(t, err)

	runs, err := d.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.NotEmpty(t, r.ID)
	}
}

func TestSamplesForUnknownRunIsEmpty(t *testing.T) {
	d := newTestDB(t)

	samples, err := d.Samples("no-such-run", 1)
	require.NoError(t, err)
	assert.Empty(t, samples)
}
