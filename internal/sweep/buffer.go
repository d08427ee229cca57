package sweep

import (
	"math"
	"sync"
	"time"
)

// Buffer is the shared per-point result table: five parallel slices indexed by
// sweep-point position, plus the derived resistance and power columns. The
// acquisition goroutine overwrites entries in place on every repetition; only
// the latest repetition's values are visible.
//
// Reads must go through Snapshot, which copies under the same lock the writer
// holds. Handing out the live slices would race with the writer.
type Buffer struct {
	mu sync.Mutex

	times       []time.Time
	excitations []float64
	responses   []float64
	stds        []float64
	resistances []float64
	powers      []float64
}

// Snapshot is an immutable copy of the buffer contents, one row per sweep
// point: time, excitation, response, response std, resistance, power.
type Snapshot struct {
	Time        []time.Time
	Excitation  []float64
	Response    []float64
	ResponseStd []float64
	Resistance  []float64
	Power       []float64
}

// Len returns the number of sweep points in the snapshot.
func (s Snapshot) Len() int { return len(s.Excitation) }

// NewBuffer returns a zeroed buffer for n sweep points.
func NewBuffer(n int) *Buffer {
	b := &Buffer{}
	b.Reset(n)
	return b
}

// Reset discards all contents and resizes the buffer to n zeroed rows.
func (b *Buffer) Reset(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.times = make([]time.Time, n)
	b.excitations = make([]float64, n)
	b.responses = make([]float64, n)
	b.stds = make([]float64, n)
	b.resistances = make([]float64, n)
	b.powers = make([]float64, n)
}

// Record stores one measured point at index i and derives resistance and
// power. A zero response yields Inf (or NaN for 0/0) in the derived columns;
// that is an expected degenerate sample, not an error.
func (b *Buffer) Record(i int, t time.Time, excitation, response, std float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.times[i] = t
	b.excitations[i] = excitation
	b.responses[i] = response
	b.stds[i] = std
	b.resistances[i] = math.Abs(excitation / response)
	b.powers[i] = math.Abs(excitation * response)
}

// Snapshot returns a point-in-time copy of all columns. The returned slices
// are owned by the caller and never mutated again.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Time:        make([]time.Time, len(b.times)),
		Excitation:  make([]float64, len(b.excitations)),
		Response:    make([]float64, len(b.responses)),
		ResponseStd: make([]float64, len(b.stds)),
		Resistance:  make([]float64, len(b.resistances)),
		Power:       make([]float64, len(b.powers)),
	}
	copy(snap.Time, b.times)
	copy(snap.Excitation, b.excitations)
	copy(snap.Response, b.responses)
	copy(snap.ResponseStd, b.stds)
	copy(snap.Resistance, b.resistances)
	copy(snap.Power, b.powers)
	return snap
}
