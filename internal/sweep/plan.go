package sweep

import (
	"fmt"
	"time"
)

// SimulatedPort is the sentinel connection identifier that selects simulation
// mode: no physical instrument is opened and all responses read as zero.
const SimulatedPort = "dummy"

// Options carries everything Configure needs to build a sweep: where to reach
// the instrument and the excitation/timing parameters. Values are fixed for
// the lifetime of the controller once Configure has accepted them.
type Options struct {
	// Port is the serial port of the source-meter, or SimulatedPort.
	Port string

	Points      int // number of sweep points
	Averages    int // instrument-side samples averaged per point
	Repetitions int

	RepetitionDelay time.Duration // pause between full passes
	PointDelay      time.Duration // settle time after setting each excitation

	MinExcitation float64 // volts
	MaxExcitation float64 // volts

	ComplianceLimit float64 // amps
}

// Plan is the immutable excitation sequence and repetition policy for one
// sweep. Every repetition replays the same Points slice.
type Plan struct {
	Points          []float64
	Averages        int
	Repetitions     int
	RepetitionDelay time.Duration
	PointDelay      time.Duration
	ComplianceLimit float64
}

// NewPlan validates opts and computes the excitation sequence.
func NewPlan(opts Options) (*Plan, error) {
	if opts.Points < 1 {
		return nil, fmt.Errorf("invalid sweep: points must be >= 1, got %d", opts.Points)
	}
	if opts.Averages < 1 {
		return nil, fmt.Errorf("invalid sweep: averages must be >= 1, got %d", opts.Averages)
	}
	if opts.Repetitions < 1 {
		return nil, fmt.Errorf("invalid sweep: repetitions must be >= 1, got %d", opts.Repetitions)
	}
	if opts.RepetitionDelay < 0 || opts.PointDelay < 0 {
		return nil, fmt.Errorf("invalid sweep: delays must not be negative")
	}

	return &Plan{
		Points:          Linspace(opts.MinExcitation, opts.MaxExcitation, opts.Points),
		Averages:        opts.Averages,
		Repetitions:     opts.Repetitions,
		RepetitionDelay: opts.RepetitionDelay,
		PointDelay:      opts.PointDelay,
		ComplianceLimit: opts.ComplianceLimit,
	}, nil
}

// Linspace returns n values evenly spaced from min to max inclusive.
// For n == 1 it returns just min.
func Linspace(min, max float64, n int) []float64 {
	points := make([]float64, n)
	if n == 1 {
		points[0] = min
		return points
	}
	step := (max - min) / float64(n-1)
	for i := range points {
		points[i] = min + float64(i)*step
	}
	// pin the endpoint; accumulated float error must not leak into the plan
	points[n-1] = max
	return points
}
