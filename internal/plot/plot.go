// Package plot renders sweep snapshots as IV-curve images.
package plot

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/iv.report/internal/sweep"
)

// RenderIV plots measured response against excitation and saves the curve as
// a PNG at path. Degenerate rows (NaN or Inf from a zero response) are left
// out of the plot rather than breaking the axis scaling.
func RenderIV(snap sweep.Snapshot, path string) error {
	p := plot.New()
	p.Title.Text = "IV curve"
	p.X.Label.Text = "Voltage (V)"
	p.Y.Label.Text = "Current (A)"

	pts := make(plotter.XYs, 0, snap.Len())
	for i := 0; i < snap.Len(); i++ {
		x, y := snap.Excitation[i], snap.Response[i]
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	if len(pts) == 0 {
		return fmt.Errorf("plot: snapshot has no plottable points")
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	line.Width = vg.Points(1.3)
	p.Add(line)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}

// RenderPlanned plots the planned excitation sequence against all-zero
// responses. Simulation mode uses this to show the sweep shape without data.
func RenderPlanned(points []float64, path string) error {
	snap := sweep.Snapshot{
		Excitation: points,
		Response:   make([]float64, len(points)),
	}
	return RenderIV(snap, path)
}
