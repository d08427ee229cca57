package plot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/iv.report/internal/sweep"
)

func TestRenderIVWritesPNG(t *testing.T) {
	snap := sweep.Snapshot{
		Excitation: []float64{0, 0.25, 0.5, 0.75, 1.0},
		Response:   []float64{0, 0.001, 0.002, 0.004, 0.008},
	}

	path := filepath.Join(t.TempDir(), "iv.png")
	if err := RenderIV(snap, path); err != nil {
		t.Fatalf("RenderIV: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() == 0 {
		t.Error("rendered plot is empty")
	}
}

func TestRenderIVSkipsDegenerateRows(t *testing.T) {
	snap := sweep.Snapshot{
		Excitation: []float64{0, 0.5, 1.0},
		Response:   []float64{math.NaN(), 0.001, math.Inf(1)},
	}

	path := filepath.Join(t.TempDir(), "iv.png")
	if err := RenderIV(snap, path); err != nil {
		t.Fatalf("RenderIV with degenerate rows: %v", err)
	}
}

func TestRenderIVRejectsEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iv.png")
	if err := RenderIV(sweep.Snapshot{}, path); err == nil {
		t.Error("expected an error for an empty snapshot")
	}
}

func TestRenderPlanned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planned.png")
	if err := RenderPlanned([]float64{0, 0.5, 1.0}, path); err != nil {
		t.Fatalf("RenderPlanned: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat output: %v", err)
	}
}
