// Package api exposes the sweep over HTTP: state and snapshot endpoints for
// pollers, a Server-Sent Events tail of the event stream, and a rendered IV
// chart for quick visual checks.
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/iv.report/internal/monitoring"
	"github.com/banshee-data/iv.report/internal/sweep"
	"github.com/banshee-data/iv.report/internal/version"
)

// Server serves the sweep monitor endpoints.
type Server struct {
	controller *sweep.Controller
	mux        *http.ServeMux
}

// NewServer wires the monitor routes for the given controller.
func NewServer(controller *sweep.Controller) *Server {
	s := &Server{
		controller: controller,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/version", s.handleVersion)
	s.mux.HandleFunc("/chart", s.handleChart)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"state":     s.controller.State(),
		"simulated": s.controller.Simulated(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// snapshotResponse mirrors sweep.Snapshot with JSON-safe numbers: NaN and Inf
// from degenerate samples become null.
type snapshotResponse struct {
	Time        []time.Time `json:"time"`
	Excitation  []float64   `json:"excitation"`
	Response    []float64   `json:"response"`
	ResponseStd []float64   `json:"response_std"`
	Resistance  []*float64  `json:"resistance"`
	Power       []*float64  `json:"power"`
}

// jsonSafe replaces non-finite values with nil so the column stays encodable.
func jsonSafe(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out[i] = &v
	}
	return out
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.controller.Snapshot()
	s.writeJSON(w, snapshotResponse{
		Time:        snap.Time,
		Excitation:  snap.Excitation,
		Response:    snap.Response,
		ResponseStd: snap.ResponseStd,
		Resistance:  jsonSafe(snap.Resistance),
		Power:       jsonSafe(snap.Power),
	})
}

// handleEvents tails the controller's event stream as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, events := s.controller.Subscribe()
	defer s.controller.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				monitoring.Logf("api: encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleChart renders the current snapshot as an interactive IV line chart.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.controller.Snapshot()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "IV curve"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Voltage (V)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Current (A)"}),
	)

	xs := make([]string, 0, snap.Len())
	data := make([]opts.LineData, 0, snap.Len())
	for i := 0; i < snap.Len(); i++ {
		xs = append(xs, fmt.Sprintf("%.4g", snap.Excitation[i]))
		data = append(data, opts.LineData{Value: snap.Response[i]})
	}
	line.SetXAxis(xs).AddSeries("current", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		monitoring.Logf("api: render chart: %v", err)
	}
}
