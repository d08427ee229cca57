// Command ivsweep runs one IV sweep against a source-meter, persists each
// completed curve to SQLite, serves a live monitor over HTTP and renders the
// final IV curve to a PNG.
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/iv.report/internal/api"
	"github.com/banshee-data/iv.report/internal/config"
	"github.com/banshee-data/iv.report/internal/db"
	"github.com/banshee-data/iv.report/internal/plot"
	"github.com/banshee-data/iv.report/internal/sweep"
	"github.com/banshee-data/iv.report/internal/version"
)

var (
	configPath = flag.String("config", "config.json", "Sweep config file (created with defaults if missing)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	port       = flag.String("port", "", "Serial port of the source-meter (overrides config; \"dummy\" simulates)")
)

func main() {
	flag.Parse()

	log.Printf("ivsweep %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Port = port
	}
	if *listen != "" {
		cfg.Listen = listen
	}

	opts, err := cfg.SweepOptions()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	d, err := db.NewDB(*cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	runID, err := d.CreateRun(opts.Port, opts.Points, opts.Repetitions)
	if err != nil {
		log.Fatalf("failed to create sweep run: %v", err)
	}
	log.Printf("sweep run %s", runID)

	controller := sweep.NewController(nil)

	// subscribe before Configure so the connection log events are not missed
	subID, events := controller.Subscribe()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for e := range events {
			switch e.Kind {
			case sweep.EventLog:
				log.Printf("[%s] %s", e.Severity, e.Message)
			case sweep.EventRepetitionDone:
				if err := d.RecordRepetition(runID, e.Repetition, controller.Snapshot()); err != nil {
					log.Printf("failed to record repetition %d: %v", e.Repetition, err)
				}
			}
		}
	}()

	if err := controller.Configure(opts); err != nil {
		log.Fatalf("failed to configure sweep: %v", err)
	}
	if err := controller.Start(); err != nil {
		log.Fatalf("failed to start sweep: %v", err)
	}

	srv := &http.Server{Addr: *cfg.Listen, Handler: api.NewServer(controller)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("monitor server failed: %v", err)
		}
	}()
	log.Printf("monitor listening on %s", *cfg.Listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-controller.Done():
		log.Print("sweep complete")
	case s := <-sig:
		log.Printf("received %s, stopping sweep", s)
	}

	if err := controller.Stop(); err != nil {
		log.Printf("failed to stop sweep: %v", err)
	}

	// let the consumer drain the final events before rendering and exiting
	controller.Unsubscribe(subID)
	<-consumerDone

	if *cfg.PlotFile != "" {
		var plotErr error
		if controller.Simulated() {
			plotErr = plot.RenderPlanned(controller.Plan().Points, *cfg.PlotFile)
		} else {
			plotErr = plot.RenderIV(controller.Snapshot(), *cfg.PlotFile)
		}
		if plotErr != nil {
			log.Printf("failed to render IV curve: %v", plotErr)
		} else {
			log.Printf("IV curve written to %s", *cfg.PlotFile)
		}
	}

	if err := srv.Close(); err != nil {
		log.Printf("failed to close monitor server: %v", err)
	}
}
