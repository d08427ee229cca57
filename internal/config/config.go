// Package config loads the sweep configuration file. The schema uses pointer
// fields so a partial file only overrides what it names; everything else keeps
// the built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/iv.report/internal/sweep"
)

// Config is the on-disk configuration. Durations are strings like "250ms".
type Config struct {
	Port            *string  `json:"port,omitempty"`
	Points          *int     `json:"points,omitempty"`
	Averages        *int     `json:"averages,omitempty"`
	Repetitions     *int     `json:"repetitions,omitempty"`
	RepetitionDelay *string  `json:"repetition_delay,omitempty"`
	PointDelay      *string  `json:"point_delay,omitempty"`
	MinVoltage      *float64 `json:"min_voltage,omitempty"`
	MaxVoltage      *float64 `json:"max_voltage,omitempty"`
	ComplianceLimit *float64 `json:"compliance_limit,omitempty"`

	Database *string `json:"database,omitempty"`
	PlotFile *string `json:"plot_file,omitempty"`
	Listen   *string `json:"listen,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// Default returns the built-in configuration: a 100-point IV sweep from
// -0.01 V to 0.7 V with 5-sample averaging.
func Default() Config {
	return Config{
		Port:            ptrString(sweep.SimulatedPort),
		Points:          ptrInt(100),
		Averages:        ptrInt(5),
		Repetitions:     ptrInt(1),
		RepetitionDelay: ptrString("2s"),
		PointDelay:      ptrString("250ms"),
		MinVoltage:      ptrFloat64(-0.01),
		MaxVoltage:      ptrFloat64(0.7),
		ComplianceLimit: ptrFloat64(0.5),
		Database:        ptrString("iv_data.db"),
		PlotFile:        ptrString("iv_curve.png"),
		Listen:          ptrString(":8080"),
	}
}

// Load reads the config at path, overlaying it on the defaults. A missing
// file is not an error: Load writes the default config there first so the
// user has something to edit, then returns the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Write(cfg, path); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var overlay Config
	if err := json.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return merge(Default(), overlay), nil
}

// Write saves cfg as indented JSON at path.
func Write(cfg Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// merge overlays every non-nil field of overlay onto base.
func merge(base, overlay Config) Config {
	if overlay.Port != nil {
		base.Port = overlay.Port
	}
	if overlay.Points != nil {
		base.Points = overlay.Points
	}
	if overlay.Averages != nil {
		base.Averages = overlay.Averages
	}
	if overlay.Repetitions != nil {
		base.Repetitions = overlay.Repetitions
	}
	if overlay.RepetitionDelay != nil {
		base.RepetitionDelay = overlay.RepetitionDelay
	}
	if overlay.PointDelay != nil {
		base.PointDelay = overlay.PointDelay
	}
	if overlay.MinVoltage != nil {
		base.MinVoltage = overlay.MinVoltage
	}
	if overlay.MaxVoltage != nil {
		base.MaxVoltage = overlay.MaxVoltage
	}
	if overlay.ComplianceLimit != nil {
		base.ComplianceLimit = overlay.ComplianceLimit
	}
	if overlay.Database != nil {
		base.Database = overlay.Database
	}
	if overlay.PlotFile != nil {
		base.PlotFile = overlay.PlotFile
	}
	if overlay.Listen != nil {
		base.Listen = overlay.Listen
	}
	return base
}

// SweepOptions converts the config into controller options, parsing the
// duration strings.
func (c Config) SweepOptions() (sweep.Options, error) {
	repetitionDelay, err := time.ParseDuration(*c.RepetitionDelay)
	if err != nil {
		return sweep.Options{}, fmt.Errorf("parse repetition_delay: %w", err)
	}
	pointDelay, err := time.ParseDuration(*c.PointDelay)
	if err != nil {
		return sweep.Options{}, fmt.Errorf("parse point_delay: %w", err)
	}
	return sweep.Options{
		Port:            *c.Port,
		Points:          *c.Points,
		Averages:        *c.Averages,
		Repetitions:     *c.Repetitions,
		RepetitionDelay: repetitionDelay,
		PointDelay:      pointDelay,
		MinExcitation:   *c.MinVoltage,
		MaxExcitation:   *c.MaxVoltage,
		ComplianceLimit: *c.ComplianceLimit,
	}, nil
}
