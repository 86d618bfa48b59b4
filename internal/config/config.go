// Package config carries the validated runtime configuration. It is built
// once by the bootstrap and passed by reference; nothing here is global.
package config

import (
	"errors"
	"fmt"
	"os"
)

// Modes.
const (
	ModeManual = "manual"
	ModeClock  = "clock"
)

// Config is the full runtime configuration of the bridge.
type Config struct {
	// MIDI ports.
	InPort    string // Performance input port name.
	OutPort   string // Continuation output port name.
	ClockPort string // Clock input port name; empty disables the external clock.

	// Session policy.
	Mode            string  // ModeClock (default) or ModeManual.
	ListenSeconds   float64 // Clock mode: rolling capture window.
	GenSeconds      float64 // Continuation length to request.
	CooldownSeconds float64 // Clock mode: rest between cycles.
	BeatsPerBar     int     // Time signature numerator.
	HumanMeasures   int     // Clock mode: measures captured per cycle.
	GenMeasures     int     // Clock mode: measures generated per cycle.
	MaxSeconds      float64 // Manual mode: recording safety timeout, 0 = none.
	MaxBars         int     // Manual mode: bar limit after tempo inference, 0 = none.
	TicksPerBeat    int     // Prompt artifact resolution.
	Quantize        bool    // Snap generated output to a 1/16 grid.
	PlayGate        bool    // Require an explicit play before output.

	// Sampling defaults (the remote peer may override at startup).
	Temperature float64
	TopP        float64
	MinP        float64

	// Local trigger keys.
	RecordKey byte
	PlayKey   byte // 0 disables the play key.

	// Remote control plane.
	OSCEnabled bool
	OSCHost    string
	OSCInPort  int
	OSCOutPort int

	// Feedback dataset capture.
	Feedback bool
	DataDir  string

	// Generation backend.
	GeneratorCommand string   // Executable for the subprocess backend.
	GeneratorArgs    []string // Arguments placed before per-request flags.
	Checkpoint       string   // Model checkpoint path.

	Debug bool
}

// Default returns the stock configuration, seeded from the environment where
// a CONTINUO_* variable is set.
func Default() Config {
	return Config{
		InPort:           envOr("CONTINUO_IN_PORT", "CONTINUO_IN"),
		OutPort:          envOr("CONTINUO_OUT_PORT", "CONTINUO_OUT"),
		ClockPort:        os.Getenv("CONTINUO_CLOCK_PORT"),
		Mode:             ModeClock,
		ListenSeconds:    4.0,
		GenSeconds:       1.0,
		CooldownSeconds:  0.2,
		BeatsPerBar:      4,
		HumanMeasures:    1,
		GenMeasures:      2,
		TicksPerBeat:     480,
		Temperature:      0.9,
		TopP:             0.95,
		MinP:             0.0,
		RecordKey:        'r',
		OSCHost:          envOr("CONTINUO_OSC_HOST", "127.0.0.1"),
		OSCInPort:        9000,
		OSCOutPort:       9001,
		GeneratorCommand: envOr("CONTINUO_GENERATOR", "aria-generate"),
		Checkpoint:       os.Getenv("CONTINUO_CHECKPOINT"),
	}
}

// Validate reports the first configuration error. All of these are fatal at
// startup.
func (c *Config) Validate() error {
	if c.Mode != ModeManual && c.Mode != ModeClock {
		return fmt.Errorf("invalid mode %q: want %q or %q", c.Mode, ModeManual, ModeClock)
	}
	if c.InPort == "" || c.OutPort == "" {
		return errors.New("input and output MIDI port names are required")
	}
	if c.BeatsPerBar < 1 {
		return fmt.Errorf("beats per bar must be >= 1, got %d", c.BeatsPerBar)
	}
	if c.HumanMeasures < 1 || c.GenMeasures < 1 {
		return fmt.Errorf("measures must be >= 1, got human=%d gen=%d", c.HumanMeasures, c.GenMeasures)
	}
	if c.TicksPerBeat < 24 {
		return fmt.Errorf("ticks per beat must be >= 24, got %d", c.TicksPerBeat)
	}
	if c.Feedback && c.DataDir == "" {
		return errors.New("feedback capture requires a data directory")
	}
	if c.Checkpoint == "" && !c.Feedback {
		return errors.New("a model checkpoint is required unless running feedback-only")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
