package timebase

import (
	"sort"
	"sync"
	"time"

	"github.com/soundloop/continuo/sdk/contracts"
)

// PulsesPerQuarter is the standard MIDI clock resolution: 24 pulses per
// quarter note.
const PulsesPerQuarter = 24

// Tempo inference clamp bounds and the fallback used when no clock is
// present and inference fails.
const (
	MinBPM     = 30.0
	MaxBPM     = 240.0
	DefaultBPM = 120.0
)

// PulsesPerBar returns the clock pulses in one bar of the given time
// signature numerator.
func PulsesPerBar(beatsPerBar int) int {
	return beatsPerBar * PulsesPerQuarter
}

// PulsesPerBlock returns the clock pulses in a block of whole measures.
func PulsesPerBlock(measures, beatsPerBar int) int {
	return measures * PulsesPerBar(beatsPerBar)
}

var processStart = time.Now()

// Monotonic returns seconds elapsed since process start. All capture
// timestamps use this scale so they are immune to wall-clock adjustments.
func Monotonic() float64 {
	return time.Since(processStart).Seconds()
}

// InferBPM estimates tempo from note-onset timestamps: the median of the
// positive inter-onset deltas converted to beats per minute and clamped to
// [MinBPM, MaxBPM]. It reports false when fewer than two onsets exist or no
// delta is positive.
//
// This is a best-effort estimate, not a phase-locked tracker. It must only
// drive window-length policy (e.g. trimming a manual capture to N bars),
// never tight quantization.
func InferBPM(onsets []float64) (float64, bool) {
	if len(onsets) < 2 {
		return 0, false
	}
	deltas := make([]float64, 0, len(onsets)-1)
	for i := 1; i < len(onsets); i++ {
		if d := onsets[i] - onsets[i-1]; d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 0, false
	}
	median := medianOf(deltas)
	if median <= 0 {
		return 0, false
	}
	bpm := 60.0 / median
	if bpm < MinBPM {
		bpm = MinBPM
	} else if bpm > MaxBPM {
		bpm = MaxBPM
	}
	return bpm, true
}

// OnsetTimes extracts the timestamps of sounding note-on events.
func OnsetTimes(events []contracts.TimestampedEvent) []float64 {
	var onsets []float64
	for _, ev := range events {
		if ev.Kind == contracts.NoteOn && ev.Velocity > 0 {
			onsets = append(onsets, ev.Timestamp)
		}
	}
	return onsets
}

func medianOf(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// ClockGrid counts hardware clock pulses and derives musical position from
// them. It also keeps a smoothed tempo estimate from pulse spacing, which is
// only advisory; bar boundaries come from pulse counts alone.
type ClockGrid struct {
	mu          sync.Mutex
	beatsPerBar int
	pulses      int
	lastPulseAt float64
	bpm         float64
}

// NewClockGrid creates a grid for the given time signature numerator.
func NewClockGrid(beatsPerBar int) *ClockGrid {
	return &ClockGrid{beatsPerBar: beatsPerBar}
}

// Tick records one clock pulse observed at the given monotonic time.
func (g *ClockGrid) Tick(at float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastPulseAt > 0 && at > g.lastPulseAt {
		// One beat is 24 pulses; smooth with an exponential moving average.
		instant := 60.0 / ((at - g.lastPulseAt) * PulsesPerQuarter)
		if instant >= MinBPM && instant <= MaxBPM {
			if g.bpm == 0 {
				g.bpm = instant
			} else {
				g.bpm = 0.9*g.bpm + 0.1*instant
			}
		}
	}
	g.lastPulseAt = at
	g.pulses++
}

// Pulses returns the total pulses counted since the last reset.
func (g *ClockGrid) Pulses() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pulses
}

// Bar returns the zero-based bar index of the current position.
func (g *ClockGrid) Bar() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pulses / PulsesPerBar(g.beatsPerBar)
}

// BPM returns the smoothed pulse-spacing tempo estimate, false before two
// pulses have been seen.
func (g *ClockGrid) BPM() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bpm == 0 {
		return 0, false
	}
	return g.bpm, true
}

// Reset zeroes the pulse count. The tempo estimate survives resets.
func (g *ClockGrid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pulses = 0
}
