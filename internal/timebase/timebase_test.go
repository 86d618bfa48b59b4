package timebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloop/continuo/sdk/contracts"
)

func TestPulseArithmetic(t *testing.T) {
	tests := []struct {
		name        string
		beatsPerBar int
		measures    int
		wantBar     int
		wantBlock   int
	}{
		{name: "four four, two measures", beatsPerBar: 4, measures: 2, wantBar: 96, wantBlock: 192},
		{name: "three four, three measures", beatsPerBar: 3, measures: 3, wantBar: 72, wantBlock: 216},
		{name: "single beat bar", beatsPerBar: 1, measures: 1, wantBar: 24, wantBlock: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBar, PulsesPerBar(tt.beatsPerBar))
			assert.Equal(t, tt.wantBlock, PulsesPerBlock(tt.measures, tt.beatsPerBar))
		})
	}
}

func TestInferBPM(t *testing.T) {
	tests := []struct {
		name    string
		onsets  []float64
		wantBPM float64
		wantOK  bool
	}{
		{name: "steady eighth pulse at 120", onsets: []float64{0, 0.5, 1.0, 1.5}, wantBPM: 120, wantOK: true},
		{name: "median ignores one rushed gap", onsets: []float64{0, 0.5, 0.6, 1.1, 1.6}, wantBPM: 120, wantOK: true},
		{name: "fast playing clamps to ceiling", onsets: []float64{0, 0.1, 0.2, 0.3}, wantBPM: 240, wantOK: true},
		{name: "sparse playing clamps to floor", onsets: []float64{0, 3.0, 6.0}, wantBPM: 30, wantOK: true},
		{name: "single onset is not enough", onsets: []float64{1.0}, wantOK: false},
		{name: "no onsets", onsets: nil, wantOK: false},
		{name: "simultaneous onsets have no positive delta", onsets: []float64{2.0, 2.0, 2.0}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpm, ok := InferBPM(tt.onsets)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.wantBPM, bpm, 0.01)
			}
		})
	}
}

func TestInferBPMEvenDeltaCount(t *testing.T) {
	// Two deltas of 0.4 and 0.6: the median averages them to 0.5.
	bpm, ok := InferBPM([]float64{0, 0.4, 1.0})
	require.True(t, ok)
	assert.InDelta(t, 120.0, bpm, 0.01)
}

func TestOnsetTimes(t *testing.T) {
	events := []contracts.TimestampedEvent{
		{Kind: contracts.NoteOn, Timestamp: 1.0, Velocity: 80},
		{Kind: contracts.NoteOff, Timestamp: 1.5},
		{Kind: contracts.NoteOn, Timestamp: 2.0, Velocity: 0}, // Running-status off.
		{Kind: contracts.ControlChange, Timestamp: 2.5},
		{Kind: contracts.NoteOn, Timestamp: 3.0, Velocity: 100},
	}
	assert.Equal(t, []float64{1.0, 3.0}, OnsetTimes(events))
}

func TestClockGridPositionAndTempo(t *testing.T) {
	grid := NewClockGrid(4)

	_, ok := grid.BPM()
	assert.False(t, ok, "no estimate before two pulses")

	// 120 BPM: 24 pulses per beat, two beats per second.
	interval := 60.0 / (120.0 * PulsesPerQuarter)
	at := 1.0
	for i := 0; i < 97; i++ {
		grid.Tick(at)
		at += interval
	}

	assert.Equal(t, 97, grid.Pulses())
	assert.Equal(t, 1, grid.Bar())

	bpm, ok := grid.BPM()
	require.True(t, ok)
	assert.InDelta(t, 120.0, bpm, 0.5)
}

func TestClockGridResetKeepsTempo(t *testing.T) {
	grid := NewClockGrid(4)
	interval := 60.0 / (100.0 * PulsesPerQuarter)
	at := 1.0
	for i := 0; i < 10; i++ {
		grid.Tick(at)
		at += interval
	}

	grid.Reset()
	assert.Equal(t, 0, grid.Pulses())
	assert.Equal(t, 0, grid.Bar())

	bpm, ok := grid.BPM()
	require.True(t, ok)
	assert.InDelta(t, 100.0, bpm, 0.5)
}

func TestClockGridIgnoresImplausibleSpacing(t *testing.T) {
	grid := NewClockGrid(4)
	grid.Tick(1.0)
	grid.Tick(11.0) // A ten second gap is far below MinBPM.

	_, ok := grid.BPM()
	assert.False(t, ok)
	assert.Equal(t, 2, grid.Pulses(), "pulses still count through tempo gaps")
}
