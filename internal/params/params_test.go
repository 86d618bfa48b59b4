package params

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloop/continuo/sdk/contracts"
)

func TestNewStateClampsInitialValues(t *testing.T) {
	s := NewState(5.0, -1.0, 0.5)
	snap := s.Snapshot()
	assert.Equal(t, TemperatureMax, snap.Temperature)
	assert.Equal(t, TopPMin, snap.TopP)
	assert.Equal(t, MinPMax, snap.MinP)
}

func TestTemperatureConvergesToCeiling(t *testing.T) {
	s := NewState(1.95, 0.95, 0.0)

	assert.InDelta(t, 2.0, s.IncreaseTemperature(), 1e-9)
	assert.InDelta(t, 2.0, s.IncreaseTemperature(), 1e-9, "repeated steps hold at the bound")
	assert.InDelta(t, 1.95, s.DecreaseTemperature(), 1e-9)
}

func TestTopPConvergesToFloor(t *testing.T) {
	s := NewState(0.9, 0.12, 0.0)

	assert.InDelta(t, 0.11, s.DecreaseTopP(), 1e-9)
	assert.InDelta(t, 0.1, s.DecreaseTopP(), 1e-9)
	assert.InDelta(t, 0.1, s.DecreaseTopP(), 1e-9)
}

func TestMinPBounds(t *testing.T) {
	s := NewState(0.9, 0.95, 0.0)

	assert.InDelta(t, 0.0, s.DecreaseMinP(), 1e-9, "already at floor")
	for i := 0; i < 30; i++ {
		s.IncreaseMinP()
	}
	assert.InDelta(t, 0.2, s.Snapshot().MinP, 1e-9)
}

func TestAbsoluteSetsClamp(t *testing.T) {
	s := NewState(0.9, 0.95, 0.0)

	assert.InDelta(t, 2.0, s.SetTemperature(3.5), 1e-9)
	assert.InDelta(t, 0.1, s.SetTopP(0.0), 1e-9)
	assert.InDelta(t, 0.2, s.SetMinP(0.9), 1e-9)
}

func TestSetMaxTokensRoundsAndClamps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int
	}{
		{name: "fraction rounds", in: 100.6, want: 101},
		{name: "half rounds up", in: 100.5, want: 101},
		{name: "above ceiling", in: 5000, want: 2048},
		{name: "below floor", in: -3, want: 0},
		{name: "zero means no override", in: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(0.9, 0.95, 0.0)
			assert.Equal(t, tt.want, s.SetMaxTokens(tt.in))
			assert.Equal(t, tt.want, s.Snapshot().MaxTokens)
		})
	}
}

func TestConcurrentAdjustmentsStayBounded(t *testing.T) {
	s := NewState(0.9, 0.5, 0.1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(up bool) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if up {
					s.IncreaseTemperature()
					s.IncreaseTopP()
				} else {
					s.DecreaseTemperature()
					s.DecreaseMinP()
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.GreaterOrEqual(t, snap.Temperature, TemperatureMin)
	assert.LessOrEqual(t, snap.Temperature, TemperatureMax)
	assert.GreaterOrEqual(t, snap.TopP, TopPMin)
	assert.LessOrEqual(t, snap.TopP, TopPMax)
	assert.GreaterOrEqual(t, snap.MinP, MinPMin)
	assert.LessOrEqual(t, snap.MinP, MinPMax)
}

func TestSessionState(t *testing.T) {
	s := NewSession("manual")
	require.Equal(t, contracts.StatusIdle, s.Status())

	s.SetStatus(contracts.StatusRecording)
	s.SetLastOutput("/tmp/out.mid")

	snap := s.Snapshot()
	assert.Equal(t, "manual", snap.Mode)
	assert.Equal(t, contracts.StatusRecording, snap.Status)
	assert.Equal(t, "/tmp/out.mid", snap.LastOutputPath)
}
