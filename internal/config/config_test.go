package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := Default()
	c.Checkpoint = "/models/ckpt.bin"
	return c
}

func TestDefaultIsValidWithCheckpoint(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ModeClock, c.Mode)
	assert.Equal(t, 4, c.BeatsPerBar)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad mode", mutate: func(c *Config) { c.Mode = "auto" }, want: "invalid mode"},
		{name: "missing input port", mutate: func(c *Config) { c.InPort = "" }, want: "port names"},
		{name: "missing output port", mutate: func(c *Config) { c.OutPort = "" }, want: "port names"},
		{name: "zero beats per bar", mutate: func(c *Config) { c.BeatsPerBar = 0 }, want: "beats per bar"},
		{name: "zero human measures", mutate: func(c *Config) { c.HumanMeasures = 0 }, want: "measures"},
		{name: "zero gen measures", mutate: func(c *Config) { c.GenMeasures = 0 }, want: "measures"},
		{name: "resolution too low", mutate: func(c *Config) { c.TicksPerBeat = 12 }, want: "ticks per beat"},
		{name: "feedback without data dir", mutate: func(c *Config) { c.Feedback = true; c.DataDir = "" }, want: "data directory"},
		{name: "no checkpoint", mutate: func(c *Config) { c.Checkpoint = "" }, want: "checkpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeedbackOnlyNeedsNoCheckpoint(t *testing.T) {
	c := validConfig()
	c.Checkpoint = ""
	c.Feedback = true
	c.DataDir = "/data/episodes"
	assert.NoError(t, c.Validate())
}

func TestEnvOverridesPortNames(t *testing.T) {
	t.Setenv("CONTINUO_IN_PORT", "My Keyboard")
	t.Setenv("CONTINUO_OUT_PORT", "My Synth")

	c := Default()
	assert.Equal(t, "My Keyboard", c.InPort)
	assert.Equal(t, "My Synth", c.OutPort)
}
