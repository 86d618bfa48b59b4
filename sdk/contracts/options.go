package contracts

// BridgeOptions defines the injectable collaborators of the bridge. Anything
// left nil is constructed from defaults at startup.
type BridgeOptions struct {
	Logger    Logger    // Logger for all components.
	LogLevel  LogLevel  // Level of logging to use.
	Generator Generator // Generation backend.
	Input     InputPort // Performance event source.
	Output    OutputPort
	Clock     InputPort // Clock pulse source; nil enables tempo inference fallback.
}

// Option is a function that modifies BridgeOptions.
type Option func(*BridgeOptions)

// WithLogger sets the logger for the bridge and every component it owns.
func WithLogger(l Logger) Option {
	return func(opts *BridgeOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level LogLevel) Option {
	return func(opts *BridgeOptions) {
		opts.LogLevel = level
	}
}

// WithGenerator sets the generation backend.
func WithGenerator(g Generator) Option {
	return func(opts *BridgeOptions) {
		opts.Generator = g
	}
}

// WithInput sets the performance input port.
func WithInput(in InputPort) Option {
	return func(opts *BridgeOptions) {
		opts.Input = in
	}
}

// WithOutput sets the playback output port.
func WithOutput(out OutputPort) Option {
	return func(opts *BridgeOptions) {
		opts.Output = out
	}
}

// WithClock sets the MIDI clock input port.
func WithClock(clock InputPort) Option {
	return func(opts *BridgeOptions) {
		opts.Clock = clock
	}
}
