package contracts

// InputPort streams timestamped events read from a hardware MIDI input.
// The channel is closed when the port is closed or the underlying device
// disappears.
type InputPort interface {
	Events() <-chan TimestampedEvent
	Close() error
}

// OutputPort accepts note and controller events for immediate transmission.
// Relative timing between events is the caller's responsibility.
type OutputPort interface {
	SendNoteOn(note, velocity uint8) error
	SendNoteOff(note uint8) error
	SendControlChange(control, value uint8) error
	Close() error
}
