package contracts

// EventKind identifies the class of a captured performance event.
type EventKind byte

const (
	// NoteOn is a key press with a velocity.
	NoteOn EventKind = iota
	// NoteOff is a key release.
	NoteOff
	// ControlChange is a continuous controller move.
	ControlChange
	// ClockPulse is one tick of the hardware MIDI clock (24 per quarter note).
	ClockPulse
)

// String returns the lowercase wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case NoteOn:
		return "note_on"
	case NoteOff:
		return "note_off"
	case ControlChange:
		return "control_change"
	case ClockPulse:
		return "clock"
	}
	return "unknown"
}

// TimestampedEvent is a single performance event stamped with monotonic
// wall-clock seconds at capture time. Immutable once recorded; consumers
// take copies via capture buffer snapshots.
type TimestampedEvent struct {
	Kind      EventKind
	Timestamp float64 // Monotonic seconds at capture time.
	Note      uint8   // Note number for NoteOn/NoteOff.
	Velocity  uint8   // Velocity for NoteOn/NoteOff.
	Control   uint8   // Controller number for ControlChange.
	Value     uint8   // Controller value for ControlChange.
	Pulse     int     // Musical pulse position, or -1 when no clock is present.
}

// CaptureWindow is the ordered event sequence collected during one recording
// segment, together with its declared duration and a best-effort inferred
// tempo. Created when a segment closes and consumed exactly once by prompt
// conversion.
type CaptureWindow struct {
	Events   []TimestampedEvent
	Duration float64 // Seconds from recording start to stop.
	BPM      float64 // Inferred tempo, or 0 when unknown.
}
