package contracts

// Status enumerates the session states. Exactly one authoritative copy
// exists, mutated only by the session engine.
type Status string

const (
	// StatusIdle is the repeatable resting state between cycles.
	StatusIdle Status = "IDLE"
	// StatusArmed means the engine is waiting for a start trigger.
	StatusArmed Status = "ARMED"
	// StatusRecording means events are being captured.
	StatusRecording Status = "RECORDING"
	// StatusGenerating means a backend call is in flight.
	StatusGenerating Status = "GENERATING"
	// StatusReady means a generated artifact is gated, awaiting a play command.
	StatusReady Status = "READY"
	// StatusPlaying means the artifact is being sent to the output port.
	StatusPlaying Status = "PLAYING"
)
