package contracts

import "context"

// GenerationRequest carries one prompt artifact and the sampling parameters
// frozen at dispatch time. Parameter changes after dispatch never alter an
// in-flight request.
type GenerationRequest struct {
	PromptPath     string  // Path to the prompt artifact (standard MIDI file).
	PromptSeconds  int     // Declared duration of the prompt, whole seconds, >= 1.
	HorizonSeconds float64 // Length of continuation to generate.
	Temperature    float64
	TopP           float64
	MinP           float64
	MaxNewTokens   int // Token budget override; 0 derives it from the horizon.
}

// Generator is the generation backend boundary. It returns the path of the
// produced artifact. An empty path with a nil error signals a recoverable
// generation failure: the caller logs it and returns to idle. Implementations
// should honor ctx cancellation and abort as promptly as they can.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
