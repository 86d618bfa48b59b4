// Package params holds the shared, concurrently-mutated sampling parameters
// and session state. Both are explicitly constructed by the bootstrap and
// injected into every component that needs them.
package params

import (
	"math"
	"sync"

	"github.com/soundloop/continuo/sdk/contracts"
)

// Parameter bounds and adjustment steps.
const (
	TemperatureMin  = 0.1
	TemperatureMax  = 2.0
	TemperatureStep = 0.05

	TopPMin  = 0.1
	TopPMax  = 1.0
	TopPStep = 0.01

	MinPMin  = 0.0
	MinPMax  = 0.2
	MinPStep = 0.01

	TokensMin = 0
	TokensMax = 2048
)

// Snapshot is an atomically-read copy of the full parameter set.
type Snapshot struct {
	Temperature float64
	TopP        float64
	MinP        float64
	MaxTokens   int // 0 means no override.
}

// State holds the bounded sampling parameters. All operations are
// linearizable with respect to each other: no reader ever observes a
// half-updated set.
type State struct {
	mu          sync.Mutex
	temperature float64
	topP        float64
	minP        float64
	maxTokens   int
}

// NewState creates parameter state with the given starting values, clamped.
func NewState(temperature, topP, minP float64) *State {
	return &State{
		temperature: clamp(temperature, TemperatureMin, TemperatureMax),
		topP:        clamp(topP, TopPMin, TopPMax),
		minP:        clamp(minP, MinPMin, MinPMax),
	}
}

// Snapshot atomically reads the full parameter set.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Temperature: s.temperature,
		TopP:        s.topP,
		MinP:        s.minP,
		MaxTokens:   s.maxTokens,
	}
}

// IncreaseTemperature nudges temperature up one step and returns the result.
func (s *State) IncreaseTemperature() float64 {
	return s.adjustTemperature(TemperatureStep)
}

// DecreaseTemperature nudges temperature down one step and returns the result.
func (s *State) DecreaseTemperature() float64 {
	return s.adjustTemperature(-TemperatureStep)
}

// IncreaseTopP nudges the nucleus threshold up one step.
func (s *State) IncreaseTopP() float64 {
	return s.adjustTopP(TopPStep)
}

// DecreaseTopP nudges the nucleus threshold down one step.
func (s *State) DecreaseTopP() float64 {
	return s.adjustTopP(-TopPStep)
}

// IncreaseMinP nudges the minimum-probability threshold up one step.
func (s *State) IncreaseMinP() float64 {
	return s.adjustMinP(MinPStep)
}

// DecreaseMinP nudges the minimum-probability threshold down one step.
func (s *State) DecreaseMinP() float64 {
	return s.adjustMinP(-MinPStep)
}

// SetTemperature sets temperature absolutely, clamped. Used by the remote
// adapter, which is authoritative for dial positions.
func (s *State) SetTemperature(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = clamp(v, TemperatureMin, TemperatureMax)
	return s.temperature
}

// SetTopP sets the nucleus threshold absolutely, clamped.
func (s *State) SetTopP(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topP = clamp(v, TopPMin, TopPMax)
	return s.topP
}

// SetMinP sets the minimum-probability threshold absolutely, clamped.
func (s *State) SetMinP(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minP = clamp(v, MinPMin, MinPMax)
	return s.minP
}

// SetMaxTokens sets the token budget absolutely, rounded and clamped to
// [0, 2048].
func (s *State) SetMaxTokens(v float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(math.Round(v))
	if n < TokensMin {
		n = TokensMin
	} else if n > TokensMax {
		n = TokensMax
	}
	s.maxTokens = n
	return s.maxTokens
}

func (s *State) adjustTemperature(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = clamp(s.temperature+delta, TemperatureMin, TemperatureMax)
	return s.temperature
}

func (s *State) adjustTopP(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topP = clamp(s.topP+delta, TopPMin, TopPMax)
	return s.topP
}

func (s *State) adjustMinP(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minP = clamp(s.minP+delta, MinPMin, MinPMax)
	return s.minP
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// SessionSnapshot is an atomically-read copy of the session state.
type SessionSnapshot struct {
	Mode           string
	Status         contracts.Status
	LastOutputPath string
}

// Session holds the authoritative session status and last-result pointer.
// Mutated only by the session engine; read by the remote adapter and any
// status observer.
type Session struct {
	mu             sync.Mutex
	mode           string
	status         contracts.Status
	lastOutputPath string
}

// NewSession creates session state in the idle status.
func NewSession(mode string) *Session {
	return &Session{mode: mode, status: contracts.StatusIdle}
}

// SetStatus records the current session status.
func (s *Session) SetStatus(status contracts.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status reads the current session status.
func (s *Session) Status() contracts.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetLastOutput records the most recent generated artifact path.
func (s *Session) SetLastOutput(path string) {
	s.mu.Lock()
	s.lastOutputPath = path
	s.mu.Unlock()
}

// Snapshot atomically reads mode, status and last output path.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Mode:           s.mode,
		Status:         s.status,
		LastOutputPath: s.lastOutputPath,
	}
}
