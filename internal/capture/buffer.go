// Package capture holds the rolling buffer of timestamped performance
// events written by the MIDI reader and drained by the session engine.
package capture

import (
	"sync"

	"github.com/soundloop/continuo/sdk/contracts"
)

// Buffer is a time-windowed, continuously-evicting store of timestamped
// events. One writer (the I/O reader) appends; readers take copies. The
// writer never blocks on a reader: both sides hold the mutex only for the
// append or the copy itself.
type Buffer struct {
	mu            sync.Mutex
	events        []contracts.TimestampedEvent
	active        bool
	windowSeconds float64 // 0 disables lazy eviction (manual mode).
}

// New creates a buffer. windowSeconds bounds the rolling window in clock
// mode; pass 0 in manual mode, where the stop command bounds the segment.
func New(windowSeconds float64) *Buffer {
	return &Buffer{windowSeconds: windowSeconds}
}

// SetActive opens or closes the capture gate. Pushes while inactive are
// dropped.
func (b *Buffer) SetActive(active bool) {
	b.mu.Lock()
	b.active = active
	b.mu.Unlock()
}

// Active reports whether a capture is currently accepting events.
func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Push appends an event if and only if a capture is active.
func (b *Buffer) Push(ev contracts.TimestampedEvent) {
	b.mu.Lock()
	if b.active {
		b.events = append(b.events, ev)
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the accumulated ordered sequence without
// clearing it. In clock mode, events older than now-windowSeconds are
// evicted lazily here before the copy is taken.
func (b *Buffer) Snapshot(now float64) []contracts.TimestampedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.windowSeconds > 0 {
		cutoff := now - b.windowSeconds
		i := 0
		for i < len(b.events) && b.events[i].Timestamp < cutoff {
			i++
		}
		if i > 0 {
			b.events = append(b.events[:0], b.events[i:]...)
		}
	}
	out := make([]contracts.TimestampedEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the current event count without evicting.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.events = b.events[:0]
	b.mu.Unlock()
}

// TrimToDuration drops events recorded after start+maxSeconds. Deterministic
// for a given sequence: retention is timestamp <= cutoff.
func TrimToDuration(events []contracts.TimestampedEvent, start, maxSeconds float64) []contracts.TimestampedEvent {
	cutoff := start + maxSeconds
	out := make([]contracts.TimestampedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp <= cutoff {
			out = append(out, ev)
		}
	}
	return out
}

// TrimToPulseWindow retains events whose pulse offset is strictly below
// maxOffset; boundary-equal events are dropped. Events without a pulse
// position (Pulse < 0) are kept.
func TrimToPulseWindow(events []contracts.TimestampedEvent, maxOffset int) []contracts.TimestampedEvent {
	out := make([]contracts.TimestampedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Pulse < 0 || ev.Pulse < maxOffset {
			out = append(out, ev)
		}
	}
	return out
}
