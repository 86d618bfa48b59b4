package session

import (
	"fmt"
	"math"
	"os"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/soundloop/continuo/internal/timebase"
	"github.com/soundloop/continuo/sdk/contracts"
)

// TimedMessage is one playable message with an absolute offset in seconds
// from the start of its artifact.
type TimedMessage struct {
	At       float64
	Kind     contracts.EventKind
	Note     uint8
	Velocity uint8
	Control  uint8
	Value    uint8
}

// writeWindow converts a capture window into a type-0 standard MIDI file in
// the temp directory and returns its path. Relative timing between events is
// preserved; the file's tempo is the window's inferred BPM, or the 120 BPM
// default when unknown.
func writeWindow(window contracts.CaptureWindow, ticksPerBeat int) (string, error) {
	bpm := window.BPM
	if bpm <= 0 {
		bpm = timebase.DefaultBPM
	}
	ticksPerSecond := bpm / 60.0 * float64(ticksPerBeat)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerBeat)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(bpm))

	prev := 0.0
	if len(window.Events) > 0 {
		prev = window.Events[0].Timestamp
	}
	for _, ev := range window.Events {
		delta := uint32(math.Round((ev.Timestamp - prev) * ticksPerSecond))
		prev = ev.Timestamp
		switch ev.Kind {
		case contracts.NoteOn:
			tr.Add(delta, midi.NoteOn(0, ev.Note, ev.Velocity))
		case contracts.NoteOff:
			tr.Add(delta, midi.NoteOff(0, ev.Note))
		case contracts.ControlChange:
			tr.Add(delta, midi.ControlChange(0, ev.Control, ev.Value))
		}
	}
	tr.Close(0)
	if err := s.Add(tr); err != nil {
		return "", fmt.Errorf("assemble prompt track: %w", err)
	}

	f, err := os.CreateTemp("", "continuo-prompt-*.mid")
	if err != nil {
		return "", fmt.Errorf("create prompt file: %w", err)
	}
	path := f.Name()
	if _, err := s.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close prompt file: %w", err)
	}
	return path, nil
}

// readArtifact flattens a standard MIDI file into absolute-time playable
// messages, honoring tempo meta events. Returns the messages and the total
// length in seconds.
func readArtifact(path string) ([]TimedMessage, float64, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read artifact %s: %w", path, err)
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, 0, fmt.Errorf("artifact %s: unsupported SMPTE time format", path)
	}

	var msgs []TimedMessage
	total := 0.0
	for _, track := range s.Tracks {
		at := 0.0
		tempo := timebase.DefaultBPM
		for _, ev := range track {
			at += ticks.Duration(tempo, ev.Delta).Seconds()
			msg := ev.Message
			var bpm float64
			var ch, key, vel, cc, val uint8
			switch {
			case msg.GetMetaTempo(&bpm):
				tempo = bpm
			case msg.GetNoteStart(&ch, &key, &vel):
				msgs = append(msgs, TimedMessage{At: at, Kind: contracts.NoteOn, Note: key, Velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				msgs = append(msgs, TimedMessage{At: at, Kind: contracts.NoteOff, Note: key})
			case msg.GetControlChange(&ch, &cc, &val):
				msgs = append(msgs, TimedMessage{At: at, Kind: contracts.ControlChange, Control: cc, Value: val})
			}
		}
		if at > total {
			total = at
		}
	}
	return msgs, total, nil
}

// quantizeToGrid snaps message offsets to the nearest 1/16-note grid line at
// the given tempo. Note-off ordering relative to the matching note-on is
// preserved by the stable snap (equal inputs snap equally).
func quantizeToGrid(msgs []TimedMessage, bpm float64) []TimedMessage {
	if bpm <= 0 {
		bpm = timebase.DefaultBPM
	}
	grid := 60.0 / bpm / 4.0
	out := make([]TimedMessage, len(msgs))
	for i, m := range msgs {
		m.At = math.Round(m.At/grid) * grid
		out[i] = m
	}
	return out
}
