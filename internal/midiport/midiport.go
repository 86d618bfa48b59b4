// Package midiport implements the hardware MIDI port boundary on top of the
// cross-platform rtmidi driver.
package midiport

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/soundloop/continuo/internal/timebase"
	"github.com/soundloop/continuo/sdk/contracts"
)

// Virtual/system ports that are never auto-selected.
var excludedPatterns = []string{"Midi Through", "Through Port", "Dummy"}

const eventBufferSize = 256

// Driver owns the rtmidi handle. One per process; Close releases it and
// every port opened through it.
type Driver struct {
	drv *rtmididrv.Driver
	log contracts.Logger
}

// NewDriver initializes the rtmidi backend.
func NewDriver(log contracts.Logger) (*Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &Driver{drv: drv, log: log}, nil
}

// Close shuts down the rtmidi backend.
func (d *Driver) Close() error {
	return d.drv.Close()
}

// Devices lists the MIDI ports visible on the system, with virtual/system
// ports excluded.
func (d *Driver) Devices() ([]contracts.DeviceInfo, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	byName := make(map[string]*contracts.DeviceInfo)
	var order []string
	for _, in := range ins {
		name := in.String()
		if isExcluded(name) {
			continue
		}
		byName[name] = &contracts.DeviceInfo{Name: name, Input: true}
		order = append(order, name)
	}
	for _, out := range outs {
		name := out.String()
		if isExcluded(name) {
			continue
		}
		if info, ok := byName[name]; ok {
			info.Output = true
			continue
		}
		byName[name] = &contracts.DeviceInfo{Name: name, Output: true}
		order = append(order, name)
	}

	devices := make([]contracts.DeviceInfo, 0, len(order))
	for _, name := range order {
		devices = append(devices, *byName[name])
	}
	return devices, nil
}

// OpenInput opens the named input port and streams its note, controller and
// clock events. The returned port's channel is closed when the port closes.
func (d *Driver) OpenInput(name string) (contracts.InputPort, error) {
	in, err := d.findIn(name)
	if err != nil {
		return nil, err
	}
	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("open input %q: %w", name, err)
	}

	p := &inputPort{
		in:     in,
		log:    d.log,
		events: make(chan contracts.TimestampedEvent, eventBufferSize),
	}
	stop, err := midi.ListenTo(in, p.onMessage, midi.UseTimeCode(),
		midi.HandleError(func(listenErr error) {
			d.log.Warn("midi listener error",
				d.log.Field().String("port", name),
				d.log.Field().Error("err", listenErr))
		}))
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("listen on %q: %w", name, err)
	}
	p.stop = stop
	d.log.Info("midi input connected", d.log.Field().String("port", name))
	return p, nil
}

// OpenOutput opens the named output port.
func (d *Driver) OpenOutput(name string) (contracts.OutputPort, error) {
	out, err := d.findOut(name)
	if err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("open output %q: %w", name, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("sender for %q: %w", name, err)
	}
	d.log.Info("midi output connected", d.log.Field().String("port", name))
	return &outputPort{out: out, send: send}, nil
}

func (d *Driver) findIn(name string) (drivers.In, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("midi input %q not found", name)
}

func (d *Driver) findOut(name string) (drivers.Out, error) {
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	for _, out := range outs {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("midi output %q not found", name)
}

func isExcluded(name string) bool {
	for _, pat := range excludedPatterns {
		if strings.Contains(strings.ToLower(name), strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

type inputPort struct {
	in     drivers.In
	stop   func()
	log    contracts.Logger
	events chan contracts.TimestampedEvent
}

// onMessage runs on the driver callback goroutine. It must never block: a
// full consumer drops the event instead of stalling the driver.
func (p *inputPort) onMessage(msg midi.Message, _ int32) {
	now := timebase.Monotonic()
	ev := contracts.TimestampedEvent{Timestamp: now, Pulse: -1}

	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		ev.Kind = contracts.NoteOn
		ev.Note = key
		ev.Velocity = vel
	case msg.GetNoteEnd(&ch, &key):
		ev.Kind = contracts.NoteOff
		ev.Note = key
	case msg.GetControlChange(&ch, &cc, &val):
		ev.Kind = contracts.ControlChange
		ev.Control = cc
		ev.Value = val
	case msg.Is(midi.TimingClockMsg):
		ev.Kind = contracts.ClockPulse
	default:
		return
	}

	select {
	case p.events <- ev:
	default:
		p.log.Warn("input event dropped: consumer too slow",
			p.log.Field().String("kind", ev.Kind.String()))
	}
}

func (p *inputPort) Events() <-chan contracts.TimestampedEvent {
	return p.events
}

func (p *inputPort) Close() error {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	err := p.in.Close()
	close(p.events)
	return err
}

type outputPort struct {
	out  drivers.Out
	send func(midi.Message) error
}

func (p *outputPort) SendNoteOn(note, velocity uint8) error {
	return p.send(midi.NoteOn(0, note, velocity))
}

func (p *outputPort) SendNoteOff(note uint8) error {
	return p.send(midi.NoteOff(0, note))
}

func (p *outputPort) SendControlChange(control, value uint8) error {
	return p.send(midi.ControlChange(0, control, value))
}

func (p *outputPort) Close() error {
	return p.out.Close()
}
