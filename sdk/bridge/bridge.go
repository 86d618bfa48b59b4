// Package bridge assembles the real-time control core: MIDI I/O, capture,
// session engine, local hotkeys and the remote control plane, wired from one
// validated configuration.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/soundloop/continuo/internal/capture"
	"github.com/soundloop/continuo/internal/config"
	"github.com/soundloop/continuo/internal/control"
	"github.com/soundloop/continuo/internal/episodes"
	"github.com/soundloop/continuo/internal/generator"
	"github.com/soundloop/continuo/internal/midiport"
	"github.com/soundloop/continuo/internal/osc"
	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/internal/session"
	"github.com/soundloop/continuo/internal/timebase"
	"github.com/soundloop/continuo/internal/trigger"
	"github.com/soundloop/continuo/sdk/contracts"
)

const startupSyncTimeout = 2 * time.Second

// Bridge owns the assembled components and their lifetimes.
type Bridge struct {
	cfg  config.Config
	opts contracts.BridgeOptions
	log  contracts.Logger

	paramState   *params.State
	sessionState *params.Session
	commands     *control.Channel
	buffer       *capture.Buffer
	grid         *timebase.ClockGrid
	recorder     *episodes.Recorder
	adapter      *osc.Adapter
}

// New validates the configuration and constructs the shared state. Ports and
// network endpoints are not touched until Run.
func New(cfg config.Config, opts ...contracts.Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := applyDefaultOptions(opts...)
	log := options.Logger

	if options.Generator == nil {
		options.Generator = generator.NewSubprocess(
			cfg.GeneratorCommand, cfg.GeneratorArgs, cfg.Checkpoint, log)
	}

	b := &Bridge{
		cfg:          cfg,
		opts:         options,
		log:          log,
		paramState:   params.NewState(cfg.Temperature, cfg.TopP, cfg.MinP),
		sessionState: params.NewSession(cfg.Mode),
		commands:     control.NewChannel(),
	}

	window := 0.0
	if cfg.Mode == config.ModeClock {
		window = cfg.ListenSeconds
		b.grid = timebase.NewClockGrid(cfg.BeatsPerBar)
	}
	b.buffer = capture.New(window)

	if cfg.Feedback {
		rec, err := episodes.NewRecorder(cfg.DataDir, log)
		if err != nil {
			return nil, err
		}
		b.recorder = rec
	}

	if cfg.OSCEnabled {
		b.adapter = osc.New(osc.Config{
			Host:    cfg.OSCHost,
			InPort:  cfg.OSCInPort,
			OutPort: cfg.OSCOutPort,
		}, b.paramState, b.sessionState, b.commands, log)
	}

	return b, nil
}

// Run opens ports and endpoints, starts every loop, and blocks until ctx is
// canceled or the engine exits. All resources are released on every path.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in, out, clock, cleanup, err := b.openPorts()
	if err != nil {
		return err
	}
	defer cleanup()

	var statusFn func(contracts.Status)
	var logFn func(string)
	if b.adapter != nil {
		if err := b.adapter.Start(); err != nil {
			return err
		}
		defer b.adapter.Close()
		snap := b.adapter.SyncOnStartup(startupSyncTimeout)
		b.log.Info("sampling parameters after startup sync",
			b.log.Field().Float64("temperature", snap.Temperature),
			b.log.Field().Float64("top_p", snap.TopP),
			b.log.Field().Float64("min_p", snap.MinP))
		b.adapter.SendStatus(b.sessionState.Status())
		b.adapter.SendParams()
		statusFn = b.adapter.SendStatus
		logFn = b.adapter.SendLog
	}

	go b.readInput(ctx, in)
	if clock != nil {
		go b.readClock(ctx, clock)
	} else if b.cfg.Mode == config.ModeClock {
		b.log.Warn("no clock source configured; falling back to inferred tempo")
	}

	trig := trigger.Detect(trigger.Keymap{
		Record: b.cfg.RecordKey,
		Play:   b.cfg.PlayKey,
	}, b.commands, b.paramState, b.log)
	go func() {
		if trigErr := trig.Run(ctx); errors.Is(trigErr, trigger.ErrInterrupted) {
			b.log.Info("keyboard interrupt; shutting down")
			cancel()
		}
	}()

	engine := session.New(session.Config{
		Mode:            b.cfg.Mode,
		GenSeconds:      b.cfg.GenSeconds,
		MaxSeconds:      b.cfg.MaxSeconds,
		MaxBars:         b.cfg.MaxBars,
		BeatsPerBar:     b.cfg.BeatsPerBar,
		HumanMeasures:   b.cfg.HumanMeasures,
		GenMeasures:     b.cfg.GenMeasures,
		CooldownSeconds: b.cfg.CooldownSeconds,
		TicksPerBeat:    b.cfg.TicksPerBeat,
		PlayGate:        b.cfg.PlayGate,
		Quantize:        b.cfg.Quantize,
	}, session.Deps{
		Logger:    b.log,
		Params:    b.paramState,
		Session:   b.sessionState,
		Commands:  b.commands,
		Buffer:    b.buffer,
		Grid:      b.grid,
		Generator: b.opts.Generator,
		Output:    out,
		Recorder:  b.recorder,
		StatusFn:  statusFn,
		LogFn:     logFn,
	})
	return engine.Run(ctx)
}

// openPorts resolves the injected or hardware-backed ports. The returned
// cleanup closes whatever was opened here, in reverse order.
func (b *Bridge) openPorts() (contracts.InputPort, contracts.OutputPort, contracts.InputPort, func(), error) {
	in := b.opts.Input
	out := b.opts.Output
	clock := b.opts.Clock

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	needDriver := in == nil || out == nil ||
		(clock == nil && b.cfg.Mode == config.ModeClock && b.cfg.ClockPort != "")
	if needDriver {
		driver, err := midiport.NewDriver(b.log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closers = append(closers, func() { driver.Close() })

		if in == nil {
			if in, err = driver.OpenInput(b.cfg.InPort); err != nil {
				cleanup()
				return nil, nil, nil, nil, err
			}
			closers = append(closers, func() { in.Close() })
		}
		if out == nil {
			if out, err = driver.OpenOutput(b.cfg.OutPort); err != nil {
				cleanup()
				return nil, nil, nil, nil, err
			}
			closers = append(closers, func() { out.Close() })
		}
		if clock == nil && b.cfg.Mode == config.ModeClock && b.cfg.ClockPort != "" {
			if clock, err = driver.OpenInput(b.cfg.ClockPort); err != nil {
				cleanup()
				return nil, nil, nil, nil, err
			}
			closers = append(closers, func() { clock.Close() })
		}
	}

	return in, out, clock, cleanup, nil
}

// readInput ingests performance events into the capture buffer, stamping the
// musical pulse position when a clock grid is live. Clock pulses arriving on
// the performance port feed the grid directly.
func (b *Bridge) readInput(ctx context.Context, in contracts.InputPort) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.Events():
			if !ok {
				return
			}
			if ev.Kind == contracts.ClockPulse {
				if b.grid != nil {
					b.grid.Tick(ev.Timestamp)
				}
				continue
			}
			if b.grid != nil {
				ev.Pulse = b.grid.Pulses()
			}
			b.buffer.Push(ev)
		}
	}
}

// readClock feeds a dedicated clock port into the grid.
func (b *Bridge) readClock(ctx context.Context, clock contracts.InputPort) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-clock.Events():
			if !ok {
				return
			}
			if ev.Kind == contracts.ClockPulse && b.grid != nil {
				b.grid.Tick(ev.Timestamp)
			}
		}
	}
}
