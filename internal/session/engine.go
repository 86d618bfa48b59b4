// Package session owns the record -> generate -> play state machine and the
// polling loop that sequences it, in both the clock-driven and the
// manually-triggered mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/soundloop/continuo/internal/capture"
	"github.com/soundloop/continuo/internal/control"
	"github.com/soundloop/continuo/internal/episodes"
	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/internal/timebase"
	"github.com/soundloop/continuo/sdk/contracts"
)

// Session modes.
const (
	ModeManual = "manual"
	ModeClock  = "clock"
)

const tickInterval = 20 * time.Millisecond

// Config carries the engine's boundary policy.
type Config struct {
	Mode            string  // ModeManual or ModeClock.
	GenSeconds      float64 // Length of continuation to request.
	MaxSeconds      float64 // Manual mode: wall-clock recording limit, 0 = none.
	MaxBars         int     // Manual mode: bar limit applied after tempo inference, 0 = none.
	BeatsPerBar     int     // Time signature numerator.
	HumanMeasures   int     // Clock mode: measures to capture per cycle.
	GenMeasures     int     // Clock mode: measures of continuation; bounds the pulse window.
	CooldownSeconds float64 // Clock mode: rest after a cycle before re-arming.
	TicksPerBeat    int     // Resolution of prompt artifacts.
	PlayGate        bool    // Hold generated output until an explicit play command.
	Quantize        bool    // Snap generated output to a 1/16 grid before playback.
}

// Deps are the injected collaborators. Logger, Params, Session, Commands,
// Buffer, Generator and Output are required; the rest are optional.
type Deps struct {
	Logger    contracts.Logger
	Params    *params.State
	Session   *params.Session
	Commands  *control.Channel
	Buffer    *capture.Buffer
	Grid      *timebase.ClockGrid // Clock mode only.
	Generator contracts.Generator
	Output    contracts.OutputPort
	Recorder  *episodes.Recorder     // Optional feedback capture.
	StatusFn  func(contracts.Status) // Optional outbound status push.
	LogFn     func(string)           // Optional outbound log push.
}

type genResult struct {
	window     contracts.CaptureWindow
	promptPath string
	outputPath string
	err        error
}

type playResult struct {
	err error
}

// Engine sequences one session state machine instance. All mutable state
// below is owned by the Run goroutine; other goroutines reach it only
// through the command channel and the shared state objects.
type Engine struct {
	cfg  Config
	deps Deps
	log  contracts.Logger

	now func() float64 // Monotonic clock, replaceable in tests.

	status         contracts.Status
	recordingStart float64
	recordStartPls int
	cooldownUntil  float64

	pendingOutput string // Artifact path; non-empty only in READY or PLAYING.
	pendingPrompt string // Prompt path kept until playback or cancel.
	pendingBPM    float64

	genCancel       context.CancelFunc
	genDone         chan genResult
	cancelRequested bool // A cancel arrived while GENERATING; drop the result.
	playCancel      context.CancelFunc
	playDone        chan playResult

	episodeID   string
	stagedGrade int
}

// New creates an engine in the idle state.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		now:      timebase.Monotonic,
		status:   contracts.StatusIdle,
		genDone:  make(chan genResult, 1),
		playDone: make(chan playResult, 1),
	}
}

// Run drives the polling loop until ctx is canceled or a fatal error occurs.
// Every exit path releases in-flight work and leaves the session idle.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine loop panic",
				e.log.Field().String("panic", fmt.Sprint(r)),
				e.log.Field().String("stack", string(debug.Stack())))
			err = fmt.Errorf("engine loop panic: %v", r)
		}
		e.shutdown()
	}()

	if e.cfg.Mode == ModeClock {
		// Clock mode records continuously into the rolling window; segment
		// boundaries come from pulse counts, not the capture gate.
		e.deps.Buffer.SetActive(true)
	}
	e.log.Info("session engine started",
		e.log.Field().String("mode", e.cfg.Mode),
		e.log.Field().Bool("play_gate", e.cfg.PlayGate))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("session engine stopping")
			return nil
		case res := <-e.genDone:
			e.onGenerationResult(ctx, res)
		case res := <-e.playDone:
			e.onPlaybackDone(res)
		case <-ticker.C:
			for _, cmd := range e.deps.Commands.Drain() {
				e.handleCommand(ctx, cmd)
			}
			e.tick(ctx, e.now())
		}
	}
}

// shutdown releases everything an exit path may have left in flight. A
// generation result already buffered at exit is drained so its artifacts do
// not outlive the session.
func (e *Engine) shutdown() {
	if e.genCancel != nil {
		e.genCancel()
		e.genCancel = nil
	}
	if e.playCancel != nil {
		e.playCancel()
		e.playCancel = nil
	}
	e.cancelRequested = false
	select {
	case res := <-e.genDone:
		removeQuietly(res.promptPath)
		removeQuietly(res.outputPath)
	default:
	}
	e.deps.Buffer.SetActive(false)
	e.discardPending()
	e.setStatus(contracts.StatusIdle)
}

// tick runs the time-boundary checks that have no natural event source.
func (e *Engine) tick(ctx context.Context, now float64) {
	switch e.cfg.Mode {
	case ModeClock:
		e.tickClock(ctx, now)
	default:
		e.tickManual(ctx, now)
	}
}

func (e *Engine) tickManual(ctx context.Context, now float64) {
	switch e.status {
	case contracts.StatusIdle:
		e.setStatus(contracts.StatusArmed)
		e.pushLog("armed: waiting for start")
	case contracts.StatusRecording:
		if e.cfg.MaxSeconds > 0 && now-e.recordingStart >= e.cfg.MaxSeconds {
			e.log.Info("max recording duration reached",
				e.log.Field().Float64("max_seconds", e.cfg.MaxSeconds))
			e.stopManualSegment(ctx, now)
		}
	}
}

func (e *Engine) tickClock(ctx context.Context, now float64) {
	grid := e.deps.Grid
	switch e.status {
	case contracts.StatusIdle, contracts.StatusArmed:
		if now < e.cooldownUntil {
			return
		}
		pulses := grid.Pulses()
		if pulses == 0 {
			return // No clock yet; stay idle rather than fail.
		}
		e.recordStartPls = pulses
		e.recordingStart = now
		e.setStatus(contracts.StatusRecording)
	case contracts.StatusRecording:
		humanPulses := timebase.PulsesPerBlock(e.cfg.HumanMeasures, e.cfg.BeatsPerBar)
		if grid.Pulses()-e.recordStartPls >= humanPulses {
			e.closeClockSegment(ctx, now)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd contracts.Command) {
	switch cmd.Kind {
	case contracts.CmdStartRecord:
		e.startRecording()
	case contracts.CmdStopRecord:
		e.stopRecording(ctx)
	case contracts.CmdToggleRecord:
		if e.status == contracts.StatusRecording {
			e.stopRecording(ctx)
		} else {
			e.startRecording()
		}
	case contracts.CmdCancel:
		e.cancel()
	case contracts.CmdPlay:
		e.play(ctx)
	case contracts.CmdGrade:
		e.stagedGrade = int(cmd.Value)
		e.log.Info("grade staged", e.log.Field().Int("grade", e.stagedGrade))
	case contracts.CmdCommit:
		e.commitEpisode()
	default:
		e.log.Warn("unknown command ignored",
			e.log.Field().String("command", cmd.Kind.String()))
	}
}

// startRecording opens a new manual segment. Anything but an idle state is a
// logged no-op: duplicate starts must not clear the buffer or retrigger.
func (e *Engine) startRecording() {
	if e.cfg.Mode == ModeClock {
		e.log.Info("start ignored: clock mode boundaries are pulse-driven")
		return
	}
	if e.status != contracts.StatusIdle && e.status != contracts.StatusArmed {
		e.log.Info("start ignored",
			e.log.Field().String("status", string(e.status)))
		return
	}
	e.deps.Buffer.Clear()
	e.deps.Buffer.SetActive(true)
	e.recordingStart = e.now()
	e.setStatus(contracts.StatusRecording)
	e.pushLog("recording started")
}

func (e *Engine) stopRecording(ctx context.Context) {
	if e.cfg.Mode == ModeClock {
		e.log.Info("stop ignored: clock mode boundaries are pulse-driven")
		return
	}
	if e.status != contracts.StatusRecording {
		e.log.Info("stop ignored",
			e.log.Field().String("status", string(e.status)))
		return
	}
	e.stopManualSegment(ctx, e.now())
}

// stopManualSegment closes the active manual segment, applies the
// tempo-derived bar limit, and dispatches generation. An empty capture skips
// the backend entirely.
func (e *Engine) stopManualSegment(ctx context.Context, now float64) {
	e.deps.Buffer.SetActive(false)
	duration := now - e.recordingStart
	events := e.deps.Buffer.Snapshot(now)
	e.log.Info("recording stopped",
		e.log.Field().Float64("duration_s", duration),
		e.log.Field().Int("events", len(events)))

	if len(events) == 0 {
		e.log.Warn("no events captured; skipping generation")
		e.pushLog("empty take: nothing to generate")
		e.setStatus(contracts.StatusIdle)
		return
	}

	bpm, ok := timebase.InferBPM(timebase.OnsetTimes(events))
	if ok {
		e.log.Info("tempo inferred from onsets", e.log.Field().Float64("bpm", bpm))
		if e.cfg.MaxBars > 0 {
			maxDuration := 60.0 / bpm * float64(e.cfg.BeatsPerBar) * float64(e.cfg.MaxBars)
			if duration > maxDuration {
				before := len(events)
				events = capture.TrimToDuration(events, e.recordingStart, maxDuration)
				duration = maxDuration
				e.log.Info("capture trimmed to bar limit",
					e.log.Field().Int("max_bars", e.cfg.MaxBars),
					e.log.Field().Float64("max_duration_s", maxDuration),
					e.log.Field().Int("kept", len(events)),
					e.log.Field().Int("recorded", before))
			}
		}
	} else {
		e.log.Info("tempo inference failed; using 120 BPM for prompt conversion")
	}

	e.dispatch(ctx, contracts.CaptureWindow{Events: events, Duration: duration, BPM: bpm})
}

// closeClockSegment snapshots the rolling window at a block boundary and
// dispatches generation. Events are re-based to pulse offsets from segment
// start; offsets at or beyond the generation window are dropped.
func (e *Engine) closeClockSegment(ctx context.Context, now float64) {
	events := e.deps.Buffer.Snapshot(now)
	kept := make([]contracts.TimestampedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Pulse >= e.recordStartPls {
			ev.Pulse -= e.recordStartPls
			kept = append(kept, ev)
		}
	}
	maxOffset := timebase.PulsesPerBlock(e.cfg.GenMeasures, e.cfg.BeatsPerBar)
	kept = capture.TrimToPulseWindow(kept, maxOffset)
	e.deps.Buffer.Clear()

	bpm, haveBPM := e.deps.Grid.BPM()
	if !haveBPM {
		bpm = timebase.DefaultBPM
		e.log.Info("no clock tempo estimate yet; assuming 120 BPM")
	}
	duration := now - e.recordingStart
	e.log.Info("clock segment closed",
		e.log.Field().Int("events", len(kept)),
		e.log.Field().Float64("bpm", bpm),
		e.log.Field().Float64("duration_s", duration))

	if len(kept) == 0 {
		e.log.Info("empty clock segment; re-arming")
		e.cooldownUntil = now + e.cfg.CooldownSeconds
		e.setStatus(contracts.StatusIdle)
		return
	}
	e.dispatch(ctx, contracts.CaptureWindow{Events: kept, Duration: duration, BPM: bpm})
}

// dispatch converts the window into a prompt artifact and starts the backend
// call with the parameter snapshot frozen at this moment.
func (e *Engine) dispatch(ctx context.Context, window contracts.CaptureWindow) {
	promptPath, err := writeWindow(window, e.cfg.TicksPerBeat)
	if err != nil {
		e.log.Error("prompt conversion failed", e.log.Field().Error("err", err))
		e.setStatus(contracts.StatusIdle)
		return
	}

	snap := e.deps.Params.Snapshot()
	promptSeconds := int(window.Duration)
	if promptSeconds < 1 {
		promptSeconds = 1
	}
	req := contracts.GenerationRequest{
		PromptPath:     promptPath,
		PromptSeconds:  promptSeconds,
		HorizonSeconds: e.cfg.GenSeconds,
		Temperature:    snap.Temperature,
		TopP:           snap.TopP,
		MinP:           snap.MinP,
		MaxNewTokens:   snap.MaxTokens,
	}

	genCtx, cancel := context.WithCancel(ctx)
	e.genCancel = cancel
	e.setStatus(contracts.StatusGenerating)
	e.pushLog(fmt.Sprintf("generating: temp=%.2f top_p=%.2f min_p=%.2f",
		snap.Temperature, snap.TopP, snap.MinP))

	started := time.Now()
	gen := e.deps.Generator
	go func() {
		out, genErr := gen.Generate(genCtx, req)
		e.log.Info("backend returned",
			e.log.Field().Duration("elapsed", time.Since(started)))
		e.genDone <- genResult{window: window, promptPath: promptPath, outputPath: out, err: genErr}
	}()
}

func (e *Engine) onGenerationResult(ctx context.Context, res genResult) {
	if e.genCancel != nil {
		e.genCancel()
		e.genCancel = nil
	}

	// A cancel during GENERATING wins even when the backend delivered an
	// artifact anyway (a backend that ignores its context, or a result
	// already buffered when the cancel was drained).
	if e.cancelRequested {
		e.cancelRequested = false
		e.log.Info("generation canceled; discarding result")
		e.pushLog("generation canceled")
		removeQuietly(res.promptPath)
		removeQuietly(res.outputPath)
		e.setStatus(contracts.StatusIdle)
		e.startCooldown()
		return
	}

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			e.log.Info("generation canceled")
		} else {
			e.log.Error("generation failed", e.log.Field().Error("err", res.err))
			e.pushLog("generation failed")
		}
		removeQuietly(res.promptPath)
		e.setStatus(contracts.StatusIdle)
		e.startCooldown()
		return
	}
	if res.outputPath == "" {
		e.log.Warn("backend returned no artifact; returning to idle")
		e.pushLog("generation returned nothing")
		removeQuietly(res.promptPath)
		e.setStatus(contracts.StatusIdle)
		e.startCooldown()
		return
	}

	e.recordEpisode(res.promptPath, res.outputPath)
	e.deps.Session.SetLastOutput(res.outputPath)
	e.pendingOutput = res.outputPath
	e.pendingPrompt = res.promptPath
	e.pendingBPM = res.window.BPM

	if e.cfg.PlayGate {
		e.setStatus(contracts.StatusReady)
		e.pushLog("output ready: awaiting play")
		return
	}
	e.startPlayback(ctx)
}

// recordEpisode persists a draft feedback episode when capture is enabled.
// A still-open earlier episode is a logged skip, never a cycle failure.
func (e *Engine) recordEpisode(promptPath, outputPath string) {
	if e.deps.Recorder == nil {
		return
	}
	promptBytes, err := os.ReadFile(promptPath)
	if err != nil {
		e.log.Error("episode skipped: read prompt", e.log.Field().Error("err", err))
		return
	}
	outputBytes, err := os.ReadFile(outputPath)
	if err != nil {
		e.log.Error("episode skipped: read output", e.log.Field().Error("err", err))
		return
	}
	id, err := e.deps.Recorder.Begin(promptBytes, outputBytes, e.deps.Params.Snapshot(), e.cfg.Mode)
	if err != nil {
		e.log.Warn("episode not recorded", e.log.Field().Error("err", err))
		return
	}
	e.episodeID = id
}

func (e *Engine) commitEpisode() {
	if e.deps.Recorder == nil {
		e.log.Info("commit ignored: feedback capture disabled")
		return
	}
	if err := e.deps.Recorder.Finalize(e.episodeID, e.stagedGrade); err != nil {
		e.log.Error("episode finalize failed", e.log.Field().Error("err", err))
		return
	}
	e.episodeID = ""
	e.stagedGrade = 0
}

// play releases a gated artifact. A play with nothing pending is a logged
// no-op.
func (e *Engine) play(ctx context.Context) {
	if e.status != contracts.StatusReady || e.pendingOutput == "" {
		e.log.Info("play ignored: nothing pending",
			e.log.Field().String("status", string(e.status)))
		return
	}
	e.startPlayback(ctx)
}

func (e *Engine) startPlayback(ctx context.Context) {
	msgs, total, err := readArtifact(e.pendingOutput)
	if err != nil {
		e.log.Error("artifact unreadable; discarding", e.log.Field().Error("err", err))
		e.discardPending()
		e.setStatus(contracts.StatusIdle)
		e.startCooldown()
		return
	}
	if e.cfg.Quantize {
		msgs = quantizeToGrid(msgs, e.pendingBPM)
	}

	playCtx, cancel := context.WithCancel(ctx)
	e.playCancel = cancel
	e.setStatus(contracts.StatusPlaying)
	e.log.Info("playback started",
		e.log.Field().Int("messages", len(msgs)),
		e.log.Field().Float64("length_s", total))

	out := e.deps.Output
	go func() {
		e.playDone <- playResult{err: playMessages(playCtx, out, msgs)}
	}()
}

func (e *Engine) onPlaybackDone(res playResult) {
	if e.playCancel != nil {
		e.playCancel()
		e.playCancel = nil
	}
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		e.log.Error("playback failed", e.log.Field().Error("err", res.err))
	} else {
		e.log.Info("playback complete")
		e.pushLog("playback complete")
	}
	e.discardPending()
	e.setStatus(contracts.StatusIdle)
	e.startCooldown()
}

// cancel clears any in-progress recording and pending output, forcing idle.
// During generation the in-flight context is canceled; the result handler
// finishes the transition when the backend call returns.
func (e *Engine) cancel() {
	switch e.status {
	case contracts.StatusRecording:
		if e.cfg.Mode != ModeClock {
			e.deps.Buffer.SetActive(false)
		}
		e.deps.Buffer.Clear()
		e.setStatus(contracts.StatusIdle)
		e.pushLog("recording canceled")
	case contracts.StatusGenerating:
		e.cancelRequested = true
		if e.genCancel != nil {
			e.genCancel()
		}
		e.log.Info("cancel requested during generation")
	case contracts.StatusReady:
		e.discardPending()
		e.setStatus(contracts.StatusIdle)
		e.pushLog("pending output discarded")
	case contracts.StatusPlaying:
		if e.playCancel != nil {
			e.playCancel()
		}
		e.log.Info("cancel requested during playback")
	default:
		e.log.Info("cancel ignored",
			e.log.Field().String("status", string(e.status)))
	}
}

func (e *Engine) discardPending() {
	removeQuietly(e.pendingOutput)
	removeQuietly(e.pendingPrompt)
	e.pendingOutput = ""
	e.pendingPrompt = ""
	e.pendingBPM = 0
}

// HasPendingOutput exposes the play-gate state as an opaque boolean; the
// artifact handle itself never leaves the engine.
func (e *Engine) HasPendingOutput() bool {
	return e.pendingOutput != ""
}

func (e *Engine) startCooldown() {
	if e.cfg.Mode == ModeClock && e.cfg.CooldownSeconds > 0 {
		e.cooldownUntil = e.now() + e.cfg.CooldownSeconds
	}
}

func (e *Engine) setStatus(status contracts.Status) {
	if e.status == status {
		return
	}
	e.log.Debug("status transition",
		e.log.Field().String("from", string(e.status)),
		e.log.Field().String("to", string(status)))
	e.status = status
	e.deps.Session.SetStatus(status)
	e.pushStatus()
}

func (e *Engine) pushStatus() {
	if e.deps.StatusFn != nil {
		e.deps.StatusFn(e.status)
	}
}

func (e *Engine) pushLog(msg string) {
	if e.deps.LogFn != nil {
		e.deps.LogFn(msg)
	}
}

// playMessages sends the artifact's messages to the output port preserving
// their relative timing. On cancellation, every note still sounding gets a
// note-off before returning.
func playMessages(ctx context.Context, out contracts.OutputPort, msgs []TimedMessage) error {
	start := time.Now()
	sounding := make(map[uint8]bool)
	defer func() {
		for note := range sounding {
			_ = out.SendNoteOff(note)
		}
	}()

	for _, m := range msgs {
		wait := time.Duration(m.At*float64(time.Second)) - time.Since(start)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		var err error
		switch m.Kind {
		case contracts.NoteOn:
			err = out.SendNoteOn(m.Note, m.Velocity)
			sounding[m.Note] = true
		case contracts.NoteOff:
			err = out.SendNoteOff(m.Note)
			delete(sounding, m.Note)
		case contracts.ControlChange:
			err = out.SendControlChange(m.Control, m.Value)
		}
		if err != nil {
			return fmt.Errorf("send to output port: %w", err)
		}
	}
	return nil
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
