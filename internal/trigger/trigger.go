// Package trigger provides the local trigger source: keyboard input mapped
// to control commands and sampling-parameter nudges. One backend is selected
// at startup by capability probing; call sites never branch on platform.
package trigger

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/soundloop/continuo/internal/control"
	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/sdk/contracts"
)

// ErrInterrupted reports that the user pressed Ctrl+C while the terminal was
// in raw mode, where the signal never reaches the process.
var ErrInterrupted = errors.New("interrupted from keyboard")

// Keymap binds keys to session actions. Parameter nudges are fixed:
// 1/2 temperature down/up, 3/4 top_p, 5/6 min_p.
type Keymap struct {
	Record byte // Toggles recording.
	Play   byte // Releases a gated output; 0 disables the play key.
}

// Source emits commands from a local input device until ctx is canceled.
type Source interface {
	// Run blocks reading input. It returns ErrInterrupted on a raw-mode
	// Ctrl+C and nil on context cancellation or end of input.
	Run(ctx context.Context) error
	// Name identifies the selected backend for logging.
	Name() string
}

// Detect probes terminal capability once and returns the best available
// backend: raw-mode polling when stdin is a TTY, a blocking line prompt
// otherwise.
func Detect(keys Keymap, cmds *control.Channel, p *params.State, log contracts.Logger) Source {
	shared := shared{keys: keys, commands: cmds, params: p, log: log}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return &rawSource{shared: shared, in: os.Stdin}
	}
	return &promptSource{shared: shared, in: os.Stdin}
}

type shared struct {
	keys     Keymap
	commands *control.Channel
	params   *params.State
	log      contracts.Logger
}

// handleKey maps one key to its action. Unknown keys are ignored.
func (s *shared) handleKey(b byte) {
	switch b {
	case s.keys.Record:
		s.commands.Push(contracts.Command{Kind: contracts.CmdToggleRecord})
		return
	case s.keys.Play:
		if s.keys.Play != 0 {
			s.commands.Push(contracts.Command{Kind: contracts.CmdPlay})
			return
		}
	}

	switch b {
	case '1':
		s.params.DecreaseTemperature()
	case '2':
		s.params.IncreaseTemperature()
	case '3':
		s.params.DecreaseTopP()
	case '4':
		s.params.IncreaseTopP()
	case '5':
		s.params.DecreaseMinP()
	case '6':
		s.params.IncreaseMinP()
	default:
		return
	}
	snap := s.params.Snapshot()
	s.log.Info("sampling adjusted",
		s.log.Field().Float64("temperature", snap.Temperature),
		s.log.Field().Float64("top_p", snap.TopP),
		s.log.Field().Float64("min_p", snap.MinP))
}

// rawSource polls single keys with the terminal in raw mode.
type rawSource struct {
	shared
	in *os.File
}

func (r *rawSource) Name() string { return "raw-poll" }

func (r *rawSource) Run(ctx context.Context) error {
	fd := int(r.in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	r.log.Info("hotkeys active",
		r.log.Field().String("backend", r.Name()),
		r.log.Field().String("record_key", string(r.keys.Record)))

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			n, readErr := r.in.Read(buf)
			if readErr != nil {
				close(keys)
				return
			}
			if n == 1 {
				keys <- buf[0]
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-keys:
			if !ok {
				return nil
			}
			if b == 0x03 { // Ctrl+C arrives as a byte in raw mode.
				return ErrInterrupted
			}
			r.handleKey(b)
		}
	}
}

// promptSource reads whole lines; the last-resort backend when stdin is not
// a terminal (pipes, service managers).
type promptSource struct {
	shared
	in io.Reader
}

func (p *promptSource) Name() string { return "blocking-prompt" }

func (p *promptSource) Run(ctx context.Context) error {
	p.log.Info("hotkeys active (line mode)",
		p.log.Field().String("backend", p.Name()))

	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// Bare newline toggles recording, the most common action.
			p.handleKey(p.keys.Record)
			continue
		}
		p.handleKey(line[0])
	}
	return scanner.Err()
}
