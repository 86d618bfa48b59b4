// Package generator provides the default generation backend: a subprocess
// wrapper around an external model CLI. The engine only sees the
// contracts.Generator boundary, so any backend can replace this one.
package generator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/soundloop/continuo/sdk/contracts"
)

// Tokens requested per second of horizon when no explicit budget is set.
const tokensPerSecond = 256

// Subprocess shells out to a generation CLI that reads a prompt MIDI file
// and writes continuation MIDI files into a save directory. Cancelling the
// context kills the child process.
type Subprocess struct {
	command    string   // Executable to run.
	baseArgs   []string // Arguments placed before the per-request flags.
	checkpoint string   // Model checkpoint path handed to the CLI.
	log        contracts.Logger
}

// NewSubprocess creates a backend invoking the given command. baseArgs lets
// callers target module-style CLIs (e.g. an interpreter plus script path).
func NewSubprocess(command string, baseArgs []string, checkpoint string, log contracts.Logger) *Subprocess {
	return &Subprocess{command: command, baseArgs: baseArgs, checkpoint: checkpoint, log: log}
}

// Generate runs one backend call. A run that produces no MIDI file is a
// recoverable failure: empty path, nil error.
func (s *Subprocess) Generate(ctx context.Context, req contracts.GenerationRequest) (string, error) {
	saveDir, err := os.MkdirTemp("", "continuo-gen-*")
	if err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tokens := req.MaxNewTokens
	if tokens <= 0 {
		tokens = int(math.Ceil(req.HorizonSeconds * tokensPerSecond))
	}

	args := append([]string{}, s.baseArgs...)
	args = append(args,
		"--checkpoint_path", s.checkpoint,
		"--prompt_midi_path", req.PromptPath,
		"--prompt_duration", strconv.Itoa(req.PromptSeconds),
		"--temp", formatFloat(req.Temperature),
		"--top_p", formatFloat(req.TopP),
		"--min_p", formatFloat(req.MinP),
		"--length", strconv.Itoa(tokens),
		"--variations", "1",
		"--save_dir", saveDir,
	)

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	s.log.Debug("backend invocation",
		s.log.Field().String("command", s.command),
		s.log.Field().Int("tokens", tokens))

	if err := cmd.Run(); err != nil {
		os.RemoveAll(saveDir)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("backend %s: %w", s.command, err)
	}

	out, err := firstMIDIFile(saveDir)
	if err != nil {
		os.RemoveAll(saveDir)
		return "", err
	}
	if out == "" {
		s.log.Warn("backend produced no artifact",
			s.log.Field().String("save_dir", saveDir))
		os.RemoveAll(saveDir)
		return "", nil
	}

	// Move the artifact out so the save dir never outlives the call.
	final, err := promoteArtifact(out)
	os.RemoveAll(saveDir)
	if err != nil {
		return "", err
	}
	return final, nil
}

// promoteArtifact renames the artifact to a standalone temp file.
func promoteArtifact(path string) (string, error) {
	f, err := os.CreateTemp("", "continuo-out-*.mid")
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close artifact file: %w", err)
	}
	if err := os.Rename(path, name); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("move artifact: %w", err)
	}
	return name, nil
}

func firstMIDIFile(dir string) (string, error) {
	for _, pattern := range []string{"*.mid", "*.midi"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", fmt.Errorf("scan output dir: %w", err)
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
