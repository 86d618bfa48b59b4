package generator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloop/continuo/internal/logger"
	"github.com/soundloop/continuo/sdk/contracts"
)

func TestEmptyOutputIsRecoverable(t *testing.T) {
	// A backend that exits cleanly but writes nothing.
	s := NewSubprocess("true", nil, "/models/ckpt.bin", logger.NewNop())

	out, err := s.Generate(context.Background(), contracts.GenerationRequest{
		PromptPath:     "/tmp/prompt.mid",
		PromptSeconds:  2,
		HorizonSeconds: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBackendFailureIsAnError(t *testing.T) {
	s := NewSubprocess("false", nil, "/models/ckpt.bin", logger.NewNop())

	_, err := s.Generate(context.Background(), contracts.GenerationRequest{
		PromptPath:     "/tmp/prompt.mid",
		HorizonSeconds: 1,
	})
	assert.Error(t, err)
}

func TestCancellationKillsBackend(t *testing.T) {
	// A backend that ignores its arguments and hangs.
	dir := t.TempDir()
	script := filepath.Join(dir, "hang.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 10\n"), 0o755))

	s := NewSubprocess(script, nil, "/models/ckpt.bin", logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.Generate(ctx, contracts.GenerationRequest{HorizonSeconds: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSuccessfulRunLeavesNoSaveDir(t *testing.T) {
	// A backend that drops one artifact into its save dir and reports the
	// dir's path for the test to check afterwards.
	dir := t.TempDir()
	script := filepath.Join(dir, "emit.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\n"+
			"while [ \"$1\" != \"--save_dir\" ]; do shift; done\n"+
			"echo \"$2\" > \""+dir+"/savedir\"\n"+
			"printf MThd > \"$2/variation_0.mid\"\n"), 0o755))

	s := NewSubprocess(script, nil, "/models/ckpt.bin", logger.NewNop())
	out, err := s.Generate(context.Background(), contracts.GenerationRequest{
		PromptPath:     "/tmp/prompt.mid",
		PromptSeconds:  1,
		HorizonSeconds: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	defer os.Remove(out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "MThd", string(data))

	saveDir, err := os.ReadFile(filepath.Join(dir, "savedir"))
	require.NoError(t, err)
	_, err = os.Stat(strings.TrimSpace(string(saveDir)))
	assert.True(t, os.IsNotExist(err), "save dir is removed after the artifact is promoted")
}

func TestMissingCommand(t *testing.T) {
	s := NewSubprocess("continuo-no-such-backend", nil, "/models/ckpt.bin", logger.NewNop())

	_, err := s.Generate(context.Background(), contracts.GenerationRequest{HorizonSeconds: 1})
	assert.Error(t, err)
}

func TestFirstMIDIFile(t *testing.T) {
	dir := t.TempDir()

	got, err := firstMIDIFile(dir)
	require.NoError(t, err)
	assert.Empty(t, got, "empty dir yields no artifact")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	got, err = firstMIDIFile(dir)
	require.NoError(t, err)
	assert.Empty(t, got, "non-MIDI files are ignored")

	want := filepath.Join(dir, "variation_0.mid")
	require.NoError(t, os.WriteFile(want, []byte("MThd"), 0o644))
	got, err = firstMIDIFile(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTokenBudgetDefaultsFromHorizon(t *testing.T) {
	// Indirectly visible through the flag value handed to the backend: a
	// shell that dumps its arguments lets us inspect the invocation.
	dir := t.TempDir()
	script := filepath.Join(dir, "dump.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\necho \"$@\" > \""+dir+"/args\"\n"), 0o755))

	s := NewSubprocess(script, nil, "/models/ckpt.bin", logger.NewNop())
	_, err := s.Generate(context.Background(), contracts.GenerationRequest{
		PromptPath:     "/tmp/prompt.mid",
		PromptSeconds:  2,
		HorizonSeconds: 1.5,
	})
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--length 384") // ceil(1.5 * 256)
	assert.Contains(t, string(args), "--checkpoint_path /models/ckpt.bin")
	assert.Contains(t, string(args), "--variations 1")
}
