// Command continuo runs the real-time MIDI continuation bridge: it captures a
// performance, hands it to a generation backend, and plays the continuation
// back, under either an external MIDI clock or a manual record toggle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/soundloop/continuo/internal/config"
	"github.com/soundloop/continuo/internal/logger"
	"github.com/soundloop/continuo/internal/midiport"
	"github.com/soundloop/continuo/sdk/bridge"
	"github.com/soundloop/continuo/sdk/contracts"
)

var (
	cfg       config.Config
	recordKey string
	playKey   string
)

var rootCmd = &cobra.Command{
	Use:   "continuo",
	Short: "Real-time MIDI continuation bridge",
	Long: `Continuo listens on a MIDI input, captures what you play, asks a
generation backend for a continuation, and plays it back on a MIDI output.
In clock mode the cycle follows an external MIDI clock; in manual mode a
record key (or a remote control surface) brackets each take.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(recordKey) > 0 {
			cfg.RecordKey = recordKey[0]
		}
		if len(playKey) > 0 {
			cfg.PlayKey = playKey[0]
		}

		opts := []contracts.Option{}
		if cfg.Debug {
			opts = append(opts, contracts.WithLogLevel(contracts.DebugLevel))
		}

		b, err := bridge.New(cfg, opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return b.Run(ctx)
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the MIDI ports visible on this system",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := midiport.NewDriver(logger.NewZapLogger())
		if err != nil {
			return err
		}
		defer driver.Close()

		devices, err := driver.Devices()
		if err != nil {
			return err
		}
		for _, dev := range devices {
			dir := ""
			if dev.Input {
				dir += "in"
			}
			if dev.Output {
				if dir != "" {
					dir += "/"
				}
				dir += "out"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", dev.Name, dir)
		}
		return nil
	},
}

func init() {
	// A .env next to the binary is a convenience for port names and
	// checkpoint paths; absence is not an error.
	_ = godotenv.Load()
	cfg = config.Default()

	f := rootCmd.Flags()
	f.StringVar(&cfg.InPort, "in", cfg.InPort, "performance MIDI input port")
	f.StringVar(&cfg.OutPort, "out", cfg.OutPort, "continuation MIDI output port")
	f.StringVar(&cfg.ClockPort, "clock-port", cfg.ClockPort, "dedicated MIDI clock input port")
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "session mode: clock or manual")
	f.Float64Var(&cfg.ListenSeconds, "listen", cfg.ListenSeconds, "clock mode: rolling capture window in seconds")
	f.Float64Var(&cfg.GenSeconds, "gen", cfg.GenSeconds, "continuation length to request in seconds")
	f.Float64Var(&cfg.CooldownSeconds, "cooldown", cfg.CooldownSeconds, "clock mode: rest between cycles in seconds")
	f.IntVar(&cfg.BeatsPerBar, "beats", cfg.BeatsPerBar, "time signature numerator")
	f.IntVar(&cfg.HumanMeasures, "human-measures", cfg.HumanMeasures, "clock mode: measures captured per cycle")
	f.IntVar(&cfg.GenMeasures, "gen-measures", cfg.GenMeasures, "clock mode: measures generated per cycle")
	f.Float64Var(&cfg.MaxSeconds, "max-seconds", cfg.MaxSeconds, "manual mode: recording timeout, 0 disables")
	f.IntVar(&cfg.MaxBars, "max-bars", cfg.MaxBars, "manual mode: bar limit after tempo inference, 0 disables")
	f.IntVar(&cfg.TicksPerBeat, "ticks", cfg.TicksPerBeat, "prompt artifact resolution in ticks per beat")
	f.BoolVar(&cfg.Quantize, "quantize", cfg.Quantize, "snap generated output to a 1/16 grid")
	f.BoolVar(&cfg.PlayGate, "play-gate", cfg.PlayGate, "hold output until an explicit play command")
	f.Float64Var(&cfg.Temperature, "temp", cfg.Temperature, "sampling temperature")
	f.Float64Var(&cfg.TopP, "top-p", cfg.TopP, "nucleus sampling threshold")
	f.Float64Var(&cfg.MinP, "min-p", cfg.MinP, "minimum probability cutoff")
	f.StringVar(&recordKey, "record-key", string(cfg.RecordKey), "key toggling recording")
	f.StringVar(&playKey, "play-key", "", "key releasing a gated output, empty disables")
	f.BoolVar(&cfg.OSCEnabled, "osc", cfg.OSCEnabled, "enable the OSC remote control endpoint")
	f.StringVar(&cfg.OSCHost, "osc-host", cfg.OSCHost, "OSC peer host")
	f.IntVar(&cfg.OSCInPort, "osc-in", cfg.OSCInPort, "OSC listen port")
	f.IntVar(&cfg.OSCOutPort, "osc-out", cfg.OSCOutPort, "OSC peer port")
	f.BoolVar(&cfg.Feedback, "feedback", cfg.Feedback, "record graded episodes to the data directory")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "episode dataset directory")
	f.StringVar(&cfg.GeneratorCommand, "generator", cfg.GeneratorCommand, "generation backend executable")
	f.StringVar(&cfg.Checkpoint, "checkpoint", cfg.Checkpoint, "model checkpoint path")
	f.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	rootCmd.AddCommand(portsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
