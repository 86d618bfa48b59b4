package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soundloop/continuo/internal/config"
	"github.com/soundloop/continuo/internal/logger"
	"github.com/soundloop/continuo/internal/midiport"
	"github.com/soundloop/continuo/sdk/bridge"
	"github.com/soundloop/continuo/sdk/contracts"
)

func main() {
	log := logger.NewZapLogger()

	driver, err := midiport.NewDriver(log)
	if err != nil {
		log.Error("Failed to initialize MIDI driver", log.Field().Error("error", err))
		return
	}
	devices, err := driver.Devices()
	if err != nil || len(devices) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
		driver.Close()
		return
	}
	fmt.Println("Available MIDI devices:", devices)
	driver.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeManual
	cfg.InPort = devices[0].Name
	cfg.OutPort = devices[0].Name
	cfg.Checkpoint = "/models/checkpoint.bin"

	b, err := bridge.New(cfg,
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
	)
	if err != nil {
		log.Error("Failed to build bridge", log.Field().Error("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Recording with 'r', Ctrl+C to exit.")
	if err := b.Run(ctx); err != nil {
		log.Error("Bridge stopped with error", log.Field().Error("error", err))
	}
}
