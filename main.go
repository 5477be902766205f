package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mazen160/go-random"
	"github.com/rs/zerolog"

	"github.com/Hlotfy/go-xmodem-dfu/pkg/boot"
	"github.com/Hlotfy/go-xmodem-dfu/pkg/config"
	"github.com/Hlotfy/go-xmodem-dfu/pkg/hal"
	"github.com/Hlotfy/go-xmodem-dfu/pkg/xmodem"
)

func main() {
	configPath := flag.String("config", "dfu.yaml", "path to the YAML configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	}

	if err := run(log, *configPath); err != nil {
		log.Fatal().Err(err).Msg("firmware receive failed")
	}
}

func run(log zerolog.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	transferID, err := random.String(8)
	if err != nil {
		return fmt.Errorf("failed to generate transfer id: %w", err)
	}
	log = log.With().Str("transfer", transferID).Logger()

	if cfg.GPIO.Enabled {
		ctl, err := boot.NewController(cfg.GPIO.Chip, cfg.GPIO.ResetPin, cfg.GPIO.Boot0Pin)
		if err != nil {
			return fmt.Errorf("failed to set up bootstrap lines: %w", err)
		}
		defer ctl.Close()
		log.Info().Int("reset", cfg.GPIO.ResetPin).Int("boot0", cfg.GPIO.Boot0Pin).Msg("restarting target into bootloader")
		if err := ctl.EnterBootloader(); err != nil {
			return err
		}
		defer func() {
			if err := ctl.EnterApplication(); err != nil {
				log.Error().Err(err).Msg("failed to restart target into application")
			}
		}()
	}

	hw, err := hal.NewCommonHWHandler(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close serial port")
		}
	}()

	// a keyboard interrupt tears the port down, which aborts the transfer
	signalInterruptChan := make(chan os.Signal, 1)
	signal.Notify(signalInterruptChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalInterruptChan
		log.Warn().Msg("interrupted, closing serial port")
		hw.Close()
	}()

	out, err := os.Create(cfg.Transfer.Output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	transport := xmodem.NewTransport(hw, hal.NewDeadlineAlarm())
	builder := xmodem.NewReceiverBuilder(transport, out).
		MaxRetries(cfg.Transfer.MaxRetries).
		BlockTimeout(cfg.Transfer.Timeout()).
		Logger(log)
	if cfg.Transfer.ChecksumOnly {
		builder = builder.ChecksumOnly()
	}
	if cfg.Transfer.TrimPadding {
		builder = builder.TrimPadding()
	}

	log.Info().
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.Baud).
		Str("output", cfg.Transfer.Output).
		Msg("waiting for sender")
	written, err := builder.Build().Receive()
	if err != nil {
		return err
	}
	log.Info().Int64("bytes", written).Msg("firmware image received")
	return nil
}
