// Command meshcitadel runs the bulletin-board core end to end: it loads the
// configuration, brings up the transport engine, and blocks until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taedryn/mesh-citadel/internal/config"
	"github.com/taedryn/mesh-citadel/internal/radio"
	"github.com/taedryn/mesh-citadel/internal/radio/fake"
	"github.com/taedryn/mesh-citadel/internal/radio/serial"
	"github.com/taedryn/mesh-citadel/internal/supervisor"
)

var version = "0.1.0"

func main() {
	var configPath string
	var useFakeRadio bool

	root := &cobra.Command{
		Use:     "meshcitadel",
		Short:   "Mesh-Citadel bulletin-board core",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, useFakeRadio)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	root.Flags().BoolVar(&useFakeRadio, "fake-radio", false, "use an in-memory radio device instead of a real serial port")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, useFakeRadio bool) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	snap := cfg.Get()

	if snap.Logging.LogFilePath != "" {
		logFile, err := os.OpenFile(snap.Logging.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
		} else {
			log.Warnf("meshcitadel: could not open log file %s: %v", snap.Logging.LogFilePath, err)
		}
	}
	if level, err := log.ParseLevel(snap.Logging.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.Infof("Starting Mesh-Citadel v%s", version)
	log.Infof("  System name: %s", snap.BBS.SystemName)
	log.Infof("  Database:    %s", snap.Database.DBPath)
	log.Infof("  Serial port: %s", snap.Transport.MeshCore.SerialPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("meshcitadel: shutting down...")
		cancel()
	}()

	newDevice := newDeviceFactory(useFakeRadio)
	engine, err := supervisor.New(cfg, newDevice)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	return nil
}

// newDeviceFactory picks between the real serial transport and the
// in-memory fake, letting local development run without a mesh companion
// plugged in.
func newDeviceFactory(useFake bool) supervisor.DeviceFactory {
	if useFake {
		return func(ctx context.Context, mc config.MeshCore) (radio.Device, error) {
			return fake.New(), nil
		}
	}
	return func(ctx context.Context, mc config.MeshCore) (radio.Device, error) {
		return serial.Open(mc.SerialPort, mc.BaudRate)
	}
}
