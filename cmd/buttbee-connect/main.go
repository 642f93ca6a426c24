// Command buttbee-connect connects to a Buttplug server and lists devices.
//
// It performs the handshake, fetches the device list and optionally scans
// for new devices, logging every attach and detach until interrupted. On
// exit all devices are stopped.
//
// Usage:
//
//	buttbee-connect [flags]
//
// Flags:
//
//	-url string        Server URL (default "ws://127.0.0.1:12345")
//	-name string       Client name sent in the handshake
//	-scan              Start scanning after connecting
//	-scan-time dur     Stop scanning after this long (0 scans until exit)
//	-capture string    Write a protocol capture to this file
//	-capture-wire      Capture only wire-layer events
//	-trace             Log every protocol event
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Connect to a local Intiface server and list its devices
//	buttbee-connect
//
//	# Scan for 10 seconds with protocol capture
//	buttbee-connect -scan -scan-time 10s -capture session.bblog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buttbee/buttbee-go/internal/config"
	"github.com/buttbee/buttbee-go/pkg/client"
	"github.com/buttbee/buttbee-go/pkg/device"
	"github.com/buttbee/buttbee-go/pkg/log"
)

var (
	url      = flag.String("url", client.DefaultURL, "Server URL")
	name     = flag.String("name", "Buttbee Connect Example", "Client name sent in the handshake")
	scan     = flag.Bool("scan", false, "Start scanning after connecting")
	scanTime = flag.Duration("scan-time", 0, "Stop scanning after this long (0 scans until exit)")
	capture  = flag.String("capture", "", "Write a protocol capture to this file")
	wireOnly = flag.Bool("capture-wire", false, "Capture only wire-layer events")
	trace    = flag.Bool("trace", false, "Log every protocol event")
	logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		logger.Error("buttbee-connect failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := client.Config{
		URL:        *url,
		ClientName: *name,
		Logger:     logger,
	}
	var sinks []log.Logger
	if *capture != "" {
		fl, err := log.NewFileLogger(*capture)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()

		var sink log.Logger = fl
		if *wireOnly {
			layer := log.LayerWire
			sink = log.NewFilteredLogger(fl, log.Filter{Layer: &layer})
		}
		sinks = append(sinks, sink)
	}
	if *trace {
		sinks = append(sinks, log.NewSlogAdapter(logger).WithLevel(slog.LevelInfo))
	}
	if len(sinks) > 0 {
		cfg.ProtocolLogger = log.NewMultiLogger(sinks...)
	}

	conn := client.New(cfg)
	defer conn.Close()

	conn.OnDeviceAdded(func(d *device.Device) {
		printDevice(d)
	})
	conn.OnDeviceRemoved(func(d *device.Device) {
		fmt.Printf("Device removed: [%d] %s\n", d.Index(), d.DisplayName())
	})
	conn.OnScanningFinished(func() {
		fmt.Println("Scanning finished")
	})

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	info := conn.ServerInfo()
	fmt.Printf("Connected to %s (message version %d, max ping %dms)\n", info.ServerName, info.MessageVersion, info.MaxPingTime)

	if err := conn.RefreshDevices(ctx); err != nil {
		return fmt.Errorf("refresh devices: %w", err)
	}

	if *scan {
		if err := conn.StartScanning(ctx); err != nil {
			return fmt.Errorf("start scanning: %w", err)
		}
		fmt.Println("Scanning for devices, press Ctrl+C to exit")
		if *scanTime > 0 {
			go func() {
				select {
				case <-time.After(*scanTime):
					if err := conn.StopScanning(ctx); err != nil {
						logger.Warn("stop scanning failed", "error", err)
					}
				case <-ctx.Done():
				}
			}()
		}
	} else {
		fmt.Println("Press Ctrl+C to exit")
	}

	select {
	case <-ctx.Done():
		fmt.Println("Shutting down...")
	case <-conn.Done():
		fmt.Println("Server closed the connection")
	}
	return nil
}

func printDevice(d *device.Device) {
	fmt.Printf("Device added: [%d] %s\n", d.Index(), d.DisplayName())
	if gap := d.MessageGap(); gap > 0 {
		fmt.Printf("  Message gap: %s\n", gap)
	}
	for _, a := range d.Scalars() {
		fmt.Printf("  Scalar   %d %-12s %s (%d steps)\n", a.Index(), a.Name(), a.Type(), a.StepCount())
	}
	for _, a := range d.Linears() {
		fmt.Printf("  Linear   %d %-12s (%d steps)\n", a.Index(), a.Name(), a.StepCount())
	}
	for _, a := range d.Rotators() {
		fmt.Printf("  Rotator  %d %-12s (%d steps)\n", a.Index(), a.Name(), a.StepCount())
	}
	for _, s := range d.Sensors() {
		fmt.Printf("  Sensor   %d %-12s %s %v\n", s.Index(), s.Name(), s.Type(), s.Ranges())
	}
}
