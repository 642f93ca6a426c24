// Command buttbee-binary spells a message in binary on a vibrating device.
//
// Each bit of the message, most significant first, becomes a 300ms slot:
// a set bit vibrates at 33%, a clear bit is silent. If the server knows no
// vibrating device yet, the command scans until one appears. Battery level
// is reported when the device has a battery sensor.
//
// Usage:
//
//	buttbee-binary [flags] [message]
//
// Flags:
//
//	-url string        Server URL (default "ws://127.0.0.1:12345")
//	-intensity float   Vibration level for a set bit (default 0.33)
//	-slot dur          Duration of one bit (default 300ms)
//	-log-level string  Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"errors"
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
	"github.com/buttbee/buttbee-go/pkg/wire"
)

const defaultMessage = "Hello, buttplug!"

var (
	url       = flag.String("url", client.DefaultURL, "Server URL")
	intensity = flag.Float64("intensity", 0.33, "Vibration level for a set bit")
	slot      = flag.Duration("slot", 300*time.Millisecond, "Duration of one bit")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

var errDisconnected = errors.New("device disconnected")

func main() {
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	message := defaultMessage
	if flag.NArg() > 0 {
		message = flag.Arg(0)
	}

	if err := run(logger, message); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("buttbee-binary failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, message string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := client.New(client.Config{
		URL:        *url,
		ClientName: "Buttbee Binary Code Example",
		Logger:     logger,
	})
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	dev, err := findVibrator(ctx, conn)
	if err != nil {
		return err
	}
	logger.Info("using device", "device", dev.DisplayName(), "index", dev.Index())

	watchBattery(ctx, logger, dev)

	if err := spell(ctx, dev, []byte(message)); err != nil {
		return err
	}
	return dev.Stop(ctx)
}

// findVibrator returns the first device able to vibrate, scanning for one
// if none is attached yet.
func findVibrator(ctx context.Context, conn *client.Conn) (*device.Device, error) {
	if err := conn.RefreshDevices(ctx); err != nil {
		return nil, fmt.Errorf("refresh devices: %w", err)
	}
	if d := firstVibrator(conn.Devices()); d != nil {
		return d, nil
	}

	found := make(chan *device.Device, 1)
	remove := conn.OnDeviceAdded(func(d *device.Device) {
		if d.ActuatorCapabilities().Contains(wire.ActuatorVibrate) {
			select {
			case found <- d:
			default:
			}
		}
	})
	defer remove()

	if err := conn.StartScanning(ctx); err != nil {
		return nil, fmt.Errorf("start scanning: %w", err)
	}
	fmt.Println("Scanning for a vibrating device...")

	select {
	case d := <-found:
		if err := conn.StopScanning(ctx); err != nil {
			return nil, fmt.Errorf("stop scanning: %w", err)
		}
		return d, nil
	case <-conn.Done():
		return nil, errors.New("no device found")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func firstVibrator(list []*device.Device) *device.Device {
	for _, d := range list {
		if d.ActuatorCapabilities().Contains(wire.ActuatorVibrate) {
			return d
		}
	}
	return nil
}

func watchBattery(ctx context.Context, logger *slog.Logger, dev *device.Device) {
	for _, s := range dev.Sensors() {
		if s.Type() != wire.SensorBattery {
			continue
		}
		s.OnValueChanged(func(ev device.SensorEvent) {
			if pct, ok := ev.Sensor.Percent(0); ok {
				logger.Info("battery level", "device", dev.DisplayName(), "percent", pct)
			}
		})
		if _, err := s.Poll(ctx); err != nil {
			logger.Warn("battery read failed", "error", err)
		}
		return
	}
}

// spell plays each bit of data, most significant first.
func spell(ctx context.Context, dev *device.Device, data []byte) error {
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			if !dev.Connected() {
				return errDisconnected
			}

			level := 0.0
			if b&(1<<i) != 0 {
				level = *intensity
			}
			if err := dev.Scalar(ctx, wire.ActuatorVibrate, level); err != nil {
				return err
			}

			select {
			case <-time.After(*slot):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
