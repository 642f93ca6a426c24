// Command buttbee-bridge exposes the devices of a Buttplug server on MQTT.
//
// The bridge keeps a client connection to the server, reconnecting with
// exponential backoff when it drops, and mirrors the device table to
// retained MQTT topics. Scalar and stop commands received over MQTT are
// forwarded to the devices. Client metrics are served for Prometheus.
//
// Usage:
//
//	buttbee-bridge [flags]
//
// Flags:
//
//	-config string   Configuration file (.yaml, .yml or .toml)
//	-scan            Start scanning after every (re)connect
//
// Every setting can also be given through BUTTBEE_* environment variables,
// for example BUTTBEE_SERVER_URL or BUTTBEE_MQTT_BROKER.
//
// Examples:
//
//	# Bridge a local Intiface server to a local broker
//	buttbee-bridge
//
//	# Use a config file and capture the protocol
//	BUTTBEE_LOGGING_CAPTURE_FILE=bridge.bblog buttbee-bridge -config bridge.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buttbee/buttbee-go/internal/bridge"
	"github.com/buttbee/buttbee-go/internal/config"
	"github.com/buttbee/buttbee-go/pkg/client"
	"github.com/buttbee/buttbee-go/pkg/connection"
	"github.com/buttbee/buttbee-go/pkg/log"
)

var (
	configPath = flag.String("config", "", "Configuration file (.yaml, .yml or .toml)")
	scan       = flag.Bool("scan", false, "Start scanning after every (re)connect")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.Logging.Handler(os.Stderr))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridge stopped", "error", err, "fatal", true)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buttbee",
		Subsystem: "bridge",
		Name:      "reconnects_total",
		Help:      "Connection attempts made after a failure or disconnect.",
	})
	reg.MustRegister(reconnects)

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var sinks []log.Logger
	if cfg.Logging.CaptureFile != "" {
		fl, err := log.NewFileLogger(cfg.Logging.CaptureFile)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()
		sinks = append(sinks, fl)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		sinks = append(sinks, log.NewSlogAdapter(logger.With("component", "capture")))
	}
	var capture log.Logger
	if len(sinks) > 0 {
		capture = log.NewMultiLogger(sinks...)
	}

	mqtt, err := bridge.DialMQTT(cfg.MQTT, logger)
	if err != nil {
		return err
	}
	defer mqtt.Close()

	br := bridge.New(mqtt, bridge.Config{
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            byte(cfg.MQTT.QoS),
		CommandTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
	if err := br.Start(); err != nil {
		return err
	}
	defer br.Close()

	clientCfg := client.Config{
		URL:            cfg.Server.URL,
		ClientName:     cfg.Server.ClientName,
		Logger:         logger,
		ProtocolLogger: capture,
		Registerer:     reg,
		RequestTimeout: cfg.Server.RequestTimeout,
		SettleDelay:    cfg.Server.SettleDelay,
		StopTimeout:    cfg.Server.StopTimeout,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	}

	mgr := connection.NewManager(func(ctx context.Context) (connection.Session, error) {
		conn := client.New(clientCfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		if err := conn.RefreshDevices(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("refresh devices: %w", err)
		}
		if *scan {
			if err := conn.StartScanning(ctx); err != nil {
				logger.Warn("start scanning failed", "error", err)
			}
		}
		br.Attach(conn)
		return conn, nil
	}, connection.Config{
		Backoff: connection.BackoffConfig{
			Initial:    cfg.Reconnect.InitialDelay,
			Max:        cfg.Reconnect.MaxDelay,
			Multiplier: cfg.Reconnect.Multiplier,
		},
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Logger:      logger,
	})
	mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		reconnects.Inc()
	})
	mgr.OnStateChange(func(oldState, newState connection.State) {
		logger.Debug("bridge connection state", "from", oldState, "to", newState)
	})

	logger.Info("bridge running",
		"server", cfg.Server.URL,
		"broker", cfg.MQTT.Broker,
		"prefix", cfg.MQTT.TopicPrefix)
	return mgr.Run(ctx)
}

func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", cfg.Listen, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
