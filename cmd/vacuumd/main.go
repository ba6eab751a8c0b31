package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miiohome/vacuumd/internal/bridge"
	"github.com/miiohome/vacuumd/internal/config"
	"github.com/miiohome/vacuumd/internal/dreame"
	"github.com/miiohome/vacuumd/internal/logging"
	"github.com/miiohome/vacuumd/internal/simulator"
	"github.com/miiohome/vacuumd/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the config file")
	simulate := flag.Bool("simulate", false, "run against the in-process device simulator")
	flag.Parse()

	if err := run(*configPath, *simulate); err != nil {
		fmt.Fprintf(os.Stderr, "vacuumd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, simulate bool) error {
	cfg, err := config.Load(configPath, func(cfg *config.Config) {
		if simulate {
			cfg.Device.Transport = config.TransportSimulator
		}
	})
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, cfg.Device.Name)

	transport, err := newTransport(cfg.Device)
	if err != nil {
		return err
	}
	client := dreame.NewClient(dreame.NewBreakerTransport(transport), cfg.Polling.Timeout())

	metrics := dreame.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics.Register(registry)

	poller := dreame.NewPoller(client, dreame.PollerOptions{
		Device:           cfg.Device.Name,
		Interval:         cfg.Polling.Interval(),
		FailureThreshold: cfg.Polling.FailureThreshold,
		Staleness:        cfg.Polling.Staleness(),
		Logger:           log,
		Metrics:          metrics,
	})
	registry.MustRegister(dreame.NewSnapshotCollector(poller))

	dispatcher := dreame.NewDispatcher(client, dreame.DispatcherOptions{
		PollNow: poller.PollNow,
		Retries: cfg.Commands.Retries,
		Backoff: cfg.Commands.Backoff(),
		Logger:  log,
		Metrics: metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Broker != "" {
		b := bridge.New(cfg.MQTT, cfg.Device.Name, dispatcher, log)
		if err := b.Connect(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer b.Close()
		poller.Subscribe(b.PublishSnapshot)
		log.Info("mqtt bridge connected", "broker", cfg.MQTT.Broker)
	}

	if cfg.Influx.Enabled {
		sink := telemetry.NewSink(cfg.Influx, cfg.Device.Name, log)
		defer sink.Close()
		poller.Subscribe(sink.Record)
		log.Info("influx telemetry enabled", "url", cfg.Influx.URL)
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	poller.Subscribe(func(snap dreame.Snapshot) {
		status := healthpb.HealthCheckResponse_SERVING
		if snap.State == dreame.StateUnavailable {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", status)
	})

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: httpMux}

	errCh := make(chan error, 3)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		errCh <- poller.Run(ctx)
	}()

	log.Info("vacuumd started",
		"transport", cfg.Device.Transport,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"poll_interval", cfg.Polling.Interval())

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	return nil
}

func newTransport(cfg config.DeviceConfig) (dreame.Transport, error) {
	switch cfg.Transport {
	case config.TransportSimulator:
		return simulator.New(), nil
	case config.TransportMiio:
		// The encrypted LAN codec lives outside this daemon; point the
		// host at a miio gateway or run the simulator in the meantime.
		return nil, fmt.Errorf("miio transport for %s not implemented yet, use transport: simulator", cfg.Host)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
