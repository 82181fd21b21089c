package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/AlexRomero01/Bridge-Server/config"
	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/mqtt"
	"github.com/AlexRomero01/Bridge-Server/normalize"
	"github.com/AlexRomero01/Bridge-Server/query"
	"github.com/AlexRomero01/Bridge-Server/retry"
	"github.com/AlexRomero01/Bridge-Server/sink"
)

// launchTokenEnv carries the capability token the orchestrator sets before
// starting the bridge. Direct launches without it are refused before any
// connection is opened, because a second uncoordinated bridge instance
// double-writes and corrupts windowed aggregation.
const launchTokenEnv = "BRIDGE_LAUNCH_TOKEN"

const shutdownGrace = 15 * time.Second

// checkSupervisedLaunch verifies the orchestrator's capability token.
func checkSupervisedLaunch(token, expected string) error {
	if token == "" {
		return fmt.Errorf("%s is not set", launchTokenEnv)
	}
	if token != expected {
		return fmt.Errorf("%s does not match the configured launch token", launchTokenEnv)
	}
	return nil
}

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := checkSupervisedLaunch(os.Getenv(launchTokenEnv), cfg.Launch.Token); err != nil {
		fmt.Fprintf(os.Stderr, `
PROTECTED EXECUTION

The bridge server must be launched by the deployment supervisor, which
passes a capability token via %s. Direct execution is
disabled to avoid concurrent bridge instances and data loss.

(%v)
`, launchTokenEnv, err)
		os.Exit(1)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	// Sinks.
	documentSink, err := sink.NewDocumentSink(ctx, sink.DocumentConfig{
		Backend:    cfg.Sinks.Document.Backend,
		URI:        cfg.Sinks.Document.URI,
		Database:   cfg.Sinks.Document.Database,
		Collection: cfg.Sinks.Document.Collection,
		DSN:        cfg.Sinks.Document.DSN,
	})
	if err != nil {
		log.Fatalf("failed to initialize document sink: %v", err)
	}

	influxSink, err := sink.NewInfluxSink(sink.InfluxConfig{
		URL:    cfg.Sinks.Influx.URL,
		Token:  cfg.Sinks.Influx.Token,
		Org:    cfg.Sinks.Influx.Org,
		Bucket: cfg.Sinks.Influx.Bucket,
	})
	if err != nil {
		log.Fatalf("failed to initialize time-series sink: %v", err)
	}

	sinkManager := sink.NewManager(
		[]sink.Sink{documentSink, influxSink},
		retry.Config{
			MaxAttempts:  cfg.Sinks.Retry.MaxAttempts,
			InitialDelay: cfg.Sinks.Retry.InitialDelay,
			MaxDelay:     cfg.Sinks.Retry.MaxDelay,
			Multiplier:   cfg.Sinks.Retry.Multiplier,
			Jitter:       true,
		},
		cfg.Sinks.WriteTimeout,
	)

	// Payload normalizers.
	normalizerManager, err := normalize.NewManager(cfg.Normalizers)
	if err != nil {
		log.Fatalf("failed to initialize normalizers: %v", err)
	}

	// Subscription manager and pipeline.
	mqttManager, err := mqtt.NewManager(cfg, normalizerManager, sinkManager)
	if err != nil {
		log.Fatalf("failed to initialize MQTT manager: %v", err)
	}

	if err := mqttManager.Start(); err != nil {
		log.Fatalf("failed to start MQTT pipeline: %v", err)
	}

	// Query facade.
	var queryServer *query.Server
	if cfg.Query.Enabled {
		influxClient := influxdb2.NewClient(cfg.Sinks.Influx.URL, cfg.Sinks.Influx.Token)
		reader := query.NewInfluxReader(influxClient, cfg.Sinks.Influx.Org, cfg.Sinks.Influx.Bucket)
		queryServer = query.NewServer(query.Config{
			Addr:         cfg.Query.Addr,
			DefaultLimit: cfg.Query.DefaultLimit,
			MaxLimit:     cfg.Query.MaxLimit,
		}, reader)
		go func() {
			if err := queryServer.Start(); err != nil {
				logger.Error("query facade stopped: %v", err)
			}
		}()
	}

	// Config hot reload: normalizer scripts and expected variant sets.
	if err := config.WatchConfig(configPath, func(newCfg *config.Config) error {
		return mqttManager.ApplyConfig(newCfg)
	}); err != nil {
		logger.Warn("config watch unavailable: %v", err)
	} else {
		logger.Info("watching config file for changes")
	}

	logger.Info("bridge server started, waiting for telemetry...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down...")

	mqttManager.Stop(shutdownGrace)

	if queryServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := queryServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("query facade shutdown: %v", err)
		}
		cancel()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	sinkManager.Close(closeCtx)
	cancel()

	logger.Info("bridge server stopped")
}
