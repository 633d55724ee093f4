// Command worker consumes run requests from Kafka and executes one pipeline
// run per request, one at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RuoyuGao1/cancer-system/internal/application/pipeline"
	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/messaging/kafka"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/prometheus"
)

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	shutdownTimeout         = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Caller: cfg.Log.Caller,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")
	logging.SetDefault(logger)
	defer logger.Sync()

	if err := run(*configPath, cfg, logger); err != nil {
		logger.Error("Worker stopped with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(configPath string, cfg *config.Config, logger logging.Logger) error {
	if !cfg.Sinks.Kafka.Enabled {
		return errors.New("sinks.kafka must be enabled for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := prometheus.NewNoopCollector()
	if cfg.Metrics.Enabled {
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger.Named("metrics"))
		if err != nil {
			return err
		}
		collector = c
	}

	infra, err := pipeline.OpenInfrastructure(ctx, cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	opts := append(infra.Options(), pipeline.WithMetrics(prometheus.NewPipelineMetrics(collector)))
	handler := pipeline.NewRequestHandler(cfg, logger.Named("runs"), opts...)

	// Sink clients are bound at startup; a reload only changes pipeline
	// settings for later runs.
	if err := config.Watch(configPath, handler.SetConfig, func(err error) {
		logger.Warn("Ignoring invalid config change", logging.Err(err))
	}); err != nil {
		return err
	}

	if err := ensureTopics(ctx, cfg.Sinks.Kafka, logger); err != nil {
		logger.Warn("Topic setup failed, relying on broker auto-creation", logging.Err(err))
	}

	consumer, err := kafka.NewConsumer(cfg.Sinks.Kafka, kafka.RetryConfig{}, logger.Named("consumer"))
	if err != nil {
		return err
	}
	consumer.Subscribe(cfg.Sinks.Kafka.RequestTopic, handler.HandleMessage)

	srv := newMetricsServer(cfg.Metrics.ListenAddr, collector)
	go func() {
		logger.Info("Metrics server listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", logging.Err(err))
			stop()
		}
	}()

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("Worker started", logging.String("topic", cfg.Sinks.Kafka.RequestTopic))

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for the current run")

	if err := consumer.Close(); err != nil {
		logger.Warn("Consumer close failed", logging.Err(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", logging.Err(err))
	}
	logger.Info("Worker stopped")
	return nil
}

func newMetricsServer(addr string, collector prometheus.MetricsCollector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func ensureTopics(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Brokers, logger.Named("topics"))
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.RunTopics(cfg))
}
