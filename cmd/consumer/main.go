package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"reply-bridge/internal/config"
	"reply-bridge/internal/dispatch"
	"reply-bridge/internal/kafka"
	"reply-bridge/internal/observability"
	"reply-bridge/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const startupCheckTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reply-bridge",
		Short:        "Kafka request/reply bridge",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the subscribed topics and publish replies",
		Long: `Consume the subscribed topics and publish a reply for every record
whose topic has a registered handler.

Configuration is read from the environment and an optional .env file.
Replies for topic <t> are published to <t><KAFKA_REPLY_TOPIC_SUFFIX>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logOpts := observability.LoggerOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Env:    cfg.Logging.Env,
		LogFor: cfg.Logging.LogFor,
	}
	observability.InitLogger(logOpts)
	log := observability.Component("bridge")

	zapLogger, err := observability.NewZapLogger(logOpts)
	if err != nil {
		return fmt.Errorf("failed to build adapter logger: %w", err)
	}
	defer zapLogger.Sync()

	client := kafka.NewClient(cfg.Kafka.Brokers, 5, zapLogger)
	checkCtx, cancelCheck := context.WithTimeout(ctx, startupCheckTimeout)
	err = client.HealthCheck(checkCtx)
	cancelCheck()
	if err != nil {
		log.WithError(err).Error("Kafka brokers unreachable")
		return fmt.Errorf("kafka brokers unreachable: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewPrometheusMetrics(registry)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:                cfg.Kafka.Brokers,
		Acks:                   cfg.Producer.Acks,
		PublishTimeout:         cfg.Producer.PublishTimeout,
		AllowAutoTopicCreation: cfg.Producer.AllowAutoTopicCreation,
		Logger:                 zapLogger.Named("producer"),
	})
	defer producer.Close()

	engine := dispatch.NewEngine(producer,
		dispatch.WithLogger(observability.Component("dispatch")),
		dispatch.WithMetrics(metrics),
		dispatch.WithPublishDeadline(cfg.Producer.PublishTimeout),
	)
	service.RegisterDefaults(engine, cfg.Consumer.ReplyTopicSuffix)

	registered := engine.Topics()
	for _, topic := range cfg.Consumer.Topics {
		if !slices.Contains(registered, topic) {
			log.WithField("topic", topic).Warn("Subscribed topic has no handler, its records will be skipped")
		}
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Consumer.GroupID,
		Topics:         cfg.Consumer.Topics,
		Workers:        cfg.Consumer.Workers,
		FetchMinBytes:  cfg.Consumer.FetchMinBytes,
		FetchMaxBytes:  cfg.Consumer.FetchMaxBytes,
		SessionTimeout: cfg.Consumer.SessionTimeout,
		CommitInterval: cfg.Consumer.CommitInterval,
		ReceiveBackoff: cfg.Consumer.ReceiveBackoff,
		Metrics:        metrics,
		Logger:         zapLogger.Named("consumer"),
	}, engine)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.HealthCheckInterval > 0 {
		go client.HealthCheckLoop(ctx, cfg.Kafka.HealthCheckInterval, func() error {
			metrics.IncBrokerRecovered()
			log.Info("Kafka brokers reachable again")
			return nil
		})
	}

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		server = newMetricsServer(cfg.Metrics.Addr, registry, client.Healthy)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		log.WithField("addr", cfg.Metrics.Addr).Info("Metrics server listening")
	}

	log.WithFields(logrus.Fields{
		"brokers":  cfg.Kafka.Brokers,
		"topics":   cfg.Consumer.Topics,
		"group_id": cfg.Consumer.GroupID,
		"handlers": registered,
	}).Info("Reply bridge started")

	if err := consumer.Start(ctx); err != nil {
		log.WithError(err).Error("Consumer stopped with error")
		return err
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}

	log.Info("Reply bridge stopped")
	return nil
}

// newMetricsServer serves /metrics and a /healthz that reports the last
// broker health check.
func newMetricsServer(addr string, registry *prometheus.Registry, healthy func() bool) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy() {
			http.Error(w, "kafka brokers unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
