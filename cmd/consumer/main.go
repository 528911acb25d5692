package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go-kafkaguard/internal/config"
	ikafka "go-kafkaguard/internal/kafka"
	"go-kafkaguard/internal/observability"
	"go-kafkaguard/internal/service"
	pkg "go-kafkaguard/pkg/kafka"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	observability.InitLogger(cfg.Logging.Level)

	if !cfg.Consumer.Enable {
		logger.Info("KAFKA_CONSUMER_ENABLE is false, nothing to consume")
		return
	}

	observability.WithFields(logrus.Fields{
		"app":     cfg.App.Name,
		"env":     cfg.App.Env,
		"brokers": cfg.Kafka.Brokers,
		"group":   cfg.Consumer.GroupID,
		"topics":  cfg.TopicNames(),
	}).Info("Starting consumer service")

	metrics, err := observability.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.WithError(err).Fatal("Failed to register metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ikafka.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID, 5)
	defer client.Close()

	if err := ikafka.EnsureTopics(ctx, client.Admin(), cfg.DesiredTopics(), cfg.Kafka.AllowAutoTopicCreation, logger, metrics); err != nil {
		logger.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Fatal("Topic reconciliation failed")
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	producerCfg := pkg.ProducerConfig{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		SendTimeout:    cfg.Producer.SendTimeout,
		MaxInFlightOne: cfg.Producer.MaxInFlightOne,
		RetryPolicy:    pkg.RetryPolicy{MaxAttempts: cfg.Producer.Retries, InitialBackoff: 300 * time.Millisecond, MaxBackoff: 60 * time.Second},
	}
	if err := producerCfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid producer configuration")
	}
	writer := client.NewWriter(producerCfg, cfg.Kafka.AllowAutoTopicCreation)
	defer writer.Close()

	consumerCfg := pkg.ConsumerConfig{
		Brokers:           cfg.Kafka.Brokers,
		ClientID:          cfg.Kafka.ClientID,
		GroupID:           cfg.Consumer.GroupID,
		MaxBytes:          cfg.Consumer.MaxBytes,
		MaxWait:           cfg.Consumer.MaxWait,
		SessionTimeout:    cfg.Consumer.SessionTimeout,
		RebalanceTimeout:  cfg.Consumer.RebalanceTimeout,
		HeartbeatInterval: cfg.Consumer.HeartbeatInterval,
		PartitionBuffer:   cfg.Consumer.PartitionBuffer,
	}
	if err := consumerCfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid consumer configuration")
	}

	processor := service.NewUserSignupProcessor(logger)
	router := ikafka.NewRouter()
	router.HandleRequest(cfg.Kafka.UserSignupTopic, processor.Handle)

	tracer := observability.NewTracer()
	var slot ikafka.ConsumerSlot
	build := func() (*ikafka.Consumer, error) {
		reader := client.NewReader(consumerCfg, router.Topics())
		consumer := ikafka.NewConsumer(reader, router, ikafka.ConsumerOptions{
			GroupID:         consumerCfg.GroupID,
			Writer:          writer,
			PartitionBuffer: consumerCfg.PartitionBuffer,
			Metrics:         metrics,
			Logger:          logger,
			Tracer:          tracer,
		})
		slot.Set(consumer)
		return consumer, nil
	}

	// Rejoin the group on a fresh reader once the brokers are reachable again.
	go client.HealthCheckLoop(ctx, 30*time.Second, slot.Restart)

	ikafka.Supervise(ctx, build, time.Second, 30*time.Second, logger)
	logger.Info("Consumer service stopped")
}

func serveMetrics(ctx context.Context, addr string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Metrics server failed")
	}
}
