package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go-kafkaguard/internal/config"
	ikafka "go-kafkaguard/internal/kafka"
	"go-kafkaguard/internal/observability"
	"go-kafkaguard/internal/service"
	pkg "go-kafkaguard/pkg/kafka"
	"go-kafkaguard/pkg/models"

	"github.com/sirupsen/logrus"
)

func main() {
	mode := flag.String("mode", "request", "send mode: request, emit, ordered or emit-ordered")
	email := flag.String("email", "ada@example.com", "signup email")
	username := flag.String("username", "ada", "signup username")
	timeout := flag.Duration("timeout", 0, "reply timeout, defaults to KAFKA_PRODUCER_SEND_TIMEOUT")
	raw := flag.Bool("raw", false, "print the full reply envelope")
	flag.Parse()

	logger := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	observability.InitLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ikafka.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID, 5)
	defer client.Close()

	if err := client.HealthCheck(ctx); err != nil {
		logger.WithError(err).Fatal("Brokers unreachable")
	}

	metrics := observability.NewInMemoryMetrics()
	if err := ikafka.EnsureTopics(ctx, client.Admin(), cfg.DesiredTopics(), cfg.Kafka.AllowAutoTopicCreation, logger, metrics); err != nil {
		logger.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Fatal("Topic reconciliation failed")
	}

	producerCfg := pkg.ProducerConfig{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		SendTimeout:    cfg.Producer.SendTimeout,
		MaxInFlightOne: cfg.Producer.MaxInFlightOne || *mode == "ordered" || *mode == "emit-ordered",
		RetryPolicy:    pkg.RetryPolicy{MaxAttempts: cfg.Producer.Retries, InitialBackoff: 300 * time.Millisecond, MaxBackoff: 60 * time.Second},
	}
	if err := producerCfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid producer configuration")
	}

	topic := cfg.Kafka.UserSignupTopic
	opts := ikafka.ProducerOptions{
		Writer:         client.NewWriter(producerCfg, cfg.Kafka.AllowAutoTopicCreation),
		Timeout:        producerCfg.SendTimeout,
		ReplyPartition: cfg.Producer.ReplyPartition,
		Metrics:        metrics,
		Logger:         logger,
		Tracer:         observability.NewTracer(),
	}

	if *mode == "request" || *mode == "ordered" {
		reader, err := client.NewReplyReader(models.ReplyTopic(topic), cfg.Producer.ReplyPartition)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open reply reader")
		}
		opts.Replies = ikafka.NewReplyRouter(logger, reader)
		defer opts.Replies.Close()

		go func() {
			if err := opts.Replies.Run(ctx); err != nil {
				logger.WithError(err).Error("Reply router stopped")
			}
		}()
	}

	producer, err := ikafka.NewProducer(opts)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create producer")
	}
	defer producer.CloseGracefully(5 * time.Second)

	signup := service.UserSignup{Email: *email, Username: *username, CreatedAt: time.Now().UTC()}
	entry := observability.WithFields(logrus.Fields{"topic": topic, "mode": *mode})

	switch *mode {
	case "request", "ordered":
		send := producer.SendRequestReply
		if *mode == "ordered" {
			send = producer.SendOrdered
		}
		resp, err := send(ctx, topic, signup, pkg.SendOptions{Timeout: *timeout, Raw: *raw})
		if err != nil {
			entry.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Error("Request failed")
			return
		}
		entry.WithField("reply", string(resp.Value)).Info("Reply received")

	case "emit", "emit-ordered":
		emit := producer.EmitFireAndForget
		if *mode == "emit-ordered" {
			emit = producer.EmitOrderedFireAndForget
		}
		if err := emit(ctx, topic, signup, pkg.EmitOptions{}).Wait(ctx); err != nil {
			entry.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Error("Emit failed")
			return
		}
		entry.Info("Message acknowledged by broker")

	default:
		logger.WithField("mode", *mode).Fatal("Unknown mode")
	}

	entry.WithFields(logrus.Fields{
		"published":      metrics.GetPublished(),
		"publish_failed": metrics.GetPublishFailed(),
	}).Info("Done")
}
