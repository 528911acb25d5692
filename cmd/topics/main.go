package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go-kafkaguard/internal/config"
	ikafka "go-kafkaguard/internal/kafka"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"
)

func main() {
	deleteTopics := flag.Bool("delete", false, "delete the configured topics instead of creating them")
	flag.Parse()

	logger := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	observability.InitLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ikafka.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.AdminClientID, 1)
	defer client.Close()

	reconciler := ikafka.NewReconciler(client.Admin(), cfg.DesiredTopics(), logger, observability.NewInMemoryMetrics())

	var names []string
	if *deleteTopics {
		names, err = reconciler.Delete(ctx)
	} else {
		names, err = reconciler.Reconcile(ctx)
	}
	if err != nil {
		logger.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Fatal("Topic administration failed")
	}
	observability.WithField("topics", names).Info("Done")
}
