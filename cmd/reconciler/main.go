package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/config"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/queue"
	"github.com/crewboard/crewboard/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	orders := postgres.NewOrderRepository(db.DB())
	apps := postgres.NewApplicationRepository(db.DB())
	events := postgres.NewOutboxRepository(db.DB())
	reconciler := admission.NewReconciler(apps, orders, apps, events, logger, cfg.Reconciler.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := reconciler.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("reconciler stopped with error", zap.Error(err))
		}
	}()

	// Filled orders get a targeted sweep as soon as the event lands, instead
	// of waiting for the next tick.
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := queue.NewEventQueueConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.ClientID,
			cfg.Kafka.EventGroup,
			cfg.Kafka.EventTopic,
			cfg.Kafka.EventRetryTopic,
			cfg.Kafka.EventDLQTopic,
		)
		defer consumer.Close()

		go func() {
			err := consumer.Consume(ctx, func(ctx context.Context, msg *queue.Message) error {
				if msg.EventType != model.EventOrderFilled {
					return nil
				}
				orderID, err := uuid.Parse(msg.OrderID)
				if err != nil {
					logger.Warn("event with invalid order id", zap.String("order_id", msg.OrderID))
					return nil
				}
				return reconciler.SweepOrder(ctx, orderID)
			})
			if err != nil && err != context.Canceled {
				logger.Error("event consumer stopped with error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("reconciler shutting down")
}
