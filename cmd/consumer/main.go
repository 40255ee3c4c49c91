package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/cardforge/card-service/internal/config"
	"github.com/cardforge/card-service/internal/consumer"
	"github.com/cardforge/card-service/internal/logger"
	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/repo"

	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Identity-sync worker: reads the customer event feed and keeps the local
// projection current, exactly once per logical event.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.User{}, &model.ProcessedEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer reader.Close()

	repository := repo.NewRepository(gdb, nil, nil, log)
	proc := consumer.NewProcessor(repository, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("identity consumer started, group=%s topic=%s", cfg.Kafka.GroupID, cfg.Kafka.Topic)
	if err := consumer.Run(ctx, reader, proc, log); err != nil {
		log.Fatalf("consumer: %v", err)
	}
}
