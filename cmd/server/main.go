package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cardforge/card-service/internal/config"
	"github.com/cardforge/card-service/internal/logger"
	"github.com/cardforge/card-service/internal/model"
	"github.com/cardforge/card-service/internal/pan"
	"github.com/cardforge/card-service/internal/repo"
	"github.com/cardforge/card-service/internal/service"
	"github.com/cardforge/card-service/internal/sweeper"
	httptransport "github.com/cardforge/card-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Customer{}, &model.OutboxEvent{}, &model.ProcessedEvent{},
		&model.User{}, &model.CardStatus{}, &model.Card{}, &model.CardBlockRequest{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	statuses := model.SeedStatuses()
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&statuses).Error; err != nil {
		log.Fatalf("seed card statuses: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. repo & services; events reach kafka through the relay, never from here
	repository := repo.NewRepository(gdb, rdb, nil, log)
	cards := service.NewCardService(repository, pan.NewGenerator(), log, service.IssuanceOptions{
		MaxAttempts: cfg.Issuance.MaxAttempts,
		RetryDelay:  cfg.Issuance.RetryDelay(),
	})
	blocks := service.NewBlockService(repository, log)
	customers := service.NewCustomerService(repository, log)

	// 6. expiry sweeper; a missing EXPIRED status row fails startup
	sw, err := sweeper.New(gdb, log, sweeper.Config{Interval: cfg.Sweeper.Interval()})
	if err != nil {
		log.Fatalf("init sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Run(ctx)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Services{
		Cards:     cards,
		Blocks:    blocks,
		Customers: customers,
	}, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("card-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
