package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/config"
	"github.com/thruflo/torque/internal/db"
	"github.com/thruflo/torque/internal/poller"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Init(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(initCtx, pool); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}

	rdb, err := queue.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	taskStore := postgres.New(pool)
	bus := queue.NewRedisBus(rdb)

	p, err := poller.New(taskStore, bus, rdb, uuid.NewString(),
		cfg.PollInterval, cfg.PollBatch, cfg.GCSchedule, cfg.GCRetention)
	if err != nil {
		log.Fatalf("poller init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Run(ctx)
}
