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
	"github.com/thruflo/torque/internal/hook"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store/postgres"
	"github.com/thruflo/torque/internal/worker"
)

func main() {
	cfg := config.Load()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	//初始化依赖
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
	client := hook.NewClient(hook.DefaultMaxRedirects)
	runner := worker.NewRunner(taskStore, bus, client,
		cfg.ClaimDuration, cfg.NotifyThreshold, cfg.BackoffBase, cfg.BackoffMaxDelay)
	p := worker.NewPool(taskStore, bus, runner, cfg.WorkerCount, cfg.PollInterval, cfg.PollBatch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerID := uuid.NewString()
	go worker.StartHeartbeat(ctx, rdb, workerID, 30*time.Second, 10*time.Second)

	log.Printf("worker started, id=%s concurrency=%d", workerID, cfg.WorkerCount)
	p.Run(ctx)
	log.Println("worker drained, exiting")
}
