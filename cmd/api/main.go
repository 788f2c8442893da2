package main

import (
	"context"
	"log"
	"time"

	"github.com/thruflo/torque/internal/config"
	"github.com/thruflo/torque/internal/db"
	torquehttp "github.com/thruflo/torque/internal/http"
	"github.com/thruflo/torque/internal/http/handler"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/service"
	"github.com/thruflo/torque/internal/store/postgres"
)

func main() {
	// 加载配置
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Init(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer pool.Close()

	// 确保最小表结构存在
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}

	rdb, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	defer rdb.Close()

	// 组装服务与路由
	taskStore := postgres.New(pool)
	bus := queue.NewRedisBus(rdb)
	svc := service.NewTaskService(taskStore, bus, cfg.TaskTimeout, cfg.BackoffPolicy, cfg.BackoffMaxAttempts)

	h := handler.New(svc, pool, rdb)
	engine := torquehttp.NewRouter(h, cfg.Authenticate, cfg.AuthToken, cfg.EnableHSTS)

	log.Printf("starting api server on :%s", cfg.HTTPPort)
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal(err)
	}
}
