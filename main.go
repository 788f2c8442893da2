// torque 单进程部署入口：在一个进程内跑 ingress API、worker 池和 poller。
// 各角色也可以用 cmd/ 下的入口分进程部署。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/config"
	"github.com/thruflo/torque/internal/db"
	"github.com/thruflo/torque/internal/hook"
	torquehttp "github.com/thruflo/torque/internal/http"
	"github.com/thruflo/torque/internal/http/handler"
	"github.com/thruflo/torque/internal/poller"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/service"
	"github.com/thruflo/torque/internal/store/postgres"
	"github.com/thruflo/torque/internal/worker"
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

	svc := service.NewTaskService(taskStore, bus, cfg.TaskTimeout, cfg.BackoffPolicy, cfg.BackoffMaxAttempts)
	client := hook.NewClient(hook.DefaultMaxRedirects)
	runner := worker.NewRunner(taskStore, bus, client,
		cfg.ClaimDuration, cfg.NotifyThreshold, cfg.BackoffBase, cfg.BackoffMaxDelay)
	workers := worker.NewPool(taskStore, bus, runner, cfg.WorkerCount, cfg.PollInterval, cfg.PollBatch)

	instanceID := uuid.NewString()
	p, err := poller.New(taskStore, bus, rdb, instanceID,
		cfg.PollInterval, cfg.PollBatch, cfg.GCSchedule, cfg.GCRetention)
	if err != nil {
		log.Fatalf("poller init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workers.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()
	go worker.StartHeartbeat(ctx, rdb, instanceID, 30*time.Second, 10*time.Second)

	h := handler.New(svc, pool, rdb)
	engine := torquehttp.NewRouter(h, cfg.Authenticate, cfg.AuthToken, cfg.EnableHSTS)
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: engine}

	go func() {
		log.Printf("torque listening on :%s (workers=%d)", cfg.HTTPPort, cfg.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// worker 停止接收新 id，在途派发收尾后退出
	wg.Wait()
	log.Println("bye")
}
