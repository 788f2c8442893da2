package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store"
	"github.com/thruflo/torque/internal/store/memory"
)

func newService(bus queue.NotifyBus) (*TaskService, *memory.TaskStore) {
	s := memory.New()
	return NewTaskService(s, bus, 30*time.Second, domain.BackoffExponential, 5), s
}

func TestCreateTask(t *testing.T) {
	bus := queue.NewMemoryBus(8)
	svc, s := newService(bus)
	ctx := context.Background()

	id, err := svc.CreateTask(ctx, CreateTaskParams{
		URL:     "http://example.com/hook",
		Body:    []byte("x"),
		Headers: map[string]string{"Content-Type": "text/plain"},
	})
	if err != nil {
		t.Fatalf("CreateTask() err = %v, want nil", err)
	}

	// 入队后立即可读，状态与入参一致
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() err = %v, want nil", err)
	}
	if got.Status != domain.StatusPending || got.Attempts != 0 {
		t.Fatalf("new task status %s attempts %d, want pending/0", got.Status, got.Attempts)
	}
	if got.URL != "http://example.com/hook" || string(got.Body) != "x" {
		t.Fatalf("new task does not match input: %+v", got)
	}
	if got.Timeout != 30*time.Second || got.BackoffPolicy != domain.BackoffExponential {
		t.Fatal("defaults not applied")
	}
	if got.MaxAttempts == nil || *got.MaxAttempts != 5 {
		t.Fatal("default max_attempts not applied")
	}

	// 提交之后才发布
	hint, err := bus.Consume(ctx, time.Second)
	if err != nil || hint != id {
		t.Fatalf("Consume() = %s/%v, want published id", hint, err)
	}
}

func TestCreateTask_TimeoutOverride(t *testing.T) {
	svc, s := newService(queue.NewMemoryBus(8))
	ctx := context.Background()

	id, err := svc.CreateTask(ctx, CreateTaskParams{URL: "http://example.com/h", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("CreateTask() err = %v, want nil", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, want override 5s", got.Timeout)
	}
}

func TestCreateTask_InvalidURL(t *testing.T) {
	svc, _ := newService(queue.NewMemoryBus(8))
	ctx := context.Background()

	for _, raw := range []string{"", "not a url", "/relative", "ftp://example.com/x", "http://"} {
		if _, err := svc.CreateTask(ctx, CreateTaskParams{URL: raw}); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("CreateTask(%q) err = %v, want ErrInvalidURL", raw, err)
		}
	}
}

func TestDeleteTask(t *testing.T) {
	svc, _ := newService(queue.NewMemoryBus(8))
	ctx := context.Background()

	if err := svc.DeleteTask(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteTask() unknown err = %v, want ErrNotFound", err)
	}

	id, _ := svc.CreateTask(ctx, CreateTaskParams{URL: "http://example.com/h"})
	if err := svc.DeleteTask(ctx, id); err != nil {
		t.Fatalf("DeleteTask() err = %v, want nil", err)
	}
	// 删除两次，第二次同样未知
	if err := svc.DeleteTask(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteTask() twice err = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	svc, _ := newService(queue.NewMemoryBus(8))
	ctx := context.Background()

	_, _ = svc.CreateTask(ctx, CreateTaskParams{URL: "http://example.com/a"})
	_, _ = svc.CreateTask(ctx, CreateTaskParams{URL: "http://example.com/b"})

	counts, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() err = %v, want nil", err)
	}
	if counts[domain.StatusPending] != 2 {
		t.Fatalf("Stats() pending = %d, want 2", counts[domain.StatusPending])
	}
	// 没有任务的状态也要出现在聚合里
	for _, st := range []string{domain.StatusExecuting, domain.StatusRetry, domain.StatusCompleted, domain.StatusFailed} {
		if n, ok := counts[st]; !ok || n != 0 {
			t.Fatalf("Stats() %s = %d/%v, want 0 present", st, n, ok)
		}
	}

	if err := svc.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll() err = %v, want nil", err)
	}
	counts, _ = svc.Stats(ctx)
	if counts[domain.StatusPending] != 0 {
		t.Fatalf("Stats() after purge pending = %d, want 0", counts[domain.StatusPending])
	}
}
