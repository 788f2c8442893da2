package service

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store"
)

// ErrInvalidURL 目标地址缺失或不是绝对的 http(s) URL
var ErrInvalidURL = errors.New("service: invalid url")

// TaskService 是 ingress 与派发核心之间的 Dispatcher：
// 新任务先持久化，再把 id 发布到通知总线作为优化
type TaskService struct {
	store store.TaskStore
	bus   queue.NotifyBus

	defaultTimeout     time.Duration
	defaultPolicy      string
	defaultMaxAttempts int // 0 表示无限重试
}

func NewTaskService(s store.TaskStore, bus queue.NotifyBus,
	defaultTimeout time.Duration, defaultPolicy string, defaultMaxAttempts int) *TaskService {
	if defaultPolicy != domain.BackoffLinear {
		defaultPolicy = domain.BackoffExponential
	}
	return &TaskService{
		store:              s,
		bus:                bus,
		defaultTimeout:     defaultTimeout,
		defaultPolicy:      defaultPolicy,
		defaultMaxAttempts: defaultMaxAttempts,
	}
}

type CreateTaskParams struct {
	URL     string
	Body    []byte
	Headers map[string]string
	Timeout time.Duration // 0 取配置默认值
}

// CreateTask 校验并持久化新任务，成功返回任务 id。
// 发布必须发生在持久提交之后；发布失败只记录，Poller 会兜底。
func (s *TaskService) CreateTask(ctx context.Context, p CreateTaskParams) (uuid.UUID, error) {
	if err := validateURL(p.URL); err != nil {
		return uuid.Nil, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	var maxAttempts *int
	if s.defaultMaxAttempts > 0 {
		m := s.defaultMaxAttempts
		maxAttempts = &m
	}

	t := domain.Task{
		ID:            uuid.New(),
		URL:           p.URL,
		Body:          p.Body,
		Headers:       p.Headers,
		Status:        domain.StatusPending,
		Attempts:      0,
		DueAt:         time.Now(),
		Timeout:       timeout,
		BackoffPolicy: s.defaultPolicy,
		MaxAttempts:   maxAttempts,
	}
	if err := s.store.Insert(ctx, &t); err != nil {
		return uuid.Nil, err
	}

	if err := s.bus.Publish(ctx, t.ID); err != nil {
		log.Printf("publish new task %s failed: %v", t.ID, err)
	}
	return t.ID, nil
}

func (s *TaskService) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

func (s *TaskService) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

func (s *TaskService) PurgeAll(ctx context.Context) error {
	return s.store.DeleteAll(ctx)
}

// Stats 返回按状态聚合的任务数，缺失的状态补零
func (s *TaskService) Stats(ctx context.Context) (map[string]int64, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range []string{
		domain.StatusPending, domain.StatusExecuting, domain.StatusRetry,
		domain.StatusCompleted, domain.StatusFailed,
	} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	return nil
}
