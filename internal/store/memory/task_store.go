package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/store"
)

// TaskStore 是 store.TaskStore 的进程内实现，
// 语义与 postgres 实现一致，用于测试和单进程内嵌部署
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func New() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *TaskStore) Insert(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return store.ErrConflict
	}
	now := time.Now()
	cp := clone(t)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.tasks[t.ID] = cp
	return nil
}

func (s *TaskStore) Claim(_ context.Context, id uuid.UUID, now time.Time, d time.Duration) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || !claimable(t, now) {
		return nil, store.ErrNotClaimable
	}
	until := now.Add(d)
	t.Status = domain.StatusExecuting
	t.ClaimedUntil = &until
	t.Attempts++
	t.UpdatedAt = time.Now()
	return clone(t), nil
}

func (s *TaskStore) Complete(_ context.Context, id uuid.UUID, attempts int, code int) error {
	return s.transition(id, attempts, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.LastStatusCode = &code
		t.LastError = ""
	})
}

func (s *TaskStore) Fail(_ context.Context, id uuid.UUID, attempts int, code *int, reason string) error {
	return s.transition(id, attempts, func(t *domain.Task) {
		t.Status = domain.StatusFailed
		t.LastStatusCode = code
		t.LastError = reason
	})
}

func (s *TaskStore) ScheduleRetry(_ context.Context, id uuid.UUID, attempts int, dueAt time.Time, code *int, reason string) error {
	return s.transition(id, attempts, func(t *domain.Task) {
		t.Status = domain.StatusRetry
		t.DueAt = dueAt
		t.LastStatusCode = code
		t.LastError = reason
	})
}

// transition 按 attempts 栅栏提交状态变更
func (s *TaskStore) transition(id uuid.UUID, attempts int, apply func(*domain.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Status != domain.StatusExecuting || t.Attempts != attempts {
		return store.ErrStaleAttempt
	}
	apply(t)
	t.ClaimedUntil = nil
	t.UpdatedAt = time.Now()
	return nil
}

func (s *TaskStore) SelectDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Task
	for _, t := range s.tasks {
		if claimable(t, now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })

	var ids []uuid.UUID
	for _, t := range due {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (s *TaskStore) SweepTerminal(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Terminal() && t.UpdatedAt.Before(olderThan) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *TaskStore) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(t), nil
}

func (s *TaskStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *TaskStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[uuid.UUID]*domain.Task)
	return nil
}

func (s *TaskStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func claimable(t *domain.Task, now time.Time) bool {
	switch t.Status {
	case domain.StatusPending, domain.StatusRetry:
	case domain.StatusExecuting:
		// 认领已过期的 executing 任务视为未在执行，可被重新认领
		if t.ClaimedUntil == nil {
			return false
		}
	default:
		return false
	}
	if t.DueAt.After(now) {
		return false
	}
	return t.ClaimedUntil == nil || !t.ClaimedUntil.After(now)
}

func clone(t *domain.Task) *domain.Task {
	cp := *t
	if t.Body != nil {
		cp.Body = append([]byte(nil), t.Body...)
	}
	if t.Headers != nil {
		cp.Headers = make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			cp.Headers[k] = v
		}
	}
	if t.ClaimedUntil != nil {
		u := *t.ClaimedUntil
		cp.ClaimedUntil = &u
	}
	if t.LastStatusCode != nil {
		c := *t.LastStatusCode
		cp.LastStatusCode = &c
	}
	if t.MaxAttempts != nil {
		m := *t.MaxAttempts
		cp.MaxAttempts = &m
	}
	return &cp
}
