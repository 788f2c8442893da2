package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/domain"
)

var (
	ErrConflict     = errors.New("store: id already exists")
	ErrNotFound     = errors.New("store: task not found")
	ErrNotClaimable = errors.New("store: task not claimable")
	// ErrStaleAttempt 表示提交携带的 attempts 已落后于存储值，
	// 任务已归属更晚的一次尝试，本次提交必须丢弃
	ErrStaleAttempt = errors.New("store: stale attempt")
)

// TaskStore 是任务持久状态的唯一权威。所有状态变更都经过它的事务接口，
// Claim 是系统里唯一的互斥原语。
type TaskStore interface {
	// Insert 原子写入新任务，返回前已持久化；id 冲突返回 ErrConflict
	Insert(ctx context.Context, t *domain.Task) error

	// Claim 在单个事务内校验任务可认领（pending/retry 或认领已过期的 executing、
	// 已到期、未被占用），
	// 置为 executing、attempts+1、claimed_until=now+d，返回任务快照。
	// 不可认领返回 ErrNotClaimable。同一 id 的竞争者在此串行化。
	Claim(ctx context.Context, id uuid.UUID, now time.Time, d time.Duration) (*domain.Task, error)

	// 下面三个提交都以认领时观察到的 attempts 做栅栏：
	// 存储值已前移则拒绝并返回 ErrStaleAttempt，过期 worker 无法覆盖新尝试。
	// 成功时均清空 claimed_until。
	Complete(ctx context.Context, id uuid.UUID, attempts int, code int) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, code *int, reason string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, dueAt time.Time, code *int, reason string) error

	// SelectDue 返回最多 limit 个已到期且未被占用的 pending/retry 任务 id，
	// 认领已过期的 executing 任务同样计入
	SelectDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// SweepTerminal 删除 updated_at 早于 olderThan 的终态任务，返回删除数量
	SweepTerminal(ctx context.Context, olderThan time.Time) (int64, error)

	// 管理接口
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
