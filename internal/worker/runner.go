package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/backoff"
	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/hook"
	"github.com/thruflo/torque/internal/queue"
	"github.com/thruflo/torque/internal/store"
)

// 提交事务遇到存储故障时的重试参数
const (
	commitRetries = 3
	commitBackoff = 500 * time.Millisecond
)

// Runner 执行单次派发：认领 → 外呼 POST → 分类 → 提交状态转移
type Runner struct {
	store  store.TaskStore
	bus    queue.NotifyBus
	client *hook.Client

	claimDuration   time.Duration
	notifyThreshold time.Duration
	backoffBase     time.Duration
	backoffMax      time.Duration
}

func NewRunner(s store.TaskStore, bus queue.NotifyBus, client *hook.Client,
	claimDuration, notifyThreshold, backoffBase, backoffMax time.Duration) *Runner {
	return &Runner{
		store:           s,
		bus:             bus,
		client:          client,
		claimDuration:   claimDuration,
		notifyThreshold: notifyThreshold,
		backoffBase:     backoffBase,
		backoffMax:      backoffMax,
	}
}

// Dispatch 处理一个任务 id 提示。总线消息只是提示：
// 认领失败（已被占用、已终态、未到期、已删除）属常态，直接丢弃。
func (r *Runner) Dispatch(ctx context.Context, id uuid.UUID) {
	t, err := r.store.Claim(ctx, id, time.Now(), r.claimDuration)
	if err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			return
		}
		log.Printf("claim %s failed: %v", id, err)
		return
	}

	code, herr := r.client.Post(ctx, t)
	r.commit(t, code, herr)
}

// commit 按响应分类提交状态转移。提交用独立的有界 context：
// 认领已经成立，停机不应让一次已完成的外呼丢失结果。
func (r *Runner) commit(t *domain.Task, code int, herr error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.claimDuration)
	defer cancel()

	switch hook.Classify(code, herr) {
	case hook.OutcomeCompleted:
		r.withStoreRetry(t.ID, func() error {
			return r.store.Complete(ctx, t.ID, t.Attempts, code)
		})
		log.Printf("task %s completed (attempt=%d)", t.ID, t.Attempts)

	case hook.OutcomeFailed:
		c := code
		r.withStoreRetry(t.ID, func() error {
			return r.store.Fail(ctx, t.ID, t.Attempts, &c, fmt.Sprintf("hook returned %d", code))
		})
		log.Printf("task %s failed permanently (attempt=%d status=%d)", t.ID, t.Attempts, code)

	case hook.OutcomeRetry:
		var codePtr *int
		reason := "hook error"
		if herr != nil {
			reason = truncate(herr.Error(), 255)
		} else {
			c := code
			codePtr = &c
			reason = fmt.Sprintf("hook returned %d", code)
		}

		// 重试次数耗尽转终态失败
		if t.MaxAttempts != nil && t.Attempts >= *t.MaxAttempts {
			r.withStoreRetry(t.ID, func() error {
				return r.store.Fail(ctx, t.ID, t.Attempts, codePtr, "max attempts exhausted: "+reason)
			})
			log.Printf("task %s failed after %d attempts: %s", t.ID, t.Attempts, reason)
			return
		}

		delay := backoff.Delay(t.BackoffPolicy, t.Attempts, r.backoffBase, r.backoffMax)
		dueAt := time.Now().Add(delay)
		committed := r.withStoreRetry(t.ID, func() error {
			return r.store.ScheduleRetry(ctx, t.ID, t.Attempts, dueAt, codePtr, reason)
		})
		log.Printf("task %s scheduled retry at %s (attempt=%d): %s", t.ID, dueAt.Format(time.RFC3339), t.Attempts, reason)

		// 临近的重试直接发提示；较远的交给 Poller 到点唤醒，避免空转
		if committed && delay <= r.notifyThreshold {
			if err := r.bus.Publish(ctx, t.ID); err != nil {
				log.Printf("publish retry notify for %s failed: %v", t.ID, err)
			}
		}
	}
}

// withStoreRetry 对存储故障做有界重试；栅栏拒绝说明任务已归属
// 更晚的尝试，记录后放弃，由下一个认领者收尾
func (r *Runner) withStoreRetry(id uuid.UUID, fn func() error) bool {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			return true
		}
		if errors.Is(err, store.ErrStaleAttempt) || errors.Is(err, store.ErrNotFound) {
			log.Printf("commit for %s rejected: %v", id, err)
			return false
		}
		if i >= commitRetries {
			log.Printf("commit for %s failed after %d tries: %v", id, i+1, err)
			return false
		}
		time.Sleep(commitBackoff)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
