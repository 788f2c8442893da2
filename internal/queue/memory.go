package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryBus 是 NotifyBus 的进程内实现：带缓冲 channel，
// 缓冲满时丢弃消息，与 Redis 实现同样的尽力而为语义。
// 用于测试和单进程部署。
type MemoryBus struct {
	ch chan uuid.UUID
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBus{ch: make(chan uuid.UUID, buffer)}
}

func (b *MemoryBus) Publish(_ context.Context, id uuid.UUID) error {
	select {
	case b.ch <- id:
	default:
		// 缓冲已满，丢弃；Poller 会兜底
	}
	return nil
}

func (b *MemoryBus) Consume(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-timer.C:
		return uuid.Nil, ErrNoMessage
	case id := <-b.ch:
		return id, nil
	}
}
